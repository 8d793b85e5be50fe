package events

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// WebhookConfig defines a webhook destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"     json:"url"`
	Format  string            `yaml:"format"  json:"format"` // "generic", "slack", "pagerduty"
	Events  []string          `yaml:"events"  json:"events"` // decisions or anomaly types; empty matches all
	Headers map[string]string `yaml:"headers" json:"headers"`
}

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

// Webhook posts events to every matching destination in the background.
type Webhook struct {
	configs    []WebhookConfig
	client     *http.Client
	logger     *slog.Logger
	retryDelay time.Duration
	wg         sync.WaitGroup
}

// NewWebhook returns nil when configs is empty; callers nil-check.
func NewWebhook(configs []WebhookConfig, logger *slog.Logger) *Webhook {
	if len(configs) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Webhook{
		configs:    configs,
		client:     &http.Client{Timeout: requestTimeout},
		logger:     logger,
		retryDelay: time.Second,
	}
}

// Emit starts one delivery per matching destination and returns at once.
func (w *Webhook) Emit(ctx context.Context, e Event) error {
	ctx = context.WithoutCancel(ctx)
	for _, cfg := range w.configs {
		if !matches(cfg.Events, e) {
			continue
		}
		w.wg.Add(1)
		go func(cfg WebhookConfig) {
			defer w.wg.Done()
			if err := w.Send(ctx, cfg, e); err != nil {
				w.logger.Warn("webhook delivery failed", "url", cfg.URL, "event_id", e.ID, "error", err)
			}
		}(cfg)
	}
	return nil
}

// Wait blocks until in-flight deliveries finish.
func (w *Webhook) Wait() { w.wg.Wait() }

// Send posts e to one destination, retrying on transport errors and 5xx.
func (w *Webhook) Send(ctx context.Context, cfg WebhookConfig, e Event) error {
	body, err := FormatPayload(cfg.Format, e)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * w.retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := w.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
		}
		lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}

func matches(filter []string, e Event) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == e.Decision || f == e.AnomalyType {
			return true
		}
	}
	return false
}

// FormatPayload builds the webhook body for the given format.
func FormatPayload(format string, e Event) ([]byte, error) {
	switch format {
	case "slack":
		return formatSlack(e)
	case "pagerduty":
		return formatPagerDuty(e)
	default:
		return json.Marshal(e)
	}
}

func formatSlack(e Event) ([]byte, error) {
	title := e.AnomalyType
	if e.Decision != "" {
		title = fmt.Sprintf("%s (%s)", e.Decision, e.AnomalyType)
	}
	fields := []any{
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Severity:* %.2f (%s)", e.Severity, severityLabel(e.Severity))},
		map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Mitigated:* %t", e.WasMitigated)},
	}
	if e.BlockHeight != nil {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Height:* %d", *e.BlockHeight)})
	}
	if e.Details != "" {
		fields = append(fields, map[string]any{"type": "mrkdwn", "text": fmt.Sprintf("*Details:* %s", e.Details)})
	}
	payload := map[string]any{
		"blocks": []any{
			map[string]any{
				"type": "header",
				"text": map[string]any{"type": "plain_text", "text": "sentinel: " + title},
			},
			map[string]any{"type": "section", "fields": fields},
		},
	}
	return json.Marshal(payload)
}

func formatPagerDuty(e Event) ([]byte, error) {
	payload := map[string]any{
		"event_action": "trigger",
		"dedup_key":    e.ID,
		"payload": map[string]any{
			"summary":  fmt.Sprintf("sentinel %s: %s", e.AnomalyType, e.Decision),
			"severity": pagerDutySeverity(e.Severity),
			"source":   "sentinel",
			"custom_details": map[string]any{
				"event_id":      e.ID,
				"request_id":    e.RequestID,
				"context_hash":  e.ContextHash,
				"risk_before":   e.RiskBefore,
				"risk_after":    e.RiskAfter,
				"was_mitigated": e.WasMitigated,
				"details":       e.Details,
			},
		},
	}
	return json.Marshal(payload)
}

func severityLabel(s float64) string {
	switch {
	case s >= 0.75:
		return "critical"
	case s >= 0.50:
		return "high"
	case s >= 0.25:
		return "medium"
	default:
		return "low"
	}
}

func pagerDutySeverity(s float64) string {
	switch {
	case s >= 0.75:
		return "critical"
	case s >= 0.50:
		return "error"
	case s >= 0.25:
		return "warning"
	default:
		return "info"
	}
}

package audit

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const separator = "──────────────────────────────────────────────────────────────────"

// FormatTimeline renders a replay as a text timeline.
func FormatTimeline(result *Result) string {
	if len(result.Entries) == 0 {
		return "No entries found.\n"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Decisions: %s–%s UTC\n",
		formatTime(result.Summary.FirstTimestamp, "2006-01-02 15:04:05"),
		formatTime(result.Summary.LastTimestamp, "15:04:05"))
	b.WriteString(separator + "\n")

	for _, e := range result.Entries {
		reasons := strings.Join(e.ReasonCodes, ",")
		fmt.Fprintf(&b, "%-10s %-6s %.2f  %-24s %s\n",
			formatTime(e.Timestamp, "15:04:05"), e.Decision, e.RiskScore,
			truncate(e.RequestID, 24), reasons)
	}

	b.WriteString(separator + "\n")
	b.WriteString(formatSummary(result.Summary))
	return b.String()
}

// FormatJSON renders a replay as indented JSON.
func FormatJSON(result *Result) (string, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal replay result: %w", err)
	}
	return string(data), nil
}

func formatTime(ts, layout string) string {
	t, err := time.Parse(TimestampFormat, ts)
	if err != nil {
		return ts
	}
	return t.Format(layout)
}

func formatSummary(s Summary) string {
	var parts []string
	for _, c := range []struct {
		n     int
		label string
	}{
		{s.AllowCount, "allow"},
		{s.WarnCount, "warn"},
		{s.BlockCount, "block"},
		{s.ErrorCount, "error"},
	} {
		if c.n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", c.n, c.label))
		}
	}
	return fmt.Sprintf("Summary: %s | Max risk: %.2f\n", strings.Join(parts, ", "), s.MaxRiskScore)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}

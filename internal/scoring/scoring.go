// Package scoring aggregates threat-model contributions and circuit-breaker
// breaches into a bounded risk score and a status label.
package scoring

import (
	"fmt"
	"math"

	"github.com/ppiankov/sentinel/internal/features"
	"github.com/ppiankov/sentinel/internal/threat"
)

// Status labels produced by Score.
const (
	StatusOK    = "OK"
	StatusWarn  = "WARN"
	StatusBlock = "BLOCK"
)

// Thresholds are the circuit-breaker cut points.
type Thresholds struct {
	WarnScore         float64 `yaml:"warn_score" json:"warn_score"`
	BlockScore        float64 `yaml:"block_score" json:"block_score"`
	MaxReorgDepth     int     `yaml:"max_reorg_depth" json:"max_reorg_depth"`
	MaxEntropyDrop    float64 `yaml:"max_entropy_drop" json:"max_entropy_drop"`
	MaxMempoolAnomaly float64 `yaml:"max_mempool_anomaly" json:"max_mempool_anomaly"`
	BreachPenalty     float64 `yaml:"breach_penalty" json:"breach_penalty"`
}

// DefaultThresholds returns the production cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{
		WarnScore:         0.40,
		BlockScore:        0.70,
		MaxReorgDepth:     6,
		MaxEntropyDrop:    0.80,
		MaxMempoolAnomaly: 0.90,
		BreachPenalty:     0.25,
	}
}

// Validate rejects non-finite or out-of-range cut points.
func (t Thresholds) Validate() error {
	unit := []struct {
		name string
		v    float64
	}{
		{"warn_score", t.WarnScore},
		{"block_score", t.BlockScore},
		{"max_entropy_drop", t.MaxEntropyDrop},
		{"max_mempool_anomaly", t.MaxMempoolAnomaly},
		{"breach_penalty", t.BreachPenalty},
	}
	for _, u := range unit {
		if math.IsNaN(u.v) || u.v < 0 || u.v > 1 {
			return fmt.Errorf("circuit_breakers.%s must be within [0,1], got %v", u.name, u.v)
		}
	}
	if t.WarnScore > t.BlockScore {
		return fmt.Errorf("circuit_breakers.warn_score (%v) exceeds block_score (%v)", t.WarnScore, t.BlockScore)
	}
	if t.MaxReorgDepth < 0 {
		return fmt.Errorf("circuit_breakers.max_reorg_depth must be non-negative, got %d", t.MaxReorgDepth)
	}
	return nil
}

// Fingerprint is the stable view of t folded into context hashes.
func (t Thresholds) Fingerprint() map[string]any {
	return map[string]any{
		"warn_score":          t.WarnScore,
		"block_score":         t.BlockScore,
		"max_reorg_depth":     t.MaxReorgDepth,
		"max_entropy_drop":    t.MaxEntropyDrop,
		"max_mempool_anomaly": t.MaxMempoolAnomaly,
		"breach_penalty":      t.BreachPenalty,
	}
}

// Assessment is the aggregated result of one scoring pass.
type Assessment struct {
	RiskScore float64
	Status    string
	Details   []string
}

// Scorer runs a threat bank against fixed thresholds.
type Scorer struct {
	bank       []threat.Model
	thresholds Thresholds
}

// NewScorer returns a Scorer. A nil bank uses threat.DefaultBank.
func NewScorer(bank []threat.Model, t Thresholds) *Scorer {
	if bank == nil {
		bank = threat.DefaultBank()
	}
	return &Scorer{bank: bank, thresholds: t}
}

// Thresholds returns the cut points in use.
func (s *Scorer) Thresholds() Thresholds { return s.thresholds }

// Bank returns the threat models the scorer aggregates.
func (s *Scorer) Bank() []threat.Model { return s.bank }

// Score aggregates f with the default bank.
func Score(f features.Set, t Thresholds) Assessment {
	return NewScorer(nil, t).Score(f)
}

// Score computes risk = mean(contributions) + penalty*breaches, clamped to
// [0,1]. Any breach forces BLOCK. Details list every firing model as
// "name:0.00" in bank order, then every breach.
func (s *Scorer) Score(f features.Set) Assessment {
	contribs := threat.EvaluateAll(s.bank, f)

	var details []string
	sum := 0.0
	for _, c := range contribs {
		sum += c.Score
		if c.Score > 0 {
			details = append(details, fmt.Sprintf("%s:%.2f", c.Name, c.Score))
		}
	}
	mean := 0.0
	if len(contribs) > 0 {
		mean = sum / float64(len(contribs))
	}

	breaches := s.breaches(f)
	details = append(details, breaches...)

	risk := clamp(mean + s.thresholds.BreachPenalty*float64(len(breaches)))

	status := StatusOK
	switch {
	case len(breaches) > 0 || risk >= s.thresholds.BlockScore:
		status = StatusBlock
	case risk >= s.thresholds.WarnScore:
		status = StatusWarn
	}

	if details == nil {
		details = []string{}
	}
	return Assessment{RiskScore: risk, Status: status, Details: details}
}

func (s *Scorer) breaches(f features.Set) []string {
	var out []string
	if f.ReorgDepth > float64(s.thresholds.MaxReorgDepth) {
		out = append(out, fmt.Sprintf("breaker:reorg_depth>%d", s.thresholds.MaxReorgDepth))
	}
	if f.EntropyDrop > s.thresholds.MaxEntropyDrop {
		out = append(out, fmt.Sprintf("breaker:entropy_drop>%.2f", s.thresholds.MaxEntropyDrop))
	}
	if f.MempoolAnomaly > s.thresholds.MaxMempoolAnomaly {
		out = append(out, fmt.Sprintf("breaker:mempool_anomaly>%.2f", s.thresholds.MaxMempoolAnomaly))
	}
	return out
}

func clamp(v float64) float64 {
	switch {
	case math.IsNaN(v), v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

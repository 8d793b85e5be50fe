// Package threat holds the fixed bank of attack-pattern rules. Each rule
// maps a feature set to a contribution in [0,1].
package threat

import "github.com/ppiankov/sentinel/internal/features"

// Model is one attack-pattern rule.
type Model interface {
	Name() string
	Evaluate(f features.Set) float64
}

// Rule names, in bank order.
const (
	Classic51       = "classic_51_attack"
	QuantumPreimage = "quantum_preimage_attack"
	MempoolFlood    = "mempool_flood"
	Eclipse         = "eclipse_attack"
)

// DefaultBank returns the rules in their fixed evaluation order.
func DefaultBank() []Model {
	return []Model{fiftyOne{}, quantumPreimage{}, mempoolFlood{}, eclipse{}}
}

// Contribution is one rule's output.
type Contribution struct {
	Name  string
	Score float64
}

// EvaluateAll runs every model in order.
func EvaluateAll(bank []Model, f features.Set) []Contribution {
	out := make([]Contribution, 0, len(bank))
	for _, m := range bank {
		out = append(out, Contribution{Name: m.Name(), Score: m.Evaluate(f)})
	}
	return out
}

type fiftyOne struct{}

func (fiftyOne) Name() string { return Classic51 }

// Evaluate flags entropy collapse, deep reorgs and mempool anomalies.
func (fiftyOne) Evaluate(f features.Set) float64 {
	score := 0.0
	if f.EntropyDrop > 0.35 {
		score += 0.4
	}
	if f.ReorgDepth >= 3 {
		score += 0.4
	}
	if f.MempoolAnomaly > 0.25 {
		score += 0.2
	}
	return capped(score)
}

type quantumPreimage struct{}

func (quantumPreimage) Name() string { return QuantumPreimage }

// Evaluate flags low entropy, plus a high model score when one exists.
func (quantumPreimage) Evaluate(f features.Set) float64 {
	score := 0.0
	if f.EntropyScore < 0.60 {
		score += 0.5
	}
	if f.ModelScore != nil && *f.ModelScore > 0.75 {
		score += 0.5
	}
	return capped(score)
}

type mempoolFlood struct{}

func (mempoolFlood) Name() string { return MempoolFlood }

func (mempoolFlood) Evaluate(f features.Set) float64 {
	score := 0.0
	if f.MempoolAnomaly > 0.5 {
		score += 0.6
	}
	if f.MempoolScore < 0.4 {
		score += 0.4
	}
	return capped(score)
}

type eclipse struct{}

func (eclipse) Name() string { return Eclipse }

// Evaluate flags isolation: reorgs combined with suspiciously stable entropy.
func (eclipse) Evaluate(f features.Set) float64 {
	score := 0.0
	if f.ReorgDepth >= 2 {
		score += 0.5
	}
	if f.EntropyScore > 0.95 {
		score += 0.5
	}
	return capped(score)
}

func capped(score float64) float64 {
	if score > 1.0 {
		return 1.0
	}
	return score
}

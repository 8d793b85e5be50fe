// Package features derives the fixed-shape numeric feature set the threat
// models score from a validated telemetry tree.
package features

import (
	"encoding/json"
	"math"
)

// Feature names, as they appear in scoring-model weights and fingerprints.
const (
	EntropyScore   = "entropy_score"
	MempoolScore   = "mempool_score"
	ReorgScore     = "reorg_score"
	EntropyDrop    = "entropy_drop"
	MempoolAnomaly = "mempool_anomaly"
	ReorgDepth     = "reorg_depth"
	ModelScore     = "model_score"
)

// Set is the feature record for one evaluation. ModelScore is nil unless an
// external scoring model contributed.
type Set struct {
	EntropyScore   float64
	MempoolScore   float64
	ReorgScore     float64
	EntropyDrop    float64
	MempoolAnomaly float64
	// ReorgDepth is a block count. Fractional input is kept as given so
	// threshold comparisons match the raw telemetry.
	ReorgDepth float64
	ModelScore *float64
}

// Extract reads the entropy, mempool and reorg sub-objects of telemetry.
// Missing sub-objects, missing fields and non-numeric leaves resolve to 0.
func Extract(telemetry map[string]any) Set {
	entropy := section(telemetry, "entropy")
	mempool := section(telemetry, "mempool")
	reorg := section(telemetry, "reorg")

	return Set{
		EntropyScore:   field(entropy, "score"),
		MempoolScore:   field(mempool, "score"),
		ReorgScore:     field(reorg, "score"),
		EntropyDrop:    field(entropy, "drop"),
		MempoolAnomaly: field(mempool, "anomaly"),
		ReorgDepth:     field(reorg, "depth"),
	}
}

// WithModelScore returns a copy of s carrying score.
func (s Set) WithModelScore(score float64) Set {
	s.ModelScore = &score
	return s
}

// Map flattens s into named features. model_score is present only when set.
func (s Set) Map() map[string]float64 {
	m := map[string]float64{
		EntropyScore:   s.EntropyScore,
		MempoolScore:   s.MempoolScore,
		ReorgScore:     s.ReorgScore,
		EntropyDrop:    s.EntropyDrop,
		MempoolAnomaly: s.MempoolAnomaly,
		ReorgDepth:     s.ReorgDepth,
	}
	if s.ModelScore != nil {
		m[ModelScore] = *s.ModelScore
	}
	return m
}

func section(telemetry map[string]any, key string) map[string]any {
	m, _ := telemetry[key].(map[string]any)
	return m
}

func field(m map[string]any, key string) float64 {
	if m == nil {
		return 0
	}
	f, ok := Number(m[key])
	if !ok {
		return 0
	}
	return f
}

// Number converts a JSON-like numeric value to float64. Booleans, strings
// and non-finite values are not numbers.
func Number(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int8:
		f = float64(t)
	case int16:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint:
		f = float64(t)
	case uint8:
		f = float64(t)
	case uint16:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		var err error
		if f, err = t.Float64(); err != nil {
			return 0, false
		}
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

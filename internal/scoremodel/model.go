// Package scoremodel loads the optional external scoring model. The model
// artifact is a YAML logistic regression over named features; its SHA3-256
// digest is verified before the model is ever used.
package scoremodel

import (
	"errors"
	"fmt"
	"math"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/sentinel/internal/features"
)

var (
	// ErrNotFound means the model artifact does not exist.
	ErrNotFound = errors.New("scoremodel: model file not found")
	// ErrHashMismatch means the artifact digest differs from the pinned one.
	ErrHashMismatch = errors.New("scoremodel: model hash mismatch")
)

// Spec is the on-disk model definition.
type Spec struct {
	Name    string             `yaml:"name"`
	Bias    float64            `yaml:"bias"`
	Weights map[string]float64 `yaml:"weights"`
}

// Model is a verified, immutable logistic scorer.
type Model struct {
	path   string
	digest string
	spec   Spec
	names  []string
}

// Load reads the artifact at path, verifies it against expected (hex
// SHA3-256; empty skips the comparison), and parses it.
func Load(path, expected string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("scoremodel: read %s: %w", path, err)
	}

	digest := Digest(data)
	if err := Verify(digest, expected); err != nil {
		return nil, err
	}

	spec, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("scoremodel: %s: %w", path, err)
	}

	m := New(spec)
	m.path = path
	m.digest = digest
	return m, nil
}

// Parse decodes a model definition. Unknown feature names and non-finite
// coefficients are rejected.
func Parse(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("invalid model YAML: %w", err)
	}
	if !finite(spec.Bias) {
		return Spec{}, errors.New("bias must be finite")
	}
	known := map[string]bool{}
	for name := range (features.Set{}).WithModelScore(0).Map() {
		known[name] = true
	}
	delete(known, features.ModelScore)
	for name, w := range spec.Weights {
		if !known[name] {
			return Spec{}, fmt.Errorf("unknown feature %q", name)
		}
		if !finite(w) {
			return Spec{}, fmt.Errorf("weight %q must be finite", name)
		}
	}
	return spec, nil
}

// New builds a model from an in-memory definition.
func New(spec Spec) *Model {
	names := make([]string, 0, len(spec.Weights))
	for name := range spec.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return &Model{spec: spec, names: names}
}

// Infer returns sigmoid(bias + sum(weight*feature)) in [0,1]. Features are
// summed in name order so the result is reproducible bit for bit.
func (m *Model) Infer(f features.Set) float64 {
	values := f.Map()
	z := m.spec.Bias
	for _, name := range m.names {
		z += m.spec.Weights[name] * values[name]
	}
	score := 1 / (1 + math.Exp(-z))
	if math.IsNaN(score) {
		return 0
	}
	return math.Min(1, math.Max(0, score))
}

// Name returns the declared model name.
func (m *Model) Name() string { return m.spec.Name }

// Digest returns the verified artifact digest, empty for in-memory models.
func (m *Model) Digest() string { return m.digest }

// Path returns the artifact path, empty for in-memory models.
func (m *Model) Path() string { return m.path }

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

package scoremodel

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ppiankov/sentinel/internal/features"
)

const demoModel = "name: demo\nbias: -1.0\nweights:\n  entropy_drop: 2.0\n"

// SHA3-256 of demoModel.
const demoDigest = "c69d304a7d861b90b6addc15466a19d2cc7fdaa348291a9e4bf77b8cbc8b1fb4"

func writeModel(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDigestKnownValue(t *testing.T) {
	if got := Digest(nil); got != "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a" {
		t.Errorf("unexpected empty digest %s", got)
	}
	if got := Digest([]byte(demoModel)); got != demoDigest {
		t.Errorf("expected %s, got %s", demoDigest, got)
	}
}

func TestDigestFileMatchesDigest(t *testing.T) {
	path := writeModel(t, demoModel)
	got, err := DigestFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != demoDigest {
		t.Errorf("expected %s, got %s", demoDigest, got)
	}
}

func TestLoadVerified(t *testing.T) {
	path := writeModel(t, demoModel)
	m, err := Load(path, strings.ToUpper(demoDigest))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Name() != "demo" || m.Digest() != demoDigest || m.Path() != path {
		t.Errorf("unexpected model metadata: %s %s %s", m.Name(), m.Digest(), m.Path())
	}
}

func TestLoadUnpinned(t *testing.T) {
	if _, err := Load(writeModel(t, demoModel), ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadHashMismatch(t *testing.T) {
	path := writeModel(t, demoModel+"# tampered\n")
	_, err := Load(path, demoDigest)
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("expected ErrHashMismatch, got %v", err)
	}

	_, err = Load(writeModel(t, demoModel), "not-a-digest")
	if !errors.Is(err, ErrHashMismatch) {
		t.Fatalf("malformed pin: expected ErrHashMismatch, got %v", err)
	}
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), "")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"bad yaml":        "bias: [",
		"unknown feature": "weights:\n  hashrate: 1\n",
		"model feedback":  "weights:\n  model_score: 1\n",
		"nan weight":      "weights:\n  entropy_drop: .nan\n",
		"inf bias":        "bias: .inf\n",
	}
	for name, src := range cases {
		if _, err := Parse([]byte(src)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestInfer(t *testing.T) {
	spec, err := Parse([]byte(demoModel))
	if err != nil {
		t.Fatal(err)
	}
	m := New(spec)

	if got := m.Infer(features.Set{EntropyDrop: 0.5}); got != 0.5 {
		t.Errorf("expected 0.5 at z=0, got %v", got)
	}
	low := m.Infer(features.Set{})
	high := m.Infer(features.Set{EntropyDrop: 5})
	if !(low < 0.5 && high > 0.5) {
		t.Errorf("expected monotone response, got low=%v high=%v", low, high)
	}

	extreme := New(Spec{Bias: 1e308, Weights: map[string]float64{features.ReorgDepth: 1e308}})
	if got := extreme.Infer(features.Set{ReorgDepth: 1e308}); got < 0 || got > 1 {
		t.Errorf("score out of range: %v", got)
	}
}

package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzVerify(f *testing.F) {
	validLog := filepath.Join(f.TempDir(), "valid.jsonl")
	l, err := Open(validLog)
	if err != nil {
		f.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_ = l.Record(testEntry("ALLOW"))
	}
	l.Close()
	validData, _ := os.ReadFile(validLog)
	f.Add(validData)
	f.Add([]byte{})
	f.Add([]byte(`{"not":"a valid entry"}` + "\n"))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		path := filepath.Join(t.TempDir(), "fuzz.jsonl")
		if err := os.WriteFile(path, data, 0o600); err != nil {
			t.Fatal(err)
		}
		Verify(path)
		_, _ = Replay(path, Filter{})
	})
}

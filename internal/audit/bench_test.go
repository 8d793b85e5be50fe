package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func BenchmarkRecord(b *testing.B) {
	l, err := Open(filepath.Join(b.TempDir(), "bench.jsonl"))
	if err != nil {
		b.Fatal(err)
	}
	defer l.Close()

	entry := testEntry("ALLOW")
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = l.Record(entry)
	}
}

func benchVerify(b *testing.B, n int) {
	b.Helper()
	path := filepath.Join(b.TempDir(), "bench.jsonl")
	l, err := Open(path)
	if err != nil {
		b.Fatal(err)
	}
	entry := testEntry("ALLOW")
	for i := 0; i < n; i++ {
		_ = l.Record(entry)
	}
	l.Close()

	info, _ := os.Stat(path)
	b.ResetTimer()
	b.SetBytes(info.Size())
	for i := 0; i < b.N; i++ {
		if result := Verify(path); !result.Valid {
			b.Fatal("invalid chain:", result.Error)
		}
	}
}

func BenchmarkVerify_1000(b *testing.B)  { benchVerify(b, 1000) }
func BenchmarkVerify_10000(b *testing.B) { benchVerify(b, 10000) }

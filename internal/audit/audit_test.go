package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ppiankov/sentinel/internal/contract"
	"github.com/ppiankov/sentinel/internal/reason"
)

func newTestLog(t *testing.T) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

func testEntry(decision string) Entry {
	return Entry{
		Timestamp:   time.Now().UTC().Format(TimestampFormat),
		RequestID:   "req-test123",
		Component:   "sentinel",
		Decision:    decision,
		RiskScore:   0.225,
		ReasonCodes: []string{"SNTL_V2_SIGNAL"},
		ContextHash: strings.Repeat("a", 64),
		ConfigHash:  "sha256:abc123",
	}
}

func record(t *testing.T, l *Log, n int, decision string) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := l.Record(testEntry(decision)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, 5, "ALLOW")
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, 3, "BLOCK")
	l.Close()

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"BLOCK"`, `"ALLOW"`, 1)
	writeLines(t, path, lines)

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, 3, "ALLOW")
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if result.ErrorLine != 2 {
		t.Fatalf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsInsertedEntry(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, 3, "ALLOW")
	l.Close()

	lines := readLines(t, path)
	fake := testEntry("ALLOW")
	fake.PrevHash = HashLine([]byte(lines[0]))
	fakeJSON, _ := json.Marshal(fake)
	writeLines(t, path, []string{lines[0], string(fakeJSON), lines[1], lines[2]})

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with inserted entry to be invalid")
	}
	if result.ErrorLine != 3 {
		t.Fatalf("expected error at line 3, got line %d", result.ErrorLine)
	}
}

func TestVerifyRejectsForgedGenesis(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forged.jsonl")
	e := testEntry("ALLOW")
	e.PrevHash = "sha256:forged"
	line, _ := json.Marshal(e)
	writeLines(t, path, []string{string(line)})

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 {
		t.Fatalf("expected failure at line 1, got %+v", result)
	}
}

func TestVerifyReportsParseError(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, 2, "ALLOW")
	l.Close()

	lines := readLines(t, path)
	writeLines(t, path, append(lines, "not json"))

	result := Verify(path)
	if result.Valid || result.ErrorLine != 3 || !strings.Contains(result.Error, "parse error") {
		t.Fatalf("expected parse error at line 3, got %+v", result)
	}
}

func TestVerifyRejectsUnknownDecision(t *testing.T) {
	l, path := newTestLog(t)
	if err := l.Record(testEntry("MAYBE")); err != nil {
		t.Fatal(err)
	}
	l.Close()

	result := Verify(path)
	if result.Valid || result.ErrorLine != 1 || !strings.Contains(result.Error, `unknown decision "MAYBE"`) {
		t.Fatalf("expected unknown decision at line 1, got %+v", result)
	}
}

func TestVerifyMissingFile(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "missing.jsonl"))
	if result.Valid || !strings.HasPrefix(result.Error, "open:") {
		t.Fatalf("expected open error, got %+v", result)
	}
}

func TestEmptyLogPassesVerification(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.jsonl")
	if err := os.WriteFile(path, []byte{}, 0o600); err != nil {
		t.Fatal(err)
	}

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected empty log to be valid, got: %s", result.Error)
	}
	if result.Lines != 0 {
		t.Fatalf("expected 0 lines, got %d", result.Lines)
	}
}

func TestConcurrentWritesSerializeCorrectly(t *testing.T) {
	l, path := newTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(testEntry("WARN"))
		}()
	}
	wg.Wait()
	l.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after concurrent writes, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 100 {
		t.Fatalf("expected 100 lines, got %d", result.Lines)
	}
}

func TestGenesisHashIsCorrect(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, 1, "ALLOW")
	l.Close()

	var entry Entry
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &entry); err != nil {
		t.Fatal(err)
	}
	if entry.PrevHash != GenesisHash {
		t.Fatalf("expected genesis hash %s, got %s", GenesisHash, entry.PrevHash)
	}
}

func TestRecordFillsTimestampAndReasonCodes(t *testing.T) {
	l, path := newTestLog(t)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 5e6, time.UTC) }
	if err := l.Record(Entry{RequestID: "r", Decision: "ERROR"}); err != nil {
		t.Fatal(err)
	}
	l.Close()

	line := readLines(t, path)[0]
	if !strings.Contains(line, `"ts":"2026-03-01T12:00:00.005Z"`) {
		t.Errorf("expected filled timestamp, got %s", line)
	}
	if !strings.Contains(line, `"reason_codes":[]`) {
		t.Errorf("expected empty reason_codes array, got %s", line)
	}
	if strings.Contains(line, `"source"`) {
		t.Errorf("expected empty source omitted, got %s", line)
	}
}

func TestRecordResponse(t *testing.T) {
	l, path := newTestLog(t)
	resp := contract.Response{
		ContractVersion: 3,
		Component:       "sentinel",
		RequestID:       "req-9",
		ContextHash:     strings.Repeat("b", 64),
		Decision:        contract.Block,
		Risk:            contract.Risk{Score: 0.75, Tier: contract.TierCritical},
		ReasonCodes:     []reason.Code{reason.Signal},
	}
	if err := l.RecordResponse(resp, "http", "sha256:cfg"); err != nil {
		t.Fatal(err)
	}
	l.Close()

	var got Entry
	if err := json.Unmarshal([]byte(readLines(t, path)[0]), &got); err != nil {
		t.Fatal(err)
	}
	if got.RequestID != "req-9" || got.Decision != "BLOCK" || got.RiskScore != 0.75 ||
		got.Source != "http" || got.ConfigHash != "sha256:cfg" || got.ContextHash != resp.ContextHash {
		t.Errorf("unexpected entry %+v", got)
	}
	if len(got.ReasonCodes) != 1 || got.ReasonCodes[0] != "SNTL_V2_SIGNAL" {
		t.Errorf("unexpected reason codes %v", got.ReasonCodes)
	}
}

func TestHashLineIsDeterministic(t *testing.T) {
	line := []byte(`{"ts":"2026-01-15T10:30:00.000Z","request_id":"r","decision":"ALLOW","prev_hash":"sha256:def"}`)
	h1 := HashLine(line)
	h2 := HashLine(line)
	if h1 != h2 {
		t.Fatalf("expected same hash, got %s and %s", h1, h2)
	}
	if !strings.HasPrefix(h1, "sha256:") {
		t.Fatalf("expected sha256: prefix, got %s", h1)
	}
	if len(h1) != 7+64 {
		t.Fatalf("expected 71 char hash string, got %d", len(h1))
	}
	if HashLine([]byte("config_v1")) == HashLine([]byte("config_v2")) {
		t.Fatal("expected different hashes for different inputs")
	}
}

func TestOpenExistingLogContinuesChain(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reopen.jsonl")

	l1, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	record(t, l1, 3, "ALLOW")
	l1.Close()

	l2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	record(t, l2, 2, "BLOCK")
	l2.Close()

	result := Verify(path)
	if !result.Valid {
		t.Fatalf("expected valid chain after reopen, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 5 {
		t.Fatalf("expected 5 lines, got %d", result.Lines)
	}
}

func TestVerify10KEntriesUnder1Second(t *testing.T) {
	l, path := newTestLog(t)
	record(t, l, 10000, "ALLOW")
	l.Close()

	start := time.Now()
	result := Verify(path)
	elapsed := time.Since(start)

	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Lines != 10000 {
		t.Fatalf("expected 10000 lines, got %d", result.Lines)
	}
	if elapsed > time.Second {
		t.Fatalf("verification took %v, expected < 1s", elapsed)
	}
}

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"
)

// Filter selects entries for Replay. Zero fields match everything.
type Filter struct {
	RequestID string
	Decision  string
	From      time.Time
	To        time.Time
	Limit     int // keep only the last Limit matches
}

// Summary counts decisions across the replayed entries.
type Summary struct {
	Total          int     `json:"total"`
	AllowCount     int     `json:"allow_count"`
	WarnCount      int     `json:"warn_count"`
	BlockCount     int     `json:"block_count"`
	ErrorCount     int     `json:"error_count"`
	MaxRiskScore   float64 `json:"max_risk_score"`
	FirstTimestamp string  `json:"first_timestamp"`
	LastTimestamp  string  `json:"last_timestamp"`
}

// Result holds matching entries and their summary.
type Result struct {
	Entries []Entry `json:"entries"`
	Summary Summary `json:"summary"`
}

// Replay reads the log and returns entries matching filter. Malformed
// lines are skipped; use Verify to detect them.
func Replay(path string, filter Filter) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	result := &Result{Entries: []Entry{}}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)
	for scanner.Scan() {
		var entry Entry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			continue
		}
		if filter.matches(entry) {
			result.Entries = append(result.Entries, entry)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	if filter.Limit > 0 && len(result.Entries) > filter.Limit {
		result.Entries = result.Entries[len(result.Entries)-filter.Limit:]
	}
	for _, e := range result.Entries {
		result.Summary.add(e)
	}
	return result, nil
}

func (f Filter) matches(e Entry) bool {
	if f.RequestID != "" && e.RequestID != f.RequestID {
		return false
	}
	if f.Decision != "" && !strings.EqualFold(e.Decision, f.Decision) {
		return false
	}
	if f.From.IsZero() && f.To.IsZero() {
		return true
	}
	ts, err := time.Parse(TimestampFormat, e.Timestamp)
	if err != nil {
		return false
	}
	if !f.From.IsZero() && ts.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && ts.After(f.To) {
		return false
	}
	return true
}

func (s *Summary) add(e Entry) {
	s.Total++
	switch strings.ToUpper(e.Decision) {
	case "ALLOW":
		s.AllowCount++
	case "WARN":
		s.WarnCount++
	case "BLOCK":
		s.BlockCount++
	case "ERROR":
		s.ErrorCount++
	}
	if e.RiskScore > s.MaxRiskScore {
		s.MaxRiskScore = e.RiskScore
	}
	if s.FirstTimestamp == "" {
		s.FirstTimestamp = e.Timestamp
	}
	s.LastTimestamp = e.Timestamp
}

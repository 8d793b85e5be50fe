package audit

import (
	"github.com/ppiankov/sentinel/internal/contract"
)

// Entry is one line in the hash-chained JSONL decision log. Fields are
// plain structs and slices so json.Marshal output is stable for hashing.
type Entry struct {
	Timestamp   string   `json:"ts"`
	RequestID   string   `json:"request_id"`
	Component   string   `json:"component"`
	Source      string   `json:"source,omitempty"`
	Decision    string   `json:"decision"`
	RiskScore   float64  `json:"risk_score"`
	ReasonCodes []string `json:"reason_codes"`
	ContextHash string   `json:"context_hash"`
	ConfigHash  string   `json:"config_hash"`
	PrevHash    string   `json:"prev_hash"`
}

// EntryFor builds an entry from a gate response. source names the adapter
// that served the evaluation (cli, http, grpc, mcp).
func EntryFor(resp contract.Response, source, configHash string) Entry {
	codes := make([]string, len(resp.ReasonCodes))
	for i, c := range resp.ReasonCodes {
		codes[i] = string(c)
	}
	return Entry{
		RequestID:   resp.RequestID,
		Component:   resp.Component,
		Source:      source,
		Decision:    string(resp.Decision),
		RiskScore:   resp.Risk.Score,
		ReasonCodes: codes,
		ContextHash: resp.ContextHash,
		ConfigHash:  configHash,
	}
}

package redact

import "fmt"

// TokenMap assigns stable placeholder tokens to sensitive values. One map
// covers one record, so a secret repeated across arguments gets the same
// token. Not goroutine-safe.
type TokenMap struct {
	forward  map[string]string // sensitive value → "<<TYPE_N>>"
	counters map[PatternType]int
}

// NewTokenMap creates an empty token map.
func NewTokenMap() *TokenMap {
	return &TokenMap{
		forward:  make(map[string]string),
		counters: make(map[PatternType]int),
	}
}

// Token returns the token for a sensitive value. Idempotent: the same value
// always returns the same token within a map.
func (tm *TokenMap) Token(typ PatternType, value string) string {
	if tok, ok := tm.forward[value]; ok {
		return tok
	}
	tm.counters[typ]++
	tok := fmt.Sprintf("<<%s_%d>>", typ, tm.counters[typ])
	tm.forward[value] = tok
	return tok
}

// Len returns the number of values replaced.
func (tm *TokenMap) Len() int {
	return len(tm.forward)
}

package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Result is the optional outcome payload attached to a tool invocation.
type Result struct {
	Content string `json:"content,omitempty"` // truncated by the producer
	Success *bool  `json:"success,omitempty"`
	IsError bool   `json:"isError,omitempty"`
	Diff    string `json:"diff,omitempty"`
}

// Record is one tool invocation emitted by the monitored agent.
// Records are treated as immutable once parsed; consumers that need to
// annotate a record work on Clone().
type Record struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Result    *Result        `json:"result,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Agent     string         `json:"agent,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// ClassifiedRecord pairs a record with its risk verdict. This is the unit
// forwarded to the sink, the live subscribers and the alert dispatcher.
type ClassifiedRecord struct {
	Record Record  `json:"record"`
	Risk   Verdict `json:"risk"`
}

// ToolName returns the normalized (lower-case, trimmed) tool name.
func (r Record) ToolName() string {
	return strings.ToLower(strings.TrimSpace(r.Tool))
}

// Arg returns the first non-empty argument among keys, coerced to a string.
// Missing or non-scalar values yield "".
func (r Record) Arg(keys ...string) string {
	if r.Arguments == nil {
		return ""
	}
	for _, k := range keys {
		if s := toString(r.Arguments[k]); s != "" {
			return s
		}
	}
	return ""
}

// Truncate shortens s to at most n bytes without splitting a UTF-8
// character.
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

// Summary renders a short human-readable description of the invocation,
// used as evidence in sequences and alerts.
func (r Record) Summary() string {
	detail := r.Arg("command", "cmd", "path", "file_path", "url", "action", "message", "query")
	detail = strings.Join(strings.Fields(detail), " ")
	if len(detail) > 120 {
		detail = Truncate(detail, 117) + "..."
	}
	if detail == "" {
		return r.Tool
	}
	return fmt.Sprintf("%s: %s", r.Tool, detail)
}

// Clone returns a copy whose argument bag and result do not alias r.
func (r Record) Clone() Record {
	c := r
	if r.Arguments != nil {
		c.Arguments = make(map[string]any, len(r.Arguments))
		for k, v := range r.Arguments {
			c.Arguments[k] = v
		}
	}
	if r.Result != nil {
		res := *r.Result
		c.Result = &res
	}
	return c
}

func toString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	case int:
		return strconv.Itoa(s)
	case int64:
		return strconv.FormatInt(s, 10)
	case bool:
		return strconv.FormatBool(s)
	case []any:
		parts := make([]string, 0, len(s))
		for _, p := range s {
			if ps := toString(p); ps != "" {
				parts = append(parts, ps)
			}
		}
		return strings.Join(parts, " ")
	default:
		return ""
	}
}

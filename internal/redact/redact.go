// Package redact masks secrets in records before they leave the process
// (sink batches, alerts, live subscribers). Classification always sees the
// raw record.
package redact

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/signals"
)

// PatternType identifies the category of a replaced value.
type PatternType string

const (
	PatternCred    PatternType = "CRED"
	PatternCustom  PatternType = "CUSTOM"
	PatternLiteral PatternType = "LITERAL"
	PatternKey     PatternType = "KEY"
)

// DefaultKeys are argument names whose values are always masked.
var DefaultKeys = []string{"password", "passwd", "secret", "token", "api_key", "apikey", "authorization"}

// Config holds operator-defined redaction settings.
type Config struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// Patterns are extra regular expressions to mask.
	Patterns []string `mapstructure:"patterns" yaml:"patterns"`
	// Literals are exact strings to mask (hostnames, account ids).
	Literals []string `mapstructure:"literals" yaml:"literals"`
	// Keys are argument names masked whole. Empty uses DefaultKeys.
	Keys []string `mapstructure:"keys" yaml:"keys"`
}

// Redactor rewrites records with sensitive values replaced by tokens.
// It is immutable after New and safe for concurrent use. A nil *Redactor
// passes records through unchanged.
type Redactor struct {
	extra    []*regexp.Regexp
	literals []string
	keys     map[string]bool
}

// New compiles cfg. It returns nil when redaction is disabled.
func New(cfg Config) (*Redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	r := &Redactor{keys: make(map[string]bool)}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redact pattern %q: %w", p, err)
		}
		r.extra = append(r.extra, re)
	}
	for _, l := range cfg.Literals {
		if l != "" {
			r.literals = append(r.literals, l)
		}
	}
	keys := cfg.Keys
	if len(keys) == 0 {
		keys = DefaultKeys
	}
	for _, k := range keys {
		r.keys[strings.ToLower(k)] = true
	}
	return r, nil
}

// Text replaces every sensitive substring of text with a token from tm.
func (r *Redactor) Text(text string, tm *TokenMap) string {
	if r == nil || text == "" {
		return text
	}

	type span struct {
		start, end int
		typ        PatternType
	}
	var spans []span
	for _, s := range signals.CredentialSpans(text) {
		spans = append(spans, span{s[0], s[1], PatternCred})
	}
	for _, re := range r.extra {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			if loc[1] > loc[0] {
				spans = append(spans, span{loc[0], loc[1], PatternCustom})
			}
		}
	}
	for _, lit := range r.literals {
		for off := 0; ; {
			i := strings.Index(text[off:], lit)
			if i < 0 {
				break
			}
			spans = append(spans, span{off + i, off + i + len(lit), PatternLiteral})
			off += i + len(lit)
		}
	}
	if len(spans) == 0 {
		return text
	}

	// Merge overlaps; the earliest span's type wins.
	raw := make([][2]int, len(spans))
	types := make(map[int]PatternType, len(spans))
	for i, s := range spans {
		raw[i] = [2]int{s.start, s.end}
		if _, ok := types[s.start]; !ok {
			types[s.start] = s.typ
		}
	}
	merged := signals.MergeSpans(raw)

	var b strings.Builder
	prev := 0
	for _, m := range merged {
		b.WriteString(text[prev:m[0]])
		typ, ok := types[m[0]]
		if !ok {
			typ = PatternCred
		}
		b.WriteString(tm.Token(typ, text[m[0]:m[1]]))
		prev = m[1]
	}
	b.WriteString(text[prev:])
	return b.String()
}

// Record returns a copy of rec with secrets masked in arguments and result
// text. rec itself is never modified.
func (r *Redactor) Record(rec model.Record) model.Record {
	if r == nil {
		return rec
	}
	out := rec.Clone()
	tm := NewTokenMap()
	if out.Arguments != nil {
		// Sorted so token numbering is stable.
		keys := make([]string, 0, len(out.Arguments))
		for k := range out.Arguments {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			v := out.Arguments[k]
			if r.keys[strings.ToLower(k)] {
				if s, ok := v.(string); ok && s != "" {
					out.Arguments[k] = tm.Token(PatternKey, s)
				}
				continue
			}
			out.Arguments[k] = r.value(v, tm)
		}
	}
	if out.Result != nil {
		out.Result.Content = r.Text(out.Result.Content, tm)
		out.Result.Diff = r.Text(out.Result.Diff, tm)
	}
	return out
}

// Sequence returns a copy of seq with action summaries masked.
func (r *Redactor) Sequence(seq model.Sequence) model.Sequence {
	if r == nil {
		return seq
	}
	out := seq
	out.Actions = make([]model.SequenceAction, len(seq.Actions))
	tm := NewTokenMap()
	for i, a := range seq.Actions {
		a.Summary = r.Text(a.Summary, tm)
		out.Actions[i] = a
	}
	return out
}

// value masks strings inside nested argument values. Clone copies only the
// top-level map, so nested containers are rebuilt rather than edited.
func (r *Redactor) value(v any, tm *TokenMap) any {
	switch t := v.(type) {
	case string:
		return r.Text(t, tm)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = r.value(e, tm)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			if r.keys[strings.ToLower(k)] {
				if s, ok := e.(string); ok && s != "" {
					out[k] = tm.Token(PatternKey, s)
					continue
				}
			}
			out[k] = r.value(e, tm)
		}
		return out
	default:
		return v
	}
}

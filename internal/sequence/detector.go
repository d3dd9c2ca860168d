// Package sequence correlates activity records over time and reports
// multi-step patterns that single-record scoring cannot see.
//
// Detection is a pure scan over a snapshot. Each call sorts a copy of its
// input by timestamp, evaluates every pattern at every index and keeps no
// state between calls.
package sequence

import (
	"sort"
	"time"

	"github.com/ppiankov/toolwatch/internal/model"
)

// Defaults applied by New when a Config field is not positive.
const (
	DefaultWindow               = 5 * time.Minute
	DefaultBurstWindow          = 60 * time.Second
	DefaultEnumerationThreshold = 10
	DefaultPrivilegedBurstMin   = 3
	DefaultMaxResults           = 20
	DefaultMaxActions           = 10
)

// Config tunes a Detector.
type Config struct {
	Window               time.Duration `json:"window"`
	BurstWindow          time.Duration `json:"burstWindow"`
	EnumerationThreshold int           `json:"enumerationThreshold"`
	PrivilegedBurstMin   int           `json:"privilegedBurstMin"`
	MaxResults           int           `json:"maxResults"`
	MaxActions           int           `json:"maxActions"`
}

// DefaultConfig returns the stock detector settings.
func DefaultConfig() Config {
	return Config{
		Window:               DefaultWindow,
		BurstWindow:          DefaultBurstWindow,
		EnumerationThreshold: DefaultEnumerationThreshold,
		PrivilegedBurstMin:   DefaultPrivilegedBurstMin,
		MaxResults:           DefaultMaxResults,
		MaxActions:           DefaultMaxActions,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.BurstWindow <= 0 {
		c.BurstWindow = d.BurstWindow
	}
	if c.EnumerationThreshold <= 0 {
		c.EnumerationThreshold = d.EnumerationThreshold
	}
	if c.PrivilegedBurstMin <= 0 {
		c.PrivilegedBurstMin = d.PrivilegedBurstMin
	}
	if c.MaxResults <= 0 {
		c.MaxResults = d.MaxResults
	}
	if c.MaxActions <= 0 {
		c.MaxActions = d.MaxActions
	}
	return c
}

// Detector runs the pattern catalogue. It is safe for concurrent use.
type Detector struct {
	cfg Config
}

// New returns a Detector; non-positive settings fall back to defaults.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Config returns the effective settings.
func (d *Detector) Config() Config {
	return d.cfg
}

// Detect scans records with the default settings and the given window.
func Detect(records []model.Record, window time.Duration) []model.Sequence {
	cfg := DefaultConfig()
	cfg.Window = window
	return New(cfg).Detect(records)
}

// scan is the per-call state shared by the matchers.
type scan struct {
	cfg     Config
	records []model.Record

	// burst de-duplication, reset on every call
	burstKeys map[dedupKey]bool
	burstEnd  map[string]time.Time
}

type dedupKey struct {
	typ string
	ts  int64
}

// Detect returns the sequences found in records, sorted ascending by
// trigger time and capped at MaxResults. The input is not modified.
func (d *Detector) Detect(records []model.Record) []model.Sequence {
	if len(records) == 0 {
		return []model.Sequence{}
	}

	sorted := make([]model.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	s := &scan{
		cfg:       d.cfg,
		records:   sorted,
		burstKeys: make(map[dedupKey]bool),
		burstEnd:  make(map[string]time.Time),
	}

	found := make(map[dedupKey]int)
	var out []model.Sequence
	emit := func(seq model.Sequence) {
		if len(seq.Actions) > d.cfg.MaxActions {
			seq.Actions = seq.Actions[:d.cfg.MaxActions]
		}
		k := dedupKey{typ: seq.Type, ts: seq.Timestamp.UnixNano()}
		if idx, ok := found[k]; ok {
			out[idx] = seq
			return
		}
		found[k] = len(out)
		out = append(out, seq)
	}

	for i := range sorted {
		for _, p := range catalogue {
			if seq, ok := p.match(s, i); ok {
				emit(seq)
			}
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	if len(out) > d.cfg.MaxResults {
		out = out[:d.cfg.MaxResults]
	}
	if out == nil {
		out = []model.Sequence{}
	}
	return out
}

// lookahead visits the indices after i whose delta to records[i] is within
// w, inclusive. It stops at the first index past w or when visit returns false.
func (s *scan) lookahead(i int, w time.Duration, visit func(j int, delta time.Duration) bool) {
	anchor := s.records[i].Timestamp
	for j := i + 1; j < len(s.records); j++ {
		delta := s.records[j].Timestamp.Sub(anchor)
		if delta > w {
			return
		}
		if !visit(j, delta) {
			return
		}
	}
}

// sameInstant visits the indices before i that share records[i]'s
// timestamp, nearest first, until visit returns false. The sort cannot order
// such records, so a follow-up may precede its trigger.
func (s *scan) sameInstant(i int, visit func(j int) bool) {
	anchor := s.records[i].Timestamp
	for j := i - 1; j >= 0 && s.records[j].Timestamp.Equal(anchor); j-- {
		if !visit(j) {
			return
		}
	}
}

// claimBurst reports whether a burst anchored at ts may be emitted and
// records its span. Anchors sharing a rounded trigger time with a reported
// burst are suppressed.
func (s *scan) claimBurst(typ string, ts, spanEnd time.Time, round time.Duration) bool {
	k := dedupKey{typ: typ, ts: ts.Truncate(round).UnixNano()}
	if s.burstKeys[k] {
		return false
	}
	s.burstKeys[k] = true
	s.burstEnd[typ] = spanEnd
	return true
}

// inBurst reports whether ts falls inside the last reported span of typ.
func (s *scan) inBurst(typ string, ts time.Time) bool {
	end, ok := s.burstEnd[typ]
	return ok && !ts.After(end)
}

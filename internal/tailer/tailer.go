// Package tailer converts append-only activity logs into a stream of new
// records. Each source keeps a cursor of lines consumed; a poll emits only
// the records past the cursor and moves it to the end of the source.
package tailer

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/ppiankov/toolwatch/internal/ingest"
	"github.com/ppiankov/toolwatch/internal/model"
)

// ParseFunc parses one line into at most one record.
type ParseFunc func(line []byte) (model.Record, bool)

// Tailer tracks per-source cursors. Polls of different sources run
// concurrently; polls of the same source are serialized.
type Tailer struct {
	src   Source
	parse ParseFunc

	mu      sync.Mutex
	cursors map[string]int
	locks   map[string]*sync.Mutex
}

// New creates a Tailer. A nil src reads files from disk and a nil parse
// uses ingest.ParseLine.
func New(src Source, parse ParseFunc) *Tailer {
	if src == nil {
		src = FileSource{}
	}
	if parse == nil {
		parse = ingest.ParseLine
	}
	return &Tailer{
		src:     src,
		parse:   parse,
		cursors: make(map[string]int),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (t *Tailer) sourceLock(id string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[id]
	if !ok {
		l = &sync.Mutex{}
		t.locks[id] = l
	}
	return l
}

// Poll returns the records appended to sourceID since the previous poll,
// in source order. Only newline-terminated lines count, so a line still
// being written is picked up by a later poll. Lines that fail to parse are
// consumed and never retried. If the source has fewer lines than the cursor
// it was truncated or rotated, and reading restarts from the top.
//
// A read error leaves the cursor untouched.
func (t *Tailer) Poll(sourceID string) ([]model.Record, error) {
	lock := t.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	data, err := t.src.ReadAll(sourceID)
	if err != nil {
		return nil, fmt.Errorf("read source %s: %w", sourceID, err)
	}
	lines := completeLines(data)

	t.mu.Lock()
	cursor := t.cursors[sourceID]
	t.mu.Unlock()

	if len(lines) < cursor {
		cursor = 0
	}

	var out []model.Record
	for _, line := range lines[cursor:] {
		rec, ok := t.parse(line)
		if !ok {
			continue
		}
		rec.Source = sourceID
		out = append(out, rec)
	}

	t.mu.Lock()
	t.cursors[sourceID] = len(lines)
	t.mu.Unlock()

	return out, nil
}

// Prime moves the cursor to the current end of the source without emitting
// anything, so only lines appended afterwards are reported.
func (t *Tailer) Prime(sourceID string) error {
	lock := t.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	data, err := t.src.ReadAll(sourceID)
	if err != nil {
		return fmt.Errorf("read source %s: %w", sourceID, err)
	}
	t.mu.Lock()
	t.cursors[sourceID] = len(completeLines(data))
	t.mu.Unlock()
	return nil
}

// Cursor returns the number of lines consumed from sourceID.
func (t *Tailer) Cursor(sourceID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cursors[sourceID]
}

// Forget drops the cursor of a source that has gone away. It waits for an
// in-flight poll of the source so that poll cannot write its cursor back.
// The per-source lock is kept: a poll already waiting on it must stay
// serialized with later polls.
func (t *Tailer) Forget(sourceID string) {
	lock := t.sourceLock(sourceID)
	lock.Lock()
	defer lock.Unlock()

	t.mu.Lock()
	delete(t.cursors, sourceID)
	t.mu.Unlock()
}

// Sources lists the sources with a cursor, sorted.
func (t *Tailer) Sources() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.cursors))
	for id := range t.cursors {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// completeLines splits data into newline-terminated lines, dropping any
// unterminated tail and a trailing carriage return on each line.
func completeLines(data []byte) [][]byte {
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil
	}
	lines := bytes.Split(data[:end], []byte{'\n'})
	for i, l := range lines {
		lines[i] = bytes.TrimSuffix(l, []byte{'\r'})
	}
	return lines
}

package pipeline

import (
	"fmt"
	"os"

	"github.com/ppiankov/toolwatch/internal/ingest"
	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/sequence"
)

// Load reads a snapshot of the raw logs at path: a single file, or every
// pattern-matching file in a directory.
func Load(path, pattern string) ([]model.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}

	var recs []model.Record
	if info.IsDir() {
		recs, err = ingest.ReadDir(path, pattern)
	} else {
		recs, err = ingest.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return recs, nil
}

// History runs sequence detection over a snapshot of the raw logs at path.
// Nothing is indexed; every call re-reads the logs.
func History(path, pattern string, cfg sequence.Config) ([]model.Sequence, error) {
	recs, err := Load(path, pattern)
	if err != nil {
		return nil, err
	}
	return Detect(recs, cfg), nil
}

// Detect runs a one-off detection pass over recs.
func Detect(recs []model.Record, cfg sequence.Config) []model.Sequence {
	return sequence.New(cfg).Detect(recs)
}

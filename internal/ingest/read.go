package ingest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/ppiankov/toolwatch/internal/model"
)

// DefaultPattern matches activity log files inside a log directory.
const DefaultPattern = "*.jsonl"

// Read parses every line of r, skipping lines that are not records.
// source is stamped on each record.
func Read(r io.Reader, source string) ([]model.Record, error) {
	br := bufio.NewReader(r)
	var out []model.Record
	for {
		line, err := br.ReadBytes('\n')
		if len(line) > 0 {
			if rec, ok := ParseLine(line); ok {
				rec.Source = source
				out = append(out, rec)
			}
		}
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("read %s: %w", source, err)
		}
	}
}

// ReadFile loads a whole log file as a snapshot, in file order.
func ReadFile(path string) ([]model.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open activity log: %w", err)
	}
	defer f.Close()
	return Read(f, path)
}

// ReadDir loads every log in dir matching pattern (DefaultPattern when
// empty). Files are read in name order; files that vanish between listing
// and reading are skipped.
func ReadDir(dir, pattern string) ([]model.Record, error) {
	if pattern == "" {
		pattern = DefaultPattern
	}
	paths, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", pattern, err)
	}
	sort.Strings(paths)

	var out []model.Record
	for _, p := range paths {
		recs, err := ReadFile(p)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return out, err
		}
		out = append(out, recs...)
	}
	return out, nil
}

// ReadPath loads a file, or every log inside a directory.
func ReadPath(path string) ([]model.Record, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return ReadDir(path, "")
	}
	return ReadFile(path)
}

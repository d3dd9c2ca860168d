package tailer

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source returns the full current content of a record source.
type Source interface {
	ReadAll(sourceID string) ([]byte, error)
}

// FileSource treats the source id as a file path.
type FileSource struct{}

// ReadAll reads the whole file.
func (FileSource) ReadAll(sourceID string) ([]byte, error) {
	return os.ReadFile(sourceID)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(sourceID string) ([]byte, error)

// ReadAll calls f.
func (f SourceFunc) ReadAll(sourceID string) ([]byte, error) {
	return f(sourceID)
}

// MatchSource reports whether path is a log file matching pattern. Partial
// writes (.tmp) and hidden files never match.
func MatchSource(path, pattern string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return false
	}
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}

// Existing lists the log files already present in dir, sorted. A missing
// directory yields no files.
func Existing(dir, pattern string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if MatchSource(path, pattern) {
			out = append(out, path)
		}
	}
	sort.Strings(out)
	return out, nil
}

package mcp

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/ppiankov/toolwatch/internal/ingest"
	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/pipeline"
)

// maxScanTop bounds the riskiest records returned by toolwatch_scan.
const maxScanTop = 20

var errNoSource = errors.New("no records: pass lines or a path, or start the server with a log directory")

// --- Input/Output types ---

// ClassifyInput defines parameters for the toolwatch_classify tool.
type ClassifyInput struct {
	Tool      string         `json:"tool" jsonschema:"tool name (exec, read, write, browser, message, ...)"`
	Arguments map[string]any `json:"arguments,omitempty" jsonschema:"tool arguments as the agent passed them"`
}

// ClassifyOutput contains the verdict.
type ClassifyOutput struct {
	Level string   `json:"level"`
	Score int      `json:"score"`
	Flags []string `json:"flags"`
}

// SequencesInput defines parameters for the toolwatch_sequences tool.
type SequencesInput struct {
	Lines  []string `json:"lines,omitempty" jsonschema:"raw activity-log lines (JSON objects)"`
	Path   string   `json:"path,omitempty" jsonschema:"log file or directory, used when lines is empty"`
	Window string   `json:"window,omitempty" jsonschema:"correlation window (e.g. 5m)"`
}

// SequencesOutput lists the detected sequences.
type SequencesOutput struct {
	Count     int              `json:"count"`
	Sequences []model.Sequence `json:"sequences"`
}

// ScanInput defines parameters for the toolwatch_scan tool.
type ScanInput struct {
	Path     string `json:"path,omitempty" jsonschema:"log file or directory; defaults to the configured log directory"`
	MinLevel string `json:"min_level,omitempty" jsonschema:"only list records at or above this level (default high)"`
}

// ScanOutput summarizes a classified log.
type ScanOutput struct {
	Total   int            `json:"total"`
	ByLevel map[string]int `json:"by_level"`
	Top     []ScanItem     `json:"top"`
}

// ScanItem describes a single risky record.
type ScanItem struct {
	ID        string   `json:"id"`
	Summary   string   `json:"summary"`
	Level     string   `json:"level"`
	Timestamp string   `json:"timestamp,omitempty"`
	Flags     []string `json:"flags"`
}

// --- Handlers ---

func (s *Server) handleClassify(ctx context.Context, req *mcpsdk.CallToolRequest, input ClassifyInput) (*mcpsdk.CallToolResult, ClassifyOutput, error) {
	if input.Tool == "" {
		return nil, ClassifyOutput{}, errors.New("tool is required")
	}
	v := s.classifier.Load().Classify(model.Record{Tool: input.Tool, Arguments: input.Arguments})
	return nil, ClassifyOutput{
		Level: string(v.Level),
		Score: v.Score,
		Flags: flagStrings(v.Flags),
	}, nil
}

func (s *Server) handleSequences(ctx context.Context, req *mcpsdk.CallToolRequest, input SequencesInput) (*mcpsdk.CallToolResult, SequencesOutput, error) {
	cfg := s.seqCfg
	if input.Window != "" {
		w, err := time.ParseDuration(input.Window)
		if err != nil || w <= 0 {
			return nil, SequencesOutput{}, fmt.Errorf("invalid window %q", input.Window)
		}
		cfg.Window = w
	}

	var (
		seqs []model.Sequence
		err  error
	)
	switch {
	case len(input.Lines) > 0:
		recs := make([]model.Record, 0, len(input.Lines))
		for _, line := range input.Lines {
			if rec, ok := ingest.ParseLine([]byte(line)); ok {
				recs = append(recs, rec)
			}
		}
		seqs = pipeline.Detect(recs, cfg)
	default:
		path := s.pathOr(input.Path)
		if path == "" {
			return nil, SequencesOutput{}, errNoSource
		}
		seqs, err = pipeline.History(path, s.pattern, cfg)
		if err != nil {
			return nil, SequencesOutput{}, err
		}
	}

	if seqs == nil {
		seqs = []model.Sequence{}
	}
	s.logger.Debug("mcp sequences", zap.Int("count", len(seqs)))
	return nil, SequencesOutput{Count: len(seqs), Sequences: seqs}, nil
}

func (s *Server) handleScan(ctx context.Context, req *mcpsdk.CallToolRequest, input ScanInput) (*mcpsdk.CallToolResult, ScanOutput, error) {
	path := s.pathOr(input.Path)
	if path == "" {
		return nil, ScanOutput{}, errNoSource
	}
	floor := model.LevelHigh
	if input.MinLevel != "" {
		l, err := model.ParseLevel(input.MinLevel)
		if err != nil {
			return nil, ScanOutput{}, err
		}
		floor = l
	}

	recs, err := pipeline.Load(path, s.pattern)
	if err != nil {
		return nil, ScanOutput{}, err
	}

	classifier := s.classifier.Load()
	out := ScanOutput{Total: len(recs), ByLevel: make(map[string]int, len(model.Levels)), Top: []ScanItem{}}
	for _, l := range model.Levels {
		out.ByLevel[string(l)] = 0
	}

	var risky []model.ClassifiedRecord
	for _, rec := range recs {
		v := classifier.Classify(rec)
		out.ByLevel[string(v.Level)]++
		if v.Level.AtLeast(floor) {
			risky = append(risky, model.ClassifiedRecord{Record: rec, Risk: v})
		}
	}

	// Riskiest first; newest first within a level.
	sort.SliceStable(risky, func(i, j int) bool {
		if risky[i].Risk.Score != risky[j].Risk.Score {
			return risky[i].Risk.Score > risky[j].Risk.Score
		}
		return risky[i].Record.Timestamp.After(risky[j].Record.Timestamp)
	})
	if len(risky) > maxScanTop {
		risky = risky[:maxScanTop]
	}
	for _, cr := range risky {
		item := ScanItem{
			ID:      cr.Record.ID,
			Summary: cr.Record.Summary(),
			Level:   string(cr.Risk.Level),
			Flags:   flagStrings(cr.Risk.Flags),
		}
		if !cr.Record.Timestamp.IsZero() {
			item.Timestamp = cr.Record.Timestamp.UTC().Format(time.RFC3339)
		}
		out.Top = append(out.Top, item)
	}
	return nil, out, nil
}

func (s *Server) pathOr(path string) string {
	if path != "" {
		return path
	}
	return s.logDir
}

func flagStrings(flags []model.Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = f.String()
	}
	return out
}

// Package pipeline wires the tailer, classifier, sequence detector and the
// output stages together for a watched log directory.
package pipeline

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/ppiankov/toolwatch/internal/alert"
	"github.com/ppiankov/toolwatch/internal/delivery"
	"github.com/ppiankov/toolwatch/internal/fanout"
	"github.com/ppiankov/toolwatch/internal/metrics"
	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/redact"
	"github.com/ppiankov/toolwatch/internal/risk"
	"github.com/ppiankov/toolwatch/internal/sequence"
	"github.com/ppiankov/toolwatch/internal/tailer"
)

// DefaultRecentLimit bounds the records kept for live sequence detection.
const DefaultRecentLimit = 500

// Config holds pipeline configuration.
type Config struct {
	Dir         string
	Pattern     string
	FromStart   bool // replay existing history instead of skipping it
	Poll        bool // poll the directory instead of using fsnotify
	Detection   bool
	RecentLimit int
	Debounce    time.Duration
	Workers     int
	Sequence    sequence.Config
}

// Deps are the stages records flow through. Buffer, Alerts, Hub and
// Redactor may be nil; a nil Tailer or Classifier gets the defaults.
type Deps struct {
	Tailer     *tailer.Tailer
	Classifier *risk.Classifier
	Hub        *fanout.Hub
	Buffer     *delivery.Buffer
	Alerts     *alert.Dispatcher
	Redactor   *redact.Redactor // applied to everything leaving the process
	Logger     *zap.Logger
}

type seqKey struct {
	typ string
	ts  int64
}

// Pipeline classifies every new record and reports sequences once.
type Pipeline struct {
	cfg        Config
	tailer     *tailer.Tailer
	classifier atomic.Pointer[risk.Classifier]
	detector   *sequence.Detector
	hub        *fanout.Hub
	buffer     *delivery.Buffer
	alerts     *alert.Dispatcher
	redactor   *redact.Redactor
	logger     *zap.Logger

	mu       sync.Mutex
	recent   []model.Record
	reported map[seqKey]time.Time
}

// New creates a Pipeline.
func New(cfg Config, deps Deps) *Pipeline {
	if cfg.Pattern == "" {
		cfg.Pattern = "*.jsonl"
	}
	if cfg.RecentLimit <= 0 {
		cfg.RecentLimit = DefaultRecentLimit
	}
	if deps.Tailer == nil {
		deps.Tailer = tailer.New(nil, nil)
	}
	if deps.Classifier == nil {
		deps.Classifier = risk.New(risk.Config{})
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	// Live detection must see every sequence in the recent window, not only
	// the oldest MaxResults of them.
	seqCfg := cfg.Sequence
	seqCfg.MaxResults = cfg.RecentLimit
	p := &Pipeline{
		cfg:      cfg,
		tailer:   deps.Tailer,
		detector: sequence.New(seqCfg),
		hub:      deps.Hub,
		buffer:   deps.Buffer,
		alerts:   deps.Alerts,
		redactor: deps.Redactor,
		logger:   deps.Logger,
		reported: make(map[seqKey]time.Time),
	}
	p.classifier.Store(deps.Classifier)
	return p
}

// SetClassifier swaps the classifier used for records processed from now on.
func (p *Pipeline) SetClassifier(c *risk.Classifier) {
	if c != nil {
		p.classifier.Store(c)
	}
}

// Run primes or replays the sources already present, then follows the
// directory until ctx is cancelled. Pending alerts and a final delivery
// flush complete before it returns.
func (p *Pipeline) Run(ctx context.Context) error {
	info, err := os.Stat(p.cfg.Dir)
	if err != nil {
		return fmt.Errorf("watch dir: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch dir: %s is not a directory", p.cfg.Dir)
	}

	existing, err := tailer.Existing(p.cfg.Dir, p.cfg.Pattern)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	for _, path := range existing {
		if p.cfg.FromStart {
			p.HandleSource(path)
			continue
		}
		if err := p.tailer.Prime(path); err != nil {
			p.logger.Warn("prime source", zap.String("source", path), zap.Error(err))
		}
	}
	p.logger.Info("watching",
		zap.String("dir", p.cfg.Dir),
		zap.String("pattern", p.cfg.Pattern),
		zap.Int("sources", len(existing)),
		zap.Bool("from_start", p.cfg.FromStart))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg conc.WaitGroup
	if p.buffer != nil {
		wg.Go(func() { p.buffer.Run(ctx) })
	}

	wcfg := tailer.WatcherConfig{
		Dir:      p.cfg.Dir,
		Pattern:  p.cfg.Pattern,
		Debounce: p.cfg.Debounce,
		Workers:  p.cfg.Workers,
		OnChange: p.HandleSource,
		OnRemove: p.tailer.Forget,
		Logger:   p.logger,
	}
	if p.cfg.Poll {
		err = tailer.NewPollWatcher(wcfg).Run(ctx)
	} else {
		err = tailer.NewWatcher(wcfg).Run(ctx)
	}

	cancel()
	wg.Wait()
	p.alerts.Wait()
	return err
}

// HandleSource polls one source and processes whatever it appended.
func (p *Pipeline) HandleSource(path string) {
	recs, err := p.tailer.Poll(path)
	if err != nil {
		metrics.PollErrors.Inc()
		p.logger.Warn("poll source", zap.String("source", path), zap.Error(err))
		return
	}
	if len(recs) == 0 {
		return
	}
	p.Process(recs)
}

// Process classifies records, hands them to every output stage and runs
// sequence detection over the recent window. It returns the classified
// records and the sequences reported for the first time.
func (p *Pipeline) Process(recs []model.Record) ([]model.ClassifiedRecord, []model.Sequence) {
	classifier := p.classifier.Load()
	out := make([]model.ClassifiedRecord, 0, len(recs))
	for _, rec := range recs {
		v := classifier.Classify(rec)
		out = append(out, model.ClassifiedRecord{Record: rec, Risk: v})

		// Outbound copy; nil redactor returns rec as is.
		shared := model.ClassifiedRecord{Record: p.redactor.Record(rec), Risk: v}

		metrics.RecordsIngested.WithLabelValues(string(v.Level)).Inc()
		if p.hub != nil {
			p.hub.Publish(fanout.Event{Type: fanout.TypeActivity, Data: shared})
		}
		if p.buffer != nil {
			p.buffer.Enqueue(shared)
		}
		p.alerts.MaybeNotify(shared.Record, v)

		if v.Level.AtLeast(model.LevelHigh) {
			p.logger.Info("risky action",
				zap.String("level", string(v.Level)),
				zap.String("action", shared.Record.Summary()),
				zap.String("source", rec.Source),
				zap.Stringers("flags", v.Flags))
		}
	}

	if !p.cfg.Detection {
		return out, nil
	}
	return out, p.detect(recs)
}

func (p *Pipeline) detect(recs []model.Record) []model.Sequence {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.recent = append(p.recent, recs...)
	if over := len(p.recent) - p.cfg.RecentLimit; over > 0 {
		n := copy(p.recent, p.recent[over:])
		p.recent = p.recent[:n]
	}

	var fresh []model.Sequence
	for _, seq := range p.detector.Detect(p.recent) {
		key := seqKey{typ: seq.Type, ts: seq.Timestamp.UnixNano()}
		if _, ok := p.reported[key]; ok {
			continue
		}
		p.reported[key] = seq.Timestamp
		fresh = append(fresh, seq)

		metrics.SequencesDetected.WithLabelValues(seq.Type).Inc()
		if p.hub != nil {
			p.hub.Publish(fanout.Event{Type: fanout.TypeSequence, Data: p.redactor.Sequence(seq)})
		}
		p.logger.Warn("suspicious sequence",
			zap.String("type", seq.Type),
			zap.String("reason", seq.Reason),
			zap.Time("at", seq.Timestamp),
			zap.Int("actions", len(seq.Actions)))
	}
	p.prune()
	return fresh
}

// prune drops records and reported sequences older than twice the window,
// measured from the newest record seen. Log time is used rather than wall
// time so replayed history behaves like live input. Records are dropped
// together with their keys so an expired sequence cannot be found again.
func (p *Pipeline) prune() {
	var newest time.Time
	for _, r := range p.recent {
		if r.Timestamp.After(newest) {
			newest = r.Timestamp
		}
	}
	cutoff := newest.Add(-2 * p.detector.Config().Window)

	kept := p.recent[:0]
	for _, r := range p.recent {
		if !r.Timestamp.Before(cutoff) {
			kept = append(kept, r)
		}
	}
	clear(p.recent[len(kept):])
	p.recent = kept

	for k, ts := range p.reported {
		if ts.Before(cutoff) {
			delete(p.reported, k)
		}
	}
}

// Recent returns a copy of the records held for live detection.
func (p *Pipeline) Recent() []model.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]model.Record(nil), p.recent...)
}

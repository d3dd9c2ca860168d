package tailer

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sourcegraph/conc"
	"go.uber.org/zap"
)

// debounceDefault is the default debounce interval for file events.
const debounceDefault = 200 * time.Millisecond

// workersDefault limits how many sources are polled simultaneously.
const workersDefault = 4

// maxQueueSize is the buffer of the work queue. It must exceed the worker
// count so a debounce flush does not block on a burst.
const maxQueueSize = 200

// pollDefault is the default polling interval when fsnotify is unavailable.
const pollDefault = 2 * time.Second

// WatcherConfig configures a Watcher or PollWatcher.
type WatcherConfig struct {
	Dir      string
	Pattern  string
	Debounce time.Duration
	Workers  int
	Interval time.Duration // PollWatcher only
	// OnChange is called with the path of a changed source.
	OnChange func(path string)
	// OnRemove, if set, is called when a source is removed or renamed away.
	OnRemove func(path string)
	Logger   *zap.Logger
}

func (c WatcherConfig) withDefaults() WatcherConfig {
	if c.Pattern == "" {
		c.Pattern = "*.jsonl"
	}
	if c.Debounce <= 0 {
		c.Debounce = debounceDefault
	}
	if c.Workers <= 0 {
		c.Workers = workersDefault
	}
	if c.Interval <= 0 {
		c.Interval = pollDefault
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// Watcher turns fsnotify events on a log directory into OnChange calls.
// Bursts of writes to the same file coalesce into one call.
type Watcher struct {
	cfg WatcherConfig
}

// NewWatcher creates a watcher for cfg.Dir.
func NewWatcher(cfg WatcherConfig) *Watcher {
	return &Watcher{cfg: cfg.withDefaults()}
}

// Run watches the directory. Blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.cfg.Dir); err != nil {
		return err
	}

	// ready collects paths that changed since the last flush. A single
	// timer resets on each event; when it fires the whole set moves to the
	// work queue. Only the loop goroutine touches ready.
	ready := make(map[string]bool)
	queue := make(chan string, maxQueueSize)

	var wg conc.WaitGroup
	for i := 0; i < w.cfg.Workers; i++ {
		wg.Go(func() {
			for path := range queue {
				w.handle(path)
			}
		})
	}

	flush := func() {
		for p := range ready {
			select {
			case queue <- p:
			case <-ctx.Done():
				return
			}
		}
		ready = make(map[string]bool)
	}

	debounceTimer := time.NewTimer(w.cfg.Debounce)
	debounceTimer.Stop()

	defer func() {
		debounceTimer.Stop()
		flush()
		close(queue)
		wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-debounceTimer.C:
			flush()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !MatchSource(event.Name, w.cfg.Pattern) {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				delete(ready, event.Name)
				if w.cfg.OnRemove != nil {
					w.cfg.OnRemove(event.Name)
				}
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}

			ready[event.Name] = true
			if !debounceTimer.Stop() {
				select {
				case <-debounceTimer.C:
				default:
				}
			}
			debounceTimer.Reset(w.cfg.Debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.cfg.Logger.Warn("watcher error", zap.String("dir", w.cfg.Dir), zap.Error(err))
		}
	}
}

func (w *Watcher) handle(path string) {
	defer func() {
		if r := recover(); r != nil {
			w.cfg.Logger.Error("source handler panicked", zap.String("source", path), zap.Any("panic", r))
		}
	}()
	w.cfg.OnChange(path)
}

// PollWatcher detects changed sources by polling size and modification
// time. Used where fsnotify is unavailable (NFS, some container mounts).
type PollWatcher struct {
	cfg  WatcherConfig
	seen map[string]fileState
}

type fileState struct {
	size    int64
	modTime time.Time
}

// NewPollWatcher creates a polling watcher for cfg.Dir.
func NewPollWatcher(cfg WatcherConfig) *PollWatcher {
	return &PollWatcher{cfg: cfg.withDefaults(), seen: make(map[string]fileState)}
}

// Run polls the directory. Blocks until ctx is cancelled.
func (w *PollWatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.scan()
		}
	}
}

// scan reports every source whose size or modification time changed and
// every source that disappeared.
func (w *PollWatcher) scan() {
	paths, err := Existing(w.cfg.Dir, w.cfg.Pattern)
	if err != nil {
		w.cfg.Logger.Warn("poll scan failed", zap.String("dir", w.cfg.Dir), zap.Error(err))
		return
	}

	present := make(map[string]bool, len(paths))
	for _, p := range paths {
		present[p] = true
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		st := fileState{size: info.Size(), modTime: info.ModTime()}
		if prev, ok := w.seen[p]; ok && prev.size == st.size && prev.modTime.Equal(st.modTime) {
			continue
		}
		w.seen[p] = st
		w.handle(p)
	}

	for p := range w.seen {
		if present[p] {
			continue
		}
		delete(w.seen, p)
		if w.cfg.OnRemove != nil {
			w.cfg.OnRemove(p)
		}
	}
}

func (w *PollWatcher) handle(path string) {
	defer func() {
		if r := recover(); r != nil {
			w.cfg.Logger.Error("source handler panicked", zap.String("source", path), zap.Any("panic", r))
		}
	}()
	w.cfg.OnChange(path)
}

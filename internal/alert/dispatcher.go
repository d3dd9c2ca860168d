package alert

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/ppiankov/toolwatch/internal/metrics"
	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/task"
)

const defaultTimeout = 5 * time.Second

// Dispatcher sends one webhook per record whose level is on the allow-list.
type Dispatcher struct {
	cfg    Config
	levels map[model.Level]bool
	client *http.Client
	tasks  *task.Group
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher. Returns nil if alerting is disabled or
// has no URL; MaybeNotify on a nil Dispatcher does nothing.
func NewDispatcher(cfg Config, logger *zap.Logger) *Dispatcher {
	if !cfg.Enabled || cfg.URL == "" {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Dispatcher{
		cfg:    cfg,
		levels: allowList(cfg.Levels, logger),
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		tasks:  task.NewGroup(logger),
		logger: logger,
	}
}

func allowList(levels []string, logger *zap.Logger) map[model.Level]bool {
	out := make(map[model.Level]bool)
	for _, s := range levels {
		l, err := model.ParseLevel(s)
		if err != nil {
			logger.Warn("ignoring alert level", zap.String("level", s))
			continue
		}
		out[l] = true
	}
	if len(out) == 0 {
		out[model.LevelCritical] = true
	}
	return out
}

// MaybeNotify starts a webhook call when the verdict's level is allowed and
// reports whether it did. It never blocks on the network; a failed call is
// logged and counted, not retried.
func (d *Dispatcher) MaybeNotify(rec model.Record, v model.Verdict) bool {
	if d == nil || !d.levels[v.Level] {
		return false
	}
	event := NewEvent(rec, v)
	d.tasks.Go("alert", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
		defer cancel()
		if err := Send(ctx, d.client, d.cfg, event); err != nil {
			metrics.AlertsSent.WithLabelValues("error").Inc()
			return err
		}
		metrics.AlertsSent.WithLabelValues("ok").Inc()
		return nil
	})
	return true
}

// Wait blocks until every started notification has finished.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.tasks.Wait()
	}
}

// Failed returns the number of notifications that could not be delivered.
func (d *Dispatcher) Failed() int64 {
	if d == nil {
		return 0
	}
	return d.tasks.Failed()
}

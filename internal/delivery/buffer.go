// Package delivery forwards classified records to an external sink in
// batches. Delivery is at-least-once: a failed batch is requeued, and only a
// sustained outage longer than the buffer can hold loses records (oldest
// first).
package delivery

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ppiankov/toolwatch/internal/metrics"
	"github.com/ppiankov/toolwatch/internal/model"
	"github.com/ppiankov/toolwatch/internal/tracing"
)

const (
	defaultBatchSize     = 50
	defaultFlushInterval = 10 * time.Second
	defaultMaxBuffer     = 1000
	defaultTimeout       = 10 * time.Second
)

// Config controls batching and the sink connection.
type Config struct {
	Enabled       bool          `mapstructure:"enabled"`
	Endpoint      string        `mapstructure:"endpoint"`
	APIKey        string        `mapstructure:"api_key"`
	Source        string        `mapstructure:"source"`
	BatchSize     int           `mapstructure:"batch_size"`     // pending count that triggers an eager flush
	FlushInterval time.Duration `mapstructure:"flush_interval"` // timer flush period
	MaxBuffer     int           `mapstructure:"max_buffer"`
	RequeueLimit  int           `mapstructure:"requeue_limit"` // newest records of a failed batch kept for retry
	Timeout       time.Duration `mapstructure:"timeout"`
}

// WithDefaults fills zero values.
func (c Config) WithDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.MaxBuffer <= 0 {
		c.MaxBuffer = defaultMaxBuffer
	}
	if c.RequeueLimit <= 0 || c.RequeueLimit > c.MaxBuffer {
		c.RequeueLimit = c.MaxBuffer
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

// FlushResult describes one flush attempt.
type FlushResult struct {
	Sent    int   // records delivered
	Failed  int   // records in a failed batch
	Dropped int   // records discarded while requeueing
	Skipped bool  // another flush was in flight
	Err     error // sink error, if any
}

// Stats is the observable state of a Buffer.
type Stats struct {
	TotalSent    int64      `json:"totalSent"`
	TotalFailed  int64      `json:"totalFailed"`
	TotalDropped int64      `json:"totalDropped"`
	LastSentAt   *time.Time `json:"lastSentAt"`
	LastError    string     `json:"lastError"`
	BufferSize   int        `json:"bufferSize"`
}

// Buffer queues classified records and delivers them to a Sink.
type Buffer struct {
	cfg    Config
	sink   Sink
	logger *zap.Logger
	tracer trace.Tracer

	mu         sync.Mutex
	pending    []model.ClassifiedRecord
	stats      Stats
	lastFailed bool

	flushing atomic.Bool
	eager    chan struct{}
}

// New creates a Buffer delivering to sink.
func New(cfg Config, sink Sink, logger *zap.Logger) *Buffer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Buffer{
		cfg:    cfg.WithDefaults(),
		sink:   sink,
		logger: logger,
		tracer: tracing.Tracer(),
		eager:  make(chan struct{}, 1),
	}
}

// Enqueue adds a record. When the buffer is full the oldest record is
// dropped. Crossing the batch size requests an eager flush without waiting
// for it; a buffer already above the batch size (a requeued failed batch)
// waits for the timer.
func (b *Buffer) Enqueue(rec model.ClassifiedRecord) {
	b.mu.Lock()
	prev := len(b.pending)
	b.pending = append(b.pending, rec)
	if over := len(b.pending) - b.cfg.MaxBuffer; over > 0 {
		n := copy(b.pending, b.pending[over:])
		b.pending = b.pending[:n]
		b.stats.TotalDropped += int64(over)
		metrics.DeliveryDropped.Add(float64(over))
	}
	size := len(b.pending)
	b.mu.Unlock()

	metrics.DeliveryBufferSize.Set(float64(size))
	if prev < b.cfg.BatchSize && size >= b.cfg.BatchSize {
		select {
		case b.eager <- struct{}{}:
		default:
		}
	}
}

// Flush delivers everything pending in one sink call. Only one flush runs at
// a time; a concurrent call returns immediately with Skipped set.
func (b *Buffer) Flush(ctx context.Context) FlushResult {
	if !b.flushing.CompareAndSwap(false, true) {
		return FlushResult{Skipped: true}
	}
	defer b.flushing.Store(false)

	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return FlushResult{}
	}

	ctx, span := b.tracer.Start(ctx, "delivery.flush",
		trace.WithAttributes(attribute.Int("batch.size", len(batch))))
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, b.cfg.Timeout)
	start := time.Now()
	err := b.sink.Send(callCtx, batch)
	cancel()
	elapsed := time.Since(start).Seconds()

	if err == nil {
		now := time.Now().UTC()
		b.mu.Lock()
		b.stats.TotalSent += int64(len(batch))
		b.stats.LastSentAt = &now
		b.lastFailed = false
		size := len(b.pending)
		b.mu.Unlock()

		metrics.DeliverySent.Add(float64(len(batch)))
		metrics.DeliveryFlushDuration.WithLabelValues("ok").Observe(elapsed)
		metrics.DeliveryBufferSize.Set(float64(size))
		b.logger.Debug("batch delivered", zap.Int("count", len(batch)))
		return FlushResult{Sent: len(batch)}
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	dropped := b.requeue(batch, err)
	metrics.DeliveryFailed.Add(float64(len(batch)))
	metrics.DeliveryFlushDuration.WithLabelValues("error").Observe(elapsed)
	b.logger.Warn("batch delivery failed",
		zap.Int("count", len(batch)),
		zap.Int("dropped", dropped),
		zap.Error(err))
	return FlushResult{Failed: len(batch), Dropped: dropped, Err: err}
}

// requeue puts the newest RequeueLimit records of a failed batch back in
// front of anything enqueued during the flush, then trims the oldest to fit
// MaxBuffer. It returns the number of records discarded.
func (b *Buffer) requeue(batch []model.ClassifiedRecord, cause error) int {
	keep := batch
	if len(keep) > b.cfg.RequeueLimit {
		keep = keep[len(keep)-b.cfg.RequeueLimit:]
	}
	dropped := len(batch) - len(keep)

	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]model.ClassifiedRecord, 0, len(keep)+len(b.pending))
	merged = append(merged, keep...)
	merged = append(merged, b.pending...)
	if over := len(merged) - b.cfg.MaxBuffer; over > 0 {
		merged = merged[over:]
		dropped += over
	}
	b.pending = merged

	b.stats.TotalFailed += int64(len(batch))
	b.stats.TotalDropped += int64(dropped)
	b.stats.LastError = cause.Error()
	b.lastFailed = true

	metrics.DeliveryDropped.Add(float64(dropped))
	metrics.DeliveryBufferSize.Set(float64(len(merged)))
	return dropped
}

// Run flushes on the configured interval and whenever Enqueue signals a
// full batch. On cancellation it makes one last attempt, bounded by the sink
// timeout, and returns.
func (b *Buffer) Run(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.cfg.Timeout)
			b.Flush(final)
			cancel()
			return
		case <-ticker.C:
			b.Flush(ctx)
		case <-b.eager:
			b.Flush(ctx)
		}
	}
}

// Stats returns a snapshot of the delivery counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := b.stats
	if s.LastSentAt != nil {
		t := *s.LastSentAt
		s.LastSentAt = &t
	}
	s.BufferSize = len(b.pending)
	return s
}

// Healthy reports whether the most recent delivery attempt succeeded. A
// buffer that has not attempted delivery yet is healthy.
func (b *Buffer) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.lastFailed
}

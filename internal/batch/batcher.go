// Package batch implements the write-batching engine: a single-consumer
// actor that accumulates pending write units from a bounded queue and
// commits them to storage in atomic batches.
package batch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/edgard/chatstats/internal/database"
)

// shutdownFlushTimeout bounds the final drain flush once the run context is
// already cancelled.
const shutdownFlushTimeout = 10 * time.Second

// Config holds the fixed batching constants. Cadence and threshold are
// configuration, never derived dynamically.
type Config struct {
	Size            int
	FlushInterval   time.Duration
	QueueSize       int
	MaxFlushRetries int
}

// Batcher accumulates units and flushes them in all-or-nothing commits.
// Units enter the queue in producer send order; only within one flushed
// batch is atomicity guaranteed.
type Batcher struct {
	store  database.Store
	cfg    Config
	queue  chan database.Unit
	logger *slog.Logger

	dropped atomic.Int64
}

// New creates a batcher. Run must be started for units to be consumed.
func New(store database.Store, cfg Config, logger *slog.Logger) *Batcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Batcher{
		store:  store,
		cfg:    cfg,
		queue:  make(chan database.Unit, cfg.QueueSize),
		logger: logger.With("component", "batcher"),
	}
}

// TryEnqueue hands a unit to the batcher without blocking. It returns false
// when the queue is full; the caller is then expected to fall back to a
// direct synchronous write.
func (b *Batcher) TryEnqueue(unit database.Unit) bool {
	select {
	case b.queue <- unit:
		return true
	default:
		return false
	}
}

// Dropped returns the number of units discarded after persistent flush
// failures.
func (b *Batcher) Dropped() int64 {
	return b.dropped.Load()
}

// Run is the single consumer loop. It collects units and flushes when the
// buffer reaches the batch size, on every interval tick while the buffer is
// non-empty, and once more on shutdown. It returns when ctx is cancelled.
func (b *Batcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	buf := make([]database.Unit, 0, b.cfg.Size)
	failures := 0

	b.logger.Info("Batcher started",
		"batch_size", b.cfg.Size,
		"flush_interval", b.cfg.FlushInterval,
		"queue_size", b.cfg.QueueSize)

	for {
		select {
		case <-ctx.Done():
			buf = b.drain(buf)
			b.shutdownFlush(buf)
			b.logger.Info("Batcher stopped", "dropped_total", b.dropped.Load())
			return nil

		case unit := <-b.queue:
			buf = append(buf, unit)
			if len(buf) >= b.cfg.Size {
				buf, failures = b.flush(ctx, buf, failures)
			}

		case <-ticker.C:
			if len(buf) > 0 {
				buf, failures = b.flush(ctx, buf, failures)
			}
		}
	}
}

// flush attempts one atomic commit of the buffer. On success the buffer is
// cleared. On failure the buffer is retained for the next attempt; after
// MaxFlushRetries consecutive failures the oldest batch-size worth of units
// is dropped so one poisoned unit cannot block all later writes.
func (b *Batcher) flush(ctx context.Context, buf []database.Unit, failures int) ([]database.Unit, int) {
	err := b.store.CommitUnits(ctx, buf)
	if err == nil {
		b.logger.Debug("Batch flushed", "units", len(buf))
		return buf[:0], 0
	}

	failures++
	b.logger.Error("Batch flush failed, retaining buffer",
		"units", len(buf), "consecutive_failures", failures, "error", err)

	if failures >= b.cfg.MaxFlushRetries {
		drop := b.cfg.Size
		if drop > len(buf) {
			drop = len(buf)
		}
		b.dropped.Add(int64(drop))
		b.logger.Error("Dropping oldest units after persistent flush failure",
			"dropped", drop, "remaining", len(buf)-drop)
		buf = append(buf[:0], buf[drop:]...)
		failures = 0
	}

	return buf, failures
}

// drain pulls whatever is still queued without blocking.
func (b *Batcher) drain(buf []database.Unit) []database.Unit {
	for {
		select {
		case unit := <-b.queue:
			buf = append(buf, unit)
		default:
			return buf
		}
	}
}

// shutdownFlush makes a final commit attempt with its own deadline, since
// the run context is already cancelled.
func (b *Batcher) shutdownFlush(buf []database.Unit) {
	if len(buf) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer cancel()

	if err := b.store.CommitUnits(ctx, buf); err != nil {
		b.dropped.Add(int64(len(buf)))
		b.logger.Error("Final flush failed, units lost", "units", len(buf), "error", err)
		return
	}
	b.logger.Info("Final flush committed", "units", len(buf))
}

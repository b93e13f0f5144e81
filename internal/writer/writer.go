package writer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/rickgao/marketstream/internal/router"
)

// flushTimeout bounds a single background batch insert.
const flushTimeout = 30 * time.Second

// DB is the subset of *pgxpool.Pool the writers use.
type DB interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// WriterConfig holds batching settings shared by all writers.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

// DefaultWriterConfig returns default configuration.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
	}
}

// WriterMetrics contains writer counters.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64 // Rows skipped by ON CONFLICT DO NOTHING
	Errors    int64 // Failed flushes
	Rejected  int64 // Messages that could not be converted to rows
	Flushes   int64
}

// batchWriter drains a router buffer into batched inserts. M is the router
// message type, R the row type.
type batchWriter[M, R any] struct {
	name   string
	cfg    WriterConfig
	logger *slog.Logger

	input *router.GrowableBuffer[M]
	db    DB

	transform func(M) (R, error)
	queue     func(*pgx.Batch, R)

	// Batching
	batch       []R
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

func newBatchWriter[M, R any](
	name string,
	cfg WriterConfig,
	input *router.GrowableBuffer[M],
	db DB,
	logger *slog.Logger,
	transform func(M) (R, error),
	queue func(*pgx.Batch, R),
) *batchWriter[M, R] {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = DefaultWriterConfig().BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultWriterConfig().FlushInterval
	}
	return &batchWriter[M, R]{
		name:      name,
		cfg:       cfg,
		logger:    logger.With("writer", name),
		input:     input,
		db:        db,
		transform: transform,
		queue:     queue,
		batch:     make([]R, 0, cfg.BatchSize),
	}
}

// Start begins consuming messages and writing to the database.
func (w *batchWriter[M, R]) Start(ctx context.Context) error {
	if w.db == nil {
		return errors.New("writer has no database")
	}

	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.wg.Add(2)
	go w.consumeLoop()
	go w.flushLoop()

	w.logger.Info("writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts down the loops, then writes whatever is still buffered using
// ctx for the final flush.
func (w *batchWriter[M, R]) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("writer stop timed out")
		return ctx.Err()
	}

	for _, msg := range w.input.DrainTo(0) {
		w.add(msg)
	}
	if err := w.flush(ctx); err != nil {
		return fmt.Errorf("final flush: %w", err)
	}

	w.logger.Info("writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *batchWriter[M, R]) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop moves messages from the input buffer into the batch. Once ctx
// is cancelled it stops taking messages; Stop drains the rest.
func (w *batchWriter[M, R]) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		default:
		}

		msgs := w.input.DrainTo(w.cfg.BatchSize)
		if len(msgs) == 0 {
			select {
			case <-w.ctx.Done():
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}

		for _, msg := range msgs {
			if w.add(msg) {
				w.flushDetached()
			}
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *batchWriter[M, R]) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flushDetached()
		}
	}
}

// flushDetached flushes from the background loops. The insert is not
// cancelled with the writer's context, only bounded by flushTimeout.
func (w *batchWriter[M, R]) flushDetached() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), flushTimeout)
	defer cancel()
	w.flush(ctx)
}

// add transforms msg and appends it to the batch. Reports whether the batch
// is full.
func (w *batchWriter[M, R]) add(msg M) bool {
	row, err := w.transform(msg)

	w.batchMu.Lock()
	defer w.batchMu.Unlock()

	if err != nil {
		w.metrics.Rejected++
		w.logger.Warn("rejected message", "error", err)
		return false
	}
	w.batch = append(w.batch, row)
	return len(w.batch) >= w.cfg.BatchSize
}

// flush writes the current batch. A failed batch is dropped and counted.
func (w *batchWriter[M, R]) flush(ctx context.Context) error {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return nil
	}
	batch := w.batch
	w.batch = make([]R, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.insert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return err
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed batch",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
	return nil
}

// insert sends rows as one pgx.Batch and counts rows skipped by conflicts.
func (w *batchWriter[M, R]) insert(ctx context.Context, rows []R) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		w.queue(batch, r)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}

// numeric converts a decimal string to NUMERIC. An empty string is NULL.
func numeric(s string) (pgtype.Numeric, error) {
	var n pgtype.Numeric
	if s == "" {
		return n, nil
	}
	if err := n.Scan(s); err != nil {
		return pgtype.Numeric{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return n, nil
}

// micros returns t in microseconds since epoch, or 0 for the zero time.
func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

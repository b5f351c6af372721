package clickhouse

import (
	"context"
	"sync"
	"time"

	"tradecore/pkg/logger"
)

// FlushFunc writes one batch of rows; typically a PrepareBatch/Send round trip
type FlushFunc[T any] func(ctx context.Context, batch []T) error

// BatchWriterConfig configures a BatchWriter
type BatchWriterConfig[T any] struct {
	FlushFunc    FlushFunc[T]
	TableName    string
	MaxBatchSize int           // Default: 500
	MaxAge       time.Duration // Default: 5s
	// MaxBuffered bounds rows kept after failed flushes; oldest are dropped first.
	// Default: 10 × MaxBatchSize
	MaxBuffered int
}

// BatchWriter buffers rows and writes them in batches, on size or on age.
// Rows from a failed flush are put back in front of the buffer and retried
// with the next flush.
type BatchWriter[T any] struct {
	flushFunc    FlushFunc[T]
	tableName    string
	maxBatchSize int
	maxAge       time.Duration
	maxBuffered  int
	log          *logger.Logger

	mu        sync.Mutex
	buffer    []T
	dropped   int64
	lastFlush time.Time
	running   bool
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

func NewBatchWriter[T any](cfg BatchWriterConfig[T]) *BatchWriter[T] {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = 500
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 5 * time.Second
	}
	if cfg.MaxBuffered < cfg.MaxBatchSize {
		cfg.MaxBuffered = 10 * cfg.MaxBatchSize
	}

	return &BatchWriter[T]{
		flushFunc:    cfg.FlushFunc,
		tableName:    cfg.TableName,
		maxBatchSize: cfg.MaxBatchSize,
		maxAge:       cfg.MaxAge,
		maxBuffered:  cfg.MaxBuffered,
		buffer:       make([]T, 0, cfg.MaxBatchSize),
		lastFlush:    time.Now(),
		log:          logger.Get().With("component", "batch_writer", "table", cfg.TableName),
	}
}

// Start runs the age-based flush loop until ctx is done or Stop is called
func (bw *BatchWriter[T]) Start(ctx context.Context) {
	bw.mu.Lock()
	if bw.running {
		bw.mu.Unlock()
		return
	}
	bw.running = true
	bw.stopCh = make(chan struct{})
	stopCh := bw.stopCh
	bw.mu.Unlock()

	bw.wg.Add(1)
	go bw.flushLoop(ctx, stopCh)

	bw.log.Infow("Batch writer started", "max_batch_size", bw.maxBatchSize, "max_age", bw.maxAge)
}

// Add buffers rows and flushes synchronously once a full batch is waiting
func (bw *BatchWriter[T]) Add(ctx context.Context, rows ...T) error {
	bw.mu.Lock()
	bw.buffer = append(bw.buffer, rows...)
	bw.trimLocked()
	full := len(bw.buffer) >= bw.maxBatchSize
	bw.mu.Unlock()

	if full {
		return bw.Flush(ctx)
	}
	return nil
}

// Flush writes everything buffered
func (bw *BatchWriter[T]) Flush(ctx context.Context) error {
	bw.mu.Lock()
	if len(bw.buffer) == 0 {
		bw.mu.Unlock()
		return nil
	}
	batch := bw.buffer
	bw.buffer = make([]T, 0, bw.maxBatchSize)
	bw.lastFlush = time.Now()
	bw.mu.Unlock()

	start := time.Now()
	if err := bw.flushFunc(ctx, batch); err != nil {
		bw.requeue(batch)
		bw.log.Errorw("Batch flush failed",
			"rows", len(batch),
			"duration", time.Since(start),
			"error", err,
		)
		return err
	}

	bw.log.Debugw("Batch flushed", "rows", len(batch), "duration", time.Since(start))
	return nil
}

func (bw *BatchWriter[T]) requeue(batch []T) {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	bw.buffer = append(batch, bw.buffer...)
	bw.trimLocked()
}

func (bw *BatchWriter[T]) trimLocked() {
	if over := len(bw.buffer) - bw.maxBuffered; over > 0 {
		bw.buffer = append(bw.buffer[:0:0], bw.buffer[over:]...)
		bw.dropped += int64(over)
		bw.log.Warnw("Batch buffer full, dropped oldest rows", "dropped", over)
	}
}

func (bw *BatchWriter[T]) flushLoop(ctx context.Context, stopCh <-chan struct{}) {
	defer bw.wg.Done()

	ticker := time.NewTicker(bw.maxAge)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			bw.finalFlush()
			return
		case <-stopCh:
			bw.finalFlush()
			return
		case <-ticker.C:
			if bw.BufferSize() > 0 {
				_ = bw.Flush(ctx)
			}
		}
	}
}

func (bw *BatchWriter[T]) finalFlush() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := bw.Flush(ctx); err != nil {
		bw.log.Errorw("Final flush failed", "rows", bw.BufferSize(), "error", err)
	}
}

// Stop ends the flush loop after a final flush, bounded by ctx
func (bw *BatchWriter[T]) Stop(ctx context.Context) error {
	bw.mu.Lock()
	if !bw.running {
		bw.mu.Unlock()
		return nil
	}
	bw.running = false
	close(bw.stopCh)
	bw.mu.Unlock()

	done := make(chan struct{})
	go func() {
		bw.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		bw.log.Info("Batch writer stopped")
		return nil
	case <-ctx.Done():
		bw.log.Warn("Batch writer stop timed out")
		return ctx.Err()
	}
}

func (bw *BatchWriter[T]) BufferSize() int {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return len(bw.buffer)
}

type BatchWriterStats struct {
	BufferSize   int
	Dropped      int64
	LastFlushAge time.Duration
	Running      bool
}

func (bw *BatchWriter[T]) Stats() BatchWriterStats {
	bw.mu.Lock()
	defer bw.mu.Unlock()
	return BatchWriterStats{
		BufferSize:   len(bw.buffer),
		Dropped:      bw.dropped,
		LastFlushAge: time.Since(bw.lastFlush),
		Running:      bw.running,
	}
}

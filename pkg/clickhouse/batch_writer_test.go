package clickhouse

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	batches [][]string
	err     error
}

func (r *recorder) flush(ctx context.Context, batch []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.batches = append(r.batches, append([]string(nil), batch...))
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, b := range r.batches {
		n += len(b)
	}
	return n
}

func TestBatchWriter_FlushOnMaxSize(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		TableName:    "test_table",
		MaxBatchSize: 3,
		MaxAge:       10 * time.Second,
	})
	ctx := context.Background()

	require.NoError(t, bw.Add(ctx, "a", "b"))
	assert.Equal(t, 0, rec.count())

	require.NoError(t, bw.Add(ctx, "c"))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, []string{"a", "b", "c"}, rec.batches[0])
	assert.Equal(t, 0, bw.BufferSize())
}

func TestBatchWriter_FlushOnTimer(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		MaxBatchSize: 100,
		MaxAge:       50 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	bw.Start(ctx)

	require.NoError(t, bw.Add(ctx, "a", "b"))
	assert.Eventually(t, func() bool { return rec.count() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, bw.Stop(context.Background()))
}

func TestBatchWriter_FailedFlushRequeues(t *testing.T) {
	rec := &recorder{err: errors.New("connection refused")}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		MaxBatchSize: 2,
		MaxBuffered:  3,
	})
	ctx := context.Background()

	assert.Error(t, bw.Add(ctx, "a", "b"))
	assert.Equal(t, 2, bw.BufferSize())

	// over the bound: oldest row goes
	assert.Error(t, bw.Add(ctx, "c", "d"))
	assert.Equal(t, 3, bw.BufferSize())
	assert.EqualValues(t, 1, bw.Stats().Dropped)

	rec.err = nil
	require.NoError(t, bw.Flush(ctx))
	require.Len(t, rec.batches, 1)
	assert.Equal(t, []string{"b", "c", "d"}, rec.batches[0])
}

func TestBatchWriter_StopFlushesRemainder(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		MaxBatchSize: 100,
		MaxAge:       time.Hour,
	})
	bw.Start(context.Background())

	require.NoError(t, bw.Add(context.Background(), "a"))
	require.NoError(t, bw.Stop(context.Background()))
	assert.Equal(t, 1, rec.count())
	assert.False(t, bw.Stats().Running)

	// second stop is a no-op
	assert.NoError(t, bw.Stop(context.Background()))
}

func TestBatchWriter_ConcurrentAdds(t *testing.T) {
	rec := &recorder{}
	bw := NewBatchWriter(BatchWriterConfig[string]{
		FlushFunc:    rec.flush,
		MaxBatchSize: 10,
	})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				_ = bw.Add(ctx, "row")
			}
		}()
	}
	wg.Wait()
	require.NoError(t, bw.Flush(ctx))

	assert.Equal(t, 100, rec.count())
}

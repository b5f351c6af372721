package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func TestTTL_ExpiresEntries(t *testing.T) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewTTL[string, int](time.Minute).WithClock(clock.Now)

	c.Set("a", 1)
	v, ok := c.Get("a")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	_, ok = c.Get("a")
	assert.False(t, ok)

	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(1), s.Misses)
	assert.Equal(t, int64(1), s.Evictions)
	assert.Zero(t, s.Size)
}

func TestTTL_SetIfAbsent(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewTTL[string, struct{}](time.Second).WithClock(clock.Now)

	assert.True(t, c.SetIfAbsent("req-1", struct{}{}))
	assert.False(t, c.SetIfAbsent("req-1", struct{}{}))

	clock.Advance(2 * time.Second)
	assert.True(t, c.SetIfAbsent("req-1", struct{}{}))
}

func TestTTL_SweepAndClear(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	c := NewTTL[int, string](time.Second).WithClock(clock.Now)

	c.Set(1, "a")
	clock.Advance(500 * time.Millisecond)
	c.Set(2, "b")
	clock.Advance(600 * time.Millisecond)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())

	c.Clear()
	assert.Zero(t, c.Len())

	c.Set(3, "c")
	c.Delete(3)
	_, ok := c.Get(3)
	assert.False(t, ok)
}

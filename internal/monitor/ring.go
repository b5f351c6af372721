package monitor

import "tradecore/internal/domain/position"

// ring is a fixed-capacity event buffer that overwrites the oldest entry
type ring struct {
	buf   []position.MonitorEvent
	start int
	size  int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]position.MonitorEvent, capacity)}
}

func (r *ring) push(ev position.MonitorEvent) {
	if len(r.buf) == 0 {
		return
	}
	idx := (r.start + r.size) % len(r.buf)
	r.buf[idx] = ev
	if r.size < len(r.buf) {
		r.size++
		return
	}
	r.start = (r.start + 1) % len(r.buf)
}

// last returns up to n newest events, oldest first
func (r *ring) last(n int) []position.MonitorEvent {
	if n <= 0 || n > r.size {
		n = r.size
	}
	out := make([]position.MonitorEvent, n)
	skip := r.size - n
	for i := 0; i < n; i++ {
		out[i] = r.buf[(r.start+skip+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	return r.size
}

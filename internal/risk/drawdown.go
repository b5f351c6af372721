package risk

import "sync"

// DrawdownTracker follows peak portfolio value and the decline from it
type DrawdownTracker struct {
	mu      sync.Mutex
	peak    float64
	current float64
}

// Update records a new portfolio value and returns the drawdown as a fraction of peak
func (t *DrawdownTracker) Update(value float64) float64 {
	dd, _ := t.Observe(value)
	return dd
}

// Observe is Update that also reports whether value set a new peak
func (t *DrawdownTracker) Observe(value float64) (float64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if value <= 0 {
		return t.drawdownLocked(), false
	}
	t.current = value
	raised := value > t.peak
	if raised {
		t.peak = value
	}
	return t.drawdownLocked(), raised
}

// Restore seeds the peak from storage. A lower value than the current peak is ignored.
func (t *DrawdownTracker) Restore(peak float64) {
	t.mu.Lock()
	if peak > t.peak {
		t.peak = peak
	}
	t.mu.Unlock()
}

// Drawdown returns the last computed drawdown
func (t *DrawdownTracker) Drawdown() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.drawdownLocked()
}

// Peak returns the highest value seen
func (t *DrawdownTracker) Peak() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.peak
}

// Rebase makes the current value the new peak and returns it
func (t *DrawdownTracker) Rebase() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peak = t.current
	return t.peak
}

func (t *DrawdownTracker) drawdownLocked() float64 {
	if t.peak <= 0 || t.current <= 0 {
		return 0
	}
	return (t.peak - t.current) / t.peak
}

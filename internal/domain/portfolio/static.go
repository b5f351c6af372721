package portfolio

import (
	"context"
	"sync"

	"tradecore/internal/domain/trading"
)

// StaticStore is an in-process SnapshotStore used when no shared store is
// configured. Capital and positions are set by the embedding process.
type StaticStore struct {
	mu        sync.RWMutex
	capital   float64
	positions []trading.PositionSnapshot
}

func NewStaticStore(capital float64) *StaticStore {
	return &StaticStore{capital: capital}
}

func (s *StaticStore) SetCapital(capital float64) {
	s.mu.Lock()
	s.capital = capital
	s.mu.Unlock()
}

func (s *StaticStore) SetPositions(positions []trading.PositionSnapshot) {
	cp := make([]trading.PositionSnapshot, len(positions))
	copy(cp, positions)

	s.mu.Lock()
	s.positions = cp
	s.mu.Unlock()
}

func (s *StaticStore) GetCapital(ctx context.Context) (float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.capital, nil
}

// GetPositions returns a copy; callers may modify it freely
func (s *StaticStore) GetPositions(ctx context.Context) ([]trading.PositionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cp := make([]trading.PositionSnapshot, len(s.positions))
	copy(cp, s.positions)
	return cp, nil
}

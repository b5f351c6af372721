package portfolio

import (
	"context"

	"tradecore/internal/domain/trading"
)

// SnapshotStore is the shared capital/positions view. The core only reads it.
type SnapshotStore interface {
	GetCapital(ctx context.Context) (float64, error)
	GetPositions(ctx context.Context) ([]trading.PositionSnapshot, error)
}

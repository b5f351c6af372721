package noop

import (
	"context"

	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

var _ errors.Tracker = (*Tracker)(nil)

// Tracker stands in when Sentry is disabled. Captured events are written at
// debug level so they stay visible during local runs.
type Tracker struct {
	log *logger.Logger
}

func New(log *logger.Logger) *Tracker {
	if log == nil {
		log = logger.Nop()
	}
	return &Tracker{log: log.With("component", "error_tracker")}
}

func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	t.log.Debugw("Dropped tracked error", "error", err, "tags", tags)
	return nil
}

func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	t.log.Debugw("Dropped tracked message", "message", message, "level", level.String(), "tags", tags)
	return nil
}

func (t *Tracker) Flush(ctx context.Context) error {
	return nil
}

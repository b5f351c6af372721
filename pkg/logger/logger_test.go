package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tradecore/pkg/errors"
)

type captured struct {
	err     error
	message string
	level   errors.Level
	tags    map[string]string
}

type recordingTracker struct {
	events []captured
}

func (r *recordingTracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	r.events = append(r.events, captured{err: err, tags: tags})
	return nil
}

func (r *recordingTracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	r.events = append(r.events, captured{message: message, level: level, tags: tags})
	return nil
}

func (r *recordingTracker) Flush(ctx context.Context) error { return nil }

func newTracked(t *recordingTracker) *Logger {
	return &Logger{SugaredLogger: zap.NewNop().Sugar(), tracker: t}
}

func TestErrorw_TracksWrappedErrorWithComponentTags(t *testing.T) {
	rec := &recordingTracker{}
	log := newTracked(rec).With("component", "risk_manager", "attempt", 3)

	cause := errors.ErrUnavailable
	log.Errorw("Exposure fetch failed", "error", cause)

	require.Len(t, rec.events, 1)
	assert.ErrorIs(t, rec.events[0].err, errors.ErrUnavailable)
	assert.Contains(t, rec.events[0].err.Error(), "Exposure fetch failed")
	assert.Equal(t, map[string]string{"component": "risk_manager"}, rec.events[0].tags)
}

func TestNotice_SendsMessageAtLevel(t *testing.T) {
	rec := &recordingTracker{}
	log := newTracked(rec).With("component", "kill_switch")

	log.Notice(errors.LevelWarning, "Kill switch restored as active", "reason", "drawdown")

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Nil(t, ev.err)
	assert.Equal(t, "Kill switch restored as active", ev.message)
	assert.Equal(t, errors.LevelWarning, ev.level)
	assert.Equal(t, "kill_switch", ev.tags["component"])
	assert.Equal(t, "drawdown", ev.tags["reason"])
}

func TestNotice_WithoutTrackerOnlyLogs(t *testing.T) {
	assert.NotPanics(t, func() {
		Nop().Notice(errors.LevelInfo, "Kill switch reset")
	})
}

func TestWith_DoesNotMutateParentTags(t *testing.T) {
	rec := &recordingTracker{}
	parent := newTracked(rec).With("component", "orchestrator")
	_ = parent.With("signal_id", "sig-1")

	parent.Error("boom")

	require.Len(t, rec.events, 1)
	assert.Equal(t, map[string]string{"component": "orchestrator"}, rec.events[0].tags)
}

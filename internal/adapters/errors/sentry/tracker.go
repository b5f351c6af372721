package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"tradecore/pkg/errors"
)

const flushTimeout = 2 * time.Second

// tradingKeys are lifted out of the flat tag set into a "trading" context
// block so events for one symbol or signal group together in Sentry.
var tradingKeys = map[string]bool{
	"symbol":      true,
	"signal_id":   true,
	"request_id":  true,
	"position_id": true,
}

type Tracker struct {
	hub *sentry.Hub
}

func New(dsn, environment, release string) (*Tracker, error) {
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		Release:          "tradecore@" + release,
		AttachStacktrace: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init sentry")
	}

	return &Tracker{hub: sentry.CurrentHub()}, nil
}

func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	t.scoped(tags, sentry.LevelError).CaptureException(err)
	return nil
}

func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	t.scoped(tags, convertLevel(level)).CaptureMessage(message)
	return nil
}

// Flush waits for queued events, bounded by both flushTimeout and ctx
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := flushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if !sentry.Flush(timeout) {
		return errors.Wrap(errors.ErrTimeout, "sentry flush")
	}
	return nil
}

func (t *Tracker) scoped(tags map[string]string, level sentry.Level) *sentry.Hub {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetLevel(level)
		trading := sentry.Context{}
		for k, v := range tags {
			if tradingKeys[k] {
				trading[k] = v
				continue
			}
			scope.SetTag(k, v)
		}
		if len(trading) > 0 {
			scope.SetContext("trading", trading)
		}
	})
	return hub
}

func convertLevel(level errors.Level) sentry.Level {
	switch level {
	case errors.LevelDebug:
		return sentry.LevelDebug
	case errors.LevelWarning:
		return sentry.LevelWarning
	case errors.LevelError:
		return sentry.LevelError
	case errors.LevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}

package risk

import (
	"context"
	"sync"
	"time"

	"tradecore/pkg/errors"
	"tradecore/pkg/logger"
)

// KillSwitch is the portfolio-wide trading halt. Once active it stays active
// until Reset is called explicitly.
type KillSwitch struct {
	store KillSwitchStore
	log   *logger.Logger

	mu    sync.RWMutex
	state KillSwitchState
}

func NewKillSwitch(store KillSwitchStore, log *logger.Logger) *KillSwitch {
	return &KillSwitch{store: store, log: log}
}

// Restore loads persisted state. A store failure is returned so startup can fail loudly.
func (k *KillSwitch) Restore(ctx context.Context) error {
	if k.store == nil {
		return nil
	}
	st, err := k.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "load kill switch state")
	}
	if st == nil || !st.Active {
		return nil
	}

	k.mu.Lock()
	k.state = *st
	k.mu.Unlock()

	k.log.Notice(errors.LevelWarning, "Kill switch restored as active",
		"reason", st.Reason,
		"activated_at", st.ActivatedAt,
	)
	return nil
}

// Activate turns the switch on. It returns true only for the call that
// performed the transition; later calls are no-ops.
func (k *KillSwitch) Activate(ctx context.Context, reason string, drawdown float64, now time.Time) bool {
	k.mu.Lock()
	if k.state.Active {
		k.mu.Unlock()
		return false
	}
	k.state = KillSwitchState{
		Active:      true,
		Reason:      reason,
		Drawdown:    drawdown,
		ActivatedAt: now,
	}
	st := k.state
	k.mu.Unlock()

	k.log.Errorw("Kill switch activated", "reason", reason, "drawdown", drawdown)

	if k.store != nil {
		if err := k.store.Save(ctx, &st); err != nil {
			// in-memory state stays active regardless
			k.log.Errorw("Failed to persist kill switch state", "error", err)
		}
	}
	return true
}

// IsActive reports whether trading is halted
func (k *KillSwitch) IsActive() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state.Active
}

// Check returns ErrKillSwitchActive while trading is halted
func (k *KillSwitch) Check() error {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if !k.state.Active {
		return nil
	}
	return errors.Wrapf(errors.ErrKillSwitchActive, "since %s: %s",
		k.state.ActivatedAt.Format(time.RFC3339), k.state.Reason)
}

// State returns a copy of the current state
func (k *KillSwitch) State() KillSwitchState {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.state
}

// Reset deactivates the switch and clears persisted state
func (k *KillSwitch) Reset(ctx context.Context) error {
	if k.store != nil {
		if err := k.store.Clear(ctx); err != nil {
			return errors.Wrap(err, "clear kill switch state")
		}
	}

	k.mu.Lock()
	was := k.state
	k.state = KillSwitchState{}
	k.mu.Unlock()

	if was.Active {
		k.log.Notice(errors.LevelInfo, "Kill switch reset", "was_active_since", was.ActivatedAt, "reason", was.Reason)
	}
	return nil
}

package streaming

import (
	"context"
	"time"

	"github.com/igoryan-dao/turnbridge/internal/convkey"
	"github.com/igoryan-dao/turnbridge/internal/metrics"
)

// graceTimeout bounds how long Abort waits for turn:completed before
// forcing the interrupted transition itself, as a safety valve against a
// subprocess that never acknowledges turnInterrupt.
const graceTimeout = 5 * time.Second

// Abort implements the Abort-button handler (spec §4.3 "Abort semantics").
func (m *Manager) Abort(ctx context.Context, key convkey.Key) error {
	m.aborts.MarkAborted(key)

	e, ok := m.lookup(key)
	if !ok {
		return nil
	}
	e.mu.Lock()
	threadID := e.state.Ctx.ThreadID
	turnID := e.state.Ctx.TurnID
	e.state.PendingAbort = true
	e.mu.Unlock()

	if turnID != "" {
		if err := m.subprocess.TurnInterrupt(ctx, threadID, turnID); err != nil {
			m.log.WithError(err).Warn("streaming: turnInterrupt failed")
		}
	}

	go func() {
		timer := time.NewTimer(graceTimeout)
		defer timer.Stop()
		<-timer.C
		if _, stillRunning := m.lookup(key); stillRunning {
			if err := m.forceInterrupted(context.Background(), key); err != nil {
				m.log.WithError(err).Warn("streaming: grace-timeout forced interrupt failed")
			}
		}
	}()
	return nil
}

// forceInterrupted is the grace-timer fallback when turn:completed never
// arrives after an abort.
func (m *Manager) forceInterrupted(ctx context.Context, key convkey.Key) error {
	e, ok := m.lookup(key)
	if !ok {
		return nil
	}
	e.mu.Lock()
	if e.state.Status != StatusRunning {
		e.mu.Unlock()
		return nil
	}
	e.state.Status = StatusInterrupted
	e.mu.Unlock()
	metrics.TurnsTotal.WithLabelValues(string(StatusInterrupted)).Inc()
	return m.finishTurn(ctx, key, e)
}

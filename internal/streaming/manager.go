package streaming

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/abortreg"
	"github.com/igoryan-dao/turnbridge/internal/activity"
	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/convkey"
	"github.com/igoryan-dao/turnbridge/internal/metrics"
	"github.com/igoryan-dao/turnbridge/internal/reaction"
	"github.com/igoryan-dao/turnbridge/internal/subprocess"
)

// entry pairs a State with the mutex that serialises every access to it —
// the "per-key asynchronous mutex" of spec §5, realised as a plain
// sync.Mutex since Go event handlers already run synchronously.
type entry struct {
	mu    sync.Mutex
	state *State
}

// Manager is StreamingManager (spec §4.3).
type Manager struct {
	log *logrus.Entry

	subprocess *subprocess.Client
	activity   *activity.Manager
	reactions  *reaction.Manager
	aborts     *abortreg.Registry
	chat       chatclient.Client

	indexMu    sync.Mutex
	byKey      map[convkey.Key]*entry
	byThreadID map[string]convkey.Key
	byTurnID   map[string]convkey.Key
}

// New constructs a Manager wired to its collaborators.
func New(sp *subprocess.Client, act *activity.Manager, react *reaction.Manager, aborts *abortreg.Registry, chat chatclient.Client, log *logrus.Entry) *Manager {
	return &Manager{
		log:        log,
		subprocess: sp,
		activity:   act,
		reactions:  react,
		aborts:     aborts,
		chat:       chat,
		byKey:      make(map[convkey.Key]*entry),
		byThreadID: make(map[string]convkey.Key),
		byTurnID:   make(map[string]convkey.Key),
	}
}

func (m *Manager) lookup(key convkey.Key) (*entry, bool) {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	e, ok := m.byKey[key]
	return e, ok
}

// StartStreaming begins a turn for ctx.ConversationKey (spec §4.3). If
// prior state exists on the same key, its timer is stopped and the
// processing reaction on the OLD originating message is removed BEFORE
// the new state overwrites it, so the reaction is never leaked.
func (m *Manager) StartStreaming(ctx context.Context, sctx Context) {
	if sctx.UpdateRateMs <= 0 {
		sctx.UpdateRateMs = 500
	}
	if sctx.ThreadCharLimit <= 0 {
		sctx.ThreadCharLimit = 500
	}

	m.indexMu.Lock()
	old, hadOld := m.byKey[sctx.ConversationKey]
	e := &entry{state: newState(sctx)}
	m.byKey[sctx.ConversationKey] = e
	if sctx.ThreadID != "" {
		m.byThreadID[sctx.ThreadID] = sctx.ConversationKey
	}
	if sctx.TurnID != "" {
		m.byTurnID[sctx.TurnID] = sctx.ConversationKey
	}
	m.indexMu.Unlock()

	if hadOld {
		old.mu.Lock()
		m.stopTimerLocked(old.state)
		oldMsg := old.state.Ctx.OriginalMessage
		old.mu.Unlock()
		if oldMsg != (chatclient.Posted{}) {
			if err := m.reactions.Clear(ctx, oldMsg); err != nil {
				m.log.WithError(err).Warn("streaming: failed clearing stale processing reaction")
			}
		}
	}

	if !hadOld {
		metrics.ActiveConversations.Inc()
	}
	metrics.TurnsTotal.WithLabelValues("started").Inc()

	m.activity.ClearEntries(sctx.ConversationKey)
	m.aborts.Clear(sctx.ConversationKey)

	if sctx.OriginalMessage != (chatclient.Posted{}) {
		if err := m.reactions.StartProcessing(ctx, sctx.OriginalMessage); err != nil {
			m.log.WithError(err).Warn("streaming: failed to mark processing reaction")
		}
	}

	m.startTicker(sctx.ConversationKey, e)

	if err := m.renderAndFlush(ctx, e, false); err != nil {
		m.log.WithError(err).Warn("streaming: initial activity panel render failed")
	}
}

// RegisterTurnID is idempotent first-writer-wins (spec §4.3).
func (m *Manager) RegisterTurnID(key convkey.Key, turnID string) {
	if turnID == "" {
		return
	}
	e, ok := m.lookup(key)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Ctx.TurnID != "" {
		return
	}
	e.state.Ctx.TurnID = turnID

	m.indexMu.Lock()
	if _, taken := m.byTurnID[turnID]; !taken {
		m.byTurnID[turnID] = key
	}
	m.indexMu.Unlock()
}

// FindContextByThreadID resolves a ConversationKey from a subprocess
// thread id.
func (m *Manager) FindContextByThreadID(threadID string) (convkey.Key, bool) {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	k, ok := m.byThreadID[threadID]
	return k, ok
}

// FindContextByTurnID resolves a ConversationKey from a subprocess turn id.
func (m *Manager) FindContextByTurnID(turnID string) (convkey.Key, bool) {
	m.indexMu.Lock()
	defer m.indexMu.Unlock()
	k, ok := m.byTurnID[turnID]
	return k, ok
}

// StopStreaming clears timers and removes state for key. Safe to call
// multiple times (spec §8 idempotence property).
func (m *Manager) StopStreaming(key convkey.Key) {
	m.indexMu.Lock()
	e, ok := m.byKey[key]
	if ok {
		delete(m.byKey, key)
		if e.state.Ctx.ThreadID != "" {
			delete(m.byThreadID, e.state.Ctx.ThreadID)
		}
		if e.state.Ctx.TurnID != "" {
			delete(m.byTurnID, e.state.Ctx.TurnID)
		}
	}
	m.indexMu.Unlock()
	if !ok {
		return
	}
	metrics.ActiveConversations.Dec()
	e.mu.Lock()
	m.stopTimerLocked(e.state)
	e.mu.Unlock()
}

// FailTurnStart replaces the activity message — not the user's original
// message, which only ever carries a reaction (state.go's ActivityMessageTs
// vs OriginalMessage) — with an error block (no Abort button), removes all
// timers, and deletes state — used when the subprocess refuses a new turn
// (spec §4.3, spec.md:330 "replace the activity panel with a single error
// message"). Must surface even when StartStreaming never ran for this key
// (the ensureThread-failure path, spec.md:330) — there is no existing
// activity message to edit in that case, so one is posted fresh into the
// channel/thread recovered from the key itself.
func (m *Manager) FailTurnStart(ctx context.Context, key convkey.Key, reason string) error {
	msg := chatclient.Message{Text: "❌ Failed to start turn: " + reason}

	e, ok := m.lookup(key)
	if !ok {
		channelID, threadTs := convkey.Split(key)
		if _, err := m.chat.PostMessage(ctx, channelID, threadTs, msg); err != nil {
			return fmt.Errorf("streaming: failTurnStart post: %w", err)
		}
		metrics.TurnsTotal.WithLabelValues(string(StatusFailed)).Inc()
		return nil
	}

	e.mu.Lock()
	e.state.Status = StatusFailed
	sctx := e.state.Ctx
	existingTs := e.state.ActivityMessageTs
	m.stopTimerLocked(e.state)
	e.mu.Unlock()
	metrics.TurnsTotal.WithLabelValues(string(StatusFailed)).Inc()

	var err error
	if existingTs == "" {
		_, err = m.chat.PostMessage(ctx, sctx.ChannelID, sctx.ThreadTs, msg)
	} else {
		posted := chatclient.Posted{ChannelID: sctx.ChannelID, ThreadTs: sctx.ThreadTs, MessageTs: existingTs}
		err = m.chat.EditMessage(ctx, posted, msg)
	}
	if sctx.OriginalMessage != (chatclient.Posted{}) {
		if rerr := m.reactions.Error(ctx, sctx.OriginalMessage); rerr != nil {
			m.log.WithError(rerr).Warn("streaming: failed setting error reaction on failed turn start")
		}
	}
	m.StopStreaming(key)
	if err != nil {
		return fmt.Errorf("streaming: failTurnStart post/edit: %w", err)
	}
	return nil
}

// StopAllStreaming tears down every conversation, used during shutdown.
func (m *Manager) StopAllStreaming() {
	m.indexMu.Lock()
	keys := make([]convkey.Key, 0, len(m.byKey))
	for k := range m.byKey {
		keys = append(keys, k)
	}
	m.indexMu.Unlock()
	for _, k := range keys {
		m.StopStreaming(k)
	}
}

func (m *Manager) stopTimerLocked(s *State) {
	if s.stopTicker != nil {
		close(s.stopTicker)
		s.stopTicker = nil
	}
}

func (m *Manager) startTicker(key convkey.Key, e *entry) {
	e.mu.Lock()
	stop := make(chan struct{})
	e.state.stopTicker = stop
	interval := time.Duration(e.state.Ctx.UpdateRateMs) * time.Millisecond
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if err := m.Tick(context.Background(), key, false); err != nil {
					m.log.WithError(err).Warn("streaming: periodic tick failed")
				}
			}
		}
	}()
}

// Tick re-renders the activity panel and flushes the activity batch (spec
// §4.3 "update cadence"). Exposed directly so tests can drive a tick
// without waiting on the real timer.
func (m *Manager) Tick(ctx context.Context, key convkey.Key, force bool) error {
	e, ok := m.lookup(key)
	if !ok {
		return nil
	}
	metrics.StreamingTicksTotal.Inc()
	return m.renderAndFlush(ctx, e, force)
}

// Package reaction implements EmojiReactionManager (spec §4.7): a
// per-message reaction state machine with three terminal transitions from
// "processing". All operations are idempotent and tolerate the platform
// reporting a reaction as already present/absent.
package reaction

import (
	"context"
	"sync"

	"github.com/igoryan-dao/turnbridge/internal/chatclient"
)

// Default emoji for each state; callers that need platform-specific glyphs
// can override via WithEmoji. Cleared has no glyph: completion just
// removes the processing reaction (spec §4.7).
const (
	DefaultProcessing = "hourglass_flowing_sand"
	DefaultAborted    = "stop_sign"
	DefaultError      = "x"
)

// Manager drives reaction transitions on a chatclient.Client.
type Manager struct {
	client chatclient.Client

	processing string
	aborted    string
	errored    string

	mu    sync.Mutex
	state map[chatclient.Posted]string // current applied emoji, "" if none
}

// New constructs a Manager with the default emoji set.
func New(client chatclient.Client) *Manager {
	return &Manager{
		client:     client,
		processing: DefaultProcessing,
		aborted:    DefaultAborted,
		errored:    DefaultError,
		state:      make(map[chatclient.Posted]string),
	}
}

// WithEmoji overrides the emoji used for processing/aborted/error.
func (m *Manager) WithEmoji(processing, aborted, errored string) *Manager {
	m.processing = processing
	m.aborted = aborted
	m.errored = errored
	return m
}

// StartProcessing adds the "processing" reaction to the user's originating
// message. Idempotent: calling it twice for the same message is a no-op on
// the second call.
func (m *Manager) StartProcessing(ctx context.Context, msg chatclient.Posted) error {
	return m.transition(ctx, msg, m.processing)
}

// Clear removes the processing reaction on successful completion; no new
// reaction is added.
func (m *Manager) Clear(ctx context.Context, msg chatclient.Posted) error {
	return m.transition(ctx, msg, "")
}

// Abort swaps processing for the aborted marker.
func (m *Manager) Abort(ctx context.Context, msg chatclient.Posted) error {
	return m.transition(ctx, msg, m.aborted)
}

// Error swaps processing for the error marker.
func (m *Manager) Error(ctx context.Context, msg chatclient.Posted) error {
	return m.transition(ctx, msg, m.errored)
}

func (m *Manager) transition(ctx context.Context, msg chatclient.Posted, next string) error {
	m.mu.Lock()
	current := m.state[msg]
	if current == next {
		m.mu.Unlock()
		return nil
	}
	m.state[msg] = next
	m.mu.Unlock()

	if current != "" {
		if err := m.client.RemoveReaction(ctx, msg, current); err != nil {
			return err
		}
	}
	if next == "" {
		return nil
	}
	return m.client.AddReaction(ctx, msg, next)
}

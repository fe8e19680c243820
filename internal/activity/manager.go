package activity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/convkey"
	"github.com/igoryan-dao/turnbridge/internal/metrics"
)

// MarkdownRenderer is an optional collaborator that turns long-form
// markdown into a PNG, for entries whose rendered text exceeds the
// thread's character limit (spec §4.4 "optionally rendered to PNG"). A
// nil renderer, or one that errors, degrades to a text-only .md
// attachment rather than failing the flush.
type MarkdownRenderer interface {
	RenderPNG(markdown string) ([]byte, error)
}

// ActionsBuilder optionally attaches interactive components (e.g. an
// Abort button) to a just-posted entry. When it returns a non-empty
// slice, Manager issues a follow-up edit with those components attached
// (spec §4.4).
type ActionsBuilder func(entry Entry, posted chatclient.Posted) []chatclient.Component

// Manager is ActivityThreadManager (spec §4.4): owns one Batch per
// conversation and turns newly added entries into chat messages,
// updating in place where the spec calls for it.
type Manager struct {
	client chatclient.Client
	log    *logrus.Entry

	minGap          time.Duration
	threadCharLimit int
	renderer        MarkdownRenderer
	buildActions    ActionsBuilder

	mu      sync.Mutex
	batches map[convkey.Key]*Batch
}

// New constructs a Manager with the spec's defaults (2s minGap, 2000-char
// thread limit). The thread limit is fixed per Manager; FlushOpts carries
// no per-call override.
func New(client chatclient.Client, log *logrus.Entry) *Manager {
	return &Manager{
		client:          client,
		log:             log,
		minGap:          DefaultMinGap,
		threadCharLimit: 2000,
		batches:         make(map[convkey.Key]*Batch),
	}
}

// WithMarkdownRenderer installs an optional PNG renderer for long entries.
func (m *Manager) WithMarkdownRenderer(r MarkdownRenderer) *Manager {
	m.renderer = r
	return m
}

// WithActionsBuilder installs an optional interactive-components builder.
func (m *Manager) WithActionsBuilder(b ActionsBuilder) *Manager {
	m.buildActions = b
	return m
}

func (m *Manager) batchFor(key convkey.Key) *Batch {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.batches[key]
	if !ok {
		b = newBatch(m.minGap)
		m.batches[key] = b
	}
	return b
}

// AddEntry appends a new ActivityEntry to the conversation's batch.
func (m *Manager) AddEntry(key convkey.Key, e Entry) {
	b := m.batchFor(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	e.Timestamp = timestampOrNow(e.Timestamp)
	b.entries = append(b.entries, &e)
}

func timestampOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now()
	}
	return t
}

// AppendThinkingContent replaces, in place, the text of the most recent
// thinking entry for segmentID with content, which callers pass as the
// text accumulated so far (spec §8 scenario a). If no such entry exists
// yet, one is created.
func (m *Manager) AppendThinkingContent(key convkey.Key, segmentID, content string) {
	b := m.batchFor(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := findThinking(b, segmentID); e != nil {
		e.Text = content
		e.CharCount = len(content)
		e.dirty = true
		return
	}
	b.entries = append(b.entries, &Entry{
		Kind:               KindThinking,
		Timestamp:          time.Now(),
		ThinkingSegmentID:  segmentID,
		Text:               content,
		CharCount:          len(content),
		ThinkingInProgress: true,
	})
}

// CompleteThinking marks the thinking entry for segmentID finished,
// mutating it in place so the existing chat message gets a final edit
// instead of a new post.
func (m *Manager) CompleteThinking(key convkey.Key, segmentID string, durationMs int64) {
	b := m.batchFor(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	e := findThinking(b, segmentID)
	if e == nil {
		e = &Entry{Kind: KindThinking, Timestamp: time.Now(), ThinkingSegmentID: segmentID}
		b.entries = append(b.entries, e)
	}
	e.ThinkingInProgress = false
	e.DurationMs = durationMs
	e.dirty = true
}

func findThinking(b *Batch, segmentID string) *Entry {
	for i := len(b.entries) - 1; i >= 0; i-- {
		if b.entries[i].Kind == KindThinking && b.entries[i].ThinkingSegmentID == segmentID {
			return b.entries[i]
		}
	}
	return nil
}

// GetEntries returns a snapshot of the conversation's entries in order.
func (m *Manager) GetEntries(key convkey.Key) []Entry {
	return m.batchFor(key).Entries()
}

// ClearEntries discards a conversation's activity batch entirely.
func (m *Manager) ClearEntries(key convkey.Key) {
	m.batchFor(key).Clear()
}

// FlushOpts controls one Flush call.
type FlushOpts struct {
	ChannelID string
	ThreadTs  string
	// Force bypasses the minGap rate limit, used on turn completion/abort
	// so the final state is always posted immediately (spec §4.4).
	Force bool
}

// Flush posts or edits chat messages for every entry added since the
// last flush, respecting minGap unless Force is set.
func (m *Manager) Flush(ctx context.Context, key convkey.Key, opts FlushOpts) error {
	b := m.batchFor(key)

	m.mu.Lock()
	if !opts.Force && !b.limiter.Allow() {
		m.mu.Unlock()
		return nil
	}
	pending := make([]*Entry, len(b.entries)-b.postedCount)
	copy(pending, b.entries[b.postedCount:])
	startIdx := b.postedCount
	dirtyPosted := dirtyAlreadyPosted(b)
	m.mu.Unlock()

	for _, e := range dirtyPosted {
		if err := m.reEdit(ctx, b, e); err != nil {
			return err
		}
		metrics.ActivityEditsTotal.WithLabelValues(string(e.Kind)).Inc()
	}

	for i, e := range pending {
		if err := m.postOrEdit(ctx, opts, b, e); err != nil {
			return err
		}
		_ = i
	}

	m.mu.Lock()
	b.postedCount = startIdx + len(pending)
	b.lastPostTime = time.Now()
	m.mu.Unlock()
	return nil
}

func dirtyAlreadyPosted(b *Batch) []*Entry {
	var out []*Entry
	for i := 0; i < b.postedCount; i++ {
		if b.entries[i].dirty {
			out = append(out, b.entries[i])
		}
	}
	return out
}

func (m *Manager) reEdit(ctx context.Context, b *Batch, e *Entry) error {
	var posted chatclient.Posted
	var ok bool
	switch e.Kind {
	case KindThinking:
		posted, ok = b.thinkingIDToPosted[e.ThinkingSegmentID]
	default:
		posted, ok = b.toolIDToPosted[e.ToolUseID]
	}
	if !ok {
		return nil
	}
	return m.editTracked(ctx, b, e, posted)
}

// postOrEdit implements the per-entry decision from spec §4.4: a
// tool_complete/thinking entry whose id was already posted edits that
// message; a tool_start that's immediately followed (within this same
// flush pass) by its tool_complete is skipped entirely so only one
// message — the completed one — is ever posted (the race invariant).
func (m *Manager) postOrEdit(ctx context.Context, opts FlushOpts, b *Batch, e *Entry) error {
	switch e.Kind {
	case KindToolComplete:
		if posted, ok := b.toolIDToPosted[e.ToolUseID]; ok {
			if err := m.editTracked(ctx, b, e, posted); err != nil {
				return err
			}
			metrics.ActivityEditsTotal.WithLabelValues(string(e.Kind)).Inc()
			return nil
		}
	case KindThinking:
		if posted, ok := b.thinkingIDToPosted[e.ThinkingSegmentID]; ok {
			if err := m.editTracked(ctx, b, e, posted); err != nil {
				return err
			}
			metrics.ActivityEditsTotal.WithLabelValues(string(e.Kind)).Inc()
			return nil
		}
	case KindToolStart:
		if hasLaterComplete(b, e.ToolUseID) {
			metrics.ActivityDedupedTotal.Inc()
			return nil
		}
	}

	msg := m.renderMessage(e)
	posted, err := m.client.PostMessage(ctx, opts.ChannelID, opts.ThreadTs, msg)
	if err != nil {
		return fmt.Errorf("activity: post %s: %w", e.Kind, err)
	}
	metrics.ActivityPostsTotal.WithLabelValues(string(e.Kind)).Inc()
	switch e.Kind {
	case KindToolStart, KindToolComplete:
		if e.ToolUseID != "" {
			b.toolIDToPosted[e.ToolUseID] = posted
		}
	case KindThinking:
		if e.ThinkingSegmentID != "" {
			b.thinkingIDToPosted[e.ThinkingSegmentID] = posted
		}
	}
	e.dirty = false
	if m.buildActions != nil {
		if comps := m.buildActions(*e, posted); len(comps) > 0 {
			msg.Components = comps
			if err := m.client.EditMessage(ctx, posted, msg); err != nil {
				return fmt.Errorf("activity: edit actions %s: %w", e.Kind, err)
			}
		}
	}
	return nil
}

func (m *Manager) editTracked(ctx context.Context, b *Batch, e *Entry, posted chatclient.Posted) error {
	msg := m.renderMessage(e)
	if err := m.client.EditMessage(ctx, posted, msg); err != nil {
		return fmt.Errorf("activity: edit %s: %w", e.Kind, err)
	}
	e.dirty = false
	return nil
}

func hasLaterComplete(b *Batch, toolUseID string) bool {
	if toolUseID == "" {
		return false
	}
	found := false
	for _, e := range b.entries {
		if e.Kind == KindToolComplete && e.ToolUseID == toolUseID {
			found = true
		}
	}
	return found
}

// renderMessage turns an entry into a chatclient.Message, splitting off a
// markdown (and, if a renderer is installed, PNG) attachment when the
// short rendering exceeds the thread's character limit.
func (m *Manager) renderMessage(e *Entry) chatclient.Message {
	text := renderText(e)
	if !isLong(text, m.threadCharLimit) {
		return chatclient.Message{Text: text}
	}

	short := text[:m.threadCharLimit]
	msg := chatclient.Message{
		Text: short + "\n…(continued, see attachment)",
		Attachments: []chatclient.Attachment{{
			Filename:    "activity.md",
			Data:        []byte(text),
			ContentType: "text/markdown",
		}},
	}
	if m.renderer != nil {
		if png, err := m.renderer.RenderPNG(text); err == nil {
			msg.Attachments = append(msg.Attachments, chatclient.Attachment{
				Filename:    "activity.png",
				Data:        png,
				ContentType: "image/png",
			})
		} else {
			m.log.WithError(err).Debug("activity: markdown render failed, text attachment only")
		}
	}
	return msg
}

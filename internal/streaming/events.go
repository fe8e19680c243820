package streaming

import (
	"context"
	"time"

	"github.com/igoryan-dao/turnbridge/internal/activity"
	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/convkey"
	"github.com/igoryan-dao/turnbridge/internal/format"
	"github.com/igoryan-dao/turnbridge/internal/metrics"
	"github.com/igoryan-dao/turnbridge/internal/subprocess"
)

// HandleEvent routes one normalised subprocess.Event to the conversation
// it belongs to, driving the state machine and feeding the activity
// batch. Registered by the caller against subprocess.Client.On for every
// Kind it cares about.
func (m *Manager) HandleEvent(ctx context.Context, ev subprocess.Event) error {
	if ev.Kind == subprocess.KindTurnStarted {
		if key, ok := m.FindContextByThreadID(ev.ThreadID); ok {
			m.RegisterTurnID(key, ev.TurnID)
		}
		return nil
	}

	key, ok := m.resolveKey(ev)
	if !ok {
		return nil
	}
	e, ok := m.lookup(key)
	if !ok {
		return nil
	}

	switch ev.Kind {
	case subprocess.KindItemDelta:
		if format.IsExcludedItemType(ev.ItemType) {
			return nil
		}
		e.mu.Lock()
		e.state.Text += ev.Content
		e.mu.Unlock()

	case subprocess.KindToolStart:
		e.mu.Lock()
		e.state.ActiveTools[ev.ItemID] = &ActiveTool{Tool: ev.Tool, Input: ev.ToolInput, StartTime: time.Now()}
		e.mu.Unlock()
		m.activity.AddEntry(key, activity.Entry{
			Kind:      activity.KindToolStart,
			Tool:      ev.Tool,
			ToolInput: ev.ToolInput,
			ToolUseID: ev.ItemID,
		})

	case subprocess.KindToolComplete:
		e.mu.Lock()
		delete(e.state.ActiveTools, ev.ItemID)
		e.mu.Unlock()
		te := activity.Entry{
			Kind:       activity.KindToolComplete,
			Tool:       ev.Tool,
			ToolUseID:  ev.ItemID,
			DurationMs: ev.DurationMs,
		}
		applyToolCompleteMetrics(&te, ev)
		m.activity.AddEntry(key, te)

	case subprocess.KindThinkingStarted:
		e.mu.Lock()
		e.state.ThinkingItemID = ev.ItemID
		e.mu.Unlock()
		m.activity.AppendThinkingContent(key, ev.ItemID, "")

	case subprocess.KindThinkingDelta:
		e.mu.Lock()
		e.state.ThinkingContent += ev.Content
		content := e.state.ThinkingContent
		segID := e.state.ThinkingItemID
		if segID == "" {
			segID = ev.ItemID
		}
		e.mu.Unlock()
		m.activity.AppendThinkingContent(key, segID, content)

	case subprocess.KindThinkingComplete:
		e.mu.Lock()
		e.state.ThinkingPostedDuringStreaming = true
		segID := e.state.ThinkingItemID
		if segID == "" {
			segID = ev.ItemID
		}
		e.mu.Unlock()
		m.activity.CompleteThinking(key, segID, ev.DurationMs)

	case subprocess.KindTokensUpdated:
		applyTokenUpdate(e, ev)

	case subprocess.KindTurnCompleted:
		return m.handleTurnCompleted(ctx, key, e, ev)
	}
	return nil
}

func (m *Manager) resolveKey(ev subprocess.Event) (convkey.Key, bool) {
	if ev.TurnID != "" {
		if key, ok := m.FindContextByTurnID(ev.TurnID); ok {
			return key, true
		}
	}
	if ev.ThreadID != "" {
		if key, ok := m.FindContextByThreadID(ev.ThreadID); ok {
			return key, true
		}
	}
	return "", false
}

func applyTokenUpdate(e *entry, ev subprocess.Event) {
	if ev.Tokens == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	s := e.state
	if ev.Tokens.InputTokens != 0 || ev.Tokens.OutputTokens != 0 {
		if !s.HaveBaseline {
			s.BaseInputTokens = ev.Tokens.InputTokens
			s.BaseOutputTokens = ev.Tokens.OutputTokens
			s.BaseCacheCreationInputTokens = ev.Tokens.CacheCreationInputTokens
			s.BaseCacheReadInputTokens = ev.Tokens.CacheReadInputTokens
			s.HaveBaseline = true
		}
		s.InputTokens = ev.Tokens.InputTokens
		s.OutputTokens = ev.Tokens.OutputTokens
		s.ContextWindow = ev.Tokens.ContextWindow
		s.MaxOutputTokens = ev.Tokens.MaxOutputTokens
		return
	}
	if ev.Tokens.TotalTokens != 0 {
		s.BaseTotalTokens = ev.Tokens.TotalTokens
	}
}

func applyToolCompleteMetrics(ae *activity.Entry, ev subprocess.Event) {
	if ev.ExitCode != nil && *ev.ExitCode != 0 {
		ae.ToolIsError = true
	}
	if ev.Raw == nil {
		return
	}
	if v, ok := ev.Raw["lineCount"].(float64); ok {
		ae.LineCount = int(v)
	}
	if v, ok := ev.Raw["matchCount"].(float64); ok {
		ae.MatchCount = int(v)
	}
	if v, ok := ev.Raw["linesAdded"].(float64); ok {
		ae.LinesAdded = int(v)
	}
	if v, ok := ev.Raw["linesRemoved"].(float64); ok {
		ae.LinesRemoved = int(v)
	}
	if v, ok := ev.Raw["toolOutputPreview"].(string); ok {
		ae.ToolOutputPreview = v
	}
	if v, ok := ev.Raw["toolErrorMessage"].(string); ok {
		ae.ToolErrorMessage = v
		ae.ToolIsError = true
	}
}

// handleTurnCompleted drives the completed/interrupted/failed transition
// (spec §4.3 state machine) and the terminal chat-surface effects (spec
// step 6).
func (m *Manager) handleTurnCompleted(ctx context.Context, key convkey.Key, e *entry, ev subprocess.Event) error {
	aborted := m.aborts.IsAborted(key)

	statusStr, _ := ev.Raw["status"].(string)
	succeeded := statusStr == "" || statusStr == "completed"

	e.mu.Lock()
	switch {
	case aborted:
		e.state.Status = StatusInterrupted
	case !succeeded:
		e.state.Status = StatusFailed
	default:
		e.state.Status = StatusCompleted
	}
	status := e.state.Status
	e.mu.Unlock()

	metrics.TurnsTotal.WithLabelValues(string(status)).Inc()
	return m.finishTurn(ctx, key, e)
}

// finishTurn applies the terminal reaction, forces a final render/flush,
// and tears down the conversation's state.
func (m *Manager) finishTurn(ctx context.Context, key convkey.Key, e *entry) error {
	e.mu.Lock()
	status := e.state.Status
	originalMsg := e.state.Ctx.OriginalMessage
	e.mu.Unlock()

	if originalMsg != (chatclient.Posted{}) {
		var reactErr error
		switch status {
		case StatusInterrupted:
			reactErr = m.reactions.Abort(ctx, originalMsg)
		case StatusFailed:
			reactErr = m.reactions.Error(ctx, originalMsg)
		default:
			reactErr = m.reactions.Clear(ctx, originalMsg)
		}
		if reactErr != nil {
			m.log.WithError(reactErr).Warn("streaming: terminal reaction update failed")
		}
	}

	if err := m.renderAndFlush(ctx, e, true); err != nil {
		m.log.WithError(err).Warn("streaming: terminal activity panel render failed")
	}

	m.aborts.Clear(key)
	m.StopStreaming(key)
	return nil
}

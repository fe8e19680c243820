package streaming

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/igoryan-dao/turnbridge/internal/activity"
	"github.com/igoryan-dao/turnbridge/internal/chatclient"
)

// renderAndFlush re-renders the single activity-panel message (one edit)
// and calls ActivityThreadManager.flush (spec §4.3 step 4).
func (m *Manager) renderAndFlush(ctx context.Context, e *entry, force bool) error {
	e.mu.Lock()
	s := e.state
	panelBody := renderPanel(s)
	sctx := s.Ctx
	existingTs := s.ActivityMessageTs
	terminal := s.Status != StatusRunning
	e.mu.Unlock()

	text := panelBody
	if window := activity.RenderRollingWindow(m.activity.GetEntries(sctx.ConversationKey), activity.DefaultRollingWindowEntries, activity.DefaultRollingWindowChars); window != "" {
		text += "\n\n" + window
	}

	msg := chatclient.Message{Text: text}
	if s.Status == StatusRunning {
		msg.Components = []chatclient.Component{{
			Label:    "Abort",
			ActionID: "abort",
			Value:    string(sctx.ConversationKey),
			Style:    "danger",
		}}
	}

	var posted chatclient.Posted
	var err error
	if existingTs == "" {
		posted, err = m.chat.PostMessage(ctx, sctx.ChannelID, sctx.ThreadTs, msg)
		if err == nil {
			e.mu.Lock()
			s.ActivityMessageTs = posted.MessageTs
			e.mu.Unlock()
		}
	} else {
		posted = chatclient.Posted{ChannelID: sctx.ChannelID, ThreadTs: sctx.ThreadTs, MessageTs: existingTs}
		err = m.chat.EditMessage(ctx, posted, msg)
	}
	if err != nil {
		return fmt.Errorf("streaming: activity panel render: %w", err)
	}

	return m.activity.Flush(ctx, sctx.ConversationKey, activity.FlushOpts{
		ChannelID: sctx.ChannelID,
		ThreadTs:  sctx.ThreadTs,
		Force:     force || terminal,
	})
}

// renderPanel builds the activity-panel header: status, model, reasoning,
// a tool-summary line, and the token/context line (in every status, once a
// token baseline and a context window are known).
func renderPanel(s *State) string {
	var b strings.Builder

	switch s.Status {
	case StatusRunning:
		b.WriteString("⏳ Working")
	case StatusCompleted:
		b.WriteString("✅ Done")
	case StatusInterrupted:
		b.WriteString("⏹️ Aborted")
	case StatusFailed:
		b.WriteString("❌ Failed")
	}

	if s.Ctx.Model != "" {
		b.WriteString(" · ")
		b.WriteString(s.Ctx.Model)
	}
	if s.Ctx.ReasoningEffort != "" {
		b.WriteString(" (")
		b.WriteString(s.Ctx.ReasoningEffort)
		b.WriteString(")")
	}

	if len(s.ActiveTools) > 0 {
		b.WriteString("\n")
		b.WriteString(toolSummaryLine(s.ActiveTools))
	}

	if line, ok := contextLine(s); ok {
		b.WriteString("\n")
		b.WriteString(line)
	}

	return b.String()
}

func toolSummaryLine(tools map[string]*ActiveTool) string {
	names := make([]string, 0, len(tools))
	seen := make(map[string]bool)
	for _, t := range tools {
		if !seen[t.Tool] {
			seen[t.Tool] = true
			names = append(names, t.Tool)
		}
	}
	sort.Strings(names)
	return "Using: " + strings.Join(names, ", ")
}

// contextLine computes the token/context-usage line (spec §4.3 steps 1-2).
func contextLine(s *State) (string, bool) {
	if !s.HaveBaseline || s.ContextWindow <= 0 {
		return "", false
	}
	deltaInput := s.InputTokens - s.BaseInputTokens
	deltaOutput := s.OutputTokens - s.BaseOutputTokens
	contextTokens := deltaInput + deltaOutput
	if contextTokens < 0 {
		contextTokens = 0
	}
	percent := 100 * float64(contextTokens) / float64(s.ContextWindow)
	return fmt.Sprintf("Context: %d tokens (%.1f%%)", contextTokens, percent), true
}

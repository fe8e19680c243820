package activity

import (
	"fmt"
	"strings"

	"github.com/igoryan-dao/turnbridge/internal/format"
)

// toolInputPreview renders ToolInput (string or structured object) as a
// short escaped preview suffix, spec §4.4's "→ `<first 50 chars>…`".
func toolInputPreview(input interface{}) string {
	var s string
	switch v := input.(type) {
	case string:
		s = v
	case nil:
		return ""
	default:
		s = fmt.Sprintf("%v", v)
	}
	s = strings.ReplaceAll(s, "\n", " ")
	return format.TruncatePreview(format.EscapePreview(s), 50)
}

// renderText produces the short markdown for an entry, used both as the
// posted message body and as the basis for the long-form variant when it
// exceeds the thread's character limit.
func renderText(e *Entry) string {
	switch e.Kind {
	case KindStarting:
		return e.Text

	case KindGenerating:
		return e.Text

	case KindAborted:
		if e.Text != "" {
			return "⏹️ Aborted — " + e.Text
		}
		return "⏹️ Aborted"

	case KindError:
		return "❌ " + e.Text

	case KindThinking:
		label := "💭 Thinking…"
		if !e.ThinkingInProgress {
			label = fmt.Sprintf("💭 Thought for %.1fs", float64(e.DurationMs)/1000)
		}
		if e.Text == "" {
			return label
		}
		return label + "\n" + e.Text

	case KindToolStart:
		emoji := format.ToolEmoji(e.Tool)
		line := fmt.Sprintf("%s %s", emoji, e.Tool)
		if p := toolInputPreview(e.ToolInput); p != "" {
			line += " → `" + p + "`"
		}
		return line + " [in progress]"

	case KindToolComplete:
		return renderToolComplete(e)
	}
	return e.Text
}

func renderToolComplete(e *Entry) string {
	emoji := format.ToolEmoji(e.Tool)
	if e.ToolIsError {
		emoji = "⚠️"
	}
	line := fmt.Sprintf("%s %s", emoji, e.Tool)
	if p := toolInputPreview(e.ToolInput); p != "" {
		line += " → `" + p + "`"
	}

	var details []string
	if e.LineCount > 0 {
		details = append(details, fmt.Sprintf("%d lines", e.LineCount))
	}
	if e.MatchCount > 0 {
		details = append(details, fmt.Sprintf("%d matches", e.MatchCount))
	}
	if e.LinesAdded > 0 || e.LinesRemoved > 0 {
		details = append(details, fmt.Sprintf("+%d/-%d", e.LinesAdded, e.LinesRemoved))
	}
	if e.DurationMs > 0 {
		details = append(details, fmt.Sprintf("%.1fs", float64(e.DurationMs)/1000))
	}
	if len(details) > 0 {
		line += " (" + strings.Join(details, ", ") + ")"
	}

	if e.ToolIsError {
		msg := e.ToolErrorMessage
		if msg == "" {
			msg = "failed"
		}
		line += "\n⚠️ " + format.EscapePreview(msg)
		return line
	}

	if e.ToolOutputPreview != "" {
		line += "\n```\n" + e.ToolOutputPreview + "\n```"
		line = format.CloseUnterminatedFences(line)
	}
	return line
}

// isLong reports whether a rendered entry exceeds the thread's configured
// character limit and should be posted as an attachment instead (spec
// §4.4 "long content handling").
func isLong(text string, limit int) bool {
	return len(text) > limit
}

// Rolling-window defaults for the activity panel's entry log (spec §4.4
// "Formatting rules").
const (
	DefaultRollingWindowEntries = 20
	DefaultRollingWindowChars   = 1000
)

// RenderRollingWindow renders the most recent maxEntries entries (default
// DefaultRollingWindowEntries), then drops whole entries from the front —
// never cutting mid-text — until the joined text fits within charLimit
// (default DefaultRollingWindowChars), prepending a "… K earlier entries
// …" marker for whatever was dropped (spec §4.4). Returns "" for no
// entries.
func RenderRollingWindow(entries []Entry, maxEntries, charLimit int) string {
	if maxEntries <= 0 {
		maxEntries = DefaultRollingWindowEntries
	}
	if charLimit <= 0 {
		charLimit = DefaultRollingWindowChars
	}
	if len(entries) == 0 {
		return ""
	}

	start := 0
	if len(entries) > maxEntries {
		start = len(entries) - maxEntries
	}
	window := entries[start:]

	lines := make([]string, len(window))
	for i := range window {
		lines[i] = renderText(&window[i])
	}

	dropped := 0
	for len(lines) > 1 && len(strings.Join(lines, "\n")) > charLimit {
		lines = lines[1:]
		dropped++
	}

	text := strings.Join(lines, "\n")
	if dropped > 0 {
		return fmt.Sprintf("… %d earlier entries …\n%s", dropped, text)
	}
	return text
}

// Package activity implements ActivityThreadManager (spec §4.4): the
// ordered per-conversation batch of ActivityEntry, translated into chat
// messages with update-in-place for tool-start/tool-complete pairs and
// in-place-mutated thinking segments, rate-limited by a minGap.
package activity

import "time"

// Kind is one of the tagged-union ActivityEntry variants (spec §3).
type Kind string

const (
	KindStarting     Kind = "starting"
	KindThinking     Kind = "thinking"
	KindToolStart    Kind = "tool_start"
	KindToolComplete Kind = "tool_complete"
	KindGenerating   Kind = "generating"
	KindError        Kind = "error"
	KindAborted      Kind = "aborted"
)

// Entry is one line-item destined to become (or update) a chat reply
// (spec §3 ActivityEntry). Tool and thinking lifecycles differ: a tool
// produces two distinct Entry values (tool_start then tool_complete,
// sharing ToolUseID); a thinking segment is ONE Entry mutated in place as
// deltas arrive (spec §8 scenario a) via Manager.AppendThinkingContent /
// CompleteThinking.
type Entry struct {
	Kind      Kind
	Timestamp time.Time

	Tool      string
	ToolInput interface{} // string OR structured object, per spec §3

	ToolUseID         string
	ThinkingSegmentID string

	DurationMs int64
	CharCount  int

	LineCount    int
	MatchCount   int
	LinesAdded   int
	LinesRemoved int

	ToolOutputPreview string
	ToolIsError       bool
	ToolErrorMessage  string

	ThinkingInProgress bool

	// Text is the free-form content for starting/generating/error/aborted
	// entries, and the accumulated thinking content for thinking entries.
	Text string

	dirty bool // set by in-place mutation; cleared once re-flushed
}

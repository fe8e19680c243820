// Package subprocess provides SubprocessClient (spec §4.2): a typed façade
// over internal/jsonrpc that normalises the coding-agent subprocess's
// heterogeneous notification vocabulary into a small, stable event set.
package subprocess

import "encoding/json"

// Kind identifies one of the normalised event kinds emitted by Client.
type Kind string

const (
	KindTurnStarted        Kind = "turn:started"
	KindTurnCompleted      Kind = "turn:completed"
	KindItemStarted        Kind = "item:started"
	KindItemDelta          Kind = "item:delta"
	KindItemCompleted      Kind = "item:completed"
	KindToolStart          Kind = "tool:start"
	KindToolComplete       Kind = "tool:complete"
	KindThinkingStarted    Kind = "thinking:started"
	KindThinkingDelta      Kind = "thinking:delta"
	KindThinkingComplete   Kind = "thinking:complete"
	KindExecBegin          Kind = "exec:begin"
	KindExecOutput         Kind = "exec:output"
	KindExecEnd            Kind = "exec:end"
	KindWebSearchStarted   Kind = "websearch:started"
	KindWebSearchCompleted Kind = "websearch:completed"
	KindFileChangeDelta    Kind = "filechange:delta"
	KindTokensUpdated      Kind = "tokens:updated"
	KindApprovalRequested  Kind = "approval:requested"
	KindContextTurnID      Kind = "context:turnId"
	// KindCommandOutput is the fallback for notifications not otherwise
	// recognised, so nothing silently vanishes (spec §9 "unknown variants
	// funnel into a single 'other notification' branch").
	KindCommandOutput Kind = "command:output"
)

// TokenUsage mirrors the subprocess's last_token_usage shape (spec §3
// ThreadSession.lastUsage / §9 open question on total vs last usage).
type TokenUsage struct {
	InputTokens             int    `json:"inputTokens"`
	OutputTokens            int    `json:"outputTokens"`
	CacheReadInputTokens    int    `json:"cacheReadInputTokens"`
	CacheCreationInputTokens int   `json:"cacheCreationInputTokens,omitempty"`
	TotalTokens              int   `json:"totalTokens,omitempty"`
	ContextWindow            int   `json:"contextWindow"`
	Model                    string `json:"model"`
	MaxOutputTokens          int   `json:"maxOutputTokens,omitempty"`
}

// ApprovalRequest is the normalised shape of an
// item/commandExecution/requestApproval or item/fileChange/requestApproval
// notification.
type ApprovalRequest struct {
	Kind        string          `json:"kind"` // "command" | "fileChange"
	Command     string          `json:"command,omitempty"`
	Explanation string          `json:"explanation,omitempty"`
	Paths       []string        `json:"paths,omitempty"`
	Diff        string          `json:"diff,omitempty"`
	Raw         json.RawMessage `json:"-"`
}

// Event is the single normalised shape dispatched to subscribers,
// regardless of which of the subprocess's many wire spellings produced it.
// Unused fields for a given Kind are left zero-valued.
type Event struct {
	Kind Kind

	ThreadID string
	TurnID   string
	ItemID   string
	ItemType string

	// Content is the delta/text payload, already resolved from whichever
	// of delta/content/output/msg.delta/msg.content/msg.output was present.
	Content string

	ExitCode *int

	Tool      string
	ToolInput interface{}

	DurationMs int64

	Tokens *TokenUsage

	BridgeRequestID int
	Approval        *ApprovalRequest

	// Raw is the original decoded payload, kept for entries that need
	// fields beyond the normalised ones (e.g. activity formatting detail).
	Raw map[string]interface{}
}

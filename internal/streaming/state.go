// Package streaming implements StreamingManager (spec §4.3): the
// per-conversation state machine that runs from turn:started to
// turn:completed, accumulating text/thinking/tool activity, driving the
// periodic activity-panel update, applying reactions, and handling abort.
// Approval requests are not handled in this package.
package streaming

import (
	"time"

	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/convkey"
)

// Status is a turn's lifecycle stage (spec §4.3 state machine).
type Status string

const (
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusInterrupted Status = "interrupted"
	StatusFailed      Status = "failed"
)

// ActiveTool is one in-flight tool invocation tracked by itemId (spec §3
// StreamingState.activeTools).
type ActiveTool struct {
	Tool      string
	Input     interface{}
	StartTime time.Time
}

// Context is the caller-supplied information needed to begin streaming a
// turn (spec §4.3 startStreaming(ctx)). TurnID may be filled in after the
// call via RegisterTurnID once the subprocess confirms it; ThreadID is
// indexed only as passed here.
type Context struct {
	ConversationKey convkey.Key
	ChannelID       string
	ThreadTs        string

	ThreadID string
	TurnID   string

	// OriginalMessage is the user's own chat message, carrying the
	// "processing" reaction for the duration of the turn.
	OriginalMessage chatclient.Posted

	UpdateRateMs    int
	ThreadCharLimit int

	Model           string
	ReasoningEffort string
}

// State is StreamingState (spec §3): the in-memory record of one in-flight
// (or just-finished) turn.
type State struct {
	Ctx    Context
	Status Status

	Text string

	ThinkingContent               string
	ThinkingStartTime             time.Time
	ThinkingItemID                string
	ThinkingPostedDuringStreaming bool

	ActiveTools map[string]*ActiveTool

	ActivityMessageTs string

	InputTokens                      int
	OutputTokens                     int
	BaseInputTokens                  int
	BaseOutputTokens                 int
	BaseCacheCreationInputTokens     int
	BaseCacheReadInputTokens         int
	BaseTotalTokens                  int
	HaveBaseline                     bool
	ContextWindow                    int
	MaxOutputTokens                  int
	CostUsd                          float64

	LastUpdateTime time.Time

	PendingAbort bool

	stopTicker chan struct{}
}

func newState(ctx Context) *State {
	return &State{
		Ctx:         ctx,
		Status:      StatusRunning,
		ActiveTools: make(map[string]*ActiveTool),
	}
}

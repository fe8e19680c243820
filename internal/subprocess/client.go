package subprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/format"
	"github.com/igoryan-dao/turnbridge/internal/jsonrpc"
	"github.com/igoryan-dao/turnbridge/internal/protocol"
)

// ThreadInfo is the subprocess's description of a thread (spec §6 ThreadInfo).
type ThreadInfo struct {
	ID               string `json:"id"`
	WorkingDirectory string `json:"workingDirectory"`
	CreatedAt        int64  `json:"createdAt"`
}

// TurnRef is one entry of thread/read's turns list.
type TurnRef struct {
	ID string `json:"id"`
}

// ThreadReadResult is thread/read's result shape.
type ThreadReadResult struct {
	Thread ThreadInfo `json:"thread"`
	Turns  []TurnRef  `json:"turns,omitempty"`
}

// TurnStartParams is turn/start's params shape.
type TurnStartParams struct {
	ThreadID        string          `json:"threadId"`
	Input           []TurnInputPart `json:"input"`
	ReasoningEffort string          `json:"reasoningEffort,omitempty"`
}

// TurnInputPart is one element of turn/start's input array.
type TurnInputPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Listener receives normalised events (spec §4.2 "Emitted events").
type Listener func(Event)

// Client is the typed façade over internal/jsonrpc described in spec §4.2.
type Client struct {
	transport *jsonrpc.Transport
	log       *logrus.Entry

	listenersMu sync.RWMutex
	listeners   map[Kind][]Listener

	dedup *deltaDedup

	turnIDPairsMu sync.Mutex
	turnIDPairs   map[string]bool // "threadID|turnID" already emitted via context:turnId

	completedMu sync.Mutex
	completed   map[string]bool // "threadID|turnID" already surfaced a turn:completed
}

// New constructs a Client bound to transport and wires notification
// dispatch. Register listeners with On before the subprocess starts
// emitting, and Start
// the transport's read loop separately (internal/procsup owns the
// subprocess's stdin/stdout pipes).
func New(transport *jsonrpc.Transport, log *logrus.Entry) *Client {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c := &Client{
		transport:   transport,
		log:         log.WithField("component", "subprocess.Client"),
		listeners:   make(map[Kind][]Listener),
		dedup:       newDeltaDedup(),
		turnIDPairs: make(map[string]bool),
		completed:   make(map[string]bool),
	}
	c.wireNotifications()
	return c
}

// On registers a listener for a normalised event kind. Multiple listeners
// per kind are invoked in registration order.
func (c *Client) On(kind Kind, fn Listener) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.listeners[kind] = append(c.listeners[kind], fn)
}

func (c *Client) emit(ev Event) {
	c.listenersMu.RLock()
	fns := append([]Listener(nil), c.listeners[ev.Kind]...)
	c.listenersMu.RUnlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// --- Typed RPC surface (spec §4.2, §6) ---

func (c *Client) ThreadStart(ctx context.Context, workingDirectory string) (*ThreadInfo, error) {
	result, err := c.transport.Request(ctx, "thread/start", map[string]string{"workingDirectory": workingDirectory}, 0)
	if err != nil {
		return nil, fmt.Errorf("thread/start: %w", err)
	}
	var wrapped struct {
		Thread ThreadInfo `json:"thread"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("thread/start: decode result: %w", err)
	}
	return &wrapped.Thread, nil
}

func (c *Client) ThreadResume(ctx context.Context, threadID string) (*ThreadInfo, error) {
	result, err := c.transport.Request(ctx, "thread/resume", map[string]string{"threadId": threadID}, 0)
	if err != nil {
		return nil, fmt.Errorf("thread/resume: %w", err)
	}
	var wrapped struct {
		Thread ThreadInfo `json:"thread"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("thread/resume: decode result: %w", err)
	}
	return &wrapped.Thread, nil
}

func (c *Client) ThreadRead(ctx context.Context, threadID string, includeTurns bool) (*ThreadReadResult, error) {
	result, err := c.transport.Request(ctx, "thread/read", map[string]interface{}{
		"threadId":     threadID,
		"includeTurns": includeTurns,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("thread/read: %w", err)
	}
	var out ThreadReadResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("thread/read: decode result: %w", err)
	}
	return &out, nil
}

// ThreadFork performs a full copy with no turn selection (spec §4.2).
func (c *Client) ThreadFork(ctx context.Context, threadID string) (*ThreadInfo, error) {
	result, err := c.transport.Request(ctx, "thread/fork", map[string]string{"threadId": threadID}, 0)
	if err != nil {
		return nil, fmt.Errorf("thread/fork: %w", err)
	}
	var wrapped struct {
		Thread ThreadInfo `json:"thread"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("thread/fork: decode result: %w", err)
	}
	return &wrapped.Thread, nil
}

// ThreadRollback requires numTurns >= 1; smaller values are refused locally
// before any RPC is sent (spec §8 boundary behaviour).
func (c *Client) ThreadRollback(ctx context.Context, threadID string, numTurns int) (*ThreadInfo, error) {
	if numTurns < 1 {
		return nil, &protocol.RPCError{
			Code:    protocol.CodeInvalidParams,
			Message: fmt.Sprintf("thread/rollback: numTurns must be >= 1, got %d", numTurns),
		}
	}
	result, err := c.transport.Request(ctx, "thread/rollback", map[string]interface{}{
		"threadId": threadID,
		"numTurns": numTurns,
	}, 0)
	if err != nil {
		return nil, fmt.Errorf("thread/rollback: %w", err)
	}
	var wrapped struct {
		Thread ThreadInfo `json:"thread"`
	}
	if err := json.Unmarshal(result, &wrapped); err != nil {
		return nil, fmt.Errorf("thread/rollback: decode result: %w", err)
	}
	return &wrapped.Thread, nil
}

// TurnStart has no meaningful result; the turn is observed via notifications.
func (c *Client) TurnStart(ctx context.Context, params TurnStartParams) error {
	_, err := c.transport.Request(ctx, "turn/start", params, 0)
	if err != nil {
		return fmt.Errorf("turn/start: %w", err)
	}
	return nil
}

// TurnInterrupt is fire-and-forget and is a local no-op (no RPC at all) when
// turnID is empty, per spec §4.3 abort semantics and §8 boundary behaviour.
func (c *Client) TurnInterrupt(ctx context.Context, threadID, turnID string) error {
	if turnID == "" {
		return nil
	}
	if err := c.transport.Notify("turn/interrupt", map[string]string{
		"threadId": threadID,
		"turnId":   turnID,
	}); err != nil {
		return fmt.Errorf("turn/interrupt: %w", err)
	}
	return nil
}

// ApprovalRespond round-trips the user's accept/decline decision.
func (c *Client) ApprovalRespond(ctx context.Context, bridgeRequestID int, decision string) error {
	_, err := c.transport.Request(ctx, "approval/respond", map[string]interface{}{
		"id":       bridgeRequestID,
		"decision": decision,
	}, 0)
	if err != nil {
		return fmt.Errorf("approval/respond: %w", err)
	}
	return nil
}

// --- Fork-at-turn (spec §4.2, §8 scenario c) ---

// ForkAtTurn implements: read totalTurns, fork, compute rollback, roll back
// if nonzero, return the forked thread. The subprocess's reported turn
// count is always the source of truth; no local cache is trusted.
func (c *Client) ForkAtTurn(ctx context.Context, threadID string, turnIndex int) (*ThreadInfo, error) {
	read, err := c.ThreadRead(ctx, threadID, true)
	if err != nil {
		return nil, fmt.Errorf("forkAtTurn: %w", err)
	}
	totalTurns := len(read.Turns)
	if turnIndex < 0 || turnIndex >= totalTurns {
		return nil, fmt.Errorf("forkAtTurn: turnIndex %d out of range [0,%d)", turnIndex, totalTurns)
	}

	forked, err := c.ThreadFork(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("forkAtTurn: %w", err)
	}

	rollback := totalTurns - (turnIndex + 1)
	if rollback > 0 {
		forked, err = c.ThreadRollback(ctx, forked.ID, rollback)
		if err != nil {
			return nil, fmt.Errorf("forkAtTurn: %w", err)
		}
	}
	return forked, nil
}

// FindTurnIndex resolves turnID to a position in threadID's turn list,
// trying direct equality first and then the "n" <-> "turn-"+(n+1)
// conversion mandated by the documented vocabulary mismatch (spec §3, §4.2).
// Returns -1 if no match is found by either attempt.
func (c *Client) FindTurnIndex(ctx context.Context, threadID, turnID string) (int, error) {
	read, err := c.ThreadRead(ctx, threadID, true)
	if err != nil {
		return -1, fmt.Errorf("findTurnIndex: %w", err)
	}
	for i, t := range read.Turns {
		if t.ID == turnID {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(turnID); err == nil {
		converted := "turn-" + strconv.Itoa(n+1)
		for i, t := range read.Turns {
			if t.ID == converted {
				return i, nil
			}
		}
	}
	return -1, nil
}

// --- Notification wiring ---

func (c *Client) wireNotifications() {
	c.transport.SetFallback(c.handleNotification)
}

func (c *Client) handleNotification(method string, params json.RawMessage) {
	var payload map[string]interface{}
	if len(params) > 0 {
		if err := json.Unmarshal(params, &payload); err != nil {
			c.log.WithError(err).WithField("method", method).Warn("dropping notification with unparseable params")
			return
		}
	}
	if payload == nil {
		payload = map[string]interface{}{}
	}

	threadID := threadID(payload)
	turnID := turnID(payload)
	c.maybeEmitContextTurnID(threadID, turnID)

	kind, family := classify(method, payload)
	switch kind {
	case KindTurnCompleted:
		if c.alreadyCompleted(threadID, turnID) {
			return
		}
	case KindItemDelta, KindThinkingDelta, KindExecOutput, KindFileChangeDelta, KindCommandOutput:
		content := textDelta(payload)
		if content != "" && c.dedup.seen(content, time.Now()) {
			return
		}
	}

	ev := Event{
		Kind:     kind,
		ThreadID: threadID,
		TurnID:   turnID,
		ItemID:   itemID(payload),
		ItemType: family,
		Content:  textDelta(payload),
		Raw:      payload,
	}
	if code, ok := exitCode(payload); ok {
		ev.ExitCode = &code
	}
	if tool := stringField(payload, "tool"); tool != "" {
		ev.Tool = tool
	} else {
		ev.Tool = family
	}
	if input, ok := payload["toolInput"]; ok {
		ev.ToolInput = input
	} else if input, ok := payload["input"]; ok {
		ev.ToolInput = input
	}
	if d, ok := payload["durationMs"]; ok {
		if f, ok := d.(float64); ok {
			ev.DurationMs = int64(f)
		}
	}
	if kind == KindTokensUpdated {
		ev.Tokens = decodeTokenUsage(payload)
	}
	if kind == KindApprovalRequested {
		ev.Approval = decodeApprovalRequest(payload)
		ev.BridgeRequestID = intField(payload, "id")
	}

	c.emit(ev)
}

func (c *Client) maybeEmitContextTurnID(threadID, turnID string) {
	if threadID == "" || turnID == "" {
		return
	}
	key := threadID + "|" + turnID
	c.turnIDPairsMu.Lock()
	if c.turnIDPairs[key] {
		c.turnIDPairsMu.Unlock()
		return
	}
	c.turnIDPairs[key] = true
	c.turnIDPairsMu.Unlock()

	c.emit(Event{Kind: KindContextTurnID, ThreadID: threadID, TurnID: turnID})
}

func (c *Client) alreadyCompleted(threadID, turnID string) bool {
	key := threadID + "|" + turnID
	c.completedMu.Lock()
	defer c.completedMu.Unlock()
	if c.completed[key] {
		return true
	}
	c.completed[key] = true
	return false
}

// classify maps a wire method name (plus the item-type family derived from
// the payload) to a normalised Kind. Method spellings vary (legacy
// "codex/event/*" vs modern "turn/*"/"item/*"), hence substring matching
// rather than an exact lookup table (spec §4.2, §6).
func classify(method string, payload map[string]interface{}) (Kind, string) {
	family := familyOf(payload)

	switch {
	case strings.Contains(method, "token_count"), strings.Contains(method, "tokenUsage"):
		return KindTokensUpdated, family
	case strings.Contains(method, "exec_command_begin"):
		return KindExecBegin, family
	case strings.Contains(method, "exec_command_output"):
		return KindExecOutput, family
	case strings.Contains(method, "exec_command_end"):
		return KindExecEnd, family
	case strings.Contains(method, "web_search_begin"):
		return KindWebSearchStarted, family
	case strings.Contains(method, "web_search_end"):
		return KindWebSearchCompleted, family
	case strings.Contains(method, "fileChange") && strings.Contains(method, "outputDelta"):
		return KindFileChangeDelta, family
	case strings.Contains(method, "requestApproval"):
		return KindApprovalRequested, family
	case strings.Contains(method, "task_started"), method == "turn/started":
		return KindTurnStarted, family
	case strings.Contains(method, "task_complete"), method == "turn/completed":
		return KindTurnCompleted, family
	case method == "item/started":
		return startKindFor(family), family
	case method == "item/completed":
		return completeKindFor(family), family
	case strings.Contains(method, "/delta"):
		return deltaKindFor(family), family
	default:
		return KindCommandOutput, family
	}
}

func startKindFor(family string) Kind {
	if family == "thinking" {
		return KindThinkingStarted
	}
	if family == "tool" {
		return KindToolStart
	}
	return KindItemStarted
}

func completeKindFor(family string) Kind {
	if family == "thinking" {
		return KindThinkingComplete
	}
	if family == "tool" {
		return KindToolComplete
	}
	return KindItemCompleted
}

func deltaKindFor(family string) Kind {
	if family == "thinking" {
		return KindThinkingDelta
	}
	return KindItemDelta
}

// familyOf buckets the item-type token into "thinking", "tool", or
// "message" using the same normalisation (lowercase, separators ignored)
// spec §4.4's item-type filter uses.
func familyOf(payload map[string]interface{}) string {
	token := format.NormalizeTypeToken(itemType(payload))
	switch token {
	case "thinking", "reasoning":
		return "thinking"
	case "usermessage", "agentmessage", "message", "unknown":
		return "message"
	default:
		return "tool"
	}
}

func decodeTokenUsage(payload map[string]interface{}) *TokenUsage {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var tu TokenUsage
	if err := json.Unmarshal(data, &tu); err != nil {
		return nil
	}
	return &tu
}

func decodeApprovalRequest(payload map[string]interface{}) *ApprovalRequest {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil
	}
	var req ApprovalRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil
	}
	req.Raw = data
	if req.Kind == "" {
		if _, ok := payload["diff"]; ok {
			req.Kind = "fileChange"
		} else {
			req.Kind = "command"
		}
	}
	return &req
}

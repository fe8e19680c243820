// Package approval implements ApprovalHandler (spec §4.5): for each
// inbound approval:requested event, post an interactive Accept/Decline
// message, remember the pending request, and round-trip the user's
// decision (or its eventual expiry) back to the subprocess.
package approval

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/convkey"
	"github.com/igoryan-dao/turnbridge/internal/metrics"
	"github.com/igoryan-dao/turnbridge/internal/subprocess"
)

const (
	DefaultReminderInterval = 60 * time.Second
	DefaultExpiryTimeout    = 5 * time.Minute
	dmDebounceWindow        = 15 * time.Second
)

// pending is PendingApproval (spec §3), kept unexported since its timer
// handles are pure bookkeeping, not part of the public data model.
type pending struct {
	bridgeRequestID int
	request         subprocess.ApprovalRequest
	channelID       string
	threadTs        string
	userID          string
	posted          chatclient.Posted
	createdAt       time.Time

	reminderTimer *time.Timer
	expiryTimer   *time.Timer
	stopped       bool
}

// Handler is ApprovalHandler (spec §4.5).
type Handler struct {
	subprocess *subprocess.Client
	chat       chatclient.Client
	log        *logrus.Entry

	reminderInterval time.Duration
	expiryTimeout    time.Duration

	mu      sync.Mutex
	nextID  int
	pending map[int]*pending

	dmMu       sync.Mutex
	lastDMSent map[string]time.Time
}

// New constructs a Handler with the spec's default reminder/expiry
// intervals (60 s / 5 min).
func New(sp *subprocess.Client, chat chatclient.Client, log *logrus.Entry) *Handler {
	return &Handler{
		subprocess:       sp,
		chat:             chat,
		log:              log,
		reminderInterval: DefaultReminderInterval,
		expiryTimeout:    DefaultExpiryTimeout,
		pending:          make(map[int]*pending),
		lastDMSent:       make(map[string]time.Time),
	}
}

// WithIntervals overrides the reminder/expiry durations (used by tests).
func (h *Handler) WithIntervals(reminder, expiry time.Duration) *Handler {
	h.reminderInterval = reminder
	h.expiryTimeout = expiry
	return h
}

func approvalMessage(req subprocess.ApprovalRequest, suffix string) chatclient.Message {
	text := renderApprovalText(req)
	if suffix != "" {
		text += "\n" + suffix
	}
	return chatclient.Message{Text: text}
}

func renderApprovalText(req subprocess.ApprovalRequest) string {
	switch req.Kind {
	case "fileChange":
		text := "📝 Requesting approval to change:\n"
		for _, p := range req.Paths {
			text += "- `" + p + "`\n"
		}
		if req.Diff != "" {
			text += "```diff\n" + req.Diff + "\n```"
		}
		return text
	default:
		text := "⚠️ Requesting approval to run:\n```\n" + req.Command + "\n```"
		if req.Explanation != "" {
			text += "\n" + req.Explanation
		}
		return text
	}
}

// decisionComponents builds the Accept/Decline buttons. The ActionIDs
// "approval-accept" and "approval-decline" hold no colon, so
// chatclient.DecodeActionValue's first-colon split hands the caller the
// bridge-assigned id as the whole value; the
// decision itself is conveyed by which button fired, not encoded in the
// value (spec §6: the action_id encodes the bridge-assigned approval id).
func decisionComponents(bridgeRequestID int) []chatclient.Component {
	id := fmt.Sprintf("%d", bridgeRequestID)
	return []chatclient.Component{
		{Label: "Accept", ActionID: "approval-accept", Value: id, Style: "primary"},
		{Label: "Decline", ActionID: "approval-decline", Value: id, Style: "danger"},
	}
}

// HandleApprovalRequest posts the approval UI, stores the pending record,
// schedules reminder/expiry timers, and (if userID is given) triggers a
// debounced DM notification.
func (h *Handler) HandleApprovalRequest(ctx context.Context, req subprocess.ApprovalRequest, channelID, threadTs, userID string) (int, error) {
	msg := approvalMessage(req, "")
	msg.Components = nil // components attached after posting, via follow-up edit below

	posted, err := h.chat.PostMessage(ctx, channelID, threadTs, msg)
	if err != nil {
		return 0, fmt.Errorf("approval: post request: %w", err)
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	p := &pending{
		bridgeRequestID: id,
		request:         req,
		channelID:       channelID,
		threadTs:        threadTs,
		userID:          userID,
		posted:          posted,
		createdAt:       time.Now(),
	}
	h.pending[id] = p
	h.mu.Unlock()
	metrics.ApprovalsPending.Inc()

	withMsg := approvalMessage(req, "")
	withMsg.Components = decisionComponents(id)
	if err := h.chat.EditMessage(ctx, posted, withMsg); err != nil {
		h.log.WithError(err).Warn("approval: failed to attach decision buttons")
	}

	h.scheduleTimers(id)

	if userID != "" {
		h.maybeSendDM(ctx, userID, convkey.New(channelID, threadTs), req)
	}

	return id, nil
}

func (h *Handler) scheduleTimers(id int) {
	h.mu.Lock()
	p, ok := h.pending[id]
	if !ok {
		h.mu.Unlock()
		return
	}
	p.reminderTimer = time.AfterFunc(h.reminderInterval, func() { h.fireReminder(id) })
	p.expiryTimer = time.AfterFunc(h.expiryTimeout, func() { h.fireExpiry(id) })
	h.mu.Unlock()
}

func (h *Handler) fireReminder(id int) {
	h.mu.Lock()
	p, ok := h.pending[id]
	if !ok || p.stopped {
		h.mu.Unlock()
		return
	}
	channelID, threadTs := p.channelID, p.threadTs
	h.mu.Unlock()

	_, err := h.chat.PostMessage(context.Background(), channelID, threadTs, chatclient.Message{
		Text: "⏰ Still waiting on your approval above.",
	})
	if err != nil {
		h.log.WithError(err).Warn("approval: reminder post failed")
	}

	h.mu.Lock()
	if p, ok := h.pending[id]; ok && !p.stopped {
		p.reminderTimer = time.AfterFunc(h.reminderInterval, func() { h.fireReminder(id) })
	}
	h.mu.Unlock()
}

func (h *Handler) fireExpiry(id int) {
	if err := h.expire(context.Background(), id); err != nil {
		h.log.WithError(err).Warn("approval: expiry auto-decline failed")
	}
}

// HandleApprovalDecision is idempotent: only the first call for a given
// bridgeRequestId invokes approvalRespond and edits the UI.
func (h *Handler) HandleApprovalDecision(ctx context.Context, bridgeRequestID int, decision string) error {
	label := "✅ Approved"
	if decision != "accept" {
		label = "🚫 Declined"
	}
	return h.resolve(ctx, bridgeRequestID, decision, label)
}

// expire is the expiry-timer/stale-sweep path: same idempotent resolution
// as HandleApprovalDecision but with the spec's distinct "Expired" label
// (spec §4.5/§7 "edit the original UI to an 'Expired' state").
func (h *Handler) expire(ctx context.Context, bridgeRequestID int) error {
	return h.resolve(ctx, bridgeRequestID, "decline", "⌛ Expired")
}

// dispositionFor maps a (decision, label) pair to the metrics disposition
// bucket — expiry is tracked separately from an explicit user decline even
// though both round-trip the same "decline" decision to the subprocess.
func dispositionFor(decision, label string) string {
	if label == "⌛ Expired" {
		return "expired"
	}
	if decision == "accept" {
		return "approved"
	}
	return "declined"
}

func (h *Handler) resolve(ctx context.Context, bridgeRequestID int, decision, label string) error {
	h.mu.Lock()
	p, ok := h.pending[bridgeRequestID]
	if !ok || p.stopped {
		h.mu.Unlock()
		return nil
	}
	p.stopped = true
	if p.reminderTimer != nil {
		p.reminderTimer.Stop()
	}
	if p.expiryTimer != nil {
		p.expiryTimer.Stop()
	}
	delete(h.pending, bridgeRequestID)
	h.mu.Unlock()
	metrics.ApprovalsPending.Dec()
	metrics.ApprovalsTotal.WithLabelValues(dispositionFor(decision, label)).Inc()

	if err := h.subprocess.ApprovalRespond(ctx, bridgeRequestID, decision); err != nil {
		return fmt.Errorf("approval: approvalRespond: %w", err)
	}

	msg := approvalMessage(p.request, label)
	if err := h.chat.EditMessage(ctx, p.posted, msg); err != nil {
		h.log.WithError(err).Warn("approval: failed to edit decision UI")
	}
	return nil
}

// CleanupStaleApprovals sweeps pending approvals older than timeout and
// expires them, returning how many were swept. Intended to run on a
// schedule (spec §4.5 cleanupStaleApprovals) as a safety net alongside
// the per-approval expiry timer.
func (h *Handler) CleanupStaleApprovals(timeout time.Duration) int {
	h.mu.Lock()
	var stale []int
	cutoff := time.Now().Add(-timeout)
	for id, p := range h.pending {
		if !p.stopped && p.createdAt.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	h.mu.Unlock()

	for _, id := range stale {
		if err := h.expire(context.Background(), id); err != nil {
			h.log.WithError(err).Warn("approval: stale sweep decline failed")
		}
	}
	return len(stale)
}

func (h *Handler) maybeSendDM(ctx context.Context, userID string, key convkey.Key, req subprocess.ApprovalRequest) {
	debounceKey := userID + "|" + string(key)

	h.dmMu.Lock()
	last, seen := h.lastDMSent[debounceKey]
	if seen && time.Since(last) < dmDebounceWindow {
		h.dmMu.Unlock()
		return
	}
	h.lastDMSent[debounceKey] = time.Now()
	h.dmMu.Unlock()

	if err := h.chat.SendDirectMessage(ctx, userID, chatclient.Message{
		Text: "You have a pending approval request waiting in the conversation.",
	}); err != nil {
		h.log.WithError(err).Warn("approval: DM notification failed")
	}
}

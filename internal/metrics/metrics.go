// Package metrics exposes Prometheus counters and gauges for turnbridge's
// chat-surface bridging: turn lifecycle, activity panel churn, and
// approval outcomes.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// TurnsTotal counts turns by their terminal status (completed,
	// interrupted, failed) plus "started" when a turn begins.
	TurnsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnbridge_turns_total",
			Help: "Turns observed, by lifecycle status",
		},
		[]string{"status"},
	)

	// ActivityPostsTotal counts new activity panel/thread messages posted.
	ActivityPostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnbridge_activity_posts_total",
			Help: "Activity entries posted as new chat messages",
		},
		[]string{"kind"},
	)

	// ActivityEditsTotal counts in-place edits to already-posted activity
	// messages (tool_complete updating tool_start, or a mutated thinking
	// entry being re-flushed).
	ActivityEditsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnbridge_activity_edits_total",
			Help: "Activity entries that edited an already-posted message",
		},
		[]string{"kind"},
	)

	// ActivityDedupedTotal counts tool_start entries skipped because their
	// tool_complete landed in the same flush pass (spec §4.4/§8 race).
	ActivityDedupedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnbridge_activity_deduped_total",
			Help: "tool_start entries skipped in favour of a same-pass tool_complete",
		},
	)

	// StreamingTicksTotal counts periodic activity-panel renders.
	StreamingTicksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "turnbridge_streaming_ticks_total",
			Help: "Periodic activity panel render ticks",
		},
	)

	// ActiveConversations tracks how many conversations are currently
	// streaming a turn.
	ActiveConversations = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnbridge_active_conversations",
			Help: "Conversations currently streaming a turn",
		},
	)

	// ApprovalsTotal counts approval requests by their final disposition
	// (approved, declined, expired).
	ApprovalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnbridge_approvals_total",
			Help: "Approval requests, by final disposition",
		},
		[]string{"decision"},
	)

	// ApprovalsPending tracks how many approvals are currently
	// awaiting a decision.
	ApprovalsPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "turnbridge_approvals_pending",
			Help: "Approval requests currently awaiting a decision",
		},
	)

	// SubprocessRequestDuration records round-trip latency of JSON-RPC
	// requests sent to the subprocess, by method.
	SubprocessRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "turnbridge_subprocess_request_duration_seconds",
			Help:    "Subprocess JSON-RPC request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// SubprocessRestartsTotal counts subprocess exits seen by the
	// supervisor, by trigger: "crash" for an unexpected exit, which is
	// followed by a respawn, and "graceful", "sigterm" or "sigkill" for the
	// shutdown step that ended the process.
	SubprocessRestartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "turnbridge_subprocess_restarts_total",
			Help: "Subprocess restarts, by trigger",
		},
		[]string{"trigger"},
	)
)

func init() {
	prometheus.MustRegister(
		TurnsTotal,
		ActivityPostsTotal,
		ActivityEditsTotal,
		ActivityDedupedTotal,
		StreamingTicksTotal,
		ActiveConversations,
		ApprovalsTotal,
		ApprovalsPending,
		SubprocessRequestDuration,
		SubprocessRestartsTotal,
	)
}

package main

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/abortreg"
	"github.com/igoryan-dao/turnbridge/internal/activity"
	"github.com/igoryan-dao/turnbridge/internal/approval"
	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/config"
	"github.com/igoryan-dao/turnbridge/internal/convkey"
	"github.com/igoryan-dao/turnbridge/internal/jsonrpc"
	"github.com/igoryan-dao/turnbridge/internal/reaction"
	"github.com/igoryan-dao/turnbridge/internal/store"
	"github.com/igoryan-dao/turnbridge/internal/streaming"
	"github.com/igoryan-dao/turnbridge/internal/subprocess"
	"github.com/igoryan-dao/turnbridge/internal/voice"
)

// bridge owns every collaborator wired to the current subprocess
// incarnation. procsup.Supervisor's OnSpawn callback (bridge.onSpawn)
// rebuilds the subprocess-facing half (transport, Client, StreamingManager,
// ApprovalHandler, voice.Intake) on every (re)spawn, since a respawned
// subprocess gets brand new stdin/stdout pipes and none of the old RPC
// state survives the crash that triggered the restart. The
// subprocess-independent half (activity, reactions, abort registry, chat,
// store) is built once and outlives every respawn.
type bridge struct {
	cfg   *config.Config
	chat  chatclient.Client
	store *store.Store
	log   *logrus.Entry

	activity  *activity.Manager
	reactions *reaction.Manager
	aborts    *abortreg.Registry

	transcriber voice.Transcriber

	// allowedUserIDs mirrors the teacher's internal/telegram.Bot
	// allowedUserIDs map: empty means "no restriction", non-empty gates
	// every inbound message/callback/voice note by platform user id.
	allowedUserIDs map[int64]bool

	mu         sync.RWMutex
	subprocess *subprocess.Client
	streaming  *streaming.Manager
	approval   *approval.Handler
	voice      *voice.Intake
}

func newBridge(cfg *config.Config, chat chatclient.Client, st *store.Store, transcriber voice.Transcriber, log *logrus.Entry) *bridge {
	reactions := reaction.New(chat)
	allowed := make(map[int64]bool, len(cfg.AllowedUserIDs))
	for _, id := range cfg.AllowedUserIDs {
		allowed[id] = true
	}
	return &bridge{
		cfg:            cfg,
		chat:           chat,
		store:          st,
		log:            log,
		activity:       activity.New(chat, log),
		reactions:      reactions,
		aborts:         abortreg.New(),
		transcriber:    transcriber,
		allowedUserIDs: allowed,
	}
}

// userAllowed reports whether userID may drive the bridge. An empty
// allow-list means no restriction, matching the teacher's
// `len(b.allowedUserIDs) > 0 && !b.allowedUserIDs[userID]` gate.
func (b *bridge) userAllowed(userID int64) bool {
	return len(b.allowedUserIDs) == 0 || b.allowedUserIDs[userID]
}

// current is a consistent snapshot of the subprocess-facing collaborators,
// taken under the lock onSpawn also writes under.
type current struct {
	subprocess *subprocess.Client
	streaming  *streaming.Manager
	approval   *approval.Handler
	voice      *voice.Intake
}

func (b *bridge) current() current {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return current{subprocess: b.subprocess, streaming: b.streaming, approval: b.approval, voice: b.voice}
}

// onSpawn is procsup.OnSpawn: invoked synchronously from the supervisor's
// spawn path with the freshly (re)started subprocess's own stdin/stdout.
func (b *bridge) onSpawn(stdin io.WriteCloser, stdout io.ReadCloser) {
	transport := jsonrpc.New(stdin, b.log)
	// The read loop's own lifetime is bounded by stdout closing (Transport
	// .Start returns and calls Stop once the pipe is exhausted), which is
	// exactly the unexpected-exit signal procsup.Supervisor.watch reacts
	// to by respawning and calling onSpawn again — no separate cancellation
	// plumbing is needed here.
	go transport.Start(context.Background(), stdout)

	sp := subprocess.New(transport, b.log)
	streamMgr := streaming.New(sp, b.activity, b.reactions, b.aborts, b.chat, b.log)
	approvalHandler := approval.New(sp, b.chat, b.log)
	intake := voice.NewIntake(b.transcriber, sp, b.log)

	b.wireEvents(sp, streamMgr, approvalHandler)

	b.mu.Lock()
	b.subprocess = sp
	b.streaming = streamMgr
	b.approval = approvalHandler
	b.voice = intake
	b.mu.Unlock()

	b.log.Info("bridge: subprocess client (re)bound")
}

// eventKinds enumerates the full normalised vocabulary so every kind gets
// a handler registered, even ones HandleEvent treats as a no-op (spec §9
// "unknown variants funnel into a single branch" — here every KNOWN kind
// gets routed, so nothing is silently dropped by omission).
var eventKinds = []subprocess.Kind{
	subprocess.KindTurnStarted,
	subprocess.KindTurnCompleted,
	subprocess.KindItemStarted,
	subprocess.KindItemDelta,
	subprocess.KindItemCompleted,
	subprocess.KindToolStart,
	subprocess.KindToolComplete,
	subprocess.KindThinkingStarted,
	subprocess.KindThinkingDelta,
	subprocess.KindThinkingComplete,
	subprocess.KindExecBegin,
	subprocess.KindExecOutput,
	subprocess.KindExecEnd,
	subprocess.KindWebSearchStarted,
	subprocess.KindWebSearchCompleted,
	subprocess.KindFileChangeDelta,
	subprocess.KindTokensUpdated,
	subprocess.KindContextTurnID,
	subprocess.KindCommandOutput,
}

func (b *bridge) wireEvents(sp *subprocess.Client, streamMgr *streaming.Manager, approvalHandler *approval.Handler) {
	for _, kind := range eventKinds {
		kind := kind
		sp.On(kind, func(ev subprocess.Event) {
			if err := streamMgr.HandleEvent(context.Background(), ev); err != nil {
				b.log.WithError(err).WithField("kind", string(kind)).Warn("bridge: HandleEvent failed")
			}
		})
	}

	sp.On(subprocess.KindApprovalRequested, func(ev subprocess.Event) {
		if ev.Approval == nil {
			return
		}
		key, ok := streamMgr.FindContextByThreadID(ev.ThreadID)
		if !ok {
			b.log.WithField("thread_id", ev.ThreadID).Warn("bridge: approval request for unknown conversation")
			return
		}
		channelID, threadTs := convkey.Split(key)
		if _, err := approvalHandler.HandleApprovalRequest(context.Background(), *ev.Approval, channelID, threadTs, ""); err != nil {
			b.log.WithError(err).Warn("bridge: HandleApprovalRequest failed")
		}
	})
}

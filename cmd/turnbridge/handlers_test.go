package main

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igoryan-dao/turnbridge/internal/approval"
	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/config"
	"github.com/igoryan-dao/turnbridge/internal/convkey"
	"github.com/igoryan-dao/turnbridge/internal/jsonrpc"
	"github.com/igoryan-dao/turnbridge/internal/store"
	"github.com/igoryan-dao/turnbridge/internal/streaming"
	"github.com/igoryan-dao/turnbridge/internal/subprocess"
)

type fakeChat struct {
	mu     sync.Mutex
	posted []chatclient.Message
}

func (f *fakeChat) PostMessage(ctx context.Context, channelID, threadTs string, msg chatclient.Message) (chatclient.Posted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted = append(f.posted, msg)
	return chatclient.Posted{ChannelID: channelID, ThreadTs: threadTs, MessageTs: "ts-1"}, nil
}
func (f *fakeChat) EditMessage(ctx context.Context, posted chatclient.Posted, msg chatclient.Message) error {
	return nil
}
func (f *fakeChat) AddReaction(ctx context.Context, posted chatclient.Posted, emoji string) error {
	return nil
}
func (f *fakeChat) RemoveReaction(ctx context.Context, posted chatclient.Posted, emoji string) error {
	return nil
}
func (f *fakeChat) PollShareTs(ctx context.Context, channelID, fileID string) (string, bool) {
	return fileID, true
}
func (f *fakeChat) SendDirectMessage(ctx context.Context, userID string, msg chatclient.Message) error {
	return nil
}

type fakeStdin struct {
	mu  sync.Mutex
	buf []byte
}

func (f *fakeStdin) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.buf = append(f.buf, p...)
	return len(p), nil
}

func sendLine(t *testing.T, w *io.PipeWriter, v map[string]interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	_, err = w.Write(append(data, '\n'))
	require.NoError(t, err)
}

// newTestBridge wires a bridge the same way onSpawn does, but against a
// fake stdin/stdout pair so thread/start responses can be scripted.
func newTestBridge(t *testing.T) (*bridge, *io.PipeWriter, func()) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	chat := &fakeChat{}
	st := store.Open(t.TempDir()+"/sessions.json", log)

	br := newBridge(&config.Config{Defaults: config.Defaults{UpdateRateSeconds: 1, ThreadCharLimit: 100, ReasoningEffort: "medium"}}, chat, st, nil, log)

	stdin := &fakeStdin{}
	transport := jsonrpc.New(stdin, log)
	stdoutR, stdoutW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go transport.Start(ctx, stdoutR)

	sp := subprocess.New(transport, log)
	streamMgr := streaming.New(sp, br.activity, br.reactions, br.aborts, br.chat, log)
	approvalHandler := approval.New(sp, br.chat, log)

	br.mu.Lock()
	br.subprocess = sp
	br.streaming = streamMgr
	br.approval = approvalHandler
	br.mu.Unlock()

	cleanup := func() {
		cancel()
		_ = stdoutW.Close()
	}
	return br, stdoutW, cleanup
}

func TestEnsureThreadStartsNewThreadWhenNoneStored(t *testing.T) {
	br, stdoutW, cleanup := newTestBridge(t)
	defer cleanup()

	done := make(chan struct{})
	var threadID string
	var err error
	go func() {
		threadID, err = br.ensureThread(context.Background(), br.current().subprocess, "C1", "")
		close(done)
	}()

	sendLine(t, stdoutW, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  map[string]interface{}{"thread": map[string]interface{}{"id": "thread-abc"}},
	})

	<-done
	require.NoError(t, err)
	assert.Equal(t, "thread-abc", threadID)
	assert.Equal(t, "thread-abc", br.store.GetEffectiveThreadID("C1", ""))
}

func TestHandleButtonActionAbortMarksConversationAborted(t *testing.T) {
	br, _, cleanup := newTestBridge(t)
	defer cleanup()

	br.handleButtonAction(context.Background(), "abort:C1:T1")

	assert.True(t, br.aborts.IsAborted(convkey.Key("C1:T1")))
}

func TestHandleButtonActionUnknownActionIsNoop(t *testing.T) {
	br, _, cleanup := newTestBridge(t)
	defer cleanup()

	assert.NotPanics(t, func() {
		br.handleButtonAction(context.Background(), "something-else:value")
	})
}

func TestRespondApprovalMalformedValueDoesNotPanic(t *testing.T) {
	br, _, cleanup := newTestBridge(t)
	defer cleanup()

	assert.NotPanics(t, func() {
		br.respondApproval(context.Background(), br.current(), "not-a-number", "accept")
	})
}

func TestHandleIncomingTextForkCommandRejectsNonDiscordChat(t *testing.T) {
	br, _, cleanup := newTestBridge(t)
	defer cleanup()

	br.handleIncomingText(context.Background(), "C1", "", chatclient.Posted{ChannelID: "C1"}, "/fork 0")

	chat := br.chat.(*fakeChat)
	chat.mu.Lock()
	defer chat.mu.Unlock()
	require.Len(t, chat.posted, 1)
	assert.Contains(t, chat.posted[0].Text, "only available on Discord")
}

package streaming

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igoryan-dao/turnbridge/internal/abortreg"
	"github.com/igoryan-dao/turnbridge/internal/activity"
	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/convkey"
	"github.com/igoryan-dao/turnbridge/internal/jsonrpc"
	"github.com/igoryan-dao/turnbridge/internal/reaction"
	"github.com/igoryan-dao/turnbridge/internal/subprocess"
)

type fakeChat struct {
	mu      sync.Mutex
	posts   []chatclient.Message
	edits   []chatclient.Message
	added   []string
	removed []string
	seq     int
}

func (f *fakeChat) PostMessage(ctx context.Context, channelID, threadTs string, msg chatclient.Message) (chatclient.Posted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	f.posts = append(f.posts, msg)
	return chatclient.Posted{ChannelID: channelID, ThreadTs: threadTs, MessageTs: "m" + string(rune('0'+f.seq))}, nil
}
func (f *fakeChat) EditMessage(ctx context.Context, posted chatclient.Posted, msg chatclient.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, msg)
	return nil
}
func (f *fakeChat) AddReaction(ctx context.Context, posted chatclient.Posted, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added = append(f.added, emoji)
	return nil
}
func (f *fakeChat) RemoveReaction(ctx context.Context, posted chatclient.Posted, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, emoji)
	return nil
}
func (f *fakeChat) PollShareTs(ctx context.Context, channelID, fileID string) (string, bool) {
	return "", false
}
func (f *fakeChat) SendDirectMessage(ctx context.Context, userID string, msg chatclient.Message) error {
	return nil
}

func newTestManager(t *testing.T) (*Manager, *fakeChat, *subprocess.Client, func()) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())

	stdinBuf := &discardWriter{}
	transport := jsonrpc.New(stdinBuf, log)
	stdoutR, stdoutW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	go transport.Start(ctx, stdoutR)

	sp := subprocess.New(transport, log)
	chat := &fakeChat{}
	act := activity.New(chat, log)
	react := reaction.New(chat)
	aborts := abortreg.New()

	m := New(sp, act, react, aborts, chat, log)
	cleanup := func() {
		cancel()
		_ = stdoutW.Close()
	}
	return m, chat, sp, cleanup
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testCtx(key convkey.Key) Context {
	return Context{
		ConversationKey: key,
		ChannelID:       "C1",
		ThreadID:        "thread-1",
		UpdateRateMs:    60 * 60 * 1000, // effectively disable the real ticker during tests
		ThreadCharLimit: 2000,
	}
}

func TestStartStreamingPostsInitialActivityPanel(t *testing.T) {
	m, chat, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	m.StartStreaming(context.Background(), testCtx(key))

	require.Len(t, chat.posts, 1)
	assert.Contains(t, chat.posts[0].Text, "Working")
}

func TestStartStreamingClearsStaleProcessingReaction(t *testing.T) {
	m, chat, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	oldMsg := chatclient.Posted{ChannelID: "C1", MessageTs: "orig"}
	first := testCtx(key)
	first.OriginalMessage = oldMsg
	m.StartStreaming(context.Background(), first)

	require.Equal(t, []string{reaction.DefaultProcessing}, chat.added)

	second := testCtx(key)
	m.StartStreaming(context.Background(), second)

	assert.Contains(t, chat.removed, reaction.DefaultProcessing, "restarting on the same key must clear the stale reaction")
}

func TestRegisterTurnIDIsFirstWriterWins(t *testing.T) {
	m, _, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	m.StartStreaming(context.Background(), testCtx(key))

	m.RegisterTurnID(key, "0")
	m.RegisterTurnID(key, "1")

	got, ok := m.FindContextByTurnID("0")
	require.True(t, ok)
	assert.Equal(t, key, got)

	_, ok = m.FindContextByTurnID("1")
	assert.False(t, ok, "second RegisterTurnID call must be ignored")
}

func TestFindContextByThreadIDResolves(t *testing.T) {
	m, _, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	m.StartStreaming(context.Background(), testCtx(key))

	got, ok := m.FindContextByThreadID("thread-1")
	require.True(t, ok)
	assert.Equal(t, key, got)
}

func TestStopStreamingIsIdempotent(t *testing.T) {
	m, _, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	m.StartStreaming(context.Background(), testCtx(key))

	m.StopStreaming(key)
	assert.NotPanics(t, func() { m.StopStreaming(key) })

	_, ok := m.FindContextByThreadID("thread-1")
	assert.False(t, ok)
}

func TestToolCompleteUpdatesSameActivityMessage(t *testing.T) {
	m, chat, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	m.StartStreaming(context.Background(), testCtx(key))

	require.NoError(t, m.HandleEvent(context.Background(), subprocess.Event{
		Kind: subprocess.KindToolStart, ThreadID: "thread-1", ItemID: "t1", Tool: "Grep", ToolInput: "search",
	}))
	require.NoError(t, m.Tick(context.Background(), key, true))
	postsAfterStart := len(chat.posts)

	require.NoError(t, m.HandleEvent(context.Background(), subprocess.Event{
		Kind: subprocess.KindToolComplete, ThreadID: "thread-1", ItemID: "t1", Tool: "Grep",
		Raw: map[string]interface{}{"matchCount": float64(42)},
	}))
	require.NoError(t, m.Tick(context.Background(), key, true))

	assert.Equal(t, postsAfterStart, len(chat.posts), "tool_complete must edit, not post a new message")
	require.NotEmpty(t, chat.edits)
	assert.Contains(t, chat.edits[len(chat.edits)-1].Text, "42 matches")
}

func TestTurnCompletedTransitionsToCompletedAndTearsDownState(t *testing.T) {
	m, chat, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	ctx := testCtx(key)
	ctx.OriginalMessage = chatclient.Posted{ChannelID: "C1", MessageTs: "orig"}
	m.StartStreaming(context.Background(), ctx)
	m.RegisterTurnID(key, "0")

	require.NoError(t, m.HandleEvent(context.Background(), subprocess.Event{
		Kind: subprocess.KindTurnCompleted, ThreadID: "thread-1", TurnID: "0",
		Raw: map[string]interface{}{"status": "completed"},
	}))

	assert.Contains(t, chat.removed, reaction.DefaultProcessing)
	assert.False(t, m.aborts.IsAborted(key))
	_, ok := m.FindContextByThreadID("thread-1")
	assert.False(t, ok, "turn:completed must tear down the conversation state")
}

func TestTurnCompletedHonoursAbortOverridingReportedStatus(t *testing.T) {
	m, chat, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	ctx := testCtx(key)
	ctx.OriginalMessage = chatclient.Posted{ChannelID: "C1", MessageTs: "orig"}
	ctx.TurnID = "0"
	m.StartStreaming(context.Background(), ctx)
	m.RegisterTurnID(key, "0")

	m.aborts.MarkAborted(key)

	require.NoError(t, m.HandleEvent(context.Background(), subprocess.Event{
		Kind: subprocess.KindTurnCompleted, ThreadID: "thread-1", TurnID: "0",
		Raw: map[string]interface{}{"status": "completed"},
	}))

	assert.Contains(t, chat.added, reaction.DefaultAborted, "abort overrides a reported-successful status")
}

func TestAbortMarksRegistryAndSkipsInterruptWithoutTurnID(t *testing.T) {
	m, _, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	m.StartStreaming(context.Background(), testCtx(key)) // no TurnID registered yet

	require.NoError(t, m.Abort(context.Background(), key))
	assert.True(t, m.aborts.IsAborted(key))
}

func TestHandleEventIgnoresUnknownConversationKey(t *testing.T) {
	m, _, _, cleanup := newTestManager(t)
	defer cleanup()

	err := m.HandleEvent(context.Background(), subprocess.Event{Kind: subprocess.KindItemDelta, ThreadID: "nope", Content: "x"})
	assert.NoError(t, err)
}

func TestFailTurnStartWithNoStatePostsErrorIntoChannel(t *testing.T) {
	m, chat, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "T1")
	require.NoError(t, m.FailTurnStart(context.Background(), key, "boom"))

	require.Len(t, chat.posts, 1, "ensureThread failing before StartStreaming ever ran must still surface an error")
	assert.Contains(t, chat.posts[0].Text, "boom")
}

func TestFailTurnStartEditsActivityMessageNotOriginalMessage(t *testing.T) {
	m, chat, _, cleanup := newTestManager(t)
	defer cleanup()

	key := convkey.New("C1", "")
	ctx := testCtx(key)
	ctx.OriginalMessage = chatclient.Posted{ChannelID: "C1", MessageTs: "orig"}
	m.StartStreaming(context.Background(), ctx) // posts the activity panel, recording ActivityMessageTs

	require.NoError(t, m.FailTurnStart(context.Background(), key, "boom"))

	require.NotEmpty(t, chat.edits, "the activity message must be edited to the failure text")
	assert.Contains(t, chat.edits[len(chat.edits)-1].Text, "boom")
	assert.Contains(t, chat.added, reaction.DefaultError, "the user's original message gets the error reaction, not an edit")
}

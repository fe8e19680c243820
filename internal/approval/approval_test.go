package approval

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igoryan-dao/turnbridge/internal/chatclient"
	"github.com/igoryan-dao/turnbridge/internal/jsonrpc"
	"github.com/igoryan-dao/turnbridge/internal/subprocess"
)

// autoRespondWriter stands in for the subprocess's stdin: every request
// line written to it gets an immediate "{}" result written back on
// stdoutW, as if the subprocess had instantly accepted it. Without this,
// ApprovalRespond would block for jsonrpc.DefaultTimeout (30s) waiting for
// a reply that never comes.
type autoRespondWriter struct {
	stdoutW *io.PipeWriter
}

func (a *autoRespondWriter) Write(p []byte) (int, error) {
	line := append([]byte(nil), p...)
	go func() {
		var env struct {
			ID json.RawMessage `json:"id"`
		}
		if err := json.Unmarshal(line, &env); err != nil || env.ID == nil {
			return
		}
		resp := append(append([]byte(`{"jsonrpc":"2.0","id":`), env.ID...), []byte(`,"result":{}}`+"\n")...)
		_, _ = a.stdoutW.Write(resp)
	}()
	return len(p), nil
}

type fakeChat struct {
	mu    sync.Mutex
	posts []chatclient.Message
	edits []chatclient.Message
	dms   []string
}

func (f *fakeChat) PostMessage(ctx context.Context, channelID, threadTs string, msg chatclient.Message) (chatclient.Posted, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posts = append(f.posts, msg)
	return chatclient.Posted{ChannelID: channelID, ThreadTs: threadTs, MessageTs: "m1"}, nil
}
func (f *fakeChat) EditMessage(ctx context.Context, posted chatclient.Posted, msg chatclient.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.edits = append(f.edits, msg)
	return nil
}
func (f *fakeChat) AddReaction(ctx context.Context, posted chatclient.Posted, emoji string) error { return nil }
func (f *fakeChat) RemoveReaction(ctx context.Context, posted chatclient.Posted, emoji string) error {
	return nil
}
func (f *fakeChat) PollShareTs(ctx context.Context, channelID, fileID string) (string, bool) {
	return "", false
}
func (f *fakeChat) SendDirectMessage(ctx context.Context, userID string, msg chatclient.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dms = append(f.dms, userID)
	return nil
}

func newTestHandler(t *testing.T) (*Handler, *fakeChat, *subprocess.Client, func()) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	stdoutR, stdoutW := io.Pipe()
	transport := jsonrpc.New(&autoRespondWriter{stdoutW: stdoutW}, log)
	ctx, cancel := context.WithCancel(context.Background())
	go transport.Start(ctx, stdoutR)

	sp := subprocess.New(transport, log)
	chat := &fakeChat{}
	h := New(sp, chat, log)

	cleanup := func() {
		cancel()
		_ = stdoutW.Close()
	}
	return h, chat, sp, cleanup
}

func TestHandleApprovalRequestPostsUIWithButtons(t *testing.T) {
	h, chat, _, cleanup := newTestHandler(t)
	defer cleanup()
	h.WithIntervals(time.Hour, time.Hour)

	id, err := h.HandleApprovalRequest(context.Background(), subprocess.ApprovalRequest{
		Kind: "command", Command: "rm -rf /tmp/x",
	}, "C1", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.Len(t, chat.posts, 1)
	require.Len(t, chat.edits, 1, "buttons are attached via a follow-up edit")
	assert.Len(t, chat.edits[0].Components, 2)
}

func TestHandleApprovalDecisionIsIdempotent(t *testing.T) {
	h, chat, _, cleanup := newTestHandler(t)
	defer cleanup()
	h.WithIntervals(time.Hour, time.Hour)

	id, err := h.HandleApprovalRequest(context.Background(), subprocess.ApprovalRequest{Kind: "command", Command: "ls"}, "C1", "", "")
	require.NoError(t, err)

	require.NoError(t, h.HandleApprovalDecision(context.Background(), id, "accept"))
	editsAfterFirst := len(chat.edits)

	require.NoError(t, h.HandleApprovalDecision(context.Background(), id, "decline"))
	assert.Len(t, chat.edits, editsAfterFirst, "a second decision on the same request must be a no-op")
}

func TestExpiryEditsUIToExpiredAndDeclines(t *testing.T) {
	h, chat, _, cleanup := newTestHandler(t)
	defer cleanup()
	h.WithIntervals(time.Hour, 10*time.Millisecond)

	_, err := h.HandleApprovalRequest(context.Background(), subprocess.ApprovalRequest{Kind: "command", Command: "ls"}, "C1", "", "")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		chat.mu.Lock()
		defer chat.mu.Unlock()
		for _, e := range chat.edits {
			if strings.Contains(e.Text, "Expired") {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestMaybeSendDMDebouncesWithinWindow(t *testing.T) {
	h, chat, _, cleanup := newTestHandler(t)
	defer cleanup()
	h.WithIntervals(time.Hour, time.Hour)

	_, err := h.HandleApprovalRequest(context.Background(), subprocess.ApprovalRequest{Kind: "command", Command: "ls"}, "C1", "", "U1")
	require.NoError(t, err)
	_, err = h.HandleApprovalRequest(context.Background(), subprocess.ApprovalRequest{Kind: "command", Command: "ls2"}, "C1", "", "U1")
	require.NoError(t, err)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	assert.Len(t, chat.dms, 1, "second request within the debounce window must not send another DM")
}

func TestCleanupStaleApprovalsSweepsOldEntries(t *testing.T) {
	h, chat, _, cleanup := newTestHandler(t)
	defer cleanup()
	h.WithIntervals(time.Hour, time.Hour)

	_, err := h.HandleApprovalRequest(context.Background(), subprocess.ApprovalRequest{Kind: "command", Command: "ls"}, "C1", "", "")
	require.NoError(t, err)

	swept := h.CleanupStaleApprovals(-time.Second) // everything is "older" than a negative cutoff
	assert.Equal(t, 1, swept)

	chat.mu.Lock()
	defer chat.mu.Unlock()
	found := false
	for _, e := range chat.edits {
		if strings.Contains(e.Text, "Expired") {
			found = true
		}
	}
	assert.True(t, found)
}

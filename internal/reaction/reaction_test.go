package reaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igoryan-dao/turnbridge/internal/chatclient"
)

type fakeClient struct {
	added   []string
	removed []string
}

func (f *fakeClient) PostMessage(ctx context.Context, channelID, threadTs string, msg chatclient.Message) (chatclient.Posted, error) {
	return chatclient.Posted{}, nil
}
func (f *fakeClient) EditMessage(ctx context.Context, posted chatclient.Posted, msg chatclient.Message) error {
	return nil
}
func (f *fakeClient) AddReaction(ctx context.Context, posted chatclient.Posted, emoji string) error {
	f.added = append(f.added, emoji)
	return nil
}
func (f *fakeClient) RemoveReaction(ctx context.Context, posted chatclient.Posted, emoji string) error {
	f.removed = append(f.removed, emoji)
	return nil
}
func (f *fakeClient) PollShareTs(ctx context.Context, channelID, fileID string) (string, bool) {
	return "", false
}
func (f *fakeClient) SendDirectMessage(ctx context.Context, userID string, msg chatclient.Message) error {
	return nil
}

func TestProcessingThenClearedRemovesOnly(t *testing.T) {
	f := &fakeClient{}
	m := New(f)
	msg := chatclient.Posted{ChannelID: "C1", MessageTs: "1"}

	require.NoError(t, m.StartProcessing(context.Background(), msg))
	require.NoError(t, m.Clear(context.Background(), msg))

	assert.Equal(t, []string{DefaultProcessing}, f.added)
	assert.Equal(t, []string{DefaultProcessing}, f.removed)
}

func TestProcessingThenAbortedSwaps(t *testing.T) {
	f := &fakeClient{}
	m := New(f)
	msg := chatclient.Posted{ChannelID: "C1", MessageTs: "1"}

	require.NoError(t, m.StartProcessing(context.Background(), msg))
	require.NoError(t, m.Abort(context.Background(), msg))

	assert.Equal(t, []string{DefaultProcessing, DefaultAborted}, f.added)
	assert.Equal(t, []string{DefaultProcessing}, f.removed)
}

func TestStartProcessingIsIdempotent(t *testing.T) {
	f := &fakeClient{}
	m := New(f)
	msg := chatclient.Posted{ChannelID: "C1", MessageTs: "1"}

	require.NoError(t, m.StartProcessing(context.Background(), msg))
	require.NoError(t, m.StartProcessing(context.Background(), msg))

	assert.Equal(t, []string{DefaultProcessing}, f.added, "second StartProcessing call must be a no-op")
	assert.Empty(t, f.removed)
}

func TestIndependentMessagesDoNotInterfere(t *testing.T) {
	f := &fakeClient{}
	m := New(f)
	a := chatclient.Posted{ChannelID: "C1", MessageTs: "1"}
	b := chatclient.Posted{ChannelID: "C1", MessageTs: "2"}

	require.NoError(t, m.StartProcessing(context.Background(), a))
	require.NoError(t, m.Error(context.Background(), b))

	assert.Equal(t, []string{DefaultProcessing, DefaultError}, f.added)
	assert.Empty(t, f.removed)
}

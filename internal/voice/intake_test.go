package voice

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/igoryan-dao/turnbridge/internal/jsonrpc"
	"github.com/igoryan-dao/turnbridge/internal/subprocess"
)

// autoRespondWriter stands in for the subprocess's stdin, acknowledging
// every request instantly (see internal/approval's twin for the reasoning
// behind this instead of a real 30s-timeout round trip).
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

type fakeTranscriber struct {
	text string
	err  error
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	return f.text, f.err
}

func newTestSubprocessClient(t *testing.T) (*subprocess.Client, func()) {
	t.Helper()
	log := logrus.NewEntry(logrus.New())
	stdoutR, stdoutW := io.Pipe()
	transport := jsonrpc.New(&autoRespondWriter{stdoutW: stdoutW}, log)
	ctx, cancel := context.WithCancel(context.Background())
	go transport.Start(ctx, stdoutR)

	cleanup := func() {
		cancel()
		_ = stdoutW.Close()
	}
	return subprocess.New(transport, log), cleanup
}

func TestSubmitVoiceMessageStartsTurnWithTranscript(t *testing.T) {
	sp, cleanup := newTestSubprocessClient(t)
	defer cleanup()

	audio, err := os.CreateTemp(t.TempDir(), "voice-*.ogg")
	require.NoError(t, err)
	require.NoError(t, audio.Close())

	intake := NewIntake(&fakeTranscriber{text: "please run the tests"}, sp, logrus.NewEntry(logrus.New()))

	text, err := intake.SubmitVoiceMessage(context.Background(), "thread-1", audio.Name())
	require.NoError(t, err)
	assert.Equal(t, "please run the tests", text)

	_, statErr := os.Stat(audio.Name())
	assert.True(t, os.IsNotExist(statErr), "the downloaded audio file should be cleaned up")
}

func TestSubmitVoiceMessageRejectsEmptyTranscript(t *testing.T) {
	sp, cleanup := newTestSubprocessClient(t)
	defer cleanup()

	audio, err := os.CreateTemp(t.TempDir(), "voice-*.ogg")
	require.NoError(t, err)
	require.NoError(t, audio.Close())

	intake := NewIntake(&fakeTranscriber{text: ""}, sp, logrus.NewEntry(logrus.New()))
	_, err = intake.SubmitVoiceMessage(context.Background(), "thread-1", audio.Name())
	assert.Error(t, err)
}

func TestSubmitVoiceMessagePropagatesTranscriptionError(t *testing.T) {
	sp, cleanup := newTestSubprocessClient(t)
	defer cleanup()

	audio, err := os.CreateTemp(t.TempDir(), "voice-*.ogg")
	require.NoError(t, err)
	require.NoError(t, audio.Close())

	intake := NewIntake(&fakeTranscriber{err: assert.AnError}, sp, logrus.NewEntry(logrus.New()))
	_, err = intake.SubmitVoiceMessage(context.Background(), "thread-1", audio.Name())
	assert.Error(t, err)
}

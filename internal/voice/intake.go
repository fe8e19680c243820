package voice

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/subprocess"
)

// Intake transcribes a downloaded voice note and starts a turn with the
// transcript as ordinary text input, the way the teacher fed transcribed
// audio into responseCh rather than treating voice as a distinct input
// kind.
type Intake struct {
	transcriber Transcriber
	subprocess  *subprocess.Client
	log         *logrus.Entry
}

// NewIntake constructs an Intake wired to a Transcriber and the
// subprocess client that turns get started against.
func NewIntake(t Transcriber, sp *subprocess.Client, log *logrus.Entry) *Intake {
	return &Intake{transcriber: t, subprocess: sp, log: log}
}

// SubmitVoiceMessage transcribes audioPath and starts a turn on threadID
// with the transcript, removing the downloaded audio file once done (the
// teacher's Transcribe callers are likewise responsible for their own
// cleanup of the inbound file).
func (i *Intake) SubmitVoiceMessage(ctx context.Context, threadID, audioPath string) (string, error) {
	defer os.Remove(audioPath)

	text, err := i.transcriber.Transcribe(ctx, audioPath)
	if err != nil {
		return "", fmt.Errorf("voice: transcribe: %w", err)
	}
	if text == "" {
		return "", fmt.Errorf("voice: empty transcription for %s", audioPath)
	}

	i.log.WithField("thread_id", threadID).Info("voice: submitting transcribed turn")
	if err := i.subprocess.TurnStart(ctx, subprocess.TurnStartParams{
		ThreadID: threadID,
		Input:    []subprocess.TurnInputPart{{Type: "text", Text: text}},
	}); err != nil {
		return "", fmt.Errorf("voice: turn/start: %w", err)
	}

	return text, nil
}

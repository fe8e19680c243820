// Package voice transcribes inbound voice messages and feeds the result
// into a turn the same way the teacher's internal/whisper fed transcribed
// audio into its response channel. spec.md is silent on voice messages;
// this is a supplemented feature carried over from the teacher.
package voice

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"
)

// Transcriber converts a recorded audio file at path into text.
type Transcriber interface {
	Transcribe(ctx context.Context, path string) (string, error)
}

// LocalTranscriber shells out to ffmpeg then a local whisper.cpp-style
// binary, exactly as the teacher's internal/whisper.Transcriber does.
type LocalTranscriber struct {
	whisperPath string
	modelPath   string
	tmpDir      string
	log         *logrus.Entry
}

// NewLocalTranscriber builds a LocalTranscriber, creating tmpDir if it
// does not already exist.
func NewLocalTranscriber(whisperPath, modelPath, tmpDir string, log *logrus.Entry) (*LocalTranscriber, error) {
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("voice: create tmp dir: %w", err)
	}
	return &LocalTranscriber{whisperPath: whisperPath, modelPath: modelPath, tmpDir: tmpDir, log: log}, nil
}

// Transcribe converts the OGG voice note to a 16kHz mono WAV and runs it
// through the local whisper binary.
func (t *LocalTranscriber) Transcribe(ctx context.Context, oggPath string) (string, error) {
	wavPath := filepath.Join(t.tmpDir, strings.TrimSuffix(filepath.Base(oggPath), filepath.Ext(oggPath))+".wav")

	convert := exec.CommandContext(ctx, "ffmpeg", "-y", "-i", oggPath, "-ar", "16000", "-ac", "1", "-c:a", "pcm_s16le", wavPath)
	if output, err := convert.CombinedOutput(); err != nil {
		return "", fmt.Errorf("voice: ffmpeg conversion failed: %w (output: %s)", err, string(output))
	}
	defer os.Remove(wavPath)

	run := exec.CommandContext(ctx, t.whisperPath, "-m", t.modelPath, "-f", wavPath, "-nt", "-l", "auto")
	output, err := run.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("voice: whisper transcription failed: %w (stderr: %s)", err, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("voice: whisper transcription failed: %w", err)
	}

	text := cleanWhisperOutput(string(output))
	t.log.WithField("chars", len(text)).Debug("voice: transcribed local audio")
	return text, nil
}

func cleanWhisperOutput(raw string) string {
	lines := strings.Split(raw, "\n")
	var result []string
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "whisper_") || strings.HasPrefix(trimmed, "system_info") || strings.HasPrefix(trimmed, "main:") {
			continue
		}
		result = append(result, trimmed)
	}
	return strings.Join(result, " ")
}

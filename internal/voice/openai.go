package voice

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
)

// CloudTranscriber transcribes via OpenAI's audio/transcriptions API,
// a drop-in alternative to LocalTranscriber for deployments without a
// local whisper binary available.
type CloudTranscriber struct {
	apiKey  string
	client  *http.Client
	baseURL string
}

const openAITranscriptionsURL = "https://api.openai.com/v1/audio/transcriptions"

// NewCloudTranscriber builds a CloudTranscriber for the given API key.
func NewCloudTranscriber(apiKey string) *CloudTranscriber {
	return &CloudTranscriber{apiKey: apiKey, client: &http.Client{}, baseURL: openAITranscriptionsURL}
}

func (t *CloudTranscriber) Transcribe(ctx context.Context, path string) (string, error) {
	if t.apiKey == "" {
		return "", fmt.Errorf("voice: OpenAI API key is not set")
	}

	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(part, file); err != nil {
		return "", err
	}
	_ = writer.WriteField("model", "whisper-1")
	if err := writer.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL, body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+t.apiKey)

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("voice: OpenAI transcription failed (%d): %s", resp.StatusCode, string(respBody))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", err
	}
	return result.Text, nil
}

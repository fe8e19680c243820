package voice

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloudTranscriberPostsMultipartAndParsesText(t *testing.T) {
	tmpFile, err := os.CreateTemp(t.TempDir(), "voice-*.ogg")
	require.NoError(t, err)
	_, err = tmpFile.Write([]byte("dummy audio content"))
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.NoError(t, r.ParseMultipartForm(10<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"text": "hello world"}`))
	}))
	defer server.Close()

	tr := NewCloudTranscriber("test-key")
	tr.baseURL = server.URL

	text, err := tr.Transcribe(context.Background(), tmpFile.Name())
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestCloudTranscriberRequiresAPIKey(t *testing.T) {
	tr := NewCloudTranscriber("")
	_, err := tr.Transcribe(context.Background(), "whatever.ogg")
	assert.Error(t, err)
}

func TestCloudTranscriberSurfacesNonOKStatus(t *testing.T) {
	tmpFile, err := os.CreateTemp(t.TempDir(), "voice-*.ogg")
	require.NoError(t, err)
	require.NoError(t, tmpFile.Close())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	tr := NewCloudTranscriber("test-key")
	tr.baseURL = server.URL

	_, err = tr.Transcribe(context.Background(), tmpFile.Name())
	assert.Error(t, err)
}

package transcription

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

func newTestTranscriber(t *testing.T, handler http.HandlerFunc) *OpenAI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL + "/v1"
	tr, err := NewOpenAI(cfg, logging.NewNopLogger())
	require.NoError(t, err)
	return tr
}

func TestNewOpenAI_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAI(DefaultConfig(), logging.NewNopLogger())
	assert.Error(t, err)
}

func TestTranscribe(t *testing.T) {
	tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "audio.m4a", header.Filename)
		data, _ := io.ReadAll(file)
		assert.Equal(t, []byte("fake-audio"), data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"task":"transcribe","language":"english","duration":12.5,"text":"Hi I'm Maria."}`)
	})

	result, err := tr.Transcribe(context.Background(), []byte("fake-audio"), "")
	require.NoError(t, err)
	assert.Equal(t, "Hi I'm Maria.", result.Text)
	assert.Equal(t, 12500*time.Millisecond, result.Duration)
}

func TestTranscribe_ServiceError(t *testing.T) {
	tr := newTestTranscriber(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	_, err := tr.Transcribe(context.Background(), []byte("x"), "audio.m4a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai transcription")
}

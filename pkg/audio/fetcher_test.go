package audio

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(DefaultConfig(), logging.NewNopLogger())
	data, err := f.Fetch(context.Background(), srv.URL+"/a.m4a")

	require.NoError(t, err)
	assert.Equal(t, []byte("audio-bytes"), data)
}

func TestFetch_NonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusForbidden)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(DefaultConfig(), logging.NewNopLogger())
	_, err := f.Fetch(context.Background(), srv.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, http.StatusForbidden, fe.StatusCode)
	assert.Contains(t, fe.Error(), "unexpected status 403")
}

func TestFetch_TransportError(t *testing.T) {
	f := NewHTTPFetcher(DefaultConfig(), logging.NewNopLogger())
	_, err := f.Fetch(context.Background(), "http://127.0.0.1:1/missing")

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Zero(t, fe.StatusCode)
	assert.Error(t, fe.Unwrap())
}

func TestFetch_InvalidURL(t *testing.T) {
	f := NewHTTPFetcher(DefaultConfig(), logging.NewNopLogger())
	_, err := f.Fetch(context.Background(), "://bad")

	var fe *FetchError
	assert.True(t, errors.As(err, &fe))
}

func TestFetch_TooLarge(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(Config{MaxBytes: 16}, logging.NewNopLogger())
	_, err := f.Fetch(context.Background(), srv.URL)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Contains(t, fe.Error(), "exceeds 16 B")
}

func TestFilenameHint(t *testing.T) {
	tests := map[string]string{
		"https://cdn.example.com/rec/abc.MP3?sig=1": "audio.mp3",
		"https://cdn.example.com/rec/abc.wav":       "audio.wav",
		"https://cdn.example.com/rec/abc":           "audio.m4a",
		"https://cdn.example.com/rec/abc.txt":       "audio.m4a",
		"://bad":                                    "audio.m4a",
	}
	for in, want := range tests {
		assert.Equal(t, want, FilenameHint(in), in)
	}
}

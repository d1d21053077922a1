// Package audio downloads meeting recordings.
package audio

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

// DefaultTimeout bounds a single download.
const DefaultTimeout = 60 * time.Second

// DefaultMaxBytes caps the size of a downloaded recording.
const DefaultMaxBytes = 200 * humanize.MByte

// FetchError reports an audio download that failed or returned a non-2xx status.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Fetcher resolves an audio URL to its bytes.
type Fetcher interface {
	Fetch(ctx context.Context, audioURL string) ([]byte, error)
}

// Config configures HTTPFetcher.
type Config struct {
	Timeout  time.Duration
	MaxBytes uint64
}

// DefaultConfig returns the default fetch settings.
func DefaultConfig() Config {
	return Config{
		Timeout:  DefaultTimeout,
		MaxBytes: DefaultMaxBytes,
	}
}

// HTTPFetcher downloads audio over HTTP(S).
type HTTPFetcher struct {
	client   *http.Client
	maxBytes uint64
	logger   logging.Logger
}

// NewHTTPFetcher creates a fetcher with the given limits.
func NewHTTPFetcher(cfg Config, logger logging.Logger) *HTTPFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &HTTPFetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		maxBytes: cfg.MaxBytes,
		logger:   logger.With(logging.F("component", "audio_fetcher")),
	}
}

// Fetch downloads audioURL into memory.
func (f *HTTPFetcher) Fetch(ctx context.Context, audioURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return nil, &FetchError{URL: audioURL, Err: err}
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: audioURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: audioURL, StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(f.maxBytes)+1))
	if err != nil {
		return nil, &FetchError{URL: audioURL, Err: fmt.Errorf("read body: %w", err)}
	}
	if uint64(len(data)) > f.maxBytes {
		return nil, &FetchError{URL: audioURL, Err: fmt.Errorf("audio exceeds %s", humanize.Bytes(f.maxBytes))}
	}

	f.logger.WithContext(ctx).Debug("Audio downloaded",
		logging.F("size", humanize.Bytes(uint64(len(data)))),
		logging.F("duration", time.Since(start)))

	return data, nil
}

var audioExtensions = map[string]bool{
	".flac": true, ".m4a": true, ".mp3": true, ".mp4": true, ".mpeg": true,
	".mpga": true, ".oga": true, ".ogg": true, ".wav": true, ".webm": true,
}

// FilenameHint returns a synthetic filename whose extension tells the
// transcription service the audio format. It falls back to audio.m4a.
func FilenameHint(audioURL string) string {
	u, err := url.Parse(audioURL)
	if err != nil {
		return "audio.m4a"
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if !audioExtensions[ext] {
		return "audio.m4a"
	}
	return "audio" + ext
}

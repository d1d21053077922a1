package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/otherjamesbrown/penf-meetings/pkg/ai/structuring"
	"github.com/otherjamesbrown/penf-meetings/pkg/ai/transcription"
	"github.com/otherjamesbrown/penf-meetings/pkg/audio"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
	"github.com/otherjamesbrown/penf-meetings/pkg/meetings"
	"github.com/otherjamesbrown/penf-meetings/pkg/notify"
	"github.com/otherjamesbrown/penf-meetings/pkg/observability"
)

const (
	testMeetingID = "m1"
	testAudioURL  = "https://cdn.example.com/rec/m1.m4a"
	testPushToken = "ExponentPushToken[abc]"
	rawTranscript = "hi im maria um lets discuss the budget"

	structuredResponse = `{
		"title": "Budget review with Maria and the finance team",
		"clean_transcript": "Hi, I'm Maria. Let's discuss the budget.",
		"summary": "Maria opened a budget discussion.",
		"key_points": ["Budget needs review"],
		"action_items": ["Maria to share the spreadsheet"]
	}`
)

type stubGateway struct {
	messages []notify.Message
	err      error
}

func (g *stubGateway) Push(_ context.Context, msg notify.Message) error {
	g.messages = append(g.messages, msg)
	return g.err
}

type fixture struct {
	fetcher     *MockFetcher
	transcriber *MockTranscriber
	completer   *MockCompleter
	store       *meetings.MemoryStore
	gateway     *stubGateway
	publisher   *recordingPublisher
	metrics     *observability.Metrics
}

func newFixture() *fixture {
	store := meetings.NewMemoryStore()
	store.Put(&meetings.Meeting{ID: testMeetingID, Status: meetings.StatusQueued, AudioURL: testAudioURL})

	return &fixture{
		fetcher:     &MockFetcher{},
		transcriber: &MockTranscriber{},
		completer:   &MockCompleter{},
		store:       store,
		gateway:     &stubGateway{},
		publisher:   &recordingPublisher{},
		metrics:     observability.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) pipeline(store meetings.Store) *Pipeline {
	if store == nil {
		store = f.store
	}
	logger := logging.NewNopLogger()
	return New(f.fetcher, f.transcriber, f.completer, store,
		WithLogger(logger),
		WithNotifier(notify.NewNotifier(f.gateway, logger)),
		WithPublisher(f.publisher),
		WithMetrics(f.metrics),
		WithTracer(observability.NewTracerWithProvider(noop.NewTracerProvider())),
	)
}

func (f *fixture) expectAudio(text string) {
	f.fetcher.On("Fetch", mock.Anything, testAudioURL).Return([]byte("audio"), nil)
	f.transcriber.On("Transcribe", mock.Anything, []byte("audio"), "audio.m4a").
		Return(&transcription.Result{Text: text, Duration: 90 * time.Second}, nil)
}

func (f *fixture) expectCompletion(response string, err error) {
	f.completer.On("Complete", mock.Anything, SummarySystemPrompt, mock.AnythingOfType("string"), structuring.DefaultTemperature).
		Return(response, err)
}

func (f *fixture) stored(t *testing.T) *meetings.Meeting {
	t.Helper()
	m, err := f.store.Get(context.Background(), testMeetingID)
	require.NoError(t, err)
	return m
}

func TestProcess_Structured(t *testing.T) {
	f := newFixture()
	f.expectAudio(rawTranscript)
	f.expectCompletion(structuredResponse, nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, testPushToken)

	assert.Equal(t, Result{OK: true, Status: meetings.StatusReady}, result)

	m := f.stored(t)
	assert.Equal(t, meetings.StatusReady, m.Status)
	require.NotNil(t, m.Transcript)
	assert.Equal(t, "Hi, I'm Maria. Let's discuss the budget.", *m.Transcript)
	require.NotNil(t, m.Summary)
	assert.Equal(t, "Maria opened a budget discussion.\n\nKey Points\n- Budget needs review\n\nAction Items\n- Maria to share the spreadsheet", *m.Summary)
	require.NotNil(t, m.Title)
	assert.Equal(t, "Budget review with Maria and t", *m.Title)

	assert.Equal(t, BuildSummaryPrompt(rawTranscript), f.completer.userPrompt(0))

	require.Len(t, f.gateway.messages, 1)
	assert.Equal(t, testPushToken, f.gateway.messages[0].To)
	assert.Equal(t, testMeetingID, f.gateway.messages[0].Data["meeting_id"])

	require.Len(t, f.publisher.processed, 1)
	assert.True(t, f.publisher.processed[0].OK)
	assert.Equal(t, "ready", f.publisher.processed[0].Status)

	f.fetcher.AssertExpectations(t)
	f.transcriber.AssertExpectations(t)
	f.completer.AssertExpectations(t)
}

func TestProcess_WithinLimitNotTruncated(t *testing.T) {
	raw := strings.Repeat("a", MaxTranscriptChars)
	f := newFixture()
	f.expectAudio(raw)
	f.expectCompletion(`{"summary":"s","key_points":[],"action_items":[]}`, nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.True(t, result.OK)
	assert.False(t, result.Truncated)
	assert.Equal(t, BuildSummaryPrompt(raw), f.completer.userPrompt(0))

	m := f.stored(t)
	assert.Equal(t, "s", *m.Summary)
	assert.NotContains(t, *m.Summary, TruncationNote)
	assert.Equal(t, raw, *m.Transcript)
	assert.Nil(t, m.Title)
}

func TestProcess_LongTranscriptTruncatedOnDegradedPath(t *testing.T) {
	head := strings.Repeat("é", MaxTranscriptChars)
	f := newFixture()
	f.expectAudio(head + " and the rest of the meeting")
	f.expectCompletion("I'm sorry, that transcript is too long.", nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.Equal(t, Result{OK: true, Status: meetings.StatusReady, Degraded: true, Truncated: true}, result)
	assert.Equal(t, BuildSummaryPrompt(head), f.completer.userPrompt(0))

	m := f.stored(t)
	assert.Equal(t, head, *m.Transcript)
	assert.Equal(t, RenderDegradedSummary(true), *m.Summary)
	assert.Contains(t, *m.Summary, TruncationNote)
}

func TestProcess_LongTranscriptTruncatedOnStructuredPath(t *testing.T) {
	f := newFixture()
	f.expectAudio(strings.Repeat("word ", 5000))
	f.expectCompletion(structuredResponse, nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.True(t, result.Truncated)
	assert.False(t, result.Degraded)
	m := f.stored(t)
	assert.True(t, strings.HasSuffix(*m.Summary, "\n\n"+TruncationNote))
}

func TestProcess_DegradesOnUnusableResponse(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"malformed json", `{"summary": "x", "key_points": [}`},
		{"missing required keys", `{"title": "x", "summary": "y"}`},
		{"prose", "Here is a summary of the meeting."},
		{"wrong types", `{"summary": "x", "key_points": "one", "action_items": []}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.expectAudio(rawTranscript)
			f.expectCompletion(tt.response, nil)

			result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

			assert.Equal(t, Result{OK: true, Status: meetings.StatusReady, Degraded: true}, result)
			m := f.stored(t)
			assert.Equal(t, meetings.StatusReady, m.Status)
			assert.Equal(t, rawTranscript, *m.Transcript)
			assert.Equal(t, DegradedSummary, *m.Summary)
			assert.Nil(t, m.Title)
		})
	}
}

func TestProcess_DegradesOnStructuringServiceFailure(t *testing.T) {
	f := newFixture()
	f.expectAudio(rawTranscript)
	f.expectCompletion("", errors.New("error, status code: 503, message: overloaded"))

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.Equal(t, Result{OK: true, Status: meetings.StatusReady, Degraded: true}, result)
	m := f.stored(t)
	assert.Equal(t, rawTranscript, *m.Transcript)
	assert.Equal(t, DegradedSummary, *m.Summary)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageErrorsTotal.WithLabelValues(observability.PipelineMeeting, StageStructure, "structuring_error")))
}

func TestProcess_FencedResponseMatchesPlain(t *testing.T) {
	plain := newFixture()
	plain.expectAudio(rawTranscript)
	plain.expectCompletion(structuredResponse, nil)
	plain.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	fenced := newFixture()
	fenced.expectAudio(rawTranscript)
	fenced.expectCompletion("```json\n"+structuredResponse+"\n```", nil)
	result := fenced.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.False(t, result.Degraded)
	want, got := plain.stored(t), fenced.stored(t)
	assert.Equal(t, *want.Summary, *got.Summary)
	assert.Equal(t, *want.Transcript, *got.Transcript)
	assert.Equal(t, *want.Title, *got.Title)
}

func TestProcess_FatalErrors(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(f *fixture)
		wantCode string
	}{
		{
			name: "fetch non-2xx",
			setup: func(f *fixture) {
				f.fetcher.On("Fetch", mock.Anything, testAudioURL).
					Return(nil, &audio.FetchError{URL: testAudioURL, StatusCode: 404})
			},
			wantCode: "fetch_error",
		},
		{
			name: "fetch timeout",
			setup: func(f *fixture) {
				f.fetcher.On("Fetch", mock.Anything, testAudioURL).
					Return(nil, &audio.FetchError{URL: testAudioURL, Err: context.DeadlineExceeded})
			},
			wantCode: "timeout",
		},
		{
			name: "transcription failure",
			setup: func(f *fixture) {
				f.fetcher.On("Fetch", mock.Anything, testAudioURL).Return([]byte("audio"), nil)
				f.transcriber.On("Transcribe", mock.Anything, []byte("audio"), "audio.m4a").
					Return(nil, errors.New("openai transcription: invalid file format"))
			},
			wantCode: "transcription_error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			stale, oldTitle := "stale transcript", "Old title"
			f.store.Put(&meetings.Meeting{ID: testMeetingID, Status: meetings.StatusQueued, Transcript: &stale, Title: &oldTitle})
			tt.setup(f)

			result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, testPushToken)

			assert.Equal(t, Result{OK: false, Status: meetings.StatusProcessingFailed, Error: tt.wantCode}, result)

			m := f.stored(t)
			assert.Equal(t, meetings.StatusProcessingFailed, m.Status)
			assert.Nil(t, m.Transcript)
			assert.Nil(t, m.Title)
			require.NotNil(t, m.Summary)
			assert.Equal(t, FailureSummary, *m.Summary)

			f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
			assert.Empty(t, f.gateway.messages)
			require.Len(t, f.publisher.processed, 1)
			assert.Equal(t, tt.wantCode, f.publisher.processed[0].ErrorCode)
		})
	}
}

func TestProcess_PersistenceZeroRows(t *testing.T) {
	f := newFixture()
	f.expectAudio(rawTranscript)
	f.expectCompletion(structuredResponse, nil)

	empty := meetings.NewMemoryStore()
	result := f.pipeline(empty).Process(context.Background(), testMeetingID, testAudioURL, testPushToken)

	assert.Equal(t, Result{OK: false, Status: meetings.StatusProcessingFailed, Error: "persistence_error"}, result)
	assert.Empty(t, f.gateway.messages)
}

func TestProcess_PersistenceErrorAndFailureWriteFails(t *testing.T) {
	f := newFixture()
	f.expectAudio(rawTranscript)
	f.expectCompletion(structuredResponse, nil)

	store := &flakyStore{MemoryStore: f.store, err: errors.New("connection reset by peer")}
	result := f.pipeline(store).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.Equal(t, Result{OK: false, Status: meetings.StatusProcessingFailed, Error: "persistence_error"}, result)
	assert.Equal(t, 2, store.updates)
	assert.Equal(t, meetings.StatusQueued, f.stored(t).Status)
}

func TestProcess_PushNetworkErrorStillReady(t *testing.T) {
	f := newFixture()
	f.gateway.err = errNetwork
	f.expectAudio(rawTranscript)
	f.expectCompletion(structuredResponse, nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, testPushToken)

	data, err := json.Marshal(result)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"status":"ready"}`, string(data))
	assert.Len(t, f.gateway.messages, 1)
	assert.Equal(t, meetings.StatusReady, f.stored(t).Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.NotificationsTotal.WithLabelValues("failed")))
}

func TestProcess_NoPushTokenSkipsNotification(t *testing.T) {
	f := newFixture()
	f.expectAudio(rawTranscript)
	f.expectCompletion(structuredResponse, nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.True(t, result.OK)
	assert.Empty(t, f.gateway.messages)
}

func TestProcess_EmptyTranscriptStillStructured(t *testing.T) {
	f := newFixture()
	f.expectAudio("")
	f.expectCompletion(`{"title":"","clean_transcript":"","summary":"Nothing was said.","key_points":[],"action_items":[]}`, nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.Equal(t, Result{OK: true, Status: meetings.StatusReady}, result)
	assert.Equal(t, BuildSummaryPrompt(""), f.completer.userPrompt(0))
	m := f.stored(t)
	require.NotNil(t, m.Transcript)
	assert.Equal(t, "", *m.Transcript)
	assert.Equal(t, "Nothing was said.", *m.Summary)
}

func TestProcess_EmptySummaryContentUsesPlaceholder(t *testing.T) {
	f := newFixture()
	f.expectAudio(rawTranscript)
	f.expectCompletion(`{"title":"Budget","clean_transcript":"Hi, I'm Maria.","summary":"  ","key_points":[],"action_items":[""]}`, nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.Equal(t, Result{OK: true, Status: meetings.StatusReady}, result)
	m := f.stored(t)
	require.NotNil(t, m.Transcript)
	assert.Equal(t, "Hi, I'm Maria.", *m.Transcript)
	require.NotNil(t, m.Summary)
	assert.Equal(t, DegradedSummary, *m.Summary)
	require.NotNil(t, m.Title)
	assert.Equal(t, "Budget", *m.Title)
}

func TestProcess_EmptySummaryContentKeepsTruncationNote(t *testing.T) {
	f := newFixture()
	f.expectAudio(strings.Repeat("a", MaxTranscriptChars+1))
	f.expectCompletion(`{"title":"","clean_transcript":"","summary":"","key_points":[],"action_items":[]}`, nil)

	f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	m := f.stored(t)
	require.NotNil(t, m.Summary)
	assert.Equal(t, DegradedSummary+"\n\n"+TruncationNote, *m.Summary)
}

func TestProcess_PublishFailureIsNonFatal(t *testing.T) {
	f := newFixture()
	f.publisher.err = errors.New("redis down")
	f.expectAudio(rawTranscript)
	f.expectCompletion(structuredResponse, nil)

	result := f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.True(t, result.OK)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.EventPublishFailures.WithLabelValues("meeting.processed")))
}

func TestProcess_RecordsOutcomeMetrics(t *testing.T) {
	f := newFixture()
	f.expectAudio(rawTranscript)
	f.expectCompletion("not json", nil)

	f.pipeline(nil).Process(context.Background(), testMeetingID, testAudioURL, "")

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.MeetingsProcessedTotal.WithLabelValues("ready", OutcomeDegraded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.StageErrorsTotal.WithLabelValues(observability.PipelineMeeting, StageParse, "parse_error")))
}

func TestNew_Defaults(t *testing.T) {
	p := New(&MockFetcher{}, &MockTranscriber{}, &MockCompleter{}, meetings.NewMemoryStore(), WithLogger(logging.NewNopLogger()))

	assert.NotNil(t, p.notifier)
	assert.NotNil(t, p.publisher)
	assert.NotNil(t, p.tracer)
	assert.Nil(t, p.metrics)
}

package diarization

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/otherjamesbrown/penf-meetings/pkg/ai/structuring"
	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
	"github.com/otherjamesbrown/penf-meetings/pkg/events"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
	"github.com/otherjamesbrown/penf-meetings/pkg/meetings"
	"github.com/otherjamesbrown/penf-meetings/pkg/observability"
)

const (
	testMeetingID    = "m1"
	mariaTranscript  = "Hi I'm Maria. Let's discuss the budget."
	mariaDiarization = `{"speakers":[{"id":"speaker_1","label":"Maria"}],"segments":[{"speaker_id":"speaker_1","text":"Hi I'm Maria. Let's discuss the budget."}]}`
)

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	args := m.Called(ctx, system, user, temperature)
	return args.String(0), args.Error(1)
}

type recordingPublisher struct {
	diarized []events.MeetingDiarizedParams
}

func (p *recordingPublisher) PublishMeetingProcessed(context.Context, events.MeetingProcessedParams) error {
	return nil
}

func (p *recordingPublisher) PublishMeetingDiarized(_ context.Context, params events.MeetingDiarizedParams) error {
	p.diarized = append(p.diarized, params)
	return nil
}

type failingStore struct {
	*meetings.MemoryStore
	rows int64
	err  error
}

func (s *failingStore) Update(context.Context, string, meetings.Update) (int64, error) {
	return s.rows, s.err
}

type fixture struct {
	completer *MockCompleter
	store     *meetings.MemoryStore
	publisher *recordingPublisher
	metrics   *observability.Metrics
}

func newFixture(transcript string) *fixture {
	store := meetings.NewMemoryStore()
	store.Put(&meetings.Meeting{ID: testMeetingID, Status: meetings.StatusReady, Transcript: &transcript})

	return &fixture{
		completer: &MockCompleter{},
		store:     store,
		publisher: &recordingPublisher{},
		metrics:   observability.NewMetrics(prometheus.NewRegistry()),
	}
}

func (f *fixture) diarizer(store meetings.Store) *Diarizer {
	if store == nil {
		store = f.store
	}
	return New(f.completer, store,
		WithLogger(logging.NewNopLogger()),
		WithPublisher(f.publisher),
		WithMetrics(f.metrics),
		WithTracer(observability.NewTracerWithProvider(noop.NewTracerProvider())),
	)
}

func (f *fixture) expectStructured(response string, err error) *mock.Call {
	return f.completer.On("Complete", mock.Anything, SystemPrompt, mock.AnythingOfType("string"), structuring.DefaultTemperature).
		Return(response, err)
}

func (f *fixture) expectFallback(response string, err error) *mock.Call {
	return f.completer.On("Complete", mock.Anything, FallbackSystemPrompt, mock.AnythingOfType("string"), structuring.DefaultTemperature).
		Return(response, err)
}

func (f *fixture) stored(t *testing.T) *meetings.Meeting {
	t.Helper()
	m, err := f.store.Get(context.Background(), testMeetingID)
	require.NoError(t, err)
	return m
}

func TestDiarize_Maria(t *testing.T) {
	f := newFixture(mariaTranscript)
	f.expectStructured(mariaDiarization, nil)

	result, err := f.diarizer(nil).Diarize(context.Background(), testMeetingID)
	require.NoError(t, err)

	assert.Equal(t, StatusOK, result.Status)
	assert.True(t, result.Diarized)
	assert.False(t, result.Cached)
	assert.False(t, result.Fallback)
	assert.Empty(t, result.Error)
	assert.Equal(t, "Maria: Hi I'm Maria. Let's discuss the budget.", result.TranscriptDiarized)

	m := f.stored(t)
	require.NotNil(t, m.TranscriptDiarized)
	assert.Equal(t, result.TranscriptDiarized, *m.TranscriptDiarized)
	require.NotNil(t, m.Diarization)
	assert.Equal(t, []meetings.Speaker{{ID: "speaker_1", Label: "Maria"}}, m.Diarization.Speakers)

	prompt := f.completer.Calls[0].Arguments.String(2)
	assert.Equal(t, BuildPrompt(mariaTranscript), prompt)

	require.Len(t, f.publisher.diarized, 1)
	assert.False(t, f.publisher.diarized[0].Fallback)
	assert.Equal(t, 1, f.publisher.diarized[0].SpeakerCount)
	assert.Equal(t, 1, f.publisher.diarized[0].SegmentCount)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.DiarizationsTotal.WithLabelValues(ResultStructured)))
}

func TestDiarize_CachedOnSecondCall(t *testing.T) {
	f := newFixture(mariaTranscript)
	f.expectStructured(mariaDiarization, nil).Once()
	d := f.diarizer(nil)

	first, err := d.Diarize(context.Background(), testMeetingID)
	require.NoError(t, err)
	second, err := d.Diarize(context.Background(), testMeetingID)
	require.NoError(t, err)

	assert.False(t, first.Cached)
	assert.True(t, second.Cached)
	assert.True(t, second.Diarized)
	assert.Equal(t, first.TranscriptDiarized, second.TranscriptDiarized)

	firstJSON, err := json.Marshal(first.Diarization)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second.Diarization)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))

	f.completer.AssertNumberOfCalls(t, "Complete", 1)
	assert.Len(t, f.publisher.diarized, 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.DiarizationsTotal.WithLabelValues(ResultCached)))
}

func TestDiarize_CachedWithoutStoredRendering(t *testing.T) {
	f := newFixture(mariaTranscript)
	f.store.Put(&meetings.Meeting{
		ID:         testMeetingID,
		Status:     meetings.StatusReady,
		Transcript: func() *string { s := mariaTranscript; return &s }(),
		Diarization: &meetings.Diarization{
			Speakers: []meetings.Speaker{{ID: "speaker_1", Label: "Speaker 1"}},
			Segments: []meetings.Segment{{SpeakerID: "speaker_1", Text: "Hello."}},
		},
	})

	result, err := f.diarizer(nil).Diarize(context.Background(), testMeetingID)
	require.NoError(t, err)

	assert.True(t, result.Cached)
	assert.Equal(t, "Speaker 1: Hello.", result.TranscriptDiarized)
	f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDiarize_UnknownSpeaker(t *testing.T) {
	f := newFixture("Hello. Hi there.")
	f.expectStructured(`{
		"speakers": [{"id": "speaker_1", "label": "Speaker 1"}],
		"segments": [
			{"speaker_id": "speaker_1", "text": "Hello."},
			{"speaker_id": "speaker_9", "text": "Hi there."}
		]
	}`, nil)

	result, err := f.diarizer(nil).Diarize(context.Background(), testMeetingID)
	require.NoError(t, err)

	assert.Equal(t, "Speaker 1: Hello.\n\nUnknown Speaker: Hi there.", result.TranscriptDiarized)

	m := f.stored(t)
	require.NotNil(t, m.Diarization)
	assert.NoError(t, m.Diarization.Validate())
	assert.Contains(t, m.Diarization.Speakers, meetings.Speaker{ID: "speaker_9", Label: meetings.UnknownSpeakerLabel})
}

func TestDiarize_FencedResponse(t *testing.T) {
	f := newFixture(mariaTranscript)
	f.expectStructured("```json\n"+mariaDiarization+"\n```", nil)

	result, err := f.diarizer(nil).Diarize(context.Background(), testMeetingID)
	require.NoError(t, err)

	assert.True(t, result.Diarized)
	assert.Equal(t, "Maria: Hi I'm Maria. Let's discuss the budget.", result.TranscriptDiarized)
}

func TestDiarize_Fallback(t *testing.T) {
	tests := []struct {
		name     string
		response string
	}{
		{"malformed json", `{"speakers": [`},
		{"missing segments", `{"speakers": []}`},
		{"not an object", `["speaker_1"]`},
		{"wrong types", `{"speakers": "Maria", "segments": []}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(mariaTranscript)
			f.expectStructured(tt.response, nil)
			f.expectFallback("```\nSpeaker 1: Hi I'm Maria. Let's discuss the budget.\n```", nil)

			result, err := f.diarizer(nil).Diarize(context.Background(), testMeetingID)
			require.NoError(t, err)

			assert.Equal(t, StatusOK, result.Status)
			assert.False(t, result.Diarized)
			assert.True(t, result.Fallback)
			assert.Equal(t, ErrorJSONParseFailed, result.Error)
			assert.Nil(t, result.Diarization)
			assert.Equal(t, "Speaker 1: Hi I'm Maria. Let's discuss the budget.", result.TranscriptDiarized)

			m := f.stored(t)
			require.NotNil(t, m.TranscriptDiarized)
			assert.Equal(t, result.TranscriptDiarized, *m.TranscriptDiarized)
			assert.Nil(t, m.Diarization)

			f.completer.AssertNumberOfCalls(t, "Complete", 2)
			require.Len(t, f.publisher.diarized, 1)
			assert.True(t, f.publisher.diarized[0].Fallback)
		})
	}
}

func TestDiarize_FallbackEmptyResponse(t *testing.T) {
	f := newFixture(mariaTranscript)
	f.expectStructured("not json", nil)
	f.expectFallback("  \n", nil)

	_, err := f.diarizer(nil).Diarize(context.Background(), testMeetingID)
	require.Error(t, err)
	assert.Equal(t, pferrors.ErrProcessingError, pferrors.CodeOf(err))
	assert.Nil(t, f.stored(t).TranscriptDiarized)
}

func TestDiarize_StructuringFailure(t *testing.T) {
	f := newFixture(mariaTranscript)
	f.expectStructured("", errors.New("503 service unavailable"))

	_, err := f.diarizer(nil).Diarize(context.Background(), testMeetingID)
	require.Error(t, err)

	assert.Equal(t, pferrors.ErrStructuring, pferrors.CodeOf(err))
	f.completer.AssertNumberOfCalls(t, "Complete", 1)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.DiarizationsTotal.WithLabelValues(ResultError)))
}

func TestDiarize_NotFound(t *testing.T) {
	f := newFixture(mariaTranscript)

	_, err := f.diarizer(nil).Diarize(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, pferrors.IsNotFound(err))
	f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDiarize_NoTranscript(t *testing.T) {
	f := newFixture("")

	_, err := f.diarizer(nil).Diarize(context.Background(), testMeetingID)
	require.Error(t, err)
	assert.True(t, pferrors.IsInvalidState(err))
	f.completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestDiarize_PersistenceFailure(t *testing.T) {
	tests := []struct {
		name string
		rows int64
		err  error
	}{
		{"store error", 0, errors.New("connection reset")},
		{"zero rows", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(mariaTranscript)
			f.expectStructured(mariaDiarization, nil)
			store := &failingStore{MemoryStore: f.store, rows: tt.rows, err: tt.err}

			_, err := f.diarizer(store).Diarize(context.Background(), testMeetingID)
			require.Error(t, err)

			assert.Equal(t, pferrors.ErrPersistence, pferrors.CodeOf(err))
			assert.Empty(t, f.publisher.diarized)
		})
	}
}

func TestDiarize_FallbackPersistenceFailure(t *testing.T) {
	f := newFixture(mariaTranscript)
	f.expectStructured("{", nil)
	f.expectFallback("Speaker 1: Hi.", nil)
	store := &failingStore{MemoryStore: f.store, err: errors.New("connection reset")}

	_, err := f.diarizer(store).Diarize(context.Background(), testMeetingID)
	require.Error(t, err)
	assert.Equal(t, pferrors.ErrPersistence, pferrors.CodeOf(err))
}

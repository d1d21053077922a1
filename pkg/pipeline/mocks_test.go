package pipeline

import (
	"context"
	"errors"

	"github.com/stretchr/testify/mock"

	"github.com/otherjamesbrown/penf-meetings/pkg/ai/transcription"
	"github.com/otherjamesbrown/penf-meetings/pkg/events"
	"github.com/otherjamesbrown/penf-meetings/pkg/meetings"
)

type MockFetcher struct {
	mock.Mock
}

func (m *MockFetcher) Fetch(ctx context.Context, audioURL string) ([]byte, error) {
	args := m.Called(ctx, audioURL)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

type MockTranscriber struct {
	mock.Mock
}

func (m *MockTranscriber) Transcribe(ctx context.Context, audio []byte, filename string) (*transcription.Result, error) {
	args := m.Called(ctx, audio, filename)
	result, _ := args.Get(0).(*transcription.Result)
	return result, args.Error(1)
}

type MockCompleter struct {
	mock.Mock
}

func (m *MockCompleter) Complete(ctx context.Context, system, user string, temperature float32) (string, error) {
	args := m.Called(ctx, system, user, temperature)
	return args.String(0), args.Error(1)
}

// userPrompt returns the user prompt of the i-th Complete call.
func (m *MockCompleter) userPrompt(i int) string {
	return m.Calls[i].Arguments.String(2)
}

// flakyStore fails updates after the first failAfter successful ones.
type flakyStore struct {
	*meetings.MemoryStore
	failAfter int
	updates   int
	err       error
}

func (s *flakyStore) Update(ctx context.Context, id string, u meetings.Update) (int64, error) {
	s.updates++
	if s.updates > s.failAfter {
		return 0, s.err
	}
	return s.MemoryStore.Update(ctx, id, u)
}

type recordingPublisher struct {
	processed []events.MeetingProcessedParams
	err       error
}

func (p *recordingPublisher) PublishMeetingProcessed(_ context.Context, params events.MeetingProcessedParams) error {
	p.processed = append(p.processed, params)
	return p.err
}

func (p *recordingPublisher) PublishMeetingDiarized(context.Context, events.MeetingDiarizedParams) error {
	return nil
}

var errNetwork = errors.New("dial tcp: network is unreachable")

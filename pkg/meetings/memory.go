package meetings

import (
	"context"
	"fmt"
	"sync"
	"time"

	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
)

// MemoryStore is an in-process Store for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	meetings map[string]*Meeting
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{meetings: make(map[string]*Meeting)}
}

// Put stores a copy of m, replacing any meeting with the same id.
func (s *MemoryStore) Put(m *Meeting) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := cloneMeeting(m)
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Status == "" {
		c.Status = StatusQueued
	}
	s.meetings[c.ID] = c
}

// Create inserts a queued meeting.
func (s *MemoryStore) Create(_ context.Context, id, audioURL string) error {
	s.Put(&Meeting{ID: id, Status: StatusQueued, AudioURL: audioURL})
	return nil
}

// Get returns a copy of the stored meeting.
func (s *MemoryStore) Get(_ context.Context, id string) (*Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return nil, fmt.Errorf("meeting %s: %w", id, pferrors.ErrNotFound)
	}
	return cloneMeeting(m), nil
}

// Update applies u to the stored meeting. It returns 0 rows for an unknown id.
func (s *MemoryStore) Update(_ context.Context, id string, u Update) (int64, error) {
	if u.Empty() {
		return 0, fmt.Errorf("empty meeting update: %w", pferrors.ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.meetings[id]
	if !ok {
		return 0, nil
	}

	if u.Status != nil {
		m.Status = *u.Status
	}
	if u.Transcript != nil {
		m.Transcript = textPtr(u.Transcript.String, u.Transcript.Valid)
	}
	if u.TranscriptDiarized != nil {
		m.TranscriptDiarized = textPtr(u.TranscriptDiarized.String, u.TranscriptDiarized.Valid)
	}
	if u.Diarization != nil {
		m.Diarization = cloneDiarization(u.Diarization)
	}
	if u.Summary != nil {
		m.Summary = textPtr(u.Summary.String, u.Summary.Valid)
	}
	if u.Title != nil {
		m.Title = textPtr(u.Title.String, u.Title.Valid)
	}
	m.UpdatedAt = time.Now()

	return 1, nil
}

func textPtr(s string, valid bool) *string {
	if !valid {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneDiarization(d *Diarization) *Diarization {
	if d == nil {
		return nil
	}
	return &Diarization{
		Speakers: append([]Speaker(nil), d.Speakers...),
		Segments: append([]Segment(nil), d.Segments...),
	}
}

func cloneMeeting(m *Meeting) *Meeting {
	c := *m
	c.Transcript = cloneString(m.Transcript)
	c.TranscriptDiarized = cloneString(m.TranscriptDiarized)
	c.Summary = cloneString(m.Summary)
	c.Title = cloneString(m.Title)
	c.Diarization = cloneDiarization(m.Diarization)
	return &c
}

// Package events publishes meeting lifecycle events to Redis.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Redis channels for meeting events.
const (
	ChannelMeetingProcessed = "events.meeting.processed"
	ChannelMeetingDiarized  = "events.meeting.diarized"
)

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID *string   `json:"correlation_id,omitempty"`
	Source        string    `json:"source"`
	Version       string    `json:"version"`
}

// NewBaseEvent creates a BaseEvent with a fresh id.
func NewBaseEvent(eventType string) BaseEvent {
	return BaseEvent{
		EventType: eventType,
		EventID:   uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Source:    "penf-meetings",
		Version:   "1.0",
	}
}

// MeetingProcessedEvent is published when the meeting pipeline reaches a terminal status.
type MeetingProcessedEvent struct {
	BaseEvent

	MeetingID       string  `json:"meeting_id"`
	Status          string  `json:"status"`
	OK              bool    `json:"ok"`
	Degraded        bool    `json:"degraded"`
	Truncated       bool    `json:"truncated"`
	ErrorCode       string  `json:"error_code,omitempty"`
	Title           *string `json:"title,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
}

// MeetingDiarizedEvent is published when a diarized transcript is stored.
type MeetingDiarizedEvent struct {
	BaseEvent

	MeetingID    string `json:"meeting_id"`
	Structured   bool   `json:"structured"`
	Fallback     bool   `json:"fallback"`
	SpeakerCount int    `json:"speaker_count"`
	SegmentCount int    `json:"segment_count"`
}

// MeetingProcessedParams contains parameters for a meeting processed event.
type MeetingProcessedParams struct {
	MeetingID     string
	CorrelationID string
	Status        string
	OK            bool
	Degraded      bool
	Truncated     bool
	ErrorCode     string
	Title         string
	Duration      time.Duration
}

// MeetingDiarizedParams contains parameters for a meeting diarized event.
type MeetingDiarizedParams struct {
	MeetingID     string
	CorrelationID string
	Fallback      bool
	SpeakerCount  int
	SegmentCount  int
}

// Publisher publishes meeting events.
type Publisher interface {
	PublishMeetingProcessed(ctx context.Context, params MeetingProcessedParams) error
	PublishMeetingDiarized(ctx context.Context, params MeetingDiarizedParams) error
}

// NopPublisher drops all events.
type NopPublisher struct{}

func (NopPublisher) PublishMeetingProcessed(context.Context, MeetingProcessedParams) error {
	return nil
}

func (NopPublisher) PublishMeetingDiarized(context.Context, MeetingDiarizedParams) error {
	return nil
}

func newMeetingProcessedEvent(params MeetingProcessedParams) MeetingProcessedEvent {
	event := MeetingProcessedEvent{
		BaseEvent:       NewBaseEvent("meeting.processed"),
		MeetingID:       params.MeetingID,
		Status:          params.Status,
		OK:              params.OK,
		Degraded:        params.Degraded,
		Truncated:       params.Truncated,
		ErrorCode:       params.ErrorCode,
		DurationSeconds: params.Duration.Seconds(),
	}
	if params.CorrelationID != "" {
		event.CorrelationID = &params.CorrelationID
	}
	if params.Title != "" {
		event.Title = &params.Title
	}
	return event
}

func newMeetingDiarizedEvent(params MeetingDiarizedParams) MeetingDiarizedEvent {
	event := MeetingDiarizedEvent{
		BaseEvent:    NewBaseEvent("meeting.diarized"),
		MeetingID:    params.MeetingID,
		Structured:   !params.Fallback,
		Fallback:     params.Fallback,
		SpeakerCount: params.SpeakerCount,
		SegmentCount: params.SegmentCount,
	}
	if params.CorrelationID != "" {
		event.CorrelationID = &params.CorrelationID
	}
	return event
}

// Package meetings holds the meeting record and the gateways that read and
// update it.
package meetings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// Status is the processing state of a meeting.
type Status string

const (
	StatusQueued           Status = "queued"
	StatusReady            Status = "ready"
	StatusProcessingFailed Status = "processing_failed"
)

// Terminal reports whether the pipeline has finished with the meeting.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusProcessingFailed
}

// UnknownSpeakerLabel is used for segments whose speaker id has no entry in
// the speakers list.
const UnknownSpeakerLabel = "Unknown Speaker"

// Speaker is one participant in a diarized transcript.
type Speaker struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Segment is one speaker turn.
type Segment struct {
	SpeakerID string `json:"speaker_id"`
	Text      string `json:"text"`
}

// Diarization is the structured form of a speaker-labelled transcript,
// stored in the diarization_json column.
type Diarization struct {
	Speakers []Speaker `json:"speakers"`
	Segments []Segment `json:"segments"`
}

// Labels returns the speaker id to label lookup.
func (d *Diarization) Labels() map[string]string {
	labels := make(map[string]string, len(d.Speakers))
	for _, s := range d.Speakers {
		labels[s.ID] = s.Label
	}
	return labels
}

// Validate checks that every segment references a known speaker.
func (d *Diarization) Validate() error {
	labels := d.Labels()
	for i, seg := range d.Segments {
		if _, ok := labels[seg.SpeakerID]; !ok {
			return fmt.Errorf("segment %d references unknown speaker %q", i, seg.SpeakerID)
		}
	}
	return nil
}

// Normalize appends an "Unknown Speaker" entry for every segment speaker id
// missing from the speakers list, so the result always validates.
func (d *Diarization) Normalize() {
	labels := d.Labels()
	for _, seg := range d.Segments {
		if _, ok := labels[seg.SpeakerID]; ok {
			continue
		}
		d.Speakers = append(d.Speakers, Speaker{ID: seg.SpeakerID, Label: UnknownSpeakerLabel})
		labels[seg.SpeakerID] = UnknownSpeakerLabel
	}
}

// Meeting is a persisted meeting record.
type Meeting struct {
	ID                 string
	Status             Status
	AudioURL           string
	Transcript         *string
	TranscriptDiarized *string
	Diarization        *Diarization
	Summary            *string
	Title              *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasTranscript reports whether a non-empty transcript is stored.
func (m *Meeting) HasTranscript() bool {
	return m.Transcript != nil && *m.Transcript != ""
}

// Update is a partial update of a meeting. Nil fields are left untouched.
// A text field set to an invalid pgtype.Text is written as NULL.
type Update struct {
	Status             *Status
	Transcript         *pgtype.Text
	TranscriptDiarized *pgtype.Text
	Diarization        *Diarization
	Summary            *pgtype.Text
	Title              *pgtype.Text
}

// Empty reports whether the update sets no fields.
func (u Update) Empty() bool {
	return u.Status == nil && u.Transcript == nil && u.TranscriptDiarized == nil &&
		u.Diarization == nil && u.Summary == nil && u.Title == nil
}

// Text returns a field value that sets the column to s.
func Text(s string) *pgtype.Text {
	return &pgtype.Text{String: s, Valid: true}
}

// Null returns a field value that clears the column.
func Null() *pgtype.Text {
	return &pgtype.Text{}
}

// StatusPtr returns a pointer to s for use in Update.
func StatusPtr(s Status) *Status {
	return &s
}

// Store is the record store gateway used by the pipelines.
type Store interface {
	// Get returns the meeting or an error wrapping errors.ErrNotFound.
	Get(ctx context.Context, id string) (*Meeting, error)

	// Update applies u and returns the number of rows changed.
	Update(ctx context.Context, id string, u Update) (int64, error)
}

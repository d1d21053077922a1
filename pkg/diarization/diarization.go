// Package diarization attributes a stored meeting transcript to speakers.
//
// The first run asks the structuring service for a speakers/segments object,
// renders it and stores both forms. When that response cannot be parsed a
// second, plain-text request is made and only the rendered text is stored.
// Later runs return the stored object without calling the service.
package diarization

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/otherjamesbrown/penf-meetings/pkg/ai/structuring"
	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
	"github.com/otherjamesbrown/penf-meetings/pkg/events"
	"github.com/otherjamesbrown/penf-meetings/pkg/llmjson"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
	"github.com/otherjamesbrown/penf-meetings/pkg/meetings"
	"github.com/otherjamesbrown/penf-meetings/pkg/observability"
)

// Stage names used in logs, spans and metrics.
const (
	StageLoad      = "load"
	StageStructure = "structure"
	StageParse     = "parse"
	StageFallback  = "fallback"
	StagePersist   = "persist"
)

// StatusOK is the status of every successful diarization result.
const StatusOK = "ok"

// ErrorJSONParseFailed is reported on fallback results.
const ErrorJSONParseFailed = "json_parse_failed"

// Result label values for diarization metrics.
const (
	ResultStructured = "structured"
	ResultFallback   = "fallback"
	ResultCached     = "cached"
	ResultError      = "error"
)

// requiredKeys are the top-level keys of a structured response.
var requiredKeys = []string{"speakers", "segments"}

// Result is returned to the caller of Diarize.
type Result struct {
	Status             string                `json:"status"`
	Diarized           bool                  `json:"diarized"`
	Cached             bool                  `json:"cached"`
	Fallback           bool                  `json:"fallback,omitempty"`
	Error              string                `json:"error,omitempty"`
	Diarization        *meetings.Diarization `json:"diarization_json,omitempty"`
	TranscriptDiarized string                `json:"transcript_diarized,omitempty"`
}

// Diarizer runs the diarization pipeline. It holds no per-run state and is
// safe for concurrent use.
type Diarizer struct {
	completer structuring.Completer
	store     meetings.Store
	publisher events.Publisher
	metrics   *observability.Metrics
	tracer    *observability.Tracer
	stages    *observability.StageRunner
	logger    logging.Logger
}

// Option configures the diarizer.
type Option func(*Diarizer)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(d *Diarizer) {
		d.logger = logger
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(d *Diarizer) {
		d.publisher = pub
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(d *Diarizer) {
		d.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(d *Diarizer) {
		d.tracer = t
	}
}

// New creates a diarizer.
func New(completer structuring.Completer, store meetings.Store, opts ...Option) *Diarizer {
	d := &Diarizer{
		completer: completer,
		store:     store,
		publisher: events.NopPublisher{},
		tracer:    observability.NewTracer(),
		logger:    logging.MustGlobal(),
	}

	for _, opt := range opts {
		opt(d)
	}

	d.logger = d.logger.With(logging.F("component", "diarization_pipeline"))
	d.stages = &observability.StageRunner{
		Pipeline: observability.PipelineDiarization,
		Tracer:   d.tracer,
		Metrics:  d.metrics,
		Logger:   d.logger,
	}
	return d
}

// Diarize produces the speaker-labelled transcript for a meeting.
//
// Errors wrap errors.ErrNotFound when the meeting does not exist and
// errors.ErrInvalidState when it has no transcript. Store write failures carry
// the persistence_error code.
func (d *Diarizer) Diarize(ctx context.Context, meetingID string) (*Result, error) {
	start := time.Now()
	ctx = logging.ContextWithMeetingID(ctx, meetingID)
	ctx, span := d.tracer.StartPipelineSpan(ctx, observability.SpanDiarizeMeeting, meetingID)
	defer span.End()

	log := d.logger.WithContext(ctx)

	result, err := d.run(ctx, meetingID)
	if err != nil {
		code := pferrors.CodeOf(err)
		observability.SetError(span, err, string(code), pferrors.IsRetryable(code))
		d.metrics.RecordDiarization(ResultError)
		log.Error("Diarization failed", logging.Err(err), logging.F("code", string(code)))
		return nil, err
	}

	observability.SetSuccess(span)
	log.Info("Diarization completed",
		logging.F("cached", result.Cached),
		logging.F("fallback", result.Fallback),
		logging.F("duration", time.Since(start)))
	return result, nil
}

func (d *Diarizer) run(ctx context.Context, meetingID string) (*Result, error) {
	var meeting *meetings.Meeting
	err := d.stages.Run(ctx, StageLoad, func(ctx context.Context) error {
		m, err := d.store.Get(ctx, meetingID)
		if err != nil {
			return err
		}
		meeting = m
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load meeting %s: %w", meetingID, err)
	}

	if meeting.Diarization != nil {
		d.metrics.RecordDiarization(ResultCached)
		d.logger.WithContext(ctx).Debug("Returning stored diarization")
		rendered := ""
		if meeting.TranscriptDiarized != nil {
			rendered = *meeting.TranscriptDiarized
		} else {
			rendered = Render(meeting.Diarization)
		}
		return &Result{
			Status:             StatusOK,
			Diarized:           true,
			Cached:             true,
			Diarization:        meeting.Diarization,
			TranscriptDiarized: rendered,
		}, nil
	}

	if !meeting.HasTranscript() {
		return nil, fmt.Errorf("meeting %s has no transcript: %w", meetingID, pferrors.ErrInvalidState)
	}
	transcript := *meeting.Transcript

	var raw string
	err = d.stages.Run(ctx, StageStructure, func(ctx context.Context) error {
		r, err := d.completer.Complete(ctx, SystemPrompt, BuildPrompt(transcript), structuring.DefaultTemperature)
		if err != nil {
			return stageError(pferrors.ErrStructuring, StageStructure, err)
		}
		raw = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	var parsed meetings.Diarization
	err = d.stages.Run(ctx, StageParse, func(ctx context.Context) error {
		if err := llmjson.Decode(raw, &parsed, requiredKeys...); err != nil {
			return pferrors.Wrap(pferrors.ErrParse, StageParse, err)
		}
		return nil
	})
	if err != nil {
		d.logger.WithContext(ctx).Warn("Structured diarization unusable, falling back to plain text",
			logging.Err(err),
			logging.F("response_chars", len(raw)))
		return d.fallback(ctx, meetingID, transcript)
	}

	return d.structured(ctx, meetingID, &parsed)
}

// structured stores a parsed diarization and its rendering.
func (d *Diarizer) structured(ctx context.Context, meetingID string, parsed *meetings.Diarization) (*Result, error) {
	rendered := Render(parsed)
	if err := parsed.Validate(); err != nil {
		d.logger.WithContext(ctx).Warn("Diarization references unknown speakers", logging.Err(err))
		parsed.Normalize()
	}

	err := d.persist(ctx, meetingID, meetings.Update{
		Diarization:        parsed,
		TranscriptDiarized: meetings.Text(rendered),
	})
	if err != nil {
		return nil, err
	}

	d.metrics.RecordDiarization(ResultStructured)
	d.publish(ctx, events.MeetingDiarizedParams{
		MeetingID:    meetingID,
		SpeakerCount: len(parsed.Speakers),
		SegmentCount: len(parsed.Segments),
	})

	return &Result{
		Status:             StatusOK,
		Diarized:           true,
		Diarization:        parsed,
		TranscriptDiarized: rendered,
	}, nil
}

// fallback asks for a plain-text rendering and stores only that.
func (d *Diarizer) fallback(ctx context.Context, meetingID, transcript string) (*Result, error) {
	var rendered string
	err := d.stages.Run(ctx, StageFallback, func(ctx context.Context) error {
		r, err := d.completer.Complete(ctx, FallbackSystemPrompt, BuildPrompt(transcript), structuring.DefaultTemperature)
		if err != nil {
			return stageError(pferrors.ErrStructuring, StageFallback, err)
		}
		rendered = strings.TrimSpace(llmjson.StripFence(r))
		if rendered == "" {
			return pferrors.New(pferrors.ErrProcessingError, StageFallback, "empty plain-text diarization")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	err = d.persist(ctx, meetingID, meetings.Update{
		TranscriptDiarized: meetings.Text(rendered),
	})
	if err != nil {
		return nil, err
	}

	d.metrics.RecordDiarization(ResultFallback)
	d.publish(ctx, events.MeetingDiarizedParams{
		MeetingID: meetingID,
		Fallback:  true,
	})

	return &Result{
		Status:             StatusOK,
		Diarized:           false,
		Fallback:           true,
		Error:              ErrorJSONParseFailed,
		TranscriptDiarized: rendered,
	}, nil
}

func (d *Diarizer) persist(ctx context.Context, meetingID string, u meetings.Update) error {
	return d.stages.Run(ctx, StagePersist, func(ctx context.Context) error {
		rows, err := d.store.Update(ctx, meetingID, u)
		if err != nil {
			return pferrors.Wrap(pferrors.ErrPersistence, StagePersist, err)
		}
		if rows == 0 {
			return pferrors.Wrap(pferrors.ErrPersistence, StagePersist,
				fmt.Errorf("meeting %s: %w", meetingID, pferrors.ErrNoRowsUpdated))
		}
		return nil
	})
}

func (d *Diarizer) publish(ctx context.Context, params events.MeetingDiarizedParams) {
	params.CorrelationID = logging.RequestIDFromContext(ctx)
	if err := d.publisher.PublishMeetingDiarized(ctx, params); err != nil {
		d.metrics.RecordEventPublishFailure("meeting.diarized")
		d.logger.WithContext(ctx).Warn("Failed to publish meeting diarized event", logging.Err(err))
	}
}

// stageError attaches code to err, or the timeout/cancellation code when the
// context ended the call.
func stageError(code pferrors.ErrorCode, stage string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return pferrors.ClassifyError(err, stage)
	}
	return pferrors.Wrap(code, stage, err)
}

// Package pipeline turns a meeting recording into a stored transcript and
// summary, then notifies the user.
//
// A run is fetch, transcribe, truncate, structure, parse, persist, notify.
// Structuring and parse failures degrade to the raw transcript and a fixed
// summary. Fetch, transcription and persistence failures mark the meeting
// processing_failed. Notification failures are only logged.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/otherjamesbrown/penf-meetings/pkg/ai/structuring"
	"github.com/otherjamesbrown/penf-meetings/pkg/ai/transcription"
	"github.com/otherjamesbrown/penf-meetings/pkg/audio"
	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
	"github.com/otherjamesbrown/penf-meetings/pkg/events"
	"github.com/otherjamesbrown/penf-meetings/pkg/llmjson"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
	"github.com/otherjamesbrown/penf-meetings/pkg/meetings"
	"github.com/otherjamesbrown/penf-meetings/pkg/notify"
	"github.com/otherjamesbrown/penf-meetings/pkg/observability"
)

// Stage names used in logs, spans and metrics.
const (
	StageFetch      = "fetch"
	StageTranscribe = "transcribe"
	StageStructure  = "structure"
	StageParse      = "parse"
	StagePersist    = "persist"
	StageNotify     = "notify"
)

// failurePersistTimeout bounds the best-effort processing_failed write.
const failurePersistTimeout = 10 * time.Second

// Outcome label values for processed meetings.
const (
	OutcomeStructured = "structured"
	OutcomeDegraded   = "degraded"
	OutcomeFailed     = "failed"
)

// Notifier delivers the meeting-ready push notification.
type Notifier interface {
	MeetingReady(ctx context.Context, token, meetingID, title string) bool
}

// Result is the completion signal returned to the caller.
type Result struct {
	OK        bool            `json:"ok"`
	Status    meetings.Status `json:"status"`
	Error     string          `json:"error,omitempty"`
	Degraded  bool            `json:"degraded,omitempty"`
	Truncated bool            `json:"truncated,omitempty"`
}

// Pipeline processes meetings. It holds no per-run state and is safe for
// concurrent use.
type Pipeline struct {
	fetcher     audio.Fetcher
	transcriber transcription.Transcriber
	completer   structuring.Completer
	store       meetings.Store
	notifier    Notifier
	publisher   events.Publisher
	metrics     *observability.Metrics
	tracer      *observability.Tracer
	stages      *observability.StageRunner
	logger      logging.Logger
}

// Option configures the pipeline.
type Option func(*Pipeline)

// WithLogger sets a custom logger.
func WithLogger(logger logging.Logger) Option {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

// WithNotifier sets the push notifier.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) {
		p.notifier = n
	}
}

// WithPublisher sets the event publisher.
func WithPublisher(pub events.Publisher) Option {
	return func(p *Pipeline) {
		p.publisher = pub
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithTracer sets the tracer.
func WithTracer(t *observability.Tracer) Option {
	return func(p *Pipeline) {
		p.tracer = t
	}
}

// New creates a meeting pipeline.
func New(fetcher audio.Fetcher, transcriber transcription.Transcriber, completer structuring.Completer, store meetings.Store, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:     fetcher,
		transcriber: transcriber,
		completer:   completer,
		store:       store,
		publisher:   events.NopPublisher{},
		tracer:      observability.NewTracer(),
		logger:      logging.MustGlobal(),
	}

	for _, opt := range opts {
		opt(p)
	}

	p.logger = p.logger.With(logging.F("component", "meeting_pipeline"))
	p.stages = &observability.StageRunner{
		Pipeline: observability.PipelineMeeting,
		Tracer:   p.tracer,
		Metrics:  p.metrics,
		Logger:   p.logger,
	}
	if p.notifier == nil {
		p.notifier = notify.NewNotifier(notify.NopGateway{}, p.logger)
	}
	return p
}

// outcome is what a successful run stores.
type outcome struct {
	transcript string
	summary    string
	title      string
	degraded   bool
	truncated  bool
}

// Process runs the pipeline for one meeting. Business failures are reported
// in the Result, never as a panic or error.
func (p *Pipeline) Process(ctx context.Context, meetingID, audioURL, pushToken string) Result {
	start := time.Now()
	ctx = logging.ContextWithMeetingID(ctx, meetingID)
	ctx, span := p.tracer.StartPipelineSpan(ctx, observability.SpanProcessMeeting, meetingID)
	defer span.End()

	log := p.logger.WithContext(ctx)
	log.Info("Processing meeting", logging.F("has_push_token", pushToken != ""))

	out, err := p.run(ctx, meetingID, audioURL)
	if err != nil {
		return p.handleError(ctx, span, meetingID, err, start)
	}

	if pushToken != "" {
		_ = p.stages.Run(ctx, StageNotify, func(ctx context.Context) error {
			p.metrics.RecordNotification(p.notifier.MeetingReady(ctx, pushToken, meetingID, out.title))
			return nil
		})
	}

	result := Result{
		OK:        true,
		Status:    meetings.StatusReady,
		Degraded:  out.degraded,
		Truncated: out.truncated,
	}

	label := OutcomeStructured
	if out.degraded {
		label = OutcomeDegraded
	}
	p.metrics.RecordMeetingProcessed(string(meetings.StatusReady), label)
	p.publishProcessed(ctx, meetingID, result, out.title, time.Since(start))
	observability.SetSuccess(span)

	log.Info("Meeting processed",
		logging.F("outcome", label),
		logging.F("truncated", out.truncated),
		logging.F("duration", time.Since(start)))

	return result
}

// run executes the stages up to and including the ready write.
func (p *Pipeline) run(ctx context.Context, meetingID, audioURL string) (*outcome, error) {
	var data []byte
	err := p.stages.Run(ctx, StageFetch, func(ctx context.Context) error {
		b, err := p.fetcher.Fetch(ctx, audioURL)
		if err != nil {
			return stageError(pferrors.ErrFetch, StageFetch, err)
		}
		data = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	var transcript *transcription.Result
	err = p.stages.Run(ctx, StageTranscribe, func(ctx context.Context) error {
		r, err := p.transcriber.Transcribe(ctx, data, audio.FilenameHint(audioURL))
		if err != nil {
			return stageError(pferrors.ErrTranscription, StageTranscribe, err)
		}
		if r == nil {
			r = &transcription.Result{}
		}
		transcript = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	p.metrics.RecordAudioDuration(transcript.Duration.Seconds())

	analyzed, truncated := TruncateTranscript(transcript.Text, MaxTranscriptChars)
	if truncated {
		p.metrics.RecordTruncation()
		p.logger.WithContext(ctx).Warn("Transcript truncated before structuring",
			logging.F("limit", MaxTranscriptChars),
			logging.F("audio_duration", transcript.Duration))
	}

	out := p.structure(ctx, analyzed, truncated)

	err = p.stages.Run(ctx, StagePersist, func(ctx context.Context) error {
		title := meetings.Null()
		if out.title != "" {
			title = meetings.Text(out.title)
		}
		rows, err := p.store.Update(ctx, meetingID, meetings.Update{
			Status:     meetings.StatusPtr(meetings.StatusReady),
			Transcript: meetings.Text(out.transcript),
			Summary:    meetings.Text(out.summary),
			Title:      title,
		})
		if err != nil {
			return stageError(pferrors.ErrPersistence, StagePersist, err)
		}
		if rows == 0 {
			return pferrors.Wrap(pferrors.ErrPersistence, StagePersist,
				fmt.Errorf("meeting %s: %w", meetingID, pferrors.ErrNoRowsUpdated))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return out, nil
}

// structure asks for the structured meeting object. It never fails: service
// and parse errors fall back to the analyzed transcript.
func (p *Pipeline) structure(ctx context.Context, analyzed string, truncated bool) *outcome {
	degraded := &outcome{
		transcript: analyzed,
		summary:    RenderDegradedSummary(truncated),
		degraded:   true,
		truncated:  truncated,
	}

	var raw string
	err := p.stages.Run(ctx, StageStructure, func(ctx context.Context) error {
		r, err := p.completer.Complete(ctx, SummarySystemPrompt, BuildSummaryPrompt(analyzed), structuring.DefaultTemperature)
		if err != nil {
			return stageError(pferrors.ErrStructuring, StageStructure, err)
		}
		raw = r
		return nil
	})
	if err != nil {
		p.logger.WithContext(ctx).Warn("Structuring failed, storing raw transcript", logging.Err(err))
		return degraded
	}

	var parsed structuredMeeting
	err = p.stages.Run(ctx, StageParse, func(ctx context.Context) error {
		if err := llmjson.Decode(raw, &parsed, requiredFields...); err != nil {
			return pferrors.Wrap(pferrors.ErrParse, StageParse, err)
		}
		return nil
	})
	if err != nil {
		p.logger.WithContext(ctx).Warn("Structured response unusable, storing raw transcript",
			logging.Err(err),
			logging.F("response_chars", len(raw)))
		return degraded
	}

	transcript := strings.TrimSpace(parsed.CleanTranscript)
	if transcript == "" {
		transcript = analyzed
	}

	summary := RenderSummary(parsed.Summary, parsed.KeyPoints, parsed.ActionItems, false)
	if summary == "" {
		p.logger.WithContext(ctx).Warn("Structured response has no summary content, storing placeholder")
		summary = RenderDegradedSummary(truncated)
	} else {
		summary = RenderSummary(parsed.Summary, parsed.KeyPoints, parsed.ActionItems, truncated)
	}

	return &outcome{
		transcript: transcript,
		summary:    summary,
		title:      NormalizeTitle(parsed.Title),
		truncated:  truncated,
	}
}

// handleError records the failed status and builds the failure result.
func (p *Pipeline) handleError(ctx context.Context, span trace.Span, meetingID string, err error, start time.Time) Result {
	pe := pferrors.ClassifyError(err, "")
	retryable := pferrors.IsRetryable(pe.Code)
	log := p.logger.WithContext(ctx)

	log.Error("Meeting processing failed",
		logging.Err(err),
		logging.F("code", string(pe.Code)),
		logging.F("stage", pe.Stage),
		logging.F("retryable", retryable))
	observability.SetError(span, err, string(pe.Code), retryable)

	// The failure write must land even when ctx is already done.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failurePersistTimeout)
	defer cancel()

	rows, updateErr := p.store.Update(writeCtx, meetingID, meetings.Update{
		Status:     meetings.StatusPtr(meetings.StatusProcessingFailed),
		Transcript: meetings.Null(),
		Summary:    meetings.Text(FailureSummary),
		Title:      meetings.Null(),
	})
	switch {
	case updateErr != nil:
		log.Error("Failed to record processing failure", logging.Err(updateErr))
	case rows == 0:
		log.Error("Failed to record processing failure", logging.Err(pferrors.ErrNoRowsUpdated))
	}

	result := Result{
		OK:     false,
		Status: meetings.StatusProcessingFailed,
		Error:  string(pe.Code),
	}
	p.metrics.RecordMeetingProcessed(string(meetings.StatusProcessingFailed), OutcomeFailed)
	p.publishProcessed(writeCtx, meetingID, result, "", time.Since(start))
	return result
}

func (p *Pipeline) publishProcessed(ctx context.Context, meetingID string, result Result, title string, elapsed time.Duration) {
	err := p.publisher.PublishMeetingProcessed(ctx, events.MeetingProcessedParams{
		MeetingID:     meetingID,
		CorrelationID: logging.RequestIDFromContext(ctx),
		Status:        string(result.Status),
		OK:            result.OK,
		Degraded:      result.Degraded,
		Truncated:     result.Truncated,
		ErrorCode:     result.Error,
		Title:         title,
		Duration:      elapsed,
	})
	if err != nil {
		p.metrics.RecordEventPublishFailure("meeting.processed")
		p.logger.WithContext(ctx).Warn("Failed to publish meeting processed event", logging.Err(err))
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

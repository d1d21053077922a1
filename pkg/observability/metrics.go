// Package observability provides the Prometheus metrics and OpenTelemetry
// spans emitted by the meeting pipelines.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace prefixes every metric name.
const Namespace = "penf_meetings"

// Pipeline label values.
const (
	PipelineMeeting     = "meeting"
	PipelineDiarization = "diarization"
)

// Metrics holds all Prometheus metrics for the service. A nil *Metrics
// records nothing.
type Metrics struct {
	MeetingsProcessedTotal *prometheus.CounterVec
	StageSeconds           *prometheus.HistogramVec
	StageErrorsTotal       *prometheus.CounterVec
	TranscriptsTruncated   prometheus.Counter
	AudioDurationSeconds   prometheus.Histogram
	DiarizationsTotal      *prometheus.CounterVec
	NotificationsTotal     *prometheus.CounterVec
	EventPublishFailures   *prometheus.CounterVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestSeconds     *prometheus.HistogramVec
}

// NewMetrics creates and registers the service metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		MeetingsProcessedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "meetings_processed_total",
				Help:      "Meetings that reached a terminal status, by status and outcome",
			},
			[]string{"status", "outcome"},
		),
		StageSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "stage_seconds",
				Help:      "Latency of each pipeline stage",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"pipeline", "stage"},
		),
		StageErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "stage_errors_total",
				Help:      "Stage failures by classified error code",
			},
			[]string{"pipeline", "stage", "code"},
		),
		TranscriptsTruncated: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "transcripts_truncated_total",
				Help:      "Transcripts truncated before structuring",
			},
		),
		AudioDurationSeconds: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "audio_duration_seconds",
				Help:      "Duration of transcribed recordings as reported by the transcription service",
				Buckets:   []float64{30, 60, 300, 600, 1200, 1800, 3600, 7200},
			},
		),
		DiarizationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "diarizations_total",
				Help:      "Diarization requests by result (structured, fallback, cached, error)",
			},
			[]string{"result"},
		),
		NotificationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "notifications_total",
				Help:      "Push notifications by status (sent, failed)",
			},
			[]string{"status"},
		),
		EventPublishFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "event_publish_failures_total",
				Help:      "Events that could not be published",
			},
			[]string{"event"},
		),
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route and status code",
			},
			[]string{"route", "code"},
		),
		HTTPRequestSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "http_request_seconds",
				Help:      "HTTP request latency by route",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

// RecordStage observes the latency of a pipeline stage.
func (m *Metrics) RecordStage(pipeline, stage string, seconds float64) {
	if m == nil {
		return
	}
	m.StageSeconds.WithLabelValues(pipeline, stage).Observe(seconds)
}

// RecordStageError counts a failed stage.
func (m *Metrics) RecordStageError(pipeline, stage, code string) {
	if m == nil {
		return
	}
	m.StageErrorsTotal.WithLabelValues(pipeline, stage, code).Inc()
}

// RecordMeetingProcessed counts a meeting reaching a terminal status.
func (m *Metrics) RecordMeetingProcessed(status, outcome string) {
	if m == nil {
		return
	}
	m.MeetingsProcessedTotal.WithLabelValues(status, outcome).Inc()
}

// RecordTruncation counts a truncated transcript.
func (m *Metrics) RecordTruncation() {
	if m == nil {
		return
	}
	m.TranscriptsTruncated.Inc()
}

// RecordAudioDuration observes the reported audio length.
func (m *Metrics) RecordAudioDuration(seconds float64) {
	if m == nil || seconds <= 0 {
		return
	}
	m.AudioDurationSeconds.Observe(seconds)
}

// RecordDiarization counts a diarization result.
func (m *Metrics) RecordDiarization(result string) {
	if m == nil {
		return
	}
	m.DiarizationsTotal.WithLabelValues(result).Inc()
}

// RecordNotification counts a push notification attempt.
func (m *Metrics) RecordNotification(sent bool) {
	if m == nil {
		return
	}
	status := "failed"
	if sent {
		status = "sent"
	}
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

// RecordEventPublishFailure counts an event that was not published.
func (m *Metrics) RecordEventPublishFailure(event string) {
	if m == nil {
		return
	}
	m.EventPublishFailures.WithLabelValues(event).Inc()
}

// RecordHTTPRequest counts and times an HTTP request.
func (m *Metrics) RecordHTTPRequest(route, code string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, code).Inc()
	m.HTTPRequestSeconds.WithLabelValues(route).Observe(seconds)
}

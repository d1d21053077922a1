package observability

import (
	"context"
	"time"

	pferrors "github.com/otherjamesbrown/penf-meetings/pkg/errors"
	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

// StageRunner wraps pipeline stages with a span, a latency observation and a
// debug log line. Errors are labelled with their pipeline error code.
type StageRunner struct {
	Pipeline string
	Tracer   *Tracer
	Metrics  *Metrics
	Logger   logging.Logger
}

// Run executes fn as the named stage and returns its error unchanged.
func (r *StageRunner) Run(ctx context.Context, stage string, fn func(context.Context) error) error {
	ctx, span := r.Tracer.StartStageSpan(ctx, r.Pipeline, stage)
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	elapsed := time.Since(start)
	r.Metrics.RecordStage(r.Pipeline, stage, elapsed.Seconds())

	log := r.Logger.WithContext(ctx)
	if err != nil {
		code := pferrors.CodeOf(err)
		r.Metrics.RecordStageError(r.Pipeline, stage, string(code))
		SetError(span, err, string(code), pferrors.IsRetryable(code))
		log.Debug("Stage failed",
			logging.Err(err),
			logging.F("stage", stage),
			logging.F("code", string(code)),
			logging.F("duration", elapsed))
		return err
	}

	SetSuccess(span)
	log.Debug("Stage completed",
		logging.F("stage", stage),
		logging.F("duration", elapsed))
	return nil
}

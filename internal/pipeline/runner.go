package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// runner wraps exactly one generation call with timing, cost capture, and
// outcome classification. Retry policy belongs to the orchestrator; the
// runner never retries.
type runner struct {
	logger *zap.Logger
}

// run invokes the stage and classifies the result. The timer covers the
// collaborator call regardless of outcome. A collaborator error yields a
// failure record and a nil output; warnings attached to a successful call
// downgrade the record to OutcomeWarning.
func (r *runner) run(ctx context.Context, stage Stage, artifacts Artifacts) (StageRecord, *Output, error) {
	start := time.Now()
	output, err := stage.Run(ctx, artifacts)
	record := StageRecord{
		StageID:  stage.ID,
		Duration: time.Since(start),
	}

	if err != nil {
		record.Outcome = OutcomeFailure
		record.Error = err.Error()
		r.logger.Warn("stage failed",
			zap.String("stage", stage.ID),
			zap.Duration("duration", record.Duration),
			zap.Error(err))
		return record, nil, err
	}

	record.Cost = output.Cost
	record.Warnings = output.Warnings
	if len(output.Warnings) > 0 {
		record.Outcome = OutcomeWarning
	} else {
		record.Outcome = OutcomeSuccess
	}

	r.logger.Debug("stage finished",
		zap.String("stage", stage.ID),
		zap.String("outcome", string(record.Outcome)),
		zap.Duration("duration", record.Duration),
		zap.Float64("cost", record.Cost))
	return record, output, nil
}

// runRevision invokes the revision collaborator with the prior payload and
// the validator's error list, under the same timing and classification
// rules as run.
func (r *runner) runRevision(ctx context.Context, stageID string, attempt int, revise ReviseFunc, prior map[string]any, violations []string) (StageRecord, *Output, error) {
	start := time.Now()
	output, err := revise(ctx, prior, violations)
	record := StageRecord{
		StageID:  stageID,
		Attempt:  attempt,
		Duration: time.Since(start),
	}

	if err != nil {
		record.Outcome = OutcomeFailure
		record.Error = err.Error()
		r.logger.Warn("revision failed",
			zap.String("stage", stageID),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return record, nil, err
	}

	record.Cost = output.Cost
	record.Warnings = output.Warnings
	record.Outcome = OutcomeSuccess
	if len(output.Warnings) > 0 {
		record.Outcome = OutcomeWarning
	}
	return record, output, nil
}

package pipeline

import (
	"fmt"
	"strings"

	"caseweaver/internal/similarity"
)

// ValidationError reports structural schema violations in a gated stage's
// output. It is handled by the revision sub-loop and only surfaces inside a
// BudgetExhaustedError.
type ValidationError struct {
	StageID    string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("stage %s output failed validation: %s", e.StageID, strings.Join(e.Violations, "; "))
}

// GenerationError is a fatal collaborator failure. The orchestrator never
// retries these.
type GenerationError struct {
	StageID string
	Err     error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("stage %s generation failed: %v", e.StageID, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// BudgetExhaustedError is raised when the bounded revision loop fails to
// converge. Violations holds the best attempt's remaining defects.
type BudgetExhaustedError struct {
	StageID    string
	Attempts   int
	Violations []string
}

func (e *BudgetExhaustedError) Error() string {
	return fmt.Sprintf("stage %s still invalid after %d revision attempts: %s",
		e.StageID, e.Attempts, strings.Join(e.Violations, "; "))
}

// CancelledError records cooperative cancellation observed between stages
// or between revision attempts.
type CancelledError struct {
	StageID string
	Err     error
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("run cancelled before stage %s: %v", e.StageID, e.Err)
}

func (e *CancelledError) Unwrap() error { return e.Err }

// SimilarityThresholdError records a failing similarity gate. It never
// aborts the pipeline; it downgrades the final status per configured
// severity.
type SimilarityThresholdError struct {
	Status similarity.Status
	Score  float64
	Ref    string
}

func (e *SimilarityThresholdError) Error() string {
	return fmt.Sprintf("candidate too close to reference %s (aggregate %.2f, status %s)", e.Ref, e.Score, e.Status)
}

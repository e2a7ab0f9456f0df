// Package pipeline sequences the content-generation stages of a case run.
// Stages execute strictly sequentially; one stage is validation-gated and
// owns a bounded auto-revision sub-loop; an optional terminal similarity
// gate classifies the finished artifact set. The orchestrator aggregates
// per-stage telemetry and reports fractional progress to an observer.
package pipeline

import (
	"context"
	"time"

	"caseweaver/internal/schema"
	"caseweaver/internal/similarity"
)

// Outcome tags one stage attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeWarning Outcome = "warning"
	OutcomeFailure Outcome = "failure"
)

// Status classifies a whole run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusFailure Status = "failure"
)

// Artifacts accumulates stage outputs keyed by stage id. Each stage sees
// everything produced before it.
type Artifacts map[string]map[string]any

// Output is what one generation call produces.
type Output struct {
	Payload  map[string]any
	Cost     float64
	Warnings []string
}

// StageFunc is one opaque generation call: the collaborator receives the
// artifacts accumulated so far and returns a payload or fails.
type StageFunc func(ctx context.Context, artifacts Artifacts) (*Output, error)

// ReviseFunc repairs a gated stage's output using the validator's error
// list as feedback.
type ReviseFunc func(ctx context.Context, prior map[string]any, violations []string) (*Output, error)

// Stage describes one pipeline stage.
type Stage struct {
	ID       string
	Title    string
	Optional bool // the run may skip it
	Gated    bool // output must pass the structural validator
	Run      StageFunc
}

// Validator gates a stage's output. schema.Document satisfies it.
type Validator interface {
	Validate(payload any) schema.Result
}

// Observer receives progress notifications. Notify must not block the
// caller meaningfully; implementations get no backpressure contract.
type Observer interface {
	Notify(stageID string, fraction float64, message string)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(stageID string, fraction float64, message string)

func (f ObserverFunc) Notify(stageID string, fraction float64, message string) {
	f(stageID, fraction, message)
}

// StageRecord is the telemetry for one stage attempt. Attempt is zero for
// the initial execution and counts up through revision attempts.
type StageRecord struct {
	StageID  string        `json:"stage_id"`
	Attempt  int           `json:"attempt"`
	Duration time.Duration `json:"duration"`
	Cost     float64       `json:"cost"`
	Outcome  Outcome       `json:"outcome"`
	Error    string        `json:"error,omitempty"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Telemetry is the ordered record of every stage attempt in a run plus the
// accumulated totals. It is built up during the run and snapshotted into
// the final result.
type Telemetry struct {
	Records       []StageRecord `json:"records"`
	TotalCost     float64       `json:"total_cost"`
	TotalDuration time.Duration `json:"total_duration"`
	Revisions     int           `json:"revisions"`
	Warnings      []string      `json:"warnings,omitempty"`
	Errors        []string      `json:"errors,omitempty"`
}

func (t *Telemetry) append(record StageRecord) {
	t.Records = append(t.Records, record)
	t.TotalCost += record.Cost
	t.TotalDuration += record.Duration
	t.Warnings = append(t.Warnings, record.Warnings...)
}

// RunResult is the orchestrator's final in-memory result. Persistence is
// the caller's concern.
type RunResult struct {
	RunID      string             `json:"run_id"`
	Status     Status             `json:"status"`
	Artifacts  Artifacts          `json:"artifacts"`
	Telemetry  Telemetry          `json:"telemetry"`
	Similarity *similarity.Report `json:"similarity,omitempty"`
}

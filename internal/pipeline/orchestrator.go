package pipeline

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"caseweaver/internal/similarity"
)

// DefaultMaxRevisions bounds the auto-revision sub-loop around the gated
// stage.
const DefaultMaxRevisions = 3

// state is the orchestrator's position in the run lifecycle.
type state int

const (
	statePending state = iota
	stateRunning
	stateRevising
	stateScoring
	stateComplete
	stateFailed
)

// Config wires an Orchestrator. Stages run in order; a gated stage requires
// both Validator and Reviser. Scorer nil skips the terminal similarity
// gate. All fields are read-only for the run's duration.
type Config struct {
	RunID  string
	Stages []Stage

	Validator Validator
	Reviser   ReviseFunc

	Scorer     *similarity.Scorer
	References []similarity.Reference

	// CandidateStage names the stage whose output feeds the similarity
	// gate. Defaults to the gated stage.
	CandidateStage string

	Observer     Observer
	MaxRevisions int

	// StrictSimilarity makes a failing similarity gate fail the run
	// instead of downgrading it to a warning.
	StrictSimilarity bool

	// SkipStages marks optional stages the run should skip.
	SkipStages map[string]bool

	Logger *zap.Logger
}

// Orchestrator drives one pipeline run. It holds no process-wide mutable
// state; independent runs may execute concurrently with their own
// Orchestrator, telemetry, and observer.
type Orchestrator struct {
	cfg    Config
	runner *runner
	logger *zap.Logger
}

// New validates the configuration and builds an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if len(cfg.Stages) == 0 {
		return nil, fmt.Errorf("pipeline: no stages configured")
	}
	seen := map[string]bool{}
	gated := ""
	for _, stage := range cfg.Stages {
		if stage.ID == "" || stage.Run == nil {
			return nil, fmt.Errorf("pipeline: stage %q is missing id or run func", stage.ID)
		}
		if seen[stage.ID] {
			return nil, fmt.Errorf("pipeline: duplicate stage id %s", stage.ID)
		}
		seen[stage.ID] = true
		if stage.Gated {
			gated = stage.ID
		}
	}
	if gated != "" {
		if cfg.Validator == nil {
			return nil, fmt.Errorf("pipeline: gated stage %s requires a validator", gated)
		}
		if cfg.Reviser == nil {
			return nil, fmt.Errorf("pipeline: gated stage %s requires a reviser", gated)
		}
	}
	if cfg.MaxRevisions <= 0 {
		cfg.MaxRevisions = DefaultMaxRevisions
	}
	if cfg.CandidateStage == "" {
		cfg.CandidateStage = gated
		if cfg.CandidateStage == "" {
			cfg.CandidateStage = cfg.Stages[len(cfg.Stages)-1].ID
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return &Orchestrator{
		cfg:    cfg,
		runner: &runner{logger: cfg.Logger},
		logger: cfg.Logger,
	}, nil
}

// revision tracks the sub-loop around the gated stage. best holds the most
// promising payload so far; a revised output only replaces it when its
// violation list shrank.
type revision struct {
	stage      Stage
	stageIndex int
	attempt    int
	best       map[string]any
	violations []string
}

// Run executes the pipeline until Complete or Failed. The returned result
// always carries status, ordered telemetry of every attempt, and the
// accumulated warning/error lists; on failure the fatal error is also
// returned alongside it.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	result := &RunResult{
		RunID:     o.cfg.RunID,
		Artifacts: Artifacts{},
	}
	tel := &result.Telemetry

	var (
		st    = statePending
		index int
		rev   revision
		fatal error
	)

	for {
		switch st {
		case statePending:
			st = stateRunning

		case stateRunning:
			if index >= len(o.cfg.Stages) {
				st = stateScoring
				continue
			}
			stage := o.cfg.Stages[index]

			if stage.Optional && o.cfg.SkipStages[stage.ID] {
				o.notify(stage.ID, o.fraction(index), fmt.Sprintf("%s skipped", stage.Title))
				index++
				continue
			}

			if err := ctx.Err(); err != nil {
				fatal = &CancelledError{StageID: stage.ID, Err: err}
				st = stateFailed
				continue
			}

			o.logger.Info("running stage",
				zap.String("run", o.cfg.RunID),
				zap.String("stage", stage.ID),
				zap.Int("ordinal", index))

			record, output, err := o.runner.run(ctx, stage, result.Artifacts)
			if err != nil {
				tel.append(record)
				fatal = &GenerationError{StageID: stage.ID, Err: err}
				st = stateFailed
				continue
			}

			if stage.Gated {
				check := o.cfg.Validator.Validate(any(output.Payload))
				if !check.Valid {
					record.Outcome = OutcomeFailure
					record.Error = (&ValidationError{StageID: stage.ID, Violations: check.Errors}).Error()
					tel.append(record)
					o.notify(stage.ID, o.fraction(index), fmt.Sprintf("%s failed validation, revising", stage.Title))
					rev = revision{
						stage:      stage,
						stageIndex: index,
						best:       output.Payload,
						violations: check.Errors,
					}
					st = stateRevising
					continue
				}
			}

			tel.append(record)
			result.Artifacts[stage.ID] = output.Payload
			o.notify(stage.ID, o.fraction(index), fmt.Sprintf("%s complete", stage.Title))
			index++

		case stateRevising:
			if rev.attempt >= o.cfg.MaxRevisions {
				fatal = &BudgetExhaustedError{
					StageID:    rev.stage.ID,
					Attempts:   rev.attempt,
					Violations: rev.violations,
				}
				st = stateFailed
				continue
			}
			if err := ctx.Err(); err != nil {
				fatal = &CancelledError{StageID: rev.stage.ID, Err: err}
				st = stateFailed
				continue
			}

			rev.attempt++
			o.logger.Info("revising stage output",
				zap.String("run", o.cfg.RunID),
				zap.String("stage", rev.stage.ID),
				zap.Int("attempt", rev.attempt),
				zap.Strings("violations", rev.violations))

			record, output, err := o.runner.runRevision(ctx, rev.stage.ID, rev.attempt, o.cfg.Reviser, rev.best, rev.violations)
			if err != nil {
				tel.append(record)
				fatal = &GenerationError{StageID: rev.stage.ID, Err: err}
				st = stateFailed
				continue
			}

			check := o.cfg.Validator.Validate(any(output.Payload))
			if check.Valid {
				tel.append(record)
				tel.Revisions += rev.attempt
				result.Artifacts[rev.stage.ID] = output.Payload
				o.notify(rev.stage.ID, o.fraction(rev.stageIndex),
					fmt.Sprintf("%s revised after %d attempt(s)", rev.stage.Title, rev.attempt))
				index = rev.stageIndex + 1
				st = stateRunning
				continue
			}

			record.Outcome = OutcomeFailure
			record.Error = (&ValidationError{StageID: rev.stage.ID, Violations: check.Errors}).Error()
			tel.append(record)
			o.notify(rev.stage.ID, o.fraction(rev.stageIndex),
				fmt.Sprintf("%s still invalid after attempt %d", rev.stage.Title, rev.attempt))

			// Keep the attempt with the shortest violation list as the
			// basis for the next revision.
			if len(check.Errors) < len(rev.violations) {
				rev.best = output.Payload
				rev.violations = check.Errors
			}

		case stateScoring:
			if o.cfg.Scorer == nil {
				st = stateComplete
				continue
			}

			candidate := result.Artifacts[o.cfg.CandidateStage]
			report, err := o.cfg.Scorer.Score(candidate, o.cfg.References)
			if err != nil {
				// The artifacts exist; a broken gate is a warning, not
				// a lost run.
				tel.Warnings = append(tel.Warnings, fmt.Sprintf("similarity gate error: %v", err))
				o.notify("similarity", 1.0, "similarity gate skipped")
				st = stateComplete
				continue
			}
			result.Similarity = report
			o.notify("similarity", 1.0,
				fmt.Sprintf("similarity %s (max %.2f vs %s)", report.Status, report.MaxAggregate, report.ClosestRef))

			switch report.Status {
			case similarity.StatusFail:
				simErr := &SimilarityThresholdError{
					Status: report.Status,
					Score:  report.MaxAggregate,
					Ref:    report.ClosestRef,
				}
				if o.cfg.StrictSimilarity {
					fatal = simErr
					st = stateFailed
					continue
				}
				tel.Warnings = append(tel.Warnings, simErr.Error())
			case similarity.StatusWarning:
				tel.Warnings = append(tel.Warnings,
					fmt.Sprintf("candidate close to reference %s (aggregate %.2f)", report.ClosestRef, report.MaxAggregate))
			}
			st = stateComplete

		case stateComplete:
			result.Status = StatusSuccess
			if tel.Revisions > 0 || len(tel.Warnings) > 0 {
				result.Status = StatusWarning
			}
			o.logger.Info("run complete",
				zap.String("run", o.cfg.RunID),
				zap.String("status", string(result.Status)),
				zap.Float64("cost", tel.TotalCost),
				zap.Int("revisions", tel.Revisions))
			return result, nil

		case stateFailed:
			tel.Errors = append(tel.Errors, fatal.Error())
			result.Status = StatusFailure
			o.logger.Error("run failed",
				zap.String("run", o.cfg.RunID),
				zap.Error(fatal))
			return result, fatal
		}
	}
}

// fraction returns the fixed completion fraction for a stage position.
// Revision attempts re-emit their stage's fraction, so progress is
// non-decreasing across distinct stages but flat inside a sub-loop.
func (o *Orchestrator) fraction(index int) float64 {
	total := len(o.cfg.Stages)
	if o.cfg.Scorer != nil {
		total++
	}
	return float64(index+1) / float64(total)
}

// notify fires the observer if one is configured. Observers are
// fire-and-forget; a nil observer is fine.
func (o *Orchestrator) notify(stageID string, fraction float64, message string) {
	if o.cfg.Observer == nil {
		return
	}
	o.cfg.Observer.Notify(stageID, fraction, message)
}

// Summary renders a short human-readable account of a finished run.
func Summary(result *RunResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "run %s: %s (%d stage attempts, %d revisions, cost %.4f)",
		result.RunID, result.Status, len(result.Telemetry.Records), result.Telemetry.Revisions, result.Telemetry.TotalCost)
	for _, w := range result.Telemetry.Warnings {
		fmt.Fprintf(&b, "\n  warning: %s", w)
	}
	for _, e := range result.Telemetry.Errors {
		fmt.Fprintf(&b, "\n  error: %s", e)
	}
	return b.String()
}

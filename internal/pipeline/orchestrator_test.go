package pipeline

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"caseweaver/internal/schema"
)

func TestMain(m *testing.M) {
	// go.opencensus.io (pulled in via google.golang.org/genai) starts a
	// worker goroutine at package init that can never be stopped.
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

const gateDocYAML = `
CASE:
  kind: object
  required: true
  fields:
    title: {kind: string, required: true}
    premise: {kind: string, required: true}
`

func gateDoc(t *testing.T) *schema.Document {
	t.Helper()
	doc, err := schema.ParseDocument([]byte(gateDocYAML))
	require.NoError(t, err)
	return doc
}

func okStage(id string) Stage {
	return Stage{
		ID:    id,
		Title: id,
		Run: func(ctx context.Context, artifacts Artifacts) (*Output, error) {
			return &Output{Payload: map[string]any{"stage": id}, Cost: 0.01}, nil
		},
	}
}

func validCasePayload() map[string]any {
	return map[string]any{
		"CASE": map[string]any{"title": "The Hollow Tower", "premise": "A bell rings in an empty belfry."},
	}
}

func invalidCasePayload() map[string]any {
	return map[string]any{
		"CASE": map[string]any{"premise": "A bell rings in an empty belfry."},
	}
}

// gatedStage returns invalid payloads for the first failures invocations.
func gatedStage(failures *int) Stage {
	return Stage{
		ID:    "case_model",
		Title: "case model",
		Gated: true,
		Run: func(ctx context.Context, artifacts Artifacts) (*Output, error) {
			if *failures > 0 {
				return &Output{Payload: invalidCasePayload(), Cost: 0.05}, nil
			}
			return &Output{Payload: validCasePayload(), Cost: 0.05}, nil
		},
	}
}

// reviserFixingAfter returns a ReviseFunc that keeps returning invalid
// payloads until the given number of attempts have happened.
func reviserFixingAfter(failing int, calls *int) ReviseFunc {
	return func(ctx context.Context, prior map[string]any, violations []string) (*Output, error) {
		*calls++
		if *calls <= failing {
			return &Output{Payload: invalidCasePayload(), Cost: 0.02}, nil
		}
		return &Output{Payload: validCasePayload(), Cost: 0.02}, nil
	}
}

type progressEvent struct {
	stage    string
	fraction float64
	message  string
}

func recordingObserver(events *[]progressEvent) Observer {
	return ObserverFunc(func(stageID string, fraction float64, message string) {
		*events = append(*events, progressEvent{stageID, fraction, message})
	})
}

func TestRun_AllStagesSucceed(t *testing.T) {
	var events []progressEvent
	o, err := New(Config{
		RunID:    "run-1",
		Stages:   []Stage{okStage("cast"), okStage("locations"), okStage("narrative")},
		Observer: recordingObserver(&events),
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Len(t, result.Telemetry.Records, 3)
	assert.Zero(t, result.Telemetry.Revisions)
	assert.InDelta(t, 0.03, result.Telemetry.TotalCost, 1e-9)
	assert.Contains(t, result.Artifacts, "narrative")

	require.Len(t, events, 3)
	assert.InDelta(t, 1.0/3, events[0].fraction, 1e-9)
	assert.InDelta(t, 1.0, events[2].fraction, 1e-9)
}

func TestRun_RevisionConvergesWithinBudget(t *testing.T) {
	failures := 1
	var reviserCalls int
	o, err := New(Config{
		RunID:     "run-2",
		Stages:    []Stage{okStage("cast"), gatedStage(&failures), okStage("narrative")},
		Validator: gateDoc(t),
		Reviser:   reviserFixingAfter(0, &reviserCalls),
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	// One failed validation, one successful revision: status is warning,
	// never success, whenever any revision occurred.
	assert.Equal(t, StatusWarning, result.Status)
	assert.Equal(t, 1, result.Telemetry.Revisions)
	assert.Equal(t, 1, reviserCalls)
	assert.Len(t, result.Telemetry.Records, 4)
	assert.Equal(t, OutcomeFailure, result.Telemetry.Records[1].Outcome)
	assert.Equal(t, OutcomeSuccess, result.Telemetry.Records[2].Outcome)
	assert.Equal(t, 1, result.Telemetry.Records[2].Attempt)
	assert.Contains(t, result.Artifacts, "case_model")
	assert.Contains(t, result.Artifacts, "narrative")
}

func TestRun_RevisionCountMatchesFailedAttempts(t *testing.T) {
	failures := 1
	var reviserCalls int
	o, err := New(Config{
		Stages:       []Stage{gatedStage(&failures)},
		Validator:    gateDoc(t),
		Reviser:      reviserFixingAfter(1, &reviserCalls),
		MaxRevisions: 3,
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusWarning, result.Status)
	assert.Equal(t, 2, result.Telemetry.Revisions)
	// initial invalid + failed revision + successful revision
	assert.Len(t, result.Telemetry.Records, 3)
}

func TestRun_RevisionBudgetExhausted(t *testing.T) {
	failures := 1
	var reviserCalls int
	executedAfter := false
	after := okStage("narrative")
	after.Run = func(ctx context.Context, artifacts Artifacts) (*Output, error) {
		executedAfter = true
		return &Output{Payload: map[string]any{}}, nil
	}

	o, err := New(Config{
		Stages:       []Stage{gatedStage(&failures), after},
		Validator:    gateDoc(t),
		Reviser:      reviserFixingAfter(99, &reviserCalls),
		MaxRevisions: 2,
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.Error(t, err)

	var budget *BudgetExhaustedError
	require.ErrorAs(t, err, &budget)
	assert.Equal(t, 2, budget.Attempts)
	assert.Contains(t, budget.Violations[0], "CASE.title is required")

	assert.Equal(t, StatusFailure, result.Status)
	assert.False(t, executedAfter, "no stage after the exhausted gate may execute")
	require.NotEmpty(t, result.Telemetry.Errors)
	// initial invalid + two failed revisions
	assert.Len(t, result.Telemetry.Records, 3)
}

func TestRun_NonGatedFailureIsFatal(t *testing.T) {
	boom := Stage{
		ID:    "locations",
		Title: "locations",
		Run: func(ctx context.Context, artifacts Artifacts) (*Output, error) {
			return nil, fmt.Errorf("generation service unavailable")
		},
	}
	executedAfter := false
	after := okStage("narrative")
	after.Run = func(ctx context.Context, artifacts Artifacts) (*Output, error) {
		executedAfter = true
		return &Output{Payload: map[string]any{}}, nil
	}

	o, err := New(Config{Stages: []Stage{okStage("cast"), boom, after}})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, "locations", genErr.StageID)

	assert.Equal(t, StatusFailure, result.Status)
	assert.Len(t, result.Telemetry.Records, 2, "telemetry covers stages up to and including the failure")
	assert.False(t, executedAfter)
}

func TestRun_RevisionCollaboratorFailureIsFatal(t *testing.T) {
	failures := 1
	o, err := New(Config{
		Stages:    []Stage{gatedStage(&failures)},
		Validator: gateDoc(t),
		Reviser: func(ctx context.Context, prior map[string]any, violations []string) (*Output, error) {
			return nil, fmt.Errorf("reviser offline")
		},
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	assert.Equal(t, StatusFailure, result.Status)
}

func TestRun_CancellationBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := okStage("cast")
	first.Run = func(ctx context.Context, artifacts Artifacts) (*Output, error) {
		cancel() // observed at the next stage boundary, not mid-call
		return &Output{Payload: map[string]any{}}, nil
	}

	o, err := New(Config{Stages: []Stage{first, okStage("locations")}})
	require.NoError(t, err)

	result, err := o.Run(ctx)
	require.Error(t, err)

	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, "locations", cancelled.StageID)
	assert.Equal(t, StatusFailure, result.Status)
	assert.Len(t, result.Telemetry.Records, 1)
}

func TestRun_CancellationBetweenRevisionAttempts(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	failures := 1
	o, err := New(Config{
		Stages:    []Stage{gatedStage(&failures)},
		Validator: gateDoc(t),
		Reviser: func(_ context.Context, prior map[string]any, violations []string) (*Output, error) {
			cancel()
			return &Output{Payload: invalidCasePayload()}, nil
		},
		MaxRevisions: 5,
	})
	require.NoError(t, err)

	result, err := o.Run(ctx)
	require.Error(t, err)
	var cancelled *CancelledError
	require.ErrorAs(t, err, &cancelled)
	assert.Equal(t, StatusFailure, result.Status)
}

func TestRun_OptionalStageSkipped(t *testing.T) {
	ran := false
	optional := Stage{
		ID:       "clue_report",
		Title:    "clue report",
		Optional: true,
		Run: func(ctx context.Context, artifacts Artifacts) (*Output, error) {
			ran = true
			return &Output{Payload: map[string]any{}}, nil
		},
	}

	o, err := New(Config{
		Stages:     []Stage{okStage("cast"), optional},
		SkipStages: map[string]bool{"clue_report": true},
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.False(t, ran)
	assert.Equal(t, StatusSuccess, result.Status)
	assert.Len(t, result.Telemetry.Records, 1)
	assert.NotContains(t, result.Artifacts, "clue_report")
}

func TestRun_StageWarningsDowngradeStatus(t *testing.T) {
	warning := Stage{
		ID:    "prose",
		Title: "prose",
		Run: func(ctx context.Context, artifacts Artifacts) (*Output, error) {
			return &Output{
				Payload:  map[string]any{},
				Warnings: []string{"target length missed by 12%"},
			}, nil
		},
	}

	o, err := New(Config{Stages: []Stage{warning}})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, result.Status)
	assert.Equal(t, OutcomeWarning, result.Telemetry.Records[0].Outcome)
	assert.Contains(t, result.Telemetry.Warnings, "target length missed by 12%")
}

func TestRun_ProgressOrderAndMonotonicity(t *testing.T) {
	var events []progressEvent
	failures := 1
	var reviserCalls int

	o, err := New(Config{
		Stages:       []Stage{okStage("cast"), gatedStage(&failures), okStage("narrative")},
		Validator:    gateDoc(t),
		Reviser:      reviserFixingAfter(1, &reviserCalls),
		MaxRevisions: 3,
		Observer:     recordingObserver(&events),
	})
	require.NoError(t, err)

	_, err = o.Run(context.Background())
	require.NoError(t, err)

	// cast, gate invalid, revision invalid, revision ok, narrative
	require.Len(t, events, 5)
	wantStages := []string{"cast", "case_model", "case_model", "case_model", "narrative"}
	for i, want := range wantStages {
		assert.Equal(t, want, events[i].stage, "event %d", i)
	}

	last := 0.0
	for i, e := range events {
		assert.GreaterOrEqual(t, e.fraction, last, "fraction decreased at event %d", i)
		last = e.fraction
	}
	// Revision attempts re-emit the same fixed fraction.
	assert.Equal(t, events[1].fraction, events[2].fraction)
	assert.Equal(t, events[2].fraction, events[3].fraction)
}

func TestNew_ConfigValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	_, err = New(Config{Stages: []Stage{okStage("a"), okStage("a")}})
	assert.Error(t, err)

	gate := okStage("g")
	gate.Gated = true
	_, err = New(Config{Stages: []Stage{gate}})
	assert.Error(t, err, "gated stage without validator/reviser must be rejected")
}

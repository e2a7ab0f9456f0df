package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caseweaver/internal/similarity"
)

// fixedScorer builds a single-dimension scorer whose every comparison
// returns the given value, with default thresholds.
func fixedScorer(t *testing.T, value float64) *similarity.Scorer {
	t.Helper()
	scorer, err := similarity.NewScorer(similarity.Config{
		Weights: map[string]float64{"premise": 1.0},
		Comparators: map[string]similarity.Comparator{
			"premise": func(_, _ map[string]any) float64 { return value },
		},
	})
	require.NoError(t, err)
	return scorer
}

func twoReferences() []similarity.Reference {
	return []similarity.Reference{
		{ID: "ref-a", Artifact: map[string]any{}},
		{ID: "ref-b", Artifact: map[string]any{}},
	}
}

// Three ordinary stages, one validation-gated stage that fails once then
// succeeds, and a similarity gate reporting 0.55 against two references:
// final status warning, telemetry length 5, similarity pass.
func TestRun_EndToEnd_RevisionThenCleanSimilarity(t *testing.T) {
	failures := 1
	var reviserCalls int

	o, err := New(Config{
		RunID: "e2e-1",
		Stages: []Stage{
			okStage("cast"),
			okStage("locations"),
			okStage("temporal"),
			gatedStage(&failures),
		},
		Validator:  gateDoc(t),
		Reviser:    reviserFixingAfter(0, &reviserCalls),
		Scorer:     fixedScorer(t, 0.55),
		References: twoReferences(),
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusWarning, result.Status)
	assert.Len(t, result.Telemetry.Records, 5)
	assert.Equal(t, 1, result.Telemetry.Revisions)

	require.NotNil(t, result.Similarity)
	assert.Equal(t, similarity.StatusPass, result.Similarity.Status)
	assert.InDelta(t, 0.55, result.Similarity.MaxAggregate, 1e-9)
	assert.Len(t, result.Similarity.References, 2)
}

func TestRun_SimilarityFailDowngradesToWarningByDefault(t *testing.T) {
	failures := 0
	var reviserCalls int

	o, err := New(Config{
		Stages:     []Stage{gatedStage(&failures)},
		Validator:  gateDoc(t),
		Reviser:    reviserFixingAfter(0, &reviserCalls),
		Scorer:     fixedScorer(t, 0.95),
		References: twoReferences(),
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err, "a failing similarity gate must not abort a completed pipeline")

	assert.Equal(t, StatusWarning, result.Status)
	require.NotNil(t, result.Similarity)
	assert.Equal(t, similarity.StatusFail, result.Similarity.Status)
	require.NotEmpty(t, result.Telemetry.Warnings)
	assert.Contains(t, result.Telemetry.Warnings[0], "too close to reference")
}

func TestRun_StrictSimilarityFailFailsRun(t *testing.T) {
	failures := 0
	var reviserCalls int

	o, err := New(Config{
		Stages:           []Stage{gatedStage(&failures)},
		Validator:        gateDoc(t),
		Reviser:          reviserFixingAfter(0, &reviserCalls),
		Scorer:           fixedScorer(t, 0.95),
		References:       twoReferences(),
		StrictSimilarity: true,
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.Error(t, err)

	var simErr *SimilarityThresholdError
	require.ErrorAs(t, err, &simErr)
	assert.Equal(t, StatusFailure, result.Status)
	// Artifacts were already produced and stay attached to the result.
	assert.Contains(t, result.Artifacts, "case_model")
	require.NotNil(t, result.Similarity)
}

func TestRun_SkipSimilarityGate(t *testing.T) {
	o, err := New(Config{Stages: []Stage{okStage("cast")}})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result.Similarity)
	assert.Equal(t, StatusSuccess, result.Status)
}

func TestRun_SimilarityWarningBand(t *testing.T) {
	failures := 0
	var reviserCalls int

	scorer, err := similarity.NewScorer(similarity.Config{
		Weights: map[string]float64{"premise": 1.0},
		Comparators: map[string]similarity.Comparator{
			"premise": func(_, _ map[string]any) float64 { return 0.75 },
		},
		WarnFloor: 0.70,
		FailFloor: 0.90,
	})
	require.NoError(t, err)

	o, err := New(Config{
		Stages:     []Stage{gatedStage(&failures)},
		Validator:  gateDoc(t),
		Reviser:    reviserFixingAfter(0, &reviserCalls),
		Scorer:     scorer,
		References: twoReferences(),
	})
	require.NoError(t, err)

	result, err := o.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, result.Status)
	assert.Equal(t, similarity.StatusWarning, result.Similarity.Status)
}

package generation

import (
	"context"

	"caseweaver/internal/pipeline"
)

var stageTitles = map[string]string{
	StageCast:       "cast",
	StageCharacters: "character profiles",
	StageLocations:  "locations",
	StageTemporal:   "temporal context",
	StageCaseModel:  "case model",
	StageNarrative:  "narrative outline",
	StageProse:      "prose",
	StageClueReport: "clue report",
}

// Stages assembles the eight-stage mystery pipeline over a Generator. The
// case-model stage is validation-gated; the clue report is optional. Each
// stage receives the premise plus every artifact produced before it.
func Stages(gen Generator, premise string) []pipeline.Stage {
	order := []string{
		StageCast,
		StageCharacters,
		StageLocations,
		StageTemporal,
		StageCaseModel,
		StageNarrative,
		StageProse,
		StageClueReport,
	}

	stages := make([]pipeline.Stage, 0, len(order))
	for _, id := range order {
		stages = append(stages, pipeline.Stage{
			ID:       id,
			Title:    stageTitles[id],
			Gated:    id == StageCaseModel,
			Optional: id == StageClueReport,
			Run:      stageFunc(gen, id, premise),
		})
	}
	return stages
}

func stageFunc(gen Generator, stageID, premise string) pipeline.StageFunc {
	return func(ctx context.Context, artifacts pipeline.Artifacts) (*pipeline.Output, error) {
		input := map[string]any{
			"premise":   premise,
			"artifacts": flatten(artifacts),
		}
		result, err := gen.Invoke(ctx, stageID, input)
		if err != nil {
			return nil, err
		}
		return &pipeline.Output{
			Payload:  result.Output,
			Cost:     result.Cost,
			Warnings: result.Warnings,
		}, nil
	}
}

// ReviseFunc adapts a Reviser to the pipeline's revision hook.
func ReviseFunc(rev Reviser) pipeline.ReviseFunc {
	return func(ctx context.Context, prior map[string]any, violations []string) (*pipeline.Output, error) {
		result, err := rev.Revise(ctx, prior, violations)
		if err != nil {
			return nil, err
		}
		return &pipeline.Output{
			Payload:  result.Output,
			Cost:     result.Cost,
			Warnings: result.Warnings,
		}, nil
	}
}

func flatten(artifacts pipeline.Artifacts) map[string]any {
	out := make(map[string]any, len(artifacts))
	for id, payload := range artifacts {
		out[id] = payload
	}
	return out
}

package generation

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stage identifiers, in pipeline order.
const (
	StageCast       = "cast"
	StageCharacters = "characters"
	StageLocations  = "locations"
	StageTemporal   = "temporal"
	StageCaseModel  = "case_model"
	StageNarrative  = "narrative"
	StageProse      = "prose"
	StageClueReport = "clue_report"
)

const systemPrompt = `You are a mystery-fiction story architect. You always answer with a single JSON object and nothing else: no markdown fences, no commentary.`

var stageInstructions = map[string]string{
	StageCast: `Invent the cast for a new mystery. Return {"cast": [{"name", "role", "occupation", "secret"}]} with one detective, one victim, and three to five suspects or witnesses. Roles must be one of: detective, victim, suspect, witness.`,

	StageCharacters: `Write a psychological profile for every cast member. Return {"profiles": [{"name", "temperament", "relationships", "breaking_point"}]}.`,

	StageLocations: `Design the locations the mystery moves through. Return {"locations": [{"name", "description", "significance"}]}. Three to six locations.`,

	StageTemporal: `Lay out the factual timeline of the crime, hour by hour. Return {"timeline": [{"time", "event", "witnesses"}]}. Include the true sequence, not the apparent one.`,

	StageCaseModel: `Formalize the case as a structured model. Return {"CASE": {"id", "title", "premise", "setting": {"location", "era"}, "cast": [{"name", "role", "motive", "alibi"}], "clues": [{"id", "description", "discovery_scene", "discriminating"}], "solution": {"culprit", "method", "evidence_chain"}}}. Every clue in evidence_chain must exist in clues. At least one clue must be discriminating.`,

	StageNarrative: `Outline the narrative: scene-by-scene, which clues surface where, and where suspects are ruled out. Return {"outline": [{"scene", "title", "beats", "clues_revealed"}]}.`,

	StageProse: `Write the chapters. Return {"chapters": [{"title", "paragraphs"}]}. Include a clear discriminating-test scene where suspects are explicitly evaluated and at least one is ruled out with on-page evidence, and close every suspect thread in the solution sequence.`,

	StageClueReport: `Audit the finished case. Return {"report": {"clue_coverage", "fairness_notes", "dangling_threads"}}.`,
}

// BuildPrompt renders the user prompt for one stage from the premise and
// the artifacts accumulated so far.
func BuildPrompt(stageID string, input map[string]any) (string, error) {
	instruction, ok := stageInstructions[stageID]
	if !ok {
		return "", fmt.Errorf("generation: unknown stage %s", stageID)
	}

	var b strings.Builder
	if premise, _ := input["premise"].(string); premise != "" {
		fmt.Fprintf(&b, "Premise: %s\n\n", premise)
	}
	if artifacts, ok := input["artifacts"].(map[string]any); ok && len(artifacts) > 0 {
		context, err := json.MarshalIndent(artifacts, "", "  ")
		if err != nil {
			return "", fmt.Errorf("generation: marshal artifacts: %w", err)
		}
		fmt.Fprintf(&b, "Material produced so far:\n%s\n\n", context)
	}
	b.WriteString(instruction)
	return b.String(), nil
}

// BuildRevisionPrompt renders the repair prompt for a rejected case model:
// the prior output, the validator's findings, and targeted guardrails.
func BuildRevisionPrompt(prior map[string]any, violations []string) (string, error) {
	priorJSON, err := json.MarshalIndent(prior, "", "  ")
	if err != nil {
		return "", fmt.Errorf("generation: marshal prior output: %w", err)
	}

	var b strings.Builder
	b.WriteString("Your previous case model failed structural validation.\n\nPrevious output:\n")
	b.Write(priorJSON)
	b.WriteString("\n\nValidation errors:\n")
	for _, v := range violations {
		fmt.Fprintf(&b, "- %s\n", v)
	}
	b.WriteString("\nRepair guardrails:\n")
	for _, g := range Guardrails(violations) {
		fmt.Fprintf(&b, "- %s\n", g)
	}
	b.WriteString("\nReturn the complete corrected case model as a single JSON object with the same shape. Fix every listed error and change nothing else.")
	return b.String(), nil
}

// Guardrails maps validation findings to targeted repair instructions.
// Unmatched findings fall through to a generic completeness guardrail.
func Guardrails(violations []string) []string {
	var out []string
	seen := map[string]bool{}
	add := func(g string) {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}

	for _, v := range violations {
		switch {
		case strings.Contains(v, "is required"):
			add("Populate every required field; never omit or null a required key.")
		case strings.Contains(v, "must be one of"):
			add("Use only the enumerated values listed in the error for constrained fields.")
		case strings.Contains(v, "must be"):
			add("Match the declared type of every field exactly; strings stay strings, arrays stay arrays.")
		}
		if strings.Contains(v, ".solution") || strings.Contains(v, "evidence_chain") {
			add("Provide a complete culprit evidence chain from clue discovery to final proof.")
		}
		if strings.Contains(v, ".cast") {
			add("Close every cast entry: name and a role drawn from detective, victim, suspect, witness.")
		}
	}
	if len(out) == 0 {
		add("Return a structurally complete case model; resolve every validation error verbatim.")
	}
	return out
}

// Package generation holds the content-generation collaborators the
// pipeline invokes: one opaque call per stage plus a dedicated revision
// call that repairs a rejected case model using the validator's error list.
// The pipeline core never sees prompts or transports; it sees Generator and
// Reviser.
package generation

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Result is one collaborator call's outcome: a structured payload, the
// cost of producing it, and any non-fatal warnings.
type Result struct {
	Output   map[string]any
	Cost     float64
	Warnings []string
}

// Generator produces one stage's structured output from the accumulated
// inputs. A fatal failure is returned as an error and is never retried by
// the pipeline outside the revision path.
type Generator interface {
	Invoke(ctx context.Context, stageID string, input map[string]any) (*Result, error)
}

// Reviser repairs a prior output using the structural validator's error
// list as feedback.
type Reviser interface {
	Revise(ctx context.Context, prior map[string]any, violations []string) (*Result, error)
}

// ParseRecord decodes a model response into a structured record. Models
// wrap JSON in markdown fences often enough that stripping them first is
// mandatory.
func ParseRecord(text string) (map[string]any, error) {
	cleaned := stripFences(text)
	var record map[string]any
	if err := json.Unmarshal([]byte(cleaned), &record); err != nil {
		return nil, fmt.Errorf("generation: response is not a JSON object: %w", err)
	}
	return record, nil
}

// stripFences removes a leading ```json / ``` fence pair and any prose
// around the outermost JSON object.
func stripFences(text string) string {
	s := strings.TrimSpace(text)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	if start := strings.Index(s, "{"); start > 0 {
		if end := strings.LastIndex(s, "}"); end > start {
			s = s[start : end+1]
		}
	}
	return s
}

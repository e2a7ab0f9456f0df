// Package similarity scores a generated case against reference cases across
// weighted dimensions and classifies the result pass/warning/fail. It is the
// terminal gate of the generation pipeline: a near-duplicate of a reference
// is flagged before it ships.
package similarity

import (
	"fmt"
	"math"
	"sort"
)

// Status classifies a similarity report.
type Status string

const (
	StatusPass    Status = "pass"
	StatusWarning Status = "warning"
	StatusFail    Status = "fail"
)

// DefaultWarnFloor is the aggregate score at which a reference is close
// enough to warrant a warning. When no separate fail floor is configured it
// doubles as the fail floor.
const DefaultWarnFloor = 0.70

// Comparator computes one dimension's similarity between a candidate and a
// reference artifact. Implementations must return a value in [0,1] and be
// deterministic; symmetry is not required.
type Comparator func(candidate, reference map[string]any) float64

// Reference is one prior case the candidate is compared against.
type Reference struct {
	ID       string
	Artifact map[string]any
}

// DimensionScore is one dimension's contribution for one reference.
type DimensionScore struct {
	Dimension string  `json:"dimension"`
	Score     float64 `json:"score"`
	Weight    float64 `json:"weight"`
}

// ReferenceScore holds the full per-dimension breakdown for one reference.
type ReferenceScore struct {
	ReferenceID string           `json:"reference_id"`
	Dimensions  []DimensionScore `json:"dimensions"`
	Aggregate   float64          `json:"aggregate"`
}

// Report is the scorer's output: per-reference breakdowns, the maximum
// aggregate over all references, and the resulting classification.
type Report struct {
	References   []ReferenceScore `json:"references"`
	MaxAggregate float64          `json:"max_aggregate"`
	ClosestRef   string           `json:"closest_ref"`
	Status       Status           `json:"status"`

	// Notes identifies, per reference over the warn floor, which
	// dimensions drove the score.
	Notes []string `json:"notes,omitempty"`
}

// Config configures a Scorer. Weights and Comparators must cover the same
// dimension names; weights must sum to 1.0. A zero FailFloor inherits the
// warn floor, collapsing the warning band.
type Config struct {
	Weights     map[string]float64
	Comparators map[string]Comparator
	WarnFloor   float64
	FailFloor   float64
}

// Scorer computes weighted multi-dimensional similarity reports.
type Scorer struct {
	dimensions  []string
	weights     map[string]float64
	comparators map[string]Comparator
	warnFloor   float64
	failFloor   float64
}

const weightTolerance = 1e-6

// NewScorer validates the configuration and builds a Scorer. Dimension
// iteration order is sorted by name so reports are deterministic.
func NewScorer(cfg Config) (*Scorer, error) {
	if len(cfg.Weights) == 0 {
		return nil, fmt.Errorf("similarity: no dimensions configured")
	}

	sum := 0.0
	dimensions := make([]string, 0, len(cfg.Weights))
	for name, w := range cfg.Weights {
		if w < 0 {
			return nil, fmt.Errorf("similarity: dimension %s has negative weight %v", name, w)
		}
		if _, ok := cfg.Comparators[name]; !ok {
			return nil, fmt.Errorf("similarity: dimension %s has no comparator", name)
		}
		dimensions = append(dimensions, name)
		sum += w
	}
	if math.Abs(sum-1.0) > weightTolerance {
		return nil, fmt.Errorf("similarity: weights must sum to 1.0, got %v", sum)
	}
	for name := range cfg.Comparators {
		if _, ok := cfg.Weights[name]; !ok {
			return nil, fmt.Errorf("similarity: comparator %s has no weight", name)
		}
	}
	sort.Strings(dimensions)

	warnFloor := cfg.WarnFloor
	if warnFloor == 0 {
		warnFloor = DefaultWarnFloor
	}
	failFloor := cfg.FailFloor
	if failFloor == 0 {
		failFloor = warnFloor
	}
	if failFloor < warnFloor {
		return nil, fmt.Errorf("similarity: fail floor %v below warn floor %v", failFloor, warnFloor)
	}

	return &Scorer{
		dimensions:  dimensions,
		weights:     cfg.Weights,
		comparators: cfg.Comparators,
		warnFloor:   warnFloor,
		failFloor:   failFloor,
	}, nil
}

// Score computes the weighted similarity of the candidate against every
// reference, in order, and classifies the maximum aggregate.
func (s *Scorer) Score(candidate map[string]any, references []Reference) (*Report, error) {
	if candidate == nil {
		return nil, fmt.Errorf("similarity: candidate is nil")
	}

	report := &Report{}
	for _, ref := range references {
		rs := ReferenceScore{ReferenceID: ref.ID}
		for _, dim := range s.dimensions {
			raw := s.comparators[dim](candidate, ref.Artifact)
			score := clamp01(raw)
			rs.Dimensions = append(rs.Dimensions, DimensionScore{
				Dimension: dim,
				Score:     score,
				Weight:    s.weights[dim],
			})
			rs.Aggregate += score * s.weights[dim]
		}
		rs.Aggregate = clamp01(rs.Aggregate)

		if rs.Aggregate > report.MaxAggregate || report.ClosestRef == "" {
			report.MaxAggregate = rs.Aggregate
			report.ClosestRef = ref.ID
		}
		if rs.Aggregate >= s.warnFloor {
			report.Notes = append(report.Notes, driverNote(rs))
		}
		report.References = append(report.References, rs)
	}

	report.Status = s.classify(report.MaxAggregate)
	return report, nil
}

// classify maps the maximum aggregate onto the three-way status. With the
// default single-threshold configuration the warning band is empty and the
// warn floor acts as the fail floor.
func (s *Scorer) classify(max float64) Status {
	switch {
	case max >= s.failFloor:
		return StatusFail
	case max >= s.warnFloor:
		return StatusWarning
	default:
		return StatusPass
	}
}

// driverNote names the dimensions that pushed a reference over the warn
// floor, strongest weighted contribution first.
func driverNote(rs ReferenceScore) string {
	type contribution struct {
		dimension string
		weighted  float64
	}
	contributions := make([]contribution, 0, len(rs.Dimensions))
	for _, d := range rs.Dimensions {
		contributions = append(contributions, contribution{d.Dimension, d.Score * d.Weight})
	}
	sort.SliceStable(contributions, func(i, j int) bool {
		return contributions[i].weighted > contributions[j].weighted
	})

	note := fmt.Sprintf("reference %s scored %.2f; driven by", rs.ReferenceID, rs.Aggregate)
	for i, c := range contributions {
		if i >= 3 || c.weighted == 0 {
			break
		}
		note += fmt.Sprintf(" %s(%.2f)", c.dimension, c.weighted)
	}
	return note
}

func clamp01(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

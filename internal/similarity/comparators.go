package similarity

import (
	"strings"
)

// FieldComparator compares the string value at a dotted path in both
// artifacts by token overlap (Jaccard). Missing or non-string fields score
// zero.
func FieldComparator(path string) Comparator {
	return func(candidate, reference map[string]any) float64 {
		return jaccard(tokens(stringAt(candidate, path)), tokens(stringAt(reference, path)))
	}
}

// CastComparator compares the cast lists of two cases by the overlap of
// their name/role pairs. Roles matter: the same name in a different role is
// half a match via the name-only fallback.
func CastComparator() Comparator {
	return func(candidate, reference map[string]any) float64 {
		a := castPairs(candidate)
		b := castPairs(reference)
		if a.empty() || b.empty() {
			return 0
		}

		pairOverlap := setOverlap(a.pairs, b.pairs)
		nameOverlap := setOverlap(a.names, b.names)
		return clamp01(0.5*pairOverlap + 0.5*nameOverlap)
	}
}

type castSets struct {
	pairs map[string]struct{}
	names map[string]struct{}
}

func (c castSets) empty() bool { return len(c.names) == 0 }

func castPairs(artifact map[string]any) castSets {
	sets := castSets{pairs: map[string]struct{}{}, names: map[string]struct{}{}}
	caseObj, ok := artifact["CASE"].(map[string]any)
	if !ok {
		caseObj = artifact
	}
	cast, ok := caseObj["cast"].([]any)
	if !ok {
		return castSets{}
	}
	for _, member := range cast {
		m, ok := member.(map[string]any)
		if !ok {
			continue
		}
		name := strings.ToLower(strings.TrimSpace(stringValue(m["name"])))
		role := strings.ToLower(strings.TrimSpace(stringValue(m["role"])))
		if name == "" {
			continue
		}
		sets.names[name] = struct{}{}
		sets.pairs[name+"|"+role] = struct{}{}
	}
	if sets.empty() {
		return castSets{}
	}
	return sets
}

// stringAt resolves a dotted path like "CASE.solution.method" to a string.
func stringAt(artifact map[string]any, path string) string {
	current := any(artifact)
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return ""
		}
		current = obj[part]
	}
	return stringValue(current)
}

func stringValue(v any) string {
	s, _ := v.(string)
	return s
}

// tokens lowercases and splits on non-alphanumeric runes.
func tokens(s string) map[string]struct{} {
	set := map[string]struct{}{}
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

// jaccard is |a ∩ b| / |a ∪ b|, zero when either set is empty.
func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for t := range a {
		if _, ok := b[t]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

// setOverlap is the intersection size over the smaller set, so a reference
// whose cast is fully contained in the candidate scores 1.0.
func setOverlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for k := range a {
		if _, ok := b[k]; ok {
			intersection++
		}
	}
	smaller := len(a)
	if len(b) < smaller {
		smaller = len(b)
	}
	return float64(intersection) / float64(smaller)
}

// DefaultConfig is the stock four-dimension configuration used by the
// pipeline: premise and method carry most of the weight, cast and setting
// the rest.
func DefaultConfig() Config {
	return Config{
		Weights: map[string]float64{
			"premise": 0.35,
			"method":  0.25,
			"cast":    0.25,
			"setting": 0.15,
		},
		Comparators: map[string]Comparator{
			"premise": FieldComparator("CASE.premise"),
			"method":  FieldComparator("CASE.solution.method"),
			"cast":    CastComparator(),
			"setting": FieldComparator("CASE.setting.location"),
		},
		WarnFloor: DefaultWarnFloor,
	}
}

package schema

import (
	"fmt"
	"strings"
)

// Result is the outcome of one validation pass. Valid is true iff Errors
// is empty. Error ordering follows schema declaration order, then array
// index order, and is stable across runs for identical input.
type Result struct {
	Valid  bool
	Errors []string
}

// Validate checks a decoded payload against the document. The payload must
// itself be an object; anything else yields a single synthetic error.
// Errors accumulate across independent branches so one call surfaces every
// defect.
func (d *Document) Validate(payload any) Result {
	obj, ok := payload.(map[string]any)
	if !ok {
		return Result{Valid: false, Errors: []string{"Payload must be an object"}}
	}

	var errs []string
	for _, name := range d.Order {
		node := d.Fields[name]
		value, present := obj[name]
		errs = validateNode(node, name, value, present, errs)
	}
	return Result{Valid: len(errs) == 0, Errors: errs}
}

// validateNode evaluates one node depth-first, pre-order, appending
// path-qualified errors. Absence of an optional field is valid; a kind
// mismatch stops descent into that branch.
func validateNode(node *Node, path string, value any, present bool, errs []string) []string {
	if !present || value == nil {
		if node.Required {
			errs = append(errs, fmt.Sprintf("%s is required", path))
		}
		return errs
	}

	if !kindMatches(node.Kind, value) {
		return append(errs, fmt.Sprintf("%s must be %s", path, node.Kind))
	}

	if len(node.Allowed) > 0 && !isAllowed(node.Allowed, value) {
		errs = append(errs, fmt.Sprintf("%s must be one of %s", path, joinAllowed(node.Allowed)))
	}

	switch node.Kind {
	case KindObject:
		if len(node.FieldOrder) == 0 {
			return errs
		}
		obj := value.(map[string]any)
		for _, name := range node.FieldOrder {
			child := node.Fields[name]
			childValue, childPresent := obj[name]
			errs = validateNode(child, path+"."+name, childValue, childPresent, errs)
		}
	case KindArray:
		if node.Items == nil {
			return errs
		}
		for i, element := range value.([]any) {
			errs = validateNode(node.Items, fmt.Sprintf("%s[%d]", path, i), element, true, errs)
		}
	}

	return errs
}

// kindMatches reports whether a decoded JSON value has the declared kind.
// Numbers cover the int/float shapes both encoding/json and yaml produce.
func kindMatches(kind Kind, value any) bool {
	switch kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindNumber:
		switch value.(type) {
		case float64, float32, int, int64:
			return true
		}
		return false
	case KindBoolean:
		_, ok := value.(bool)
		return ok
	case KindObject:
		_, ok := value.(map[string]any)
		return ok
	case KindArray:
		_, ok := value.([]any)
		return ok
	}
	return false
}

// isAllowed checks enumerated membership. Numeric values are compared
// after normalization so 2 and 2.0 are the same member.
func isAllowed(allowed []any, value any) bool {
	for _, a := range allowed {
		if a == value {
			return true
		}
		af, aok := asFloat(a)
		vf, vok := asFloat(value)
		if aok && vok && af == vf {
			return true
		}
	}
	return false
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func joinAllowed(allowed []any) string {
	parts := make([]string, len(allowed))
	for i, a := range allowed {
		parts[i] = fmt.Sprintf("%v", a)
	}
	return strings.Join(parts, ", ")
}

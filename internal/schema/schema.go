// Package schema provides declarative structural validation for generated
// case artifacts. A schema is data, not code: it is loaded from a YAML
// document into a tree of Nodes and evaluated recursively against an
// arbitrary decoded JSON payload, producing path-qualified errors.
package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Kind is the primitive or container kind a Node accepts.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindObject  Kind = "object"
	KindArray   Kind = "array"
)

// Node describes one field of a structural schema.
type Node struct {
	Kind     Kind
	Required bool
	Allowed  []any

	// Fields holds the declared sub-fields for object kind. FieldOrder
	// preserves declaration order so error output is deterministic.
	Fields     map[string]*Node
	FieldOrder []string

	// Items is the shared element schema for array kind. Arrays are
	// homogeneous; a nil Items means elements are not inspected.
	Items *Node
}

// Document is a named set of root fields, the top level of a schema.
type Document struct {
	Fields map[string]*Node
	Order  []string
}

// rawNode mirrors the YAML shape of a Node before order recovery.
type rawNode struct {
	Kind     string    `yaml:"kind"`
	Required bool      `yaml:"required"`
	Allowed  []any     `yaml:"allowed"`
	Fields   yaml.Node `yaml:"fields"`
	Items    *rawNode  `yaml:"items"`
}

// ParseDocument parses a YAML schema document. The top level must be a
// mapping of field name to node. Mapping order is preserved.
func ParseDocument(data []byte) (*Document, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse schema document: %w", err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return nil, fmt.Errorf("schema document is empty")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("schema document root must be a mapping")
	}

	doc := &Document{Fields: make(map[string]*Node)}
	for i := 0; i < len(mapping.Content); i += 2 {
		name := mapping.Content[i].Value
		node, err := decodeNode(mapping.Content[i+1])
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", name, err)
		}
		doc.Fields[name] = node
		doc.Order = append(doc.Order, name)
	}
	return doc, nil
}

// MustParseDocument is ParseDocument for compile-time schema constants.
func MustParseDocument(data []byte) *Document {
	doc, err := ParseDocument(data)
	if err != nil {
		panic(err)
	}
	return doc
}

// decodeNode converts one YAML node description into a Node, recursing
// into fields and items. Field order is read off the raw mapping content.
func decodeNode(yn *yaml.Node) (*Node, error) {
	var raw rawNode
	if err := yn.Decode(&raw); err != nil {
		return nil, err
	}
	node, err := fromRaw(&raw)
	if err != nil {
		return nil, err
	}
	return node, nil
}

func fromRaw(raw *rawNode) (*Node, error) {
	kind := Kind(raw.Kind)
	switch kind {
	case KindString, KindNumber, KindBoolean, KindObject, KindArray:
	default:
		return nil, fmt.Errorf("unknown kind %q", raw.Kind)
	}

	node := &Node{
		Kind:     kind,
		Required: raw.Required,
		Allowed:  raw.Allowed,
	}

	if raw.Fields.Kind == yaml.MappingNode {
		node.Fields = make(map[string]*Node)
		for i := 0; i < len(raw.Fields.Content); i += 2 {
			name := raw.Fields.Content[i].Value
			child, err := decodeNode(raw.Fields.Content[i+1])
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			node.Fields[name] = child
			node.FieldOrder = append(node.FieldOrder, name)
		}
	}

	if raw.Items != nil {
		items, err := fromRaw(raw.Items)
		if err != nil {
			return nil, fmt.Errorf("items: %w", err)
		}
		node.Items = items
	}

	return node, nil
}

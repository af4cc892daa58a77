// Package yamlnode offers order-preserving helpers over yaml.v3 nodes. Slot maps
// and variant maps are ordered, which a plain map decode would lose.
package yamlnode

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pair is one key/value entry of a mapping node.
type Pair struct {
	Key   string
	Value *yaml.Node
}

// ReadFile parses path into its document root. A missing or empty file yields a nil node.
func ReadFile(path string) (*yaml.Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses data and returns the content of the document node.
func Parse(data []byte) (*yaml.Node, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return Root(&doc), nil
}

// Root unwraps document nodes and aliases.
func Root(n *yaml.Node) *yaml.Node {
	for n != nil {
		switch n.Kind {
		case yaml.DocumentNode:
			if len(n.Content) == 0 {
				return nil
			}
			n = n.Content[0]
		case yaml.AliasNode:
			n = n.Alias
		case 0:
			// Zero node left by decoding empty input.
			return nil
		default:
			if IsNull(n) {
				return nil
			}
			return n
		}
	}
	return nil
}

// IsNull reports a missing node or an explicit YAML null.
func IsNull(n *yaml.Node) bool {
	return n == nil || (n.Kind == yaml.ScalarNode && n.Tag == "!!null")
}

// IsMapping reports a mapping node.
func IsMapping(n *yaml.Node) bool {
	n = Root(n)
	return n != nil && n.Kind == yaml.MappingNode
}

// IsSequence reports a sequence node.
func IsSequence(n *yaml.Node) bool {
	n = Root(n)
	return n != nil && n.Kind == yaml.SequenceNode
}

// IsScalar reports a non-null scalar node.
func IsScalar(n *yaml.Node) bool {
	n = Root(n)
	return n != nil && n.Kind == yaml.ScalarNode
}

// Pairs returns the entries of a mapping node in document order.
func Pairs(n *yaml.Node) []Pair {
	n = Root(n)
	if n == nil || n.Kind != yaml.MappingNode {
		return nil
	}
	pairs := make([]Pair, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		pairs = append(pairs, Pair{Key: n.Content[i].Value, Value: Root(n.Content[i+1])})
	}
	return pairs
}

// Get returns the value of key in a mapping node, or nil.
func Get(n *yaml.Node, key string) *yaml.Node {
	for _, p := range Pairs(n) {
		if p.Key == key {
			return p.Value
		}
	}
	return nil
}

// Items returns the elements of a sequence node.
func Items(n *yaml.Node) []*yaml.Node {
	n = Root(n)
	if n == nil || n.Kind != yaml.SequenceNode {
		return nil
	}
	out := make([]*yaml.Node, 0, len(n.Content))
	for _, item := range n.Content {
		out = append(out, Root(item))
	}
	return out
}

// Value decodes n into plain Go values (map[string]any, []any, scalars).
func Value(n *yaml.Node) (any, error) {
	if IsNull(n) {
		return nil, nil
	}
	var v any
	if err := n.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// Map decodes a mapping node; nil and null yield an empty map.
func Map(n *yaml.Node) (map[string]any, error) {
	n = Root(n)
	if n == nil {
		return map[string]any{}, nil
	}
	if n.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping, got %s", n.Line, KindName(n))
	}
	var m map[string]any
	if err := n.Decode(&m); err != nil {
		return nil, err
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

// String returns the scalar value of n, or "" for non-scalars.
func String(n *yaml.Node) string {
	n = Root(n)
	if n == nil || n.Kind != yaml.ScalarNode {
		return ""
	}
	return n.Value
}

// Strings decodes a scalar or a sequence of scalars.
func Strings(n *yaml.Node) ([]string, error) {
	n = Root(n)
	switch {
	case n == nil:
		return nil, nil
	case n.Kind == yaml.ScalarNode:
		if n.Value == "" {
			return nil, nil
		}
		return []string{n.Value}, nil
	case n.Kind == yaml.SequenceNode:
		out := make([]string, 0, len(n.Content))
		for _, item := range Items(n) {
			if item == nil {
				continue
			}
			if item.Kind != yaml.ScalarNode {
				return nil, fmt.Errorf("line %d: expected a list of strings", item.Line)
			}
			out = append(out, item.Value)
		}
		return out, nil
	}
	return nil, fmt.Errorf("line %d: expected a string or list of strings, got %s", n.Line, KindName(n))
}

// KindName names the node kind for error messages.
func KindName(n *yaml.Node) string {
	if n == nil {
		return "nothing"
	}
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "list"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "document"
	}
}

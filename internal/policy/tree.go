package policy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/davidahmann/charter/internal/crypto"
	"gopkg.in/yaml.v3"
)

// DocHashKey is the top-level key holding the declared digest. It is
// excluded from the hashed view.
const DocHashKey = "doc_hash"

// ParseTree decodes a YAML (or JSON) document into a generic tree of
// map[string]any, []any, string, bool, int64, uint64, float64 and nil.
// Timestamps and other tagged scalars stay as their literal text. Anchors
// and aliases are rejected, as is anything after the first document.
func ParseTree(raw []byte) (map[string]any, error) {
	var root yaml.Node
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: content after the first yaml document", ErrSchema)
	}

	tree, err := nodeToTree(&root)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	m, ok := tree.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: document root must be a mapping", ErrSchema)
	}
	return m, nil
}

func nodeToTree(n *yaml.Node) (any, error) {
	if n.Anchor != "" {
		return nil, fmt.Errorf("line %d: anchors are not allowed", n.Line)
	}
	switch n.Kind {
	case yaml.DocumentNode:
		if len(n.Content) == 0 {
			return nil, errors.New("empty document")
		}
		return nodeToTree(n.Content[0])
	case yaml.AliasNode:
		return nil, fmt.Errorf("line %d: aliases are not allowed", n.Line)
	case yaml.MappingNode:
		out := make(map[string]any, len(n.Content)/2)
		for i := 0; i+1 < len(n.Content); i += 2 {
			k, v := n.Content[i], n.Content[i+1]
			if k.Kind != yaml.ScalarNode || k.ShortTag() == "!!merge" {
				return nil, fmt.Errorf("line %d: mapping keys must be plain scalars", k.Line)
			}
			if _, dup := out[k.Value]; dup {
				return nil, fmt.Errorf("line %d: duplicate key %q", k.Line, k.Value)
			}
			val, err := nodeToTree(v)
			if err != nil {
				return nil, err
			}
			out[k.Value] = val
		}
		return out, nil
	case yaml.SequenceNode:
		out := make([]any, 0, len(n.Content))
		for _, c := range n.Content {
			val, err := nodeToTree(c)
			if err != nil {
				return nil, err
			}
			out = append(out, val)
		}
		return out, nil
	case yaml.ScalarNode:
		return scalarToTree(n)
	default:
		return nil, fmt.Errorf("line %d: unsupported yaml node", n.Line)
	}
}

func scalarToTree(n *yaml.Node) (any, error) {
	switch n.ShortTag() {
	case "!!null":
		return nil, nil
	case "!!bool", "!!int", "!!float":
		var v any
		if err := n.Decode(&v); err != nil {
			return nil, fmt.Errorf("line %d: %w", n.Line, err)
		}
		switch x := v.(type) {
		case int:
			return int64(x), nil
		case float64:
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return nil, fmt.Errorf("line %d: non-finite number", n.Line)
			}
		}
		return v, nil
	default:
		return n.Value, nil
	}
}

// HashView returns tree without the declared doc hash.
func HashView(tree map[string]any) map[string]any {
	view := make(map[string]any, len(tree))
	for k, v := range tree {
		if k == DocHashKey {
			continue
		}
		view[k] = v
	}
	return view
}

// ComputeDocHash returns digest(canonicalize(tree minus doc_hash)).
func ComputeDocHash(tree map[string]any) (string, error) {
	canonical, err := CanonicalBytes(tree)
	if err != nil {
		return "", err
	}
	return crypto.DigestWithPrefix(canonical), nil
}

// CanonicalBytes returns the canonical encoding of the hashed view.
func CanonicalBytes(tree map[string]any) ([]byte, error) {
	canonical, err := crypto.Canonicalize(HashView(tree))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}
	return canonical, nil
}

package policy

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Stamp computes the document's digest and writes it into the top-level
// doc_hash field, keeping the rest of the YAML (comments included) intact.
func Stamp(raw []byte) ([]byte, string, error) {
	tree, err := ParseTree(raw)
	if err != nil {
		return nil, "", err
	}
	hash, err := ComputeDocHash(tree)
	if err != nil {
		return nil, "", err
	}

	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrSchema, err)
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 || root.Content[0].Kind != yaml.MappingNode {
		return nil, "", fmt.Errorf("%w: document root must be a mapping", ErrSchema)
	}
	setTopLevel(root.Content[0], DocHashKey, hash)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&root); err != nil {
		return nil, "", err
	}
	if err := enc.Close(); err != nil {
		return nil, "", err
	}

	out := buf.Bytes()
	check, err := ParseTree(out)
	if err != nil {
		return nil, "", err
	}
	if got, err := ComputeDocHash(check); err != nil || got != hash {
		return nil, "", fmt.Errorf("stamped document no longer hashes to %s", hash)
	}
	return out, hash, nil
}

// setTopLevel replaces key's value in m, or inserts it after the revision
// key (or at the end) when absent.
func setTopLevel(m *yaml.Node, key, value string) {
	scalar := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value, Style: yaml.DoubleQuotedStyle}
	insertAt := len(m.Content)
	for i := 0; i+1 < len(m.Content); i += 2 {
		switch m.Content[i].Value {
		case key:
			scalar.HeadComment = m.Content[i+1].HeadComment
			scalar.LineComment = m.Content[i+1].LineComment
			m.Content[i+1] = scalar
			return
		case "revision":
			insertAt = i + 2
		}
	}
	k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
	content := make([]*yaml.Node, 0, len(m.Content)+2)
	content = append(content, m.Content[:insertAt]...)
	content = append(content, k, scalar)
	content = append(content, m.Content[insertAt:]...)
	m.Content = content
}

package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Entry is one key of an ordered nested mapping. A nil or empty Sub marks a leaf.
type Entry struct {
	Key string
	Sub Mapping
}

// Mapping is a nested string-keyed mapping that keeps the source's key order at every level.
type Mapping []Entry

// Get returns the submapping stored under key.
func (m Mapping) Get(key string) (Mapping, bool) {
	for _, e := range m {
		if e.Key == key {
			return e.Sub, true
		}
	}
	return nil, false
}

// MarshalJSON writes the mapping as a JSON object in key order; leaves become {}.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(e.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		sub, err := e.Sub.MarshalJSON()
		if err != nil {
			return nil, err
		}
		buf.Write(sub)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes with DecodeJSON so that key order survives.
func (m *Mapping) UnmarshalJSON(data []byte) error {
	decoded, err := DecodeJSON(data)
	if err != nil {
		return err
	}
	*m = decoded
	return nil
}

// DecodeJSON parses a JSON object of objects. null values are leaves; any other scalar or
// an array anywhere in the nesting is rejected.
func DecodeJSON(data []byte) (Mapping, error) {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return nil, malformed("invalid JSON: %v", err)
	}
	if tok == nil {
		return Mapping{}, nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, malformed("catalog must be a JSON object, got %v", tok)
	}

	m, err := decodeObject(dec, "")
	if err != nil {
		return nil, err
	}

	if _, err := dec.Token(); err != io.EOF {
		return nil, malformed("trailing data after catalog object")
	}
	return m, nil
}

func decodeObject(dec *json.Decoder, path string) (Mapping, error) {
	m := Mapping{}
	seen := make(map[string]bool)

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed("invalid JSON at %q: %v", path, err)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, malformed("non-string key %v at %q", tok, path)
		}
		if seen[key] {
			return nil, malformed("duplicate key %q at %q", key, path)
		}
		seen[key] = true

		sub, err := decodeValue(dec, joinID(path, key))
		if err != nil {
			return nil, err
		}
		m = append(m, Entry{Key: key, Sub: sub})
	}

	// closing '}'
	if _, err := dec.Token(); err != nil {
		return nil, malformed("invalid JSON at %q: %v", path, err)
	}
	return m, nil
}

func decodeValue(dec *json.Decoder, path string) (Mapping, error) {
	tok, err := dec.Token()
	if err != nil {
		return nil, malformed("invalid JSON at %q: %v", path, err)
	}
	switch v := tok.(type) {
	case nil:
		return nil, nil
	case json.Delim:
		if v == '{' {
			return decodeObject(dec, path)
		}
		return nil, malformed("%q holds an array, want an object", path)
	default:
		return nil, malformed("%q holds scalar %v, want an object", path, v)
	}
}

// FromYAML converts a YAML mapping node into a Mapping. Keys listed in reserved are dropped at
// every level, and non-mapping values become leaves. Non-string keys are rejected.
func FromYAML(node *yaml.Node, reserved ...string) (Mapping, error) {
	skip := make(map[string]bool, len(reserved))
	for _, r := range reserved {
		skip[r] = true
	}
	return fromYAML(node, "", skip)
}

func fromYAML(node *yaml.Node, path string, skip map[string]bool) (Mapping, error) {
	if node == nil {
		return Mapping{}, nil
	}
	for node.Kind == yaml.DocumentNode || node.Kind == yaml.AliasNode {
		if node.Kind == yaml.AliasNode {
			node = node.Alias
			continue
		}
		if len(node.Content) == 0 {
			return Mapping{}, nil
		}
		node = node.Content[0]
	}

	if node.Kind != yaml.MappingNode {
		if path != "" {
			return nil, nil
		}
		if node.Kind == yaml.ScalarNode && node.ShortTag() == "!!null" {
			return Mapping{}, nil
		}
		return nil, malformed("catalog must be a mapping (line %d)", node.Line)
	}

	m := Mapping{}
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if k.Kind != yaml.ScalarNode || k.ShortTag() != "!!str" {
			return nil, malformed("non-string key %q at %q (line %d)", k.Value, path, k.Line)
		}
		if skip[k.Value] {
			continue
		}
		if seen[k.Value] {
			return nil, malformed("duplicate key %q at %q (line %d)", k.Value, path, k.Line)
		}
		seen[k.Value] = true

		sub, err := fromYAML(v, joinID(path, k.Value), skip)
		if err != nil {
			return nil, err
		}
		m = append(m, Entry{Key: k.Value, Sub: sub})
	}
	return m, nil
}

func joinID(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + Separator + key
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

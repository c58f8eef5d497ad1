package manifest

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// Field is one key of template data.
type Field struct {
	Key   string
	Value any
}

// Data is template data, or one record of it, with keys in declaration order.
type Data []Field

// Get returns the value stored under key.
func (d Data) Get(key string) (any, bool) {
	for _, f := range d {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// MarshalJSON encodes d as a JSON object with keys in declaration order.
// HTML characters are not escaped.
func (d Data) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	buf.WriteByte('{')
	for i, f := range d {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := enc.Encode(f.Key); err != nil {
			return nil, err
		}
		buf.Truncate(buf.Len() - 1)
		buf.WriteByte(':')
		if err := enc.Encode(f.Value); err != nil {
			return nil, fmt.Errorf("field %q: %w", f.Key, err)
		}
		buf.Truncate(buf.Len() - 1)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// dataFromNode converts a YAML value into plain Go values, keeping the key
// order of mappings as Data.
func dataFromNode(node *yaml.Node) (any, error) {
	switch node.Kind {
	case yaml.AliasNode:
		return dataFromNode(node.Alias)
	case yaml.MappingNode:
		d := make(Data, 0, len(node.Content)/2)
		for i := 0; i+1 < len(node.Content); i += 2 {
			var key string
			if err := node.Content[i].Decode(&key); err != nil {
				return nil, fmt.Errorf("line %d: mapping keys must be strings", node.Content[i].Line)
			}
			if _, dup := d.Get(key); dup {
				return nil, fmt.Errorf("line %d: duplicate key %q", node.Content[i].Line, key)
			}
			v, err := dataFromNode(node.Content[i+1])
			if err != nil {
				return nil, err
			}
			d = append(d, Field{Key: key, Value: v})
		}
		return d, nil
	case yaml.SequenceNode:
		items := make([]any, len(node.Content))
		for i, n := range node.Content {
			v, err := dataFromNode(n)
			if err != nil {
				return nil, err
			}
			items[i] = v
		}
		return items, nil
	}
	var v any
	if err := node.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

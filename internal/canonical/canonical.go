// Package canonical provides key-order independent views of nested
// string mappings, used wherever two mappings must compare equal regardless
// of how their keys were declared.
package canonical

import (
	"bytes"
	"encoding/json"
	"maps"
	"reflect"
	"slices"
)

// Field is a single key/value pair of a Mapping. Value is either a scalar
// or a nested Mapping.
type Field struct {
	Key   string
	Value any
}

// Mapping is a mapping whose keys are in ascending lexical order at every level.
type Mapping []Field

// Canonicalize returns tree with the keys of every nested mapping sorted.
// Scalar leaves are kept as they are.
func Canonicalize(tree map[string]any) Mapping {
	keys := slices.Sorted(maps.Keys(tree))
	m := make(Mapping, 0, len(keys))
	for _, k := range keys {
		m = append(m, Field{Key: k, Value: canonicalValue(tree[k])})
	}
	return m
}

func canonicalValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return Canonicalize(x)
	case map[string]string:
		tree := make(map[string]any, len(x))
		for k, s := range x {
			tree[k] = s
		}
		return Canonicalize(tree)
	case Mapping:
		return Canonicalize(x.Tree())
	default:
		return v
	}
}

// Tree converts m back into nested maps.
func (m Mapping) Tree() map[string]any {
	tree := make(map[string]any, len(m))
	for _, f := range m {
		if nested, ok := f.Value.(Mapping); ok {
			tree[f.Key] = nested.Tree()
		} else {
			tree[f.Key] = f.Value
		}
	}
	return tree
}

// MarshalJSON encodes m as a JSON object with keys in canonical order.
func (m Mapping) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range m {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		v, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Equal reports whether a and b hold the same keys and values at every level.
func Equal(a, b map[string]any) bool {
	return reflect.DeepEqual(Canonicalize(a), Canonicalize(b))
}

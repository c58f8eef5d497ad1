package codegen

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Giving-What-We-Can/auth0-rules/internal/manifest"
)

var identifierRegex = regexp.MustCompile(`^[A-Za-z_$][A-Za-z0-9_$]*$`)

// SerializeData returns a JavaScript object literal for data, one key per
// line in declaration order. Arrays of annotated values are emitted as
// their records (without the kind) followed by .map(item => item.value),
// so the generated script sees bare values while its source still shows
// what each value refers to.
func SerializeData(data manifest.Data) (string, error) {
	if len(data) == 0 {
		return "{}", nil
	}
	lines := make([]string, len(data))
	for i, f := range data {
		v, err := serializeValue(f.Value)
		if err != nil {
			return "", fmt.Errorf("serialize %q: %w", f.Key, err)
		}
		lines[i] = objectKey(f.Key) + ": " + v
	}
	return "{\n" + strings.Join(lines, ",\n") + "\n}", nil
}

func objectKey(key string) string {
	if identifierRegex.MatchString(key) {
		return key
	}
	bs, _ := marshalJSON(key)
	return bs
}

func serializeValue(v any) (string, error) {
	if values, ok := annotatedValues(v); ok {
		records := make([]manifest.Data, len(values))
		for i, av := range values {
			records[i] = av.Record
		}
		lit, err := marshalJSON(records)
		if err != nil {
			return "", err
		}
		return lit + ".map(item => item.value)", nil
	}
	return marshalJSON(v)
}

// annotatedValues reports whether v is a sequence of annotated values.
// A typed empty slice counts, an untyped empty one does not.
func annotatedValues(v any) ([]manifest.AnnotatedValue, bool) {
	switch x := v.(type) {
	case []manifest.AnnotatedValue:
		return x, true
	case []*manifest.AnnotatedValue:
		return collectAnnotated(x)
	case []map[string]any:
		return collectAnnotated(x)
	case []manifest.Data:
		return collectAnnotated(x)
	case []any:
		return collectAnnotated(x)
	}
	return nil, false
}

func collectAnnotated[T any](items []T) ([]manifest.AnnotatedValue, bool) {
	if len(items) == 0 {
		return nil, false
	}
	values := make([]manifest.AnnotatedValue, len(items))
	for i, item := range items {
		av, ok := manifest.AsAnnotated(item)
		if !ok {
			return nil, false
		}
		values[i] = av
	}
	return values, true
}

// marshalJSON encodes v without HTML escaping, which is meaningless in
// generated scripts.
func marshalJSON(v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

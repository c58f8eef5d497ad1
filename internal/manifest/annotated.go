package manifest

import (
	"errors"
	"fmt"

	"github.com/Giving-What-We-Can/auth0-rules/internal/canonical"
)

// AnnotatedKind is the "kind" discriminator of an annotated value on the wire.
const AnnotatedKind = "commentValue"

// AnnotatedValue is a value carrying descriptive fields, such as a role id
// together with the role name. Generated scripts use the value; the fields
// only document what the value refers to.
type AnnotatedValue struct {
	// Record holds "value" and the descriptive fields in output order.
	Record Data
}

// Annotate returns an AnnotatedValue for record, which must hold a
// non-empty string under "value" and no "kind".
func Annotate(record Data) (AnnotatedValue, error) {
	seen := make(map[string]bool, len(record))
	for _, f := range record {
		if seen[f.Key] {
			return AnnotatedValue{}, fmt.Errorf("duplicate annotation field %q", f.Key)
		}
		seen[f.Key] = true
		if f.Key == "kind" {
			return AnnotatedValue{}, errors.New(`annotation field "kind" is reserved`)
		}
	}
	v, _ := record.Get("value")
	if s, ok := v.(string); !ok || s == "" {
		return AnnotatedValue{}, errors.New("annotated value must be a non-empty string")
	}
	return AnnotatedValue{Record: record}, nil
}

// Value returns the value generated scripts see.
func (a AnnotatedValue) Value() string {
	v, _ := a.Record.Get("value")
	s, _ := v.(string)
	return s
}

// MarshalJSON encodes the wire shape {"kind":"commentValue",<record>}.
func (a AnnotatedValue) MarshalJSON() ([]byte, error) {
	return append(Data{{Key: "kind", Value: AnnotatedKind}}, a.Record...).MarshalJSON()
}

// AsAnnotated reports whether v is an annotated value, either typed or in
// its decoded wire shape, and returns it. Decoded maps have no key order,
// so their fields come out sorted.
func AsAnnotated(v any) (AnnotatedValue, bool) {
	switch x := v.(type) {
	case AnnotatedValue:
		return x, true
	case *AnnotatedValue:
		if x == nil {
			return AnnotatedValue{}, false
		}
		return *x, true
	case Data:
		return fromWire(x)
	case map[string]any:
		m := canonical.Canonicalize(x)
		d := make(Data, len(m))
		for i, f := range m {
			d[i] = Field{Key: f.Key, Value: f.Value}
		}
		return fromWire(d)
	}
	return AnnotatedValue{}, false
}

func fromWire(d Data) (AnnotatedValue, bool) {
	if kind, _ := d.Get("kind"); kind != AnnotatedKind {
		return AnnotatedValue{}, false
	}
	record := make(Data, 0, len(d)-1)
	for _, f := range d {
		if f.Key != "kind" {
			record = append(record, f)
		}
	}
	av, err := Annotate(record)
	if err != nil {
		return AnnotatedValue{}, false
	}
	return av, true
}

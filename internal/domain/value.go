// Package domain contains pure, dependency-free domain models and types
// for the ensemble engine.
package domain

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Kind identifies which variant of the Value union is populated.
type Kind uint8

// Supported value kinds. The set is closed: strategies and processors
// switch on Kind rather than inspecting dynamic types.
const (
	// KindEmpty is the zero Value, produced by failed or timed out workers
	// and by aggregations with no valid input.
	KindEmpty Kind = iota
	// KindNumber holds a single float64 scalar.
	KindNumber
	// KindLabel holds a categorical string label.
	KindLabel
	// KindBuffer holds a fixed-length vector of float64 values such as
	// per-channel statistics.
	KindBuffer
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindNumber:
		return "number"
	case KindLabel:
		return "label"
	case KindBuffer:
		return "buffer"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind converts a kind name back into a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "empty":
		return KindEmpty, nil
	case "number":
		return KindNumber, nil
	case "label":
		return KindLabel, nil
	case "buffer":
		return KindBuffer, nil
	default:
		return KindEmpty, fmt.Errorf("%w: unknown value kind %q", ErrTypeMismatch, s)
	}
}

// Value is the payload produced by a worker and combined by aggregation.
// It is an immutable tagged union; only the field matching kind is
// meaningful. The zero Value is Empty.
type Value struct {
	kind  Kind
	num   float64
	label string
	buf   []float64
}

// Empty returns the empty Value.
func Empty() Value { return Value{} }

// Number wraps a float64 scalar.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Label wraps a categorical label.
func Label(s string) Value { return Value{kind: KindLabel, label: s} }

// Buffer wraps a copy of xs so later writes to xs are not observed.
func Buffer(xs []float64) Value {
	return Value{kind: KindBuffer, buf: slices.Clone(xs)}
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsEmpty reports whether the value carries no payload.
func (v Value) IsEmpty() bool { return v.kind == KindEmpty }

// Float returns the scalar and true for KindNumber values.
func (v Value) Float() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

// Text returns the label and true for KindLabel values.
func (v Value) Text() (string, bool) {
	if v.kind != KindLabel {
		return "", false
	}
	return v.label, true
}

// Floats returns a copy of the buffer and true for KindBuffer values.
func (v Value) Floats() ([]float64, bool) {
	if v.kind != KindBuffer {
		return nil, false
	}
	return slices.Clone(v.buf), true
}

// Len returns the buffer length, 1 for scalars and labels, 0 when empty.
func (v Value) Len() int {
	switch v.kind {
	case KindBuffer:
		return len(v.buf)
	case KindNumber, KindLabel:
		return 1
	default:
		return 0
	}
}

// Equal reports whether two values have the same kind and payload.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindNumber:
		return v.num == other.num
	case KindLabel:
		return v.label == other.label
	case KindBuffer:
		return slices.Equal(v.buf, other.buf)
	default:
		return true
	}
}

// Key returns a stable identity string for the value. Two values have the
// same key exactly when Equal reports true, which makes Key suitable for
// map-based vote counting.
func (v Value) Key() string {
	switch v.kind {
	case KindNumber:
		return "n:" + strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindLabel:
		return "l:" + v.label
	case KindBuffer:
		parts := make([]string, len(v.buf))
		for i, f := range v.buf {
			parts[i] = strconv.FormatFloat(f, 'g', -1, 64)
		}
		return "b:" + strings.Join(parts, ",")
	default:
		return "e:"
	}
}

// String formats the payload for logs and CLI output.
func (v Value) String() string {
	switch v.kind {
	case KindNumber:
		return strconv.FormatFloat(v.num, 'f', -1, 64)
	case KindLabel:
		return v.label
	case KindBuffer:
		return fmt.Sprintf("%v", v.buf)
	default:
		return "<empty>"
	}
}

// Interface returns the payload as a plain Go value: nil, float64, string
// or []float64. It is used when flattening results for transport.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindLabel:
		return v.label
	case KindBuffer:
		return slices.Clone(v.buf)
	default:
		return nil
	}
}

type valueJSON struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

// MarshalJSON encodes the value as {"kind": ..., "value": ...}.
func (v Value) MarshalJSON() ([]byte, error) {
	out := valueJSON{Kind: v.kind.String()}
	if v.kind != KindEmpty {
		raw, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, err
		}
		out.Value = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes the representation produced by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var in valueJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	kind, err := ParseKind(in.Kind)
	if err != nil {
		return err
	}
	switch kind {
	case KindNumber:
		var f float64
		if err := json.Unmarshal(in.Value, &f); err != nil {
			return fmt.Errorf("decode number value: %w", err)
		}
		*v = Number(f)
	case KindLabel:
		var s string
		if err := json.Unmarshal(in.Value, &s); err != nil {
			return fmt.Errorf("decode label value: %w", err)
		}
		*v = Label(s)
	case KindBuffer:
		var xs []float64
		if err := json.Unmarshal(in.Value, &xs); err != nil {
			return fmt.Errorf("decode buffer value: %w", err)
		}
		*v = Value{kind: KindBuffer, buf: xs}
	default:
		*v = Empty()
	}
	return nil
}

// ValueFrom converts a loosely typed value (as decoded from YAML or JSON)
// into a Value. Integers and floats become numbers, strings become labels,
// and numeric slices become buffers.
func ValueFrom(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Empty(), nil
	case Value:
		return t, nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case string:
		return Label(t), nil
	case []float64:
		return Buffer(t), nil
	case []any:
		buf := make([]float64, len(t))
		for i, e := range t {
			f, err := ValueFrom(e)
			if err != nil {
				return Empty(), err
			}
			n, ok := f.Float()
			if !ok {
				return Empty(), fmt.Errorf("%w: buffer element %d is %s", ErrTypeMismatch, i, f.Kind())
			}
			buf[i] = n
		}
		return Value{kind: KindBuffer, buf: buf}, nil
	default:
		return Empty(), fmt.Errorf("%w: unsupported value type %T", ErrTypeMismatch, x)
	}
}

package domain

import (
	"fmt"
	"maps"
	"slices"
	"sort"
	"strings"
)

// Key is a typed name for a slot in an Input. The type parameter gives
// compile-time safety on Get and With without runtime assertions at call
// sites.
type Key[T any] struct{ name string }

// NewKey creates a Key outside the domain package, for processors that
// define their own input slots.
func NewKey[T any](name string) Key[T] { return Key[T]{name: name} }

// Name returns the slot name.
func (k Key[T]) Name() string { return k.name }

// Predefined input keys.
var (
	// KeyPayload holds the primary value every worker receives.
	KeyPayload = Key[Value]{"payload"}

	// KeyPrompt holds free text for language-model backed workers.
	KeyPrompt = Key[string]{"prompt"}

	// KeyAttributes holds auxiliary string attributes supplied by the caller
	// (request source, tenant, dataset tag and so on).
	KeyAttributes = Key[map[string]string]{"attributes"}
)

// Input is the immutable request payload handed identically to every
// dispatched worker. Updates use copy-on-write, so one Input may be shared
// by any number of goroutines.
type Input struct {
	data map[string]any
}

// NewInput creates an Input carrying payload under KeyPayload.
func NewInput(payload Value) Input {
	return Input{data: map[string]any{KeyPayload.name: payload}}
}

// Get returns the value stored under key. The boolean is false when the
// slot is missing or holds a different type.
func Get[T any](in Input, key Key[T]) (T, bool) {
	var zero T
	raw, ok := in.data[key.name]
	if !ok {
		return zero, false
	}
	val, ok := cloneAny(raw).(T)
	return val, ok
}

// With returns a new Input with key set to value; in is left unchanged.
func With[T any](in Input, key Key[T], value T) Input {
	data := maps.Clone(in.data)
	if data == nil {
		data = make(map[string]any, 1)
	}
	data[key.name] = cloneAny(value)
	return Input{data: data}
}

// Payload is shorthand for Get(in, KeyPayload), returning Empty when unset.
func (in Input) Payload() Value {
	v, _ := Get(in, KeyPayload)
	return v
}

// Keys returns the populated slot names in sorted order.
func (in Input) Keys() []string {
	keys := make([]string, 0, len(in.data))
	for k := range in.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the input for debug logging.
func (in Input) String() string {
	var b strings.Builder
	b.WriteString("Input{")
	for i, k := range in.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, in.data[k])
	}
	b.WriteString("}")
	return b.String()
}

// cloneAny copies the reference types an Input is expected to hold so
// callers cannot mutate shared state through a returned value.
func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]string:
		return maps.Clone(t)
	case map[string]any:
		return maps.Clone(t)
	case []float64:
		return slices.Clone(t)
	case []string:
		return slices.Clone(t)
	default:
		return v
	}
}

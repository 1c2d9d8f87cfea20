// Package params implements the small tagged-variant value type used to
// carry a Node's dynamic get/set parameters (spec.md "Dynamic parameter
// bag") across the JSON control plane.
package params

import (
	"encoding/json"
	"fmt"
)

// Kind identifies which field of a Value is populated.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindListFloat
)

// Value is a tagged union of the parameter types the protocol daemon's
// get/set commands can carry: Int | Float | Bool | ListFloat.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	l    []float64
}

// Int wraps an integer parameter value.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a floating point parameter value.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Bool wraps a boolean parameter value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// ListFloat wraps a list of floats (used for irates/orates).
func ListFloat(l []float64) Value {
	return Value{kind: KindListFloat, l: append([]float64(nil), l...)}
}

func (v Value) Kind() Kind { return v.kind }

// Int64 returns the integer view of the value; valid when Kind is KindInt.
func (v Value) Int64() int64 { return v.i }

// Float64 returns the float view of the value, widening an int if needed.
func (v Value) Float64() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Bool returns the boolean view of the value.
func (v Value) Bool() bool { return v.b }

// List returns the list-of-floats view of the value.
func (v Value) List() []float64 { return v.l }

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		return json.Marshal(v.f)
	case KindBool:
		return json.Marshal(v.b)
	case KindListFloat:
		return json.Marshal(v.l)
	default:
		return nil, fmt.Errorf("params: value has unknown kind %d", v.kind)
	}
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("params: decode value: %w", err)
	}
	switch t := raw.(type) {
	case bool:
		*v = Bool(t)
	case float64:
		if t == float64(int64(t)) {
			*v = Int(int64(t))
		} else {
			*v = Float(t)
		}
	case []interface{}:
		l := make([]float64, len(t))
		for i, e := range t {
			f, ok := e.(float64)
			if !ok {
				return fmt.Errorf("params: list element %d is not numeric", i)
			}
			l[i] = f
		}
		*v = ListFloat(l)
	case nil:
		*v = Value{}
	default:
		return fmt.Errorf("params: unsupported JSON value of type %T", raw)
	}
	return nil
}

// Getter is implemented by anything exposing named parameters for reading.
// Absent keys return ok=false; the caller (protocol daemon) sends no
// response for a "get" of an unknown key, per spec.md §4.5.
type Getter interface {
	Get(key string) (Value, bool)
}

// Setter is implemented by anything accepting named parameter updates.
// Unknown keys, and keys that are read-only, are silently ignored.
type Setter interface {
	Set(key string, v Value) bool
}

// Bag combines Getter and Setter, matching the "get/set interface" the
// spec describes for Node parameters.
type Bag interface {
	Getter
	Setter
}

package retranslator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// Kind is the data-type tag carried by a generic block. The numeric values
// are the tags used on the wire.
type Kind uint8

const (
	KindString  Kind = 1
	KindBinary  Kind = 2 // not decoded
	KindInt32   Kind = 3
	KindFloat64 Kind = 4
	KindInt64   Kind = 5
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindBinary:
		return "binary"
	case KindInt32:
		return "int32"
	case KindFloat64:
		return "float64"
	case KindInt64:
		return "int64"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is one decoded attribute value.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
}

func StringValue(s string) Value   { return Value{kind: KindString, s: s} }
func Int32Value(n int32) Value     { return Value{kind: KindInt32, i: int64(n)} }
func Float64Value(f float64) Value { return Value{kind: KindFloat64, f: f} }
func Int64Value(n int64) Value     { return Value{kind: KindInt64, i: n} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Str() (string, bool) { return v.s, v.kind == KindString }

func (v Value) Int32() (int32, bool) { return int32(v.i), v.kind == KindInt32 }

func (v Value) Float64() (float64, bool) { return v.f, v.kind == KindFloat64 }

func (v Value) Int64() (int64, bool) { return v.i, v.kind == KindInt64 }

// Interface returns the value as a plain Go value (string, int32, float64
// or int64).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt32:
		return int32(v.i)
	case KindFloat64:
		return v.f
	case KindInt64:
		return v.i
	default:
		return nil
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt32, KindInt64:
		return strconv.FormatInt(v.i, 10)
	case KindFloat64:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	default:
		return ""
	}
}

// MarshalJSON encodes NaN and infinities as the strings "NaN", "+Inf" and
// "-Inf", which JSON numbers cannot carry.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.kind == KindFloat64 && (math.IsNaN(v.f) || math.IsInf(v.f, 0)) {
		return json.Marshal(v.String())
	}
	return json.Marshal(v.Interface())
}

// Attributes keeps decoded fields in the order they were first seen.
type Attributes struct {
	keys []string
	vals map[string]Value
}

// Set stores v under name. Re-setting a name keeps its original position.
func (a *Attributes) Set(name string, v Value) {
	if a.vals == nil {
		a.vals = make(map[string]Value)
	}
	if _, ok := a.vals[name]; !ok {
		a.keys = append(a.keys, name)
	}
	a.vals[name] = v
}

func (a *Attributes) Get(name string) (Value, bool) {
	v, ok := a.vals[name]
	return v, ok
}

func (a *Attributes) Len() int { return len(a.keys) }

// Keys returns a copy of the attribute names in insertion order.
func (a *Attributes) Keys() []string {
	out := make([]string, len(a.keys))
	copy(out, a.keys)
	return out
}

// Each calls fn for every attribute in insertion order until fn returns false.
func (a *Attributes) Each(fn func(name string, v Value) bool) {
	for _, k := range a.keys {
		if !fn(k, a.vals[k]) {
			return
		}
	}
}

func (a *Attributes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range a.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := a.vals[k].MarshalJSON()
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

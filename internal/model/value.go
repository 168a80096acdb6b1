package model

import (
	"encoding/json"
	"fmt"
	"sort"
)

// ValueKind tags the variant held by a Value.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindString
	KindNumber
	KindBool
	KindArray
	KindObject
)

// Value is a recursive tagged sum representing the dynamic `parameters`
// tree of a ToolRequest. Unlike a bare interface{}, a request's tree is
// built by NewToolRequest through valueFromAny, which routes every
// string through the sanitizer (see internal/sanitize) before it can be
// stored — untyped, unsanitized data never escapes the boundary between
// decoding and the rest of the system.
type Value struct {
	kind ValueKind
	str  string
	num  float64
	b    bool
	arr  []Value
	obj  map[string]Value
	keys []string // key order as passed to ObjectValue; Canonical sorts keys instead
}

func Null() Value                { return Value{kind: KindNull} }
func StringValue(s string) Value { return Value{kind: KindString, str: s} }
func NumberValue(n float64) Value { return Value{kind: KindNumber, num: n} }
func BoolValue(b bool) Value     { return Value{kind: KindBool, b: b} }

func ArrayValue(items []Value) Value {
	return Value{kind: KindArray, arr: items}
}

func ObjectValue(fields map[string]Value, keyOrder []string) Value {
	return Value{kind: KindObject, obj: fields, keys: keyOrder}
}

func (v Value) Kind() ValueKind { return v.kind }

func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

func (v Value) AsNumber() (float64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	return v.num, true
}

func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return v.arr, true
}

func (v Value) AsObject() (map[string]Value, []string, bool) {
	if v.kind != KindObject {
		return nil, nil, false
	}
	return v.obj, v.keys, true
}

// Get walks a single field of an object value; ok is false for any
// non-object value or a missing key — never an error. This mirrors the
// Pattern Engine's rule that a missing jsonpath target evaluates false.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	val, ok := v.obj[key]
	return val, ok
}

// String renders a human-inspectable representation, used for string-
// dialect pattern matching against non-string leaves (numbers, bools)
// and for the Mock provider's stringified-parameters heuristic.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindNumber:
		if v.num == float64(int64(v.num)) {
			return fmt.Sprintf("%d", int64(v.num))
		}
		return fmt.Sprintf("%g", v.num)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindArray:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		b, _ := json.Marshal(parts)
		return string(b)
	case KindObject:
		return v.Canonical()
	default:
		return ""
	}
}

// Canonical renders a deterministic JSON encoding with object keys
// sorted lexicographically and numbers normalized — used to build the
// Inference Strategy Manager's cache_key (spec.md §4.G step 5, and the
// Open Question in §9 about cache-key canonicalization, resolved here
// in favor of canonical JSON over a stringified dump).
func (v Value) Canonical() string {
	b, _ := json.Marshal(v.canonicalAny())
	return string(b)
}

func (v Value) canonicalAny() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.canonicalAny()
		}
		return out
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]interface{}, len(keys))
		for _, k := range keys {
			out[k] = v.obj[k].canonicalAny()
		}
		return out
	default:
		return nil
	}
}

// ToAny converts back to a plain interface{} tree, e.g. for JSON
// re-encoding in transport responses and audit snapshots.
func (v Value) ToAny() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.ToAny()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.obj))
		for k, fv := range v.obj {
			out[k] = fv.ToAny()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.ToAny())
}

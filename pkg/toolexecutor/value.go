package toolexecutor

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by a Value.
type ValueKind uint8

const (
	NullValue ValueKind = iota
	BoolValue
	NumberValue
	StringValue
	ArrayValue
	ObjectValue
)

func (k ValueKind) String() string {
	switch k {
	case NullValue:
		return "null"
	case BoolValue:
		return "boolean"
	case NumberValue:
		return "number"
	case StringValue:
		return "string"
	case ArrayValue:
		return "array"
	case ObjectValue:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a JSON value as produced by the model: null, bool, number, string,
// array or object.
type Value struct {
	kind ValueKind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

// ValueOf converts a decoded JSON value (or a plain Go scalar) into a Value.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return Value{}, nil
	case Value:
		return x, nil
	case bool:
		return Value{kind: BoolValue, b: x}, nil
	case float64:
		return Value{kind: NumberValue, n: x}, nil
	case float32:
		return Value{kind: NumberValue, n: float64(x)}, nil
	case int:
		return Value{kind: NumberValue, n: float64(x)}, nil
	case int64:
		return Value{kind: NumberValue, n: float64(x)}, nil
	case json.Number:
		n, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return Value{kind: NumberValue, n: n}, nil
	case string:
		return Value{kind: StringValue, s: x}, nil
	case []any:
		arr := make([]Value, 0, len(x))
		for i, item := range x {
			iv, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			arr = append(arr, iv)
		}
		return Value{kind: ArrayValue, arr: arr}, nil
	case map[string]any:
		obj := make(map[string]Value, len(x))
		for key, item := range x {
			iv, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", key, err)
			}
			obj[key] = iv
		}
		return Value{kind: ObjectValue, obj: obj}, nil
	default:
		return Value{}, fmt.Errorf("unsupported value type %T", v)
	}
}

// Kind returns the variant tag.
func (v Value) Kind() ValueKind { return v.kind }

// IsNull reports whether v is JSON null.
func (v Value) IsNull() bool { return v.kind == NullValue }

// AsString returns the string variant.
func (v Value) AsString() (string, bool) { return v.s, v.kind == StringValue }

// AsBool returns the boolean variant.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == BoolValue }

// AsNumber returns the number variant.
func (v Value) AsNumber() (float64, bool) { return v.n, v.kind == NumberValue }

// AsArray returns the array variant.
func (v Value) AsArray() ([]Value, bool) { return v.arr, v.kind == ArrayValue }

// AsObject returns the object variant.
func (v Value) AsObject() (map[string]Value, bool) { return v.obj, v.kind == ObjectValue }

// Interface converts back into plain Go values (the encoding/json shapes).
func (v Value) Interface() any {
	switch v.kind {
	case BoolValue:
		return v.b
	case NumberValue:
		return v.n
	case StringValue:
		return v.s
	case ArrayValue:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case ObjectValue:
		out := make(map[string]any, len(v.obj))
		for key, item := range v.obj {
			out[key] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// Text renders the value the way a shell-minded model would expect: strings
// verbatim, numbers without trailing zeros, everything else as JSON.
func (v Value) Text() string {
	switch v.kind {
	case StringValue:
		return v.s
	case NumberValue:
		return strconv.FormatFloat(v.n, 'f', -1, 64)
	case BoolValue:
		return strconv.FormatBool(v.b)
	case NullValue:
		return ""
	default:
		data, _ := json.Marshal(v.Interface())
		return string(data)
	}
}

// Args is the argument object of one tool call.
type Args map[string]Value

// ArgsFrom converts a raw argument map.
func ArgsFrom(raw map[string]any) (Args, error) {
	args := make(Args, len(raw))
	for key, item := range raw {
		v, err := ValueOf(item)
		if err != nil {
			return nil, fmt.Errorf("argument %q: %w", key, err)
		}
		args[key] = v
	}
	return args, nil
}

// Raw converts the arguments back into plain Go values.
func (a Args) Raw() map[string]any {
	out := make(map[string]any, len(a))
	for key, v := range a {
		out[key] = v.Interface()
	}
	return out
}

// Keys returns the argument names in sorted order.
func (a Args) Keys() []string {
	keys := make([]string, 0, len(a))
	for key := range a {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// String returns a required string argument.
func (a Args) String(name string) (string, error) {
	v, ok := a[name]
	if !ok || v.IsNull() {
		return "", InvalidArgument("missing required argument %q", name)
	}
	s, ok := v.AsString()
	if !ok {
		return "", InvalidArgument("argument %q must be a string, got %s", name, v.Kind())
	}
	return s, nil
}

// NonEmptyString returns a required string argument that is not blank.
func (a Args) NonEmptyString(name string) (string, error) {
	s, err := a.String(name)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(s) == "" {
		return "", InvalidArgument("argument %q must not be empty", name)
	}
	return s, nil
}

// StringOr returns an optional string argument or def when it is absent.
func (a Args) StringOr(name, def string) (string, error) {
	v, ok := a[name]
	if !ok || v.IsNull() {
		return def, nil
	}
	s, ok := v.AsString()
	if !ok {
		return "", InvalidArgument("argument %q must be a string, got %s", name, v.Kind())
	}
	return s, nil
}

// BoolOr returns an optional boolean argument or def when it is absent.
func (a Args) BoolOr(name string, def bool) (bool, error) {
	v, ok := a[name]
	if !ok || v.IsNull() {
		return def, nil
	}
	b, ok := v.AsBool()
	if !ok {
		return false, InvalidArgument("argument %q must be a boolean, got %s", name, v.Kind())
	}
	return b, nil
}

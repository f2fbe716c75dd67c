package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInteger
	KindFloat
	KindBoolean
	KindTimestamp
	KindList
	KindMap
)

var kindNames = [...]string{
	KindNull:      "null",
	KindString:    "string",
	KindInteger:   "integer",
	KindFloat:     "float",
	KindBoolean:   "boolean",
	KindTimestamp: "timestamp",
	KindList:      "list",
	KindMap:       "map",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

func kindFromName(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

// Value is a property value. The zero Value is Null.
//
// Exactly one payload field is meaningful, selected by kind. Values are
// built with the constructors below and inspected with the As* accessors.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	bln  bool
	ts   time.Time
	list []Value
	dict map[string]Value
}

func Null() Value               { return Value{} }
func String(s string) Value     { return Value{kind: KindString, str: s} }
func Int(n int64) Value         { return Value{kind: KindInteger, num: n} }
func Float(f float64) Value     { return Value{kind: KindFloat, flt: f} }
func Bool(b bool) Value         { return Value{kind: KindBoolean, bln: b} }
func Time(t time.Time) Value    { return Value{kind: KindTimestamp, ts: t.UTC().Round(0)} }
func List(items ...Value) Value { return Value{kind: KindList, list: items} }

// Map wraps a nested property map. A nil map is stored as empty.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}
	return Value{kind: KindMap, dict: m}
}

// Strings builds a list of string values.
func Strings(items ...string) Value {
	list := make([]Value, len(items))
	for i, s := range items {
		list[i] = String(s)
	}
	return List(list...)
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }
func (v Value) AsInt() (int64, bool)     { return v.num, v.kind == KindInteger }
func (v Value) AsFloat() (float64, bool) { return v.flt, v.kind == KindFloat }
func (v Value) AsBool() (bool, bool)     { return v.bln, v.kind == KindBoolean }
func (v Value) AsTime() (time.Time, bool) {
	return v.ts, v.kind == KindTimestamp
}
func (v Value) AsList() ([]Value, bool) { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool) {
	return v.dict, v.kind == KindMap
}

// AsStrings returns the string elements of a list, skipping anything else.
func (v Value) AsStrings() ([]string, bool) {
	if v.kind != KindList {
		return nil, false
	}
	out := make([]string, 0, len(v.list))
	for _, item := range v.list {
		if s, ok := item.AsString(); ok {
			out = append(out, s)
		}
	}
	return out, true
}

// Text returns the scalar text form used by property filters. Lists and
// maps have no text form.
func (v Value) Text() (string, bool) {
	switch v.kind {
	case KindNull:
		return "null", true
	case KindString:
		return v.str, true
	case KindInteger:
		return strconv.FormatInt(v.num, 10), true
	case KindFloat:
		b, err := json.Marshal(v.flt)
		if err != nil {
			return "", false
		}
		return string(b), true
	case KindBoolean:
		return strconv.FormatBool(v.bln), true
	case KindTimestamp:
		return v.ts.Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindList:
		list := make([]Value, len(v.list))
		for i, item := range v.list {
			list[i] = item.Clone()
		}
		return Value{kind: KindList, list: list}
	case KindMap:
		return Value{kind: KindMap, dict: Properties(v.dict).Clone()}
	default:
		return v
	}
}

// Equal reports whether two values hold the same variant and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindInteger:
		return v.num == o.num
	case KindFloat:
		return v.flt == o.flt
	case KindBoolean:
		return v.bln == o.bln
	case KindTimestamp:
		return v.ts.Equal(o.ts)
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindMap:
		return Properties(v.dict).Equal(o.dict)
	}
	return false
}

func (v Value) String() string {
	if s, ok := v.Text(); ok {
		return s
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v.kind.String()
	}
	return string(b)
}

// MarshalJSON encodes the value as a single-key object naming its variant,
// e.g. {"string":"x"} or {"null":null}.
func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindNull:
		payload = nil
	case KindString:
		payload = v.str
	case KindInteger:
		payload = v.num
	case KindFloat:
		payload = v.flt
	case KindBoolean:
		payload = v.bln
	case KindTimestamp:
		payload = v.ts.Format(time.RFC3339Nano)
	case KindList:
		list := v.list
		if list == nil {
			list = []Value{}
		}
		payload = list
	case KindMap:
		payload = v.dict
	default:
		return nil, fmt.Errorf("marshal property value: unknown kind %d", v.kind)
	}
	return marshalNoEscape(map[string]any{v.kind.String(): payload})
}

// UnmarshalJSON decodes the tagged object form written by MarshalJSON.
func (v *Value) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("unmarshal property value: %w", err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("unmarshal property value: want exactly one variant, got %d", len(tagged))
	}

	for name, raw := range tagged {
		kind, ok := kindFromName(name)
		if !ok {
			return fmt.Errorf("unmarshal property value: unknown variant %q", name)
		}
		out := Value{kind: kind}
		var err error
		switch kind {
		case KindNull:
		case KindString:
			err = json.Unmarshal(raw, &out.str)
		case KindInteger:
			err = json.Unmarshal(raw, &out.num)
		case KindFloat:
			err = json.Unmarshal(raw, &out.flt)
		case KindBoolean:
			err = json.Unmarshal(raw, &out.bln)
		case KindTimestamp:
			var s string
			if err = json.Unmarshal(raw, &s); err == nil {
				out.ts, err = time.Parse(time.RFC3339Nano, s)
				out.ts = out.ts.UTC()
			}
		case KindList:
			err = json.Unmarshal(raw, &out.list)
			if out.list == nil {
				out.list = []Value{}
			}
		case KindMap:
			err = json.Unmarshal(raw, &out.dict)
			if out.dict == nil {
				out.dict = map[string]Value{}
			}
		}
		if err != nil {
			return fmt.Errorf("unmarshal %s property value: %w", name, err)
		}
		*v = out
	}
	return nil
}

// Properties is the property map carried by nodes and edges.
type Properties map[string]Value

// Get returns the value under key, Null when absent.
func (p Properties) Get(key string) (Value, bool) {
	v, ok := p[key]
	return v, ok
}

// GetString is a convenience accessor for string properties.
func (p Properties) GetString(key string) string {
	s, _ := p[key].AsString()
	return s
}

func (p Properties) Clone() Properties {
	if p == nil {
		return Properties{}
	}
	out := make(Properties, len(p))
	for k, v := range p {
		out[k] = v.Clone()
	}
	return out
}

func (p Properties) Equal(o Properties) bool {
	return maps.EqualFunc(p, o, Value.Equal)
}

// Encode serializes the map with sorted keys and without HTML escaping.
// The result is the stored form and the haystack for text search.
func (p Properties) Encode() ([]byte, error) {
	if p == nil {
		p = Properties{}
	}
	return marshalNoEscape(map[string]Value(p))
}

// DecodeProperties parses the stored form written by Encode.
func DecodeProperties(data []byte) (Properties, error) {
	props := Properties{}
	if len(data) == 0 {
		return props, nil
	}
	if err := json.Unmarshal(data, &props); err != nil {
		return nil, err
	}
	return props, nil
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

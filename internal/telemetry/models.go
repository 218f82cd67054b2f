package telemetry

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Kind is the persistence-safe representation of a scalar field.
type Kind int

const (
	KindInt Kind = iota
	KindFloat
	KindBool
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Value is a tagged scalar. Build one with Coerce, or with IntValue,
// FloatValue and StringValue when the kind is already known.
type Value struct {
	kind Kind
	i    int64
	f    float64
	b    bool
	s    string
}

func IntValue(v int64) Value { return Value{kind: KindInt, i: v} }

func FloatValue(v float64) Value { return Value{kind: KindFloat, f: v} }

func StringValue(v string) Value { return Value{kind: KindString, s: v} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) Int() int64 { return v.i }

func (v Value) Float() float64 { return v.f }

func (v Value) Str() string { return v.s }

// Interface returns the value as the Go type a sink driver expects:
// int64, float64, bool or string.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	default:
		return v.s
	}
}

// String renders the value as written to text sinks. Floats always carry a
// decimal point so the text coerces back to a Float.
func (v Value) String() string {
	switch v.kind {
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		s := strconv.FormatFloat(v.f, 'f', -1, 64)
		if !strings.ContainsAny(s, ".NI") {
			s += ".0"
		}
		return s
	case KindBool:
		if v.b {
			return "1"
		}
		return "0"
	default:
		return v.s
	}
}

// Field is one named scalar of a FlatRecord.
type Field struct {
	Name  string
	Value Value
}

// Node is one element of a Reading tree. A node with Children is an
// internal node and its Value is ignored.
type Node struct {
	Key      string
	Value    any
	Children []Node
}

// Leaf returns a scalar node.
func Leaf(key string, value any) Node {
	return Node{Key: key, Value: value}
}

// Group returns an internal node holding children in the given order.
func Group(key string, children ...Node) Node {
	if children == nil {
		children = []Node{}
	}
	return Node{Key: key, Children: children}
}

func (n Node) isGroup() bool { return n.Children != nil }

// Reading is the ordered top level of one source's tree for one poll.
type Reading []Node

// FlatRecord is an ordered, immutable set of uniquely named fields.
// The zero value is an empty record.
type FlatRecord struct {
	fields []Field
	index  map[string]int
}

// NewFlatRecord builds a record from fields in order. A repeated name keeps
// its first position and takes the last value.
func NewFlatRecord(fields ...Field) FlatRecord {
	var b recordBuilder
	for _, f := range fields {
		b.set(f.Name, f.Value)
	}
	return b.record()
}

func (r FlatRecord) Len() int { return len(r.fields) }

// Fields returns a copy of the fields in order.
func (r FlatRecord) Fields() []Field {
	out := make([]Field, len(r.fields))
	copy(out, r.fields)
	return out
}

// Keys returns the field names in order.
func (r FlatRecord) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.Name
	}
	return keys
}

// Get looks a field up by name.
func (r FlatRecord) Get(name string) (Value, bool) {
	i, ok := r.index[name]
	if !ok {
		return Value{}, false
	}
	return r.fields[i].Value, true
}

// MarshalJSON encodes the record as a JSON object preserving field order.
func (r FlatRecord) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range r.fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(f.Name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(f.Value.Interface())
		if err != nil {
			// NaN and Inf have no JSON form.
			v = []byte("null")
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type recordBuilder struct {
	fields []Field
	index  map[string]int
}

func (b *recordBuilder) has(name string) bool {
	_, ok := b.index[name]
	return ok
}

func (b *recordBuilder) set(name string, v Value) {
	if b.index == nil {
		b.index = make(map[string]int)
	}
	if i, ok := b.index[name]; ok {
		b.fields[i].Value = v
		return
	}
	b.index[name] = len(b.fields)
	b.fields = append(b.fields, Field{Name: name, Value: v})
}

func (b *recordBuilder) record() FlatRecord {
	return FlatRecord{fields: b.fields, index: b.index}
}

// String renders the record as space separated name=value pairs.
func (r FlatRecord) String() string {
	var sb strings.Builder
	for i, f := range r.fields {
		if i > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(f.Name)
		sb.WriteByte('=')
		sb.WriteString(f.Value.String())
	}
	return sb.String()
}

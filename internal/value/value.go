// Package value models the cells returned by the query engine as a tagged union, so every
// boundary that encodes results can dispatch on the kind instead of guessing from an any.
package value

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindText
	KindBool
	KindTimestamp
	KindList
	KindStruct
)

var kindNames = map[Kind]string{
	KindNull:      "null",
	KindInt:       "int",
	KindFloat:     "float",
	KindText:      "text",
	KindBool:      "bool",
	KindTimestamp: "timestamp",
	KindList:      "list",
	KindStruct:    "struct",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

func parseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return k, nil
		}
	}
	return KindNull, fmt.Errorf("unknown value kind %q", s)
}

// Value is a single cell. The zero Value is null.
type Value struct {
	kind   Kind
	i      int64
	f      float64
	s      string
	b      bool
	t      time.Time
	list   []Value
	fields []Field
}

// Field is one named member of a struct value. Field order is preserved.
type Field struct {
	Name  string
	Value Value
}

// Row maps column name to cell.
type Row map[string]Value

func Null() Value                 { return Value{} }
func Int(i int64) Value           { return Value{kind: KindInt, i: i} }
func Float(f float64) Value       { return Value{kind: KindFloat, f: f} }
func Text(s string) Value         { return Value{kind: KindText, s: s} }
func Bool(b bool) Value           { return Value{kind: KindBool, b: b} }
func Timestamp(t time.Time) Value { return Value{kind: KindTimestamp, t: t} }
func List(items ...Value) Value   { return Value{kind: KindList, list: append([]Value(nil), items...)} }
func Struct(fields ...Field) Value {
	return Value{kind: KindStruct, fields: append([]Field(nil), fields...)}
}

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) Int() (int64, bool) {
	return v.i, v.kind == KindInt
}

func (v Value) Float() (float64, bool) {
	return v.f, v.kind == KindFloat
}

func (v Value) Text() (string, bool) {
	return v.s, v.kind == KindText
}

func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

func (v Value) Time() (time.Time, bool) {
	return v.t, v.kind == KindTimestamp
}

func (v Value) List() []Value {
	if v.kind != KindList {
		return nil
	}
	return append([]Value(nil), v.list...)
}

func (v Value) Fields() []Field {
	if v.kind != KindStruct {
		return nil
	}
	return append([]Field(nil), v.fields...)
}

// Interface returns the native Go value: int64, float64, string, bool, time.Time, []any,
// map[string]any or nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindText:
		return v.s
	case KindBool:
		return v.b
	case KindTimestamp:
		return v.t
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindStruct:
		out := make(map[string]any, len(v.fields))
		for _, f := range v.fields {
			out[f.Name] = f.Value.Interface()
		}
		return out
	default:
		return nil
	}
}

// String renders the value for prompts, logs and tables.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "NULL"
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindText:
		return v.s
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindTimestamp:
		if v.t.Hour() == 0 && v.t.Minute() == 0 && v.t.Second() == 0 && v.t.Nanosecond() == 0 {
			return v.t.Format(time.DateOnly)
		}
		return v.t.Format(time.RFC3339Nano)
	case KindList:
		s := "["
		for i, item := range v.list {
			if i > 0 {
				s += ", "
			}
			s += item.String()
		}
		return s + "]"
	case KindStruct:
		s := "{"
		for i, f := range v.fields {
			if i > 0 {
				s += ", "
			}
			s += f.Name + ": " + f.Value.String()
		}
		return s + "}"
	default:
		return ""
	}
}

// Equal reports deep equality, comparing timestamps by instant.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f || (math.IsNaN(v.f) && math.IsNaN(o.f))
	case KindText:
		return v.s == o.s
	case KindBool:
		return v.b == o.b
	case KindTimestamp:
		return v.t.Equal(o.t)
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindStruct:
		if len(v.fields) != len(o.fields) {
			return false
		}
		for i := range v.fields {
			if v.fields[i].Name != o.fields[i].Name || !v.fields[i].Value.Equal(o.fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// FromAny converts a value produced by database/sql scanning into a Value. Integers that do
// not fit in int64 become text so no digits are lost.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint:
		return fromUint64(uint64(t))
	case uint64:
		return fromUint64(t)
	case *big.Int:
		if t == nil {
			return Null()
		}
		if t.IsInt64() {
			return Int(t.Int64())
		}
		return Text(t.String())
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return Text(t)
	case []byte:
		return Text(string(t))
	case bool:
		return Bool(t)
	case time.Time:
		return Timestamp(t)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Value{kind: KindList, list: items}
	case map[string]any:
		return Struct(sortedFields(t)...)
	case fmt.Stringer:
		return Text(t.String())
	default:
		return Text(fmt.Sprint(t))
	}
}

func fromUint64(u uint64) Value {
	if u > math.MaxInt64 {
		return Text(strconv.FormatUint(u, 10))
	}
	return Int(int64(u))
}

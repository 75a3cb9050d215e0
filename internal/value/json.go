package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"
)

// Wire form: {"kind": "...", "value": ...}. Integers are carried as decimal strings so that
// clients decoding JSON numbers into doubles cannot round them. Non-finite floats are carried
// as strings too.
type wireValue struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value,omitempty"`
}

type wireField struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	var payload any
	switch v.kind {
	case KindNull:
		return []byte(`{"kind":"null"}`), nil
	case KindInt:
		payload = strconv.FormatInt(v.i, 10)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			payload = strconv.FormatFloat(v.f, 'g', -1, 64)
		} else {
			payload = v.f
		}
	case KindText:
		payload = v.s
	case KindBool:
		payload = v.b
	case KindTimestamp:
		payload = v.t.Format(time.RFC3339Nano)
	case KindList:
		items := v.list
		if items == nil {
			items = []Value{}
		}
		payload = items
	case KindStruct:
		fields := make([]wireField, len(v.fields))
		for i, f := range v.fields {
			fields[i] = wireField{Name: f.Name, Value: f.Value}
		}
		payload = fields
	default:
		return nil, fmt.Errorf("cannot marshal value of %s", v.kind)
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireValue{Kind: v.kind.String(), Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Null()
		return nil
	}
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	kind, err := parseKind(w.Kind)
	if err != nil {
		return err
	}
	if kind != KindNull && len(w.Value) == 0 {
		return fmt.Errorf("value of kind %s has no payload", kind)
	}

	switch kind {
	case KindNull:
		*v = Null()
	case KindInt:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("int payload must be a decimal string: %w", err)
		}
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid int payload %q: %w", s, err)
		}
		*v = Int(i)
	case KindFloat:
		var f float64
		if err := json.Unmarshal(w.Value, &f); err != nil {
			var s string
			if serr := json.Unmarshal(w.Value, &s); serr != nil {
				return fmt.Errorf("invalid float payload: %w", err)
			}
			f, err = strconv.ParseFloat(s, 64)
			if err != nil {
				return fmt.Errorf("invalid float payload %q: %w", s, err)
			}
		}
		*v = Float(f)
	case KindText:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("invalid text payload: %w", err)
		}
		*v = Text(s)
	case KindBool:
		var b bool
		if err := json.Unmarshal(w.Value, &b); err != nil {
			return fmt.Errorf("invalid bool payload: %w", err)
		}
		*v = Bool(b)
	case KindTimestamp:
		var s string
		if err := json.Unmarshal(w.Value, &s); err != nil {
			return fmt.Errorf("invalid timestamp payload: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp payload %q: %w", s, err)
		}
		*v = Timestamp(t)
	case KindList:
		var items []Value
		if err := json.Unmarshal(w.Value, &items); err != nil {
			return fmt.Errorf("invalid list payload: %w", err)
		}
		*v = Value{kind: KindList, list: items}
	case KindStruct:
		var wf []wireField
		if err := json.Unmarshal(w.Value, &wf); err != nil {
			return fmt.Errorf("invalid struct payload: %w", err)
		}
		fields := make([]Field, len(wf))
		for i, f := range wf {
			fields[i] = Field{Name: f.Name, Value: f.Value}
		}
		*v = Value{kind: KindStruct, fields: fields}
	}
	return nil
}

func sortedFields(m map[string]any) []Field {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	fields := make([]Field, len(names))
	for i, name := range names {
		fields[i] = Field{Name: name, Value: FromAny(m[name])}
	}
	return fields
}

// Package firestore_doc decodes the field-typed document encoding used by the
// remote document store: every scalar is wrapped as {"<kind>Value": v}, arrays
// as {"arrayValue": {"values": [...]}} and maps as {"mapValue": {"fields": {...}}}.
//
// Decoding fails closed. A value with no tag, several tags or an unknown tag is
// an error, and accessors never coerce across kinds.
package firestore_doc

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

type Kind string

const (
	KIND_NULL      Kind = "nullValue"
	KIND_BOOLEAN   Kind = "booleanValue"
	KIND_INTEGER   Kind = "integerValue"
	KIND_DOUBLE    Kind = "doubleValue"
	KIND_STRING    Kind = "stringValue"
	KIND_TIMESTAMP Kind = "timestampValue"
	KIND_ARRAY     Kind = "arrayValue"
	KIND_MAP       Kind = "mapValue"
)

var ErrMalformed = errors.New("malformed document value")

type Value struct {
	kind    Kind
	boolean bool
	integer int64
	double  float64
	str     string
	array   []Value
	fields  map[string]Value
}

type arrayBody struct {
	Values []Value `json:"values"`
}

type mapBody struct {
	Fields map[string]Value `json:"fields"`
}

func (v Value) Kind() Kind {
	return v.kind
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var tagged map[string]json.RawMessage
	if err := json.Unmarshal(data, &tagged); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if len(tagged) != 1 {
		return fmt.Errorf("%w: expected exactly one type tag, got %d", ErrMalformed, len(tagged))
	}

	for tag, raw := range tagged {
		kind := Kind(tag)
		var err error
		switch kind {
		case KIND_NULL:
		case KIND_BOOLEAN:
			err = json.Unmarshal(raw, &v.boolean)
		case KIND_INTEGER:
			v.integer, err = parseInteger(raw)
		case KIND_DOUBLE:
			err = json.Unmarshal(raw, &v.double)
		case KIND_STRING, KIND_TIMESTAMP:
			err = json.Unmarshal(raw, &v.str)
		case KIND_ARRAY:
			var body arrayBody
			err = json.Unmarshal(raw, &body)
			v.array = body.Values
		case KIND_MAP:
			var body mapBody
			err = json.Unmarshal(raw, &body)
			v.fields = body.Fields
		default:
			return fmt.Errorf("%w: unknown type tag %q", ErrMalformed, tag)
		}
		if err != nil {
			if errors.Is(err, ErrMalformed) {
				return err
			}
			return fmt.Errorf("%w: %s: %v", ErrMalformed, tag, err)
		}
		v.kind = kind
	}
	return nil
}

// integers travel as decimal strings, bare numbers are accepted as well
func parseInteger(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, err
		}
		return strconv.ParseInt(s, 10, 64)
	}
	return strconv.ParseInt(string(raw), 10, 64)
}

func (v Value) expect(kind Kind) error {
	if v.kind != kind {
		return fmt.Errorf("%w: expected %s, got %s", ErrMalformed, kind, v.kind)
	}
	return nil
}

func (v Value) AsString() (string, error) {
	if err := v.expect(KIND_STRING); err != nil {
		return "", err
	}
	return v.str, nil
}

func (v Value) AsInteger() (int64, error) {
	if err := v.expect(KIND_INTEGER); err != nil {
		return 0, err
	}
	return v.integer, nil
}

func (v Value) AsBool() (bool, error) {
	if err := v.expect(KIND_BOOLEAN); err != nil {
		return false, err
	}
	return v.boolean, nil
}

func (v Value) AsDouble() (float64, error) {
	if err := v.expect(KIND_DOUBLE); err != nil {
		return 0, err
	}
	return v.double, nil
}

func (v Value) AsArray() ([]Value, error) {
	if err := v.expect(KIND_ARRAY); err != nil {
		return nil, err
	}
	return v.array, nil
}

func (v Value) AsMap() (map[string]Value, error) {
	if err := v.expect(KIND_MAP); err != nil {
		return nil, err
	}
	return v.fields, nil
}

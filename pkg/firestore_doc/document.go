package firestore_doc

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Document struct {
	Name   string           `json:"name"`
	Fields map[string]Value `json:"fields"`
}

func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, wrap(err)
	}
	return doc, nil
}

// Field returns the named top-level field or ErrMalformed when it is absent.
func (d Document) Field(name string) (Value, error) {
	v, ok := d.Fields[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: missing field %q", ErrMalformed, name)
	}
	return v, nil
}

// Field looks up a key of a map value.
func Field(fields map[string]Value, name string) (Value, error) {
	v, ok := fields[name]
	if !ok {
		return Value{}, fmt.Errorf("%w: missing field %q", ErrMalformed, name)
	}
	return v, nil
}

func wrap(err error) error {
	if errors.Is(err, ErrMalformed) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}

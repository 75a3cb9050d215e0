// Package llm wraps language-model calls that must return a value of a fixed JSON shape.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Request is one structured-generation call. Name identifies the result shape (it becomes the
// forced tool name for providers that use tool calling) and Schema constrains the result.
type Request struct {
	Name        string
	Description string
	System      string
	Prompt      string
	Schema      *jsonschema.Schema
}

// Client performs a structured-generation call and returns the raw JSON result.
type Client interface {
	Generate(ctx context.Context, req Request) (json.RawMessage, error)
}

var ErrNoResult = errors.New("model returned no structured result")

// SchemaError reports a model response that does not conform to the requested schema.
type SchemaError struct {
	Name string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("%s: response does not match schema: %v", e.Name, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// GenerateObject derives the result schema from T, calls c, validates the response against the
// schema and decodes it strictly into T.
func GenerateObject[T any](ctx context.Context, c Client, req Request) (T, error) {
	var out T
	if req.Name == "" {
		return out, errors.New("request name is required")
	}

	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return out, fmt.Errorf("failed to derive schema for %s: %w", req.Name, err)
	}
	req.Schema = schema

	raw, err := c.Generate(ctx, req)
	if err != nil {
		return out, err
	}
	if err := Decode(schema, req.Name, raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Decode validates raw against schema and decodes it into out, rejecting unknown fields.
func Decode(schema *jsonschema.Schema, name string, raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return &SchemaError{Name: name, Err: ErrNoResult}
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("failed to resolve schema for %s: %w", name, err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return &SchemaError{Name: name, Err: err}
	}
	if err := resolved.Validate(instance); err != nil {
		return &SchemaError{Name: name, Err: err}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return &SchemaError{Name: name, Err: err}
	}
	return nil
}

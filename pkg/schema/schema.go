// Package schema validates post-action documents against their JSON Schemas.
package schema

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	changeURL = "https://postaction.schemas.local/artifact_change.schema.json"
	updateURL = "https://postaction.schemas.local/artifact_update.schema.json"
)

// Validator holds the compiled schemas. It is safe for concurrent use.
type Validator struct {
	change *jsonschema.Schema
	update *jsonschema.Schema
}

// NewValidator compiles the embedded schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020

	for url, file := range map[string]string{
		changeURL: "schemas/artifact_change.schema.json",
		updateURL: "schemas/artifact_update.schema.json",
	} {
		data, err := schemaFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("schema load failed: %w", err)
		}
		if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("schema load failed: %w", err)
		}
	}

	change, err := c.Compile(changeURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	update, err := c.Compile(updateURL)
	if err != nil {
		return nil, fmt.Errorf("schema compile failed: %w", err)
	}
	return &Validator{change: change, update: update}, nil
}

// MustNewValidator panics if the embedded schemas do not compile.
func MustNewValidator() *Validator {
	v, err := NewValidator()
	if err != nil {
		panic(err)
	}
	return v
}

// ValidateChange checks a raw ArtifactChange document.
func (v *Validator) ValidateChange(raw []byte) error {
	return validate(v.change, "artifact change", raw)
}

// ValidateUpdate checks a raw ArtifactUpdate document.
func (v *Validator) ValidateUpdate(raw []byte) error {
	return validate(v.update, "artifact update", raw)
}

func validate(s *jsonschema.Schema, what string, raw []byte) error {
	doc, err := decode(raw)
	if err != nil {
		return fmt.Errorf("%s is not valid JSON: %w", what, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("%s schema validation failed: %w", what, err)
	}
	return nil
}

// decode keeps numbers as json.Number so integer keywords see exact values.
func decode(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after top-level value")
	}
	return doc, nil
}

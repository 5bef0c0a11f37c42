// Package schema wraps JSON Schema compilation and instance validation for
// annotation gating. Draft-04 documents are the contract; the compiler also
// accepts the compatible newer drafts. Errors are plain; the engine maps
// them onto its validation error kinds.
package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v5"
)

// Check compiles buf as a JSON Schema document, reporting an error when it
// is not one.
func Check(buf []byte) error {
	_, err := compile(buf)
	return err
}

// ValidateInstance validates the JSON document instance against the schema
// document schemaBuf. Validation is deterministic and side-effect-free.
func ValidateInstance(schemaBuf, instance []byte) error {
	sch, err := compile(schemaBuf)
	if err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(instance))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("annotation is not valid JSON: %w", err)
	}

	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("annotation does not match schema: %w", err)
	}
	return nil
}

func compile(buf []byte) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft4
	const url = "schema.json"
	if err := c.AddResource(url, bytes.NewReader(buf)); err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON schema: %w", err)
	}
	return sch, nil
}

package webhook

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/inventory_level_update.json
var inventoryLevelUpdateSchema []byte

const inventoryLevelUpdateURI = "https://inventory-sync/schemas/inventory_level_update.json"

// ErrMalformedJSON is returned when the payload is not JSON at all.
var ErrMalformedJSON = errors.New("malformed JSON")

// Validator checks inbound webhook payloads against a JSON Schema.
type Validator struct {
	schema *jsonschema.Schema
}

// NewInventoryLevelValidator compiles the embedded inventory level schema.
func NewInventoryLevelValidator() (*Validator, error) {
	return NewValidator(inventoryLevelUpdateURI, inventoryLevelUpdateSchema)
}

// NewValidator compiles schemaJSON registered under uri.
func NewValidator(uri string, schemaJSON []byte) (*Validator, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(schemaJSON))
	if err != nil {
		return nil, fmt.Errorf("failed to parse schema %s: %w", uri, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(uri, doc); err != nil {
		return nil, fmt.Errorf("failed to add schema %s: %w", uri, err)
	}
	schema, err := compiler.Compile(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", uri, err)
	}

	return &Validator{schema: schema}, nil
}

// Validate parses payload and checks it against the schema. A payload that
// is not JSON yields ErrMalformedJSON; a schema violation yields a
// *ValidationError.
func (v *Validator) Validate(payload []byte) error {
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedJSON, err)
	}

	if err := v.schema.Validate(instance); err != nil {
		var verr *jsonschema.ValidationError
		if errors.As(err, &verr) {
			return &ValidationError{Violations: violations(verr)}
		}
		return err
	}
	return nil
}

// ValidationError lists schema violations as "location: message" strings.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "payload does not match schema"
	}
	if len(e.Violations) == 1 {
		return e.Violations[0]
	}
	return fmt.Sprintf("%s (and %d more)", e.Violations[0], len(e.Violations)-1)
}

func violations(verr *jsonschema.ValidationError) []string {
	var out []string
	var walk func(u jsonschema.OutputUnit)
	walk = func(u jsonschema.OutputUnit) {
		if u.Error != nil {
			loc := u.InstanceLocation
			if loc == "" {
				loc = "/"
			}
			out = append(out, fmt.Sprintf("%s: %s", loc, u.Error.String()))
		}
		for _, e := range u.Errors {
			walk(e)
		}
	}
	walk(*verr.BasicOutput())
	return out
}

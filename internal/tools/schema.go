// ABOUTME: JSON schema generation for tool inputs from Go structs
// ABOUTME: Produces inline object schemas suitable for model tool definitions

package tools

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaFor reflects an input struct into an inline JSON schema.
// Fields without omitempty are required.
func SchemaFor(v any) (json.RawMessage, error) {
	r := &jsonschema.Reflector{
		Anonymous:                 true,
		DoNotReference:            true,
		AllowAdditionalProperties: true,
	}
	schema := r.Reflect(v)
	schema.Version = ""

	data, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshaling schema: %w", err)
	}
	return data, nil
}

// mustSchema is SchemaFor for the package's own static input types.
func mustSchema(v any) json.RawMessage {
	data, err := SchemaFor(v)
	if err != nil {
		panic(err)
	}
	return data
}

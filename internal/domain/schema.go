package domain

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ValidateMetadataAgainstSchema validates a transaction's metadata map
// against a company's optional MetadataSchema. An empty schema always
// validates (most companies have no schema configured).
func ValidateMetadataAgainstSchema(metadata map[string]any, metadataSchema json.RawMessage) error {
	if len(bytes.TrimSpace(metadataSchema)) == 0 {
		return nil
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("company-metadata-schema.json", bytes.NewReader(metadataSchema)); err != nil {
		return fmt.Errorf("compile metadata schema: %w", err)
	}
	schema, err := compiler.Compile("company-metadata-schema.json")
	if err != nil {
		return fmt.Errorf("compile metadata schema: %w", err)
	}

	// jsonschema validates against decoded JSON values (map[string]any,
	// []any, json.Number, ...); our metadata is already such a value.
	if err := schema.Validate(toJSONNumberTree(metadata)); err != nil {
		return fmt.Errorf("metadata does not match company schema: %w", err)
	}
	return nil
}

// toJSONNumberTree round-trips a value through JSON so that numeric
// literals become json.Number, matching what jsonschema.Compile expects
// when a schema constrains integer vs. number types.
func toJSONNumberTree(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v
	}
	return out
}

package invoice

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// BuildRecordJSONSchema returns a JSON-Schema (draft 2020-12 subset) for the
// ten-field audit record contract, as a generic map.
func BuildRecordJSONSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"invoice_number":  map[string]any{"type": "string", "minLength": 1},
			"date":            map[string]any{"type": "string", "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"supplier":        map[string]any{"type": "string", "minLength": 1},
			"buyer":           map[string]any{"type": "string", "minLength": 1},
			"amount":          map[string]any{"type": "number"},
			"vat":             map[string]any{"type": "number"},
			"vat_rate":        map[string]any{"type": "number"},
			"contract_number": nullableString(),
			"payment_date":    nullableString(),
			"meter_number":    nullableString(),
		},
		"required": []string{"invoice_number", "date", "supplier", "buyer", "amount", "vat"},
	}
}

func nullableString() map[string]any {
	return map[string]any{"type": []string{"string", "null"}}
}

// ValidateJSONAgainstSchema validates "data" against "schemaMap".
func ValidateJSONAgainstSchema(schemaMap map[string]any, data []byte) error {
	b, err := json.Marshal(schemaMap)
	if err != nil {
		return fmt.Errorf("marshal schema: %w", err)
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("schema.json", bytes.NewReader(b)); err != nil {
		return fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("json does not match schema: %w", err)
	}
	return nil
}

// CheckReplyShape reports whether a syntactically valid reply also honors the
// record contract. Advisory only: defects are logged by the caller, never
// fatal, and non-JSON replies are left to the recovery tiers.
func CheckReplyShape(raw []byte) error {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return ValidateJSONAgainstSchema(BuildRecordJSONSchema(), raw)
}

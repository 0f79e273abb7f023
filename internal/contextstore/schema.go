package contextstore

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// documentSchema constrains the merged context document. An update whose
// merge result fails validation is rejected before anything is persisted.
const documentSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"properties": {
		"goals":          {"type": "array", "items": {"type": "string"}},
		"constraints":    {"type": "array", "items": {"type": "string"}},
		"recent_changes": {"type": "array", "items": {"type": "string"}, "maxItems": 10},
		"active_tasks":   {"type": "object"},
		"working_memory": {"type": "object"},
		"last_updated":   {"type": "string"}
	},
	"required": ["goals", "constraints", "recent_changes", "last_updated"]
}`

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
	schemaErr  error
)

func compiledSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(documentSchema))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal document schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("context.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		schema, schemaErr = c.Compile("context.json")
	})
	return schema, schemaErr
}

// ValidateDocument checks a document against the context schema.
func ValidateDocument(doc Document) error {
	s, err := compiledSchema()
	if err != nil {
		return err
	}
	if err := s.Validate(map[string]any(doc)); err != nil {
		return fmt.Errorf("context document validation: %w", err)
	}
	return nil
}

package registry

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	invopop "github.com/invopop/jsonschema"
)

// SimpleSchema creates an object schema from a property → type map. Every
// property is required.
//
// Input format: {"a": "float64", "b": "string", "tags": "[]string"}
func SimpleSchema(props map[string]string) *jsonschema.Schema {
	properties := make(map[string]*jsonschema.Schema, len(props))
	required := make([]string, 0, len(props))

	for name, goType := range props {
		properties[name] = goTypeToJSONSchema(goType)
		required = append(required, name)
	}

	return &jsonschema.Schema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// goTypeToJSONSchema converts a Go type string to a JSON Schema type.
func goTypeToJSONSchema(goType string) *jsonschema.Schema {
	switch goType {
	case "string":
		return &jsonschema.Schema{Type: "string"}
	case "int", "int8", "int16", "int32", "int64", "uint", "uint8", "uint16", "uint32", "uint64", "integer":
		return &jsonschema.Schema{Type: "integer"}
	case "float32", "float64", "float", "number":
		return &jsonschema.Schema{Type: "number"}
	case "bool", "boolean":
		return &jsonschema.Schema{Type: "boolean"}
	case "any", "object", "map[string]any":
		return &jsonschema.Schema{Type: "object"}
	}

	if itemType, ok := strings.CutPrefix(goType, "[]"); ok && itemType != "" {
		return &jsonschema.Schema{
			Type:  "array",
			Items: goTypeToJSONSchema(itemType),
		}
	}

	return &jsonschema.Schema{Type: "string"}
}

// Reflect generates an input schema from the struct type T.
//
// Field tags follow github.com/invopop/jsonschema:
//
//	type SearchArgs struct {
//	    Query string `json:"query" jsonschema:"required,description=Search text"`
//	    Limit int    `json:"limit,omitempty" jsonschema:"default=10"`
//	}
func Reflect[T any]() (*jsonschema.Schema, error) {
	reflector := invopop.Reflector{
		AllowAdditionalProperties:  true,
		DoNotReference:             true,
		RequiredFromJSONSchemaTags: true,
		Anonymous:                  true,
	}

	var v T

	data, err := json.Marshal(reflector.Reflect(&v))
	if err != nil {
		return nil, fmt.Errorf("reflect schema: %w", err)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(data, &schema); err != nil {
		return nil, fmt.Errorf("reflect schema: %w", err)
	}

	schema.Schema = ""
	schema.ID = ""

	return &schema, nil
}

// MustReflect is like Reflect but panics on error.
func MustReflect[T any]() *jsonschema.Schema {
	schema, err := Reflect[T]()
	if err != nil {
		panic(err)
	}

	return schema
}

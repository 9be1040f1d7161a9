package messages

import (
	"reflect"
	"strconv"
	"strings"
)

// FieldType is the JSON type of a payload field
type FieldType string

const (
	FieldTypeString  FieldType = "string"
	FieldTypeNumber  FieldType = "number"
	FieldTypeInteger FieldType = "integer"
	FieldTypeBoolean FieldType = "boolean"
	FieldTypeArray   FieldType = "array"
	FieldTypeObject  FieldType = "object"
)

// FieldSchema describes one field of an event payload
type FieldSchema struct {
	Name             string    `json:"name"`
	JSONName         string    `json:"json_name"` // actual field name in JSON
	Type             FieldType `json:"type"`
	Required         bool      `json:"required"`
	ExclusiveMinimum *float64  `json:"exclusive_minimum,omitempty"`
}

// extractFieldSchemas uses reflection to build field schemas from struct tags
func extractFieldSchemas(t reflect.Type) []FieldSchema {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}

	var schemas []FieldSchema
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}

		jsonTag := field.Tag.Get("json")
		if jsonTag == "-" {
			continue
		}
		jsonName := strings.Split(jsonTag, ",")[0]
		if jsonName == "" {
			jsonName = field.Name
		}

		schema := FieldSchema{
			Name:     field.Name,
			JSONName: jsonName,
			Type:     fieldTypeOf(field.Type),
			Required: field.Tag.Get("required") == "true",
		}
		if raw := field.Tag.Get("exclusiveMinimum"); raw != "" {
			if v, err := strconv.ParseFloat(raw, 64); err == nil {
				schema.ExclusiveMinimum = &v
			}
		}

		schemas = append(schemas, schema)
	}

	return schemas
}

func fieldTypeOf(t reflect.Type) FieldType {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Bool:
		return FieldTypeBoolean
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return FieldTypeInteger
	case reflect.Float32, reflect.Float64:
		return FieldTypeNumber
	case reflect.Slice, reflect.Array:
		return FieldTypeArray
	case reflect.Map, reflect.Struct:
		return FieldTypeObject
	default:
		return FieldTypeString
	}
}

// jsonSchemaDocument renders field schemas as a JSON Schema object document.
func jsonSchemaDocument(title string, fields []FieldSchema) map[string]any {
	props := make(map[string]any, len(fields))
	required := make([]string, 0, len(fields))
	for _, f := range fields {
		prop := map[string]any{"type": string(f.Type)}
		if f.Type == FieldTypeString && f.Required {
			prop["minLength"] = 1
		}
		if f.ExclusiveMinimum != nil {
			prop["exclusiveMinimum"] = *f.ExclusiveMinimum
		}
		props[f.JSONName] = prop
		if f.Required {
			required = append(required, f.JSONName)
		}
	}
	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"title":      title,
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

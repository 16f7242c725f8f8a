// Package respcheck inspects JSON response bodies.
package respcheck

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/tidwall/gjson"
)

// ProductListSchema describes the /ListarProductos body. The API encodes an
// empty listing as null.
const ProductListSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": ["array", "null"],
  "items": {
    "type": "object",
    "required": ["id", "name", "price", "sku"],
    "properties": {
      "id":          {"type": "string", "format": "uuid"},
      "name":        {"type": "string", "minLength": 1},
      "description": {"type": "string"},
      "category":    {"type": "string"},
      "price":       {"type": "number", "minimum": 0},
      "sku":         {"type": "string"}
    }
  }
}`

// InventoryListSchema describes the /stores/{id}/inventory body.
const InventoryListSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": ["array", "null"],
  "items": {
    "type": "object",
    "required": ["id", "product_id", "store_id", "quantity"],
    "properties": {
      "id":           {"type": "string"},
      "product_id":   {"type": "string"},
      "store_id":     {"type": "string"},
      "quantity":     {"type": "integer", "minimum": 0},
      "min_stock":    {"type": "integer", "minimum": 0},
      "activo":       {"type": "boolean"},
      "product_name": {"type": "string"},
      "store_name":   {"type": "string"}
    }
  }
}`

// ValidationErrors represents a collection of validation errors
type ValidationErrors []error

// Error implements the error interface for ValidationErrors
func (ve ValidationErrors) Error() string {
	var sb strings.Builder
	for i, err := range ve {
		if i > 0 {
			sb.WriteString("; ")
		}
		sb.WriteString(err.Error())
	}
	return sb.String()
}

// Schema is a compiled JSON schema, safe for concurrent use.
type Schema struct {
	schema *jsonschema.Schema
}

// CompileSchema compiles a JSON schema document.
func CompileSchema(src string) (*Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	if err := compiler.AddResource("schema.json", strings.NewReader(src)); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	schema, err := compiler.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}
	return &Schema{schema: schema}, nil
}

// MustCompileSchema is like CompileSchema but panics on error.
func MustCompileSchema(src string) *Schema {
	s, err := CompileSchema(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks body against the schema. A schema violation is returned
// as ValidationErrors.
func (s *Schema) Validate(body []byte) error {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if err := s.schema.Validate(doc); err != nil {
		if verr, ok := err.(*jsonschema.ValidationError); ok {
			return extractValidationErrors(verr)
		}
		return ValidationErrors{err}
	}
	return nil
}

func extractValidationErrors(err *jsonschema.ValidationError) ValidationErrors {
	var errs ValidationErrors
	if err.Message != "" && len(err.Causes) == 0 {
		errs = append(errs, fmt.Errorf("%s: %s", err.InstanceLocation, err.Message))
	}
	for _, cause := range err.Causes {
		errs = append(errs, extractValidationErrors(cause)...)
	}
	if len(errs) == 0 {
		errs = append(errs, err)
	}
	return errs
}

// Extract returns the value at a JSONPath ($.items[0].id) or gjson path.
func Extract(body []byte, path string) (string, error) {
	if len(body) == 0 {
		return "", fmt.Errorf("empty JSON body")
	}
	if path == "" {
		return "", fmt.Errorf("empty JSONPath expression")
	}

	result := gjson.GetBytes(body, toGjsonPath(path))
	if !result.Exists() {
		return "", fmt.Errorf("path not found: %s", path)
	}
	if result.Type == gjson.Null {
		return "null", nil
	}
	return result.String(), nil
}

// AllEqual reports whether every element of the top-level array has field
// equal to want. null and [] hold trivially; any other non-array fails.
func AllEqual(body []byte, field, want string) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	root := gjson.ParseBytes(body)
	if root.Type == gjson.Null {
		return true
	}
	if !root.IsArray() {
		return false
	}

	ok := true
	root.ForEach(func(_, row gjson.Result) bool {
		if row.Get(field).String() != want {
			ok = false
		}
		return ok
	})
	return ok
}

// Count returns the length of the top-level array, 0 for null, or -1 when
// the body is not an array.
func Count(body []byte) int {
	if !gjson.ValidBytes(body) {
		return -1
	}
	root := gjson.ParseBytes(body)
	switch {
	case root.Type == gjson.Null:
		return 0
	case root.IsArray():
		return len(root.Array())
	default:
		return -1
	}
}

// toGjsonPath converts $.users[0].name to users.0.name.
func toGjsonPath(path string) string {
	path = strings.TrimPrefix(path, "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var sb strings.Builder
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '[':
			if sb.Len() > 0 {
				sb.WriteByte('.')
			}
		case ']':
		default:
			sb.WriteByte(c)
		}
	}
	return sb.String()
}

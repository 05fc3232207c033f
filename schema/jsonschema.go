// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ToJsonSchema renders the closed-world JSON Schema document that a
// GeoJSON "properties" object must satisfy after projection (spec §4.5).
// Geometry columns are left out of the document: it has no entry for
// them, so it neither describes nor validates a feature's geometry.
func (s *Schema) ToJsonSchema() map[string]any {
	properties := map[string]any{}
	var required []string

	for _, e := range s.Entries {
		if e.DataType == DataTypeGeometry {
			continue
		}
		properties[e.Name] = entryJsonSchema(e)
		if e.IsPrimaryKey() {
			required = append(required, e.Name)
		}
	}

	doc := map[string]any{
		"$schema":              "http://json-schema.org/draft-07/schema#",
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	return doc
}

func entryJsonSchema(e Entry) map[string]any {
	switch e.DataType {
	case DataTypeBoolean:
		return map[string]any{"type": []string{"boolean", "null"}}
	case DataTypeInteger:
		return map[string]any{"type": []string{"integer", "null"}}
	case DataTypeFloat:
		return map[string]any{"type": []string{"number", "null"}}
	case DataTypeNumeric:
		return map[string]any{"type": []string{"string", "number", "null"}}
	case DataTypeText:
		schema := map[string]any{"type": []string{"string", "null"}}
		if e.Length > 0 {
			schema["maxLength"] = e.Length
		}
		return schema
	case DataTypeBlob:
		schema := map[string]any{
			"type":   []string{"array", "null"},
			"format": "bytes",
			"items":  map[string]any{"type": "integer", "minimum": 0, "maximum": 255},
		}
		if e.Length > 0 {
			schema["maxItems"] = e.Length
		}
		return schema
	case DataTypeDate:
		return map[string]any{"type": []string{"string", "null"}, "format": "date"}
	case DataTypeTime:
		return map[string]any{"type": []string{"string", "null"}, "format": "time"}
	case DataTypeTimestamp:
		return map[string]any{"type": []string{"string", "null"}, "format": "date-time"}
	case DataTypeInterval:
		return map[string]any{"type": []string{"string", "null"}, "format": "duration"}
	default:
		return map[string]any{}
	}
}

// CompileJsonSchema compiles the result of ToJsonSchema into a
// jsonschema.Schema validator, for callers that want to validate a
// properties object ahead of a write (spec §4.5 AggregateValidation).
func (s *Schema) CompileJsonSchema() (*jsonschema.Schema, error) {
	doc := s.ToJsonSchema()
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal generated json schema: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	const resourceName = "schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to register generated json schema: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to compile generated json schema: %w", err)
	}
	return compiled, nil
}

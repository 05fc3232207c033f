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

package feature

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/koordinates/tabledataset/schema"
)

// geoJSONGeometrySchemaDoc is the standard GeoJSON Geometry schema
// (RFC 7946 §3.1), used to validate geometry column values (spec §4.5).
const geoJSONGeometrySchemaDoc = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "GeoJSON Geometry",
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": {
      "type": "string",
      "enum": ["Point", "MultiPoint", "LineString", "MultiLineString", "Polygon", "MultiPolygon", "GeometryCollection"]
    }
  },
  "if": {"properties": {"type": {"const": "GeometryCollection"}}},
  "then": {
    "required": ["geometries"],
    "properties": {"geometries": {"type": "array", "items": {"$ref": "#"}}}
  },
  "else": {
    "required": ["coordinates"],
    "properties": {"coordinates": {}}
  }
}`

var (
	geoJSONGeometrySchemaOnce sync.Once
	geoJSONGeometrySchema     *jsonschema.Schema
	geoJSONGeometrySchemaErr  error
)

func compiledGeoJSONGeometrySchema() (*jsonschema.Schema, error) {
	geoJSONGeometrySchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		const resourceName = "geojson-geometry.json"
		if err := compiler.AddResource(resourceName, bytes.NewReader([]byte(geoJSONGeometrySchemaDoc))); err != nil {
			geoJSONGeometrySchemaErr = err
			return
		}
		geoJSONGeometrySchema, geoJSONGeometrySchemaErr = compiler.Compile(resourceName)
	})
	return geoJSONGeometrySchema, geoJSONGeometrySchemaErr
}

func validateGeoJSONGeometry(geom orb.Geometry) error {
	compiled, err := compiledGeoJSONGeometrySchema()
	if err != nil {
		return fmt.Errorf("failed to compile GeoJSON-Geometry schema: %w", err)
	}

	data, err := geojson.NewGeometry(geom).MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode geometry as geojson: %w", err)
	}

	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to decode geojson geometry for validation: %w", err)
	}

	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("geometry failed GeoJSON-Geometry schema: %w", err)
	}
	return nil
}

// Geometry returns the orb.Geometry stored at name, validated against
// the GeoJSON-Geometry schema (spec §4.5).
func (f *Feature) Geometry(name string) Result {
	e := f.checkType(name, schema.DataTypeGeometry)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeGeometry, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	var geom orb.Geometry
	switch v := raw.(type) {
	case orb.Geometry:
		geom = v
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return fail(schema.DataTypeGeometry, e.IsPrimaryKey(), name, "invalid_format", err.Error())
		}
		g, err := geojson.UnmarshalGeometry(data)
		if err != nil {
			return fail(schema.DataTypeGeometry, e.IsPrimaryKey(), name, "invalid_format", err.Error())
		}
		geom = g.Geometry()
	default:
		return fail(schema.DataTypeGeometry, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to geometry", raw))
	}

	if err := validateGeoJSONGeometry(geom); err != nil {
		return fail(schema.DataTypeGeometry, e.IsPrimaryKey(), name, "invalid_format", err.Error())
	}
	return Result{Type: schema.DataTypeGeometry, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: geom}
}

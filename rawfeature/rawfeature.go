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

// Package rawfeature decodes the two msgpack blobs that make up one
// stored feature - its filename (the packed primary key tuple) and its
// body (the legend ID plus packed non-primary-key values) - and
// projects the result onto a dataset's current schema (spec §4.4).
package rawfeature

import (
	"bytes"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/legend"
	"github.com/koordinates/tabledataset/pathstructure"
	"github.com/koordinates/tabledataset/rawfeature/msgpackext"
	"github.com/koordinates/tabledataset/schema"
	"github.com/koordinates/tabledataset/serializer"
	"github.com/koordinates/tabledataset/valuetype"
)

// RawFeature is a stored feature's data before it is projected onto the
// current schema: a legend ID plus the raw primary-key and
// non-primary-key values, still positioned by the legend that wrote
// them rather than by column name.
type RawFeature struct {
	LegendID             string
	PrimaryKeys          []any
	NonPrimaryKeyValues  []any
}

// Decode parses a feature's filename (the base64, msgpack-packed primary
// key tuple) and body (a 2-tuple of [legendId, nonPrimaryKeyValues]).
// Trailing bytes after the body's 2-tuple are ignored, per spec §4.4's
// forward-compatibility note.
func Decode(filename string, body []byte) (*RawFeature, error) {
	keyBytes, err := serializer.Base64Decode(filename)
	if err != nil {
		return nil, fmt.Errorf("%w: feature filename %q is not valid base64: %v", dserr.ErrInvalidFileContents, filename, err)
	}

	var primaryKeys []any
	if err := decodeOne(keyBytes, &primaryKeys); err != nil {
		return nil, fmt.Errorf("%w: invalid primary key tuple in filename %q: %v", dserr.ErrInvalidFileContents, filename, err)
	}

	var tuple []any
	if err := decodeOne(body, &tuple); err != nil {
		return nil, fmt.Errorf("%w: invalid feature body: %v", dserr.ErrInvalidFileContents, err)
	}
	if len(tuple) != 2 {
		return nil, fmt.Errorf("%w: feature body must be a 2-tuple, got %d elements", dserr.ErrInvalidFileContents, len(tuple))
	}

	legendID, ok := tuple[0].(string)
	if !ok {
		return nil, fmt.Errorf("%w: feature body legend id is not a string", dserr.ErrInvalidFileContents)
	}

	nonPrimaryValues, ok := tuple[1].([]any)
	if !ok {
		return nil, fmt.Errorf("%w: feature body value tuple is not an array", dserr.ErrInvalidFileContents)
	}

	return &RawFeature{
		LegendID:            legendID,
		PrimaryKeys:         normalizeValues(primaryKeys),
		NonPrimaryKeyValues: normalizeValues(nonPrimaryValues),
	}, nil
}

// decodeOne msgpack-decodes the first value from data into v, ignoring
// any bytes that follow it.
func decodeOne(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	return dec.Decode(v)
}

// normalizeValues unwraps msgpackext extension values (geometry, time)
// into their domain types, recursively.
func normalizeValues(values []any) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch value := v.(type) {
	case *msgpackext.Geometry:
		return value.Value
	case time.Time:
		return valuetype.FromUnix(value.Unix(), int64(value.Nanosecond()))
	case []any:
		return normalizeValues(value)
	case map[string]any:
		out := make(map[string]any, len(value))
		for k, inner := range value {
			out[k] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}

// Object is a RawFeature projected onto a dataset's current schema: IDs
// and properties keyed by column name, with metadata about what the
// projection did (spec §4.4 steps 1-6).
type Object struct {
	IDs            map[string]any
	Properties     map[string]any
	DroppedKeys    []string
	GeometryColumn string // "" if the schema has no geometry column
	CRS            *crs.CRS
	Eid            string
}

// ToObject resolves raw's legend, maps its packed values to column
// identities, and projects them onto sch: columns present in the legend
// but absent from sch are reported in DroppedKeys; columns present in
// sch but absent from the legend are filled with nil (spec §4.4).
func (r *RawFeature) ToObject(
	legends map[string]*legend.Legend,
	sch *schema.Schema,
	ps *pathstructure.PathStructure,
	crss *crs.Registry,
) (*Object, error) {
	lg, ok := legends[r.LegendID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown legend id %q", dserr.ErrInconsistentState, r.LegendID)
	}

	byColumnID := make(map[string]any, len(lg.PrimaryKeyIDs)+len(lg.NonPrimaryKeyIDs))
	knownColumnIDs := make(map[string]bool, len(byColumnID))
	for _, col := range lg.ColumnIDs() {
		var value any
		if col.IsPrimary {
			if col.DataIndex < len(r.PrimaryKeys) {
				value = r.PrimaryKeys[col.DataIndex]
			}
		} else {
			if col.DataIndex < len(r.NonPrimaryKeyValues) {
				value = r.NonPrimaryKeyValues[col.DataIndex]
			}
		}
		byColumnID[col.ColumnID] = value
		knownColumnIDs[col.ColumnID] = true
	}

	obj := &Object{
		IDs:        map[string]any{},
		Properties: map[string]any{},
	}

	seenColumnIDs := make(map[string]bool, len(byColumnID))
	for _, e := range sch.Entries {
		value, present := byColumnID[e.ID]
		if present {
			seenColumnIDs[e.ID] = true
		} else {
			value = nil
		}
		if e.IsPrimaryKey() {
			obj.IDs[e.Name] = value
		} else {
			obj.Properties[e.Name] = value
		}
	}

	for columnID := range knownColumnIDs {
		if !seenColumnIDs[columnID] {
			obj.DroppedKeys = append(obj.DroppedKeys, columnID)
		}
	}

	if geomEntry, ok := sch.PrimaryGeometry(); ok {
		obj.GeometryColumn = geomEntry.Name
		identifier := geomEntry.GeometryCRS
		if identifier == "" {
			identifier = crs.DefaultIdentifier
		}
		obj.CRS = crss.Lookup(identifier)
	}

	eid, err := ps.Eid(primaryKeyValuesInOrder(obj.IDs, sch))
	if err != nil {
		return nil, fmt.Errorf("failed to derive eid: %w", err)
	}
	obj.Eid = eid

	return obj, nil
}

func primaryKeyValuesInOrder(ids map[string]any, sch *schema.Schema) []any {
	names := sch.PrimaryKeyNames()
	values := make([]any, len(names))
	for i, name := range names {
		values[i] = ids[name]
	}
	return values
}

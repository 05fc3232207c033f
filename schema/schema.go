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

// Package schema parses meta/schema.json: the current, mutable column
// list a dataset's features are projected onto (spec §4.1).
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/legend"
)

// DataType is the closed set of column types spec §4.5 defines typed
// accessors for.
type DataType string

const (
	DataTypeBoolean   DataType = "boolean"
	DataTypeBlob      DataType = "blob"
	DataTypeDate      DataType = "date"
	DataTypeFloat     DataType = "float"
	DataTypeGeometry  DataType = "geometry"
	DataTypeInteger   DataType = "integer"
	DataTypeInterval  DataType = "interval"
	DataTypeNumeric   DataType = "numeric"
	DataTypeText      DataType = "text"
	DataTypeTime      DataType = "time"
	DataTypeTimestamp DataType = "timestamp"
)

var validDataTypes = map[DataType]bool{
	DataTypeBoolean: true, DataTypeBlob: true, DataTypeDate: true,
	DataTypeFloat: true, DataTypeGeometry: true, DataTypeInteger: true,
	DataTypeInterval: true, DataTypeNumeric: true, DataTypeText: true,
	DataTypeTime: true, DataTypeTimestamp: true,
}

// Entry is one column's definition: its stable ID, display name, type,
// and the type-specific attributes spec §4.5 lists (size, length,
// precision/scale, timezone, geometry type/CRS).
type Entry struct {
	ID               string   `json:"id"`
	Name             string   `json:"name"`
	DataType         DataType `json:"dataType"`
	PrimaryKeyIndex  *int     `json:"primaryKeyIndex,omitempty"`

	// integer/float
	Size int `json:"size,omitempty"`

	// text/blob
	Length int `json:"length,omitempty"`

	// numeric
	Precision int `json:"precision,omitempty"`
	Scale     int `json:"scale,omitempty"`

	// time/timestamp: "UTC" or "" (absent means no timezone, per spec)
	Timezone string `json:"timezone,omitempty"`

	// geometry
	GeometryType string `json:"geometryType,omitempty"`
	GeometryCRS  string `json:"geometryCrs,omitempty"`
}

// IsPrimaryKey reports whether this column participates in the primary
// key.
func (e Entry) IsPrimaryKey() bool {
	return e.PrimaryKeyIndex != nil
}

// Schema is the ordered, validated set of column entries a dataset's
// features are currently projected onto.
type Schema struct {
	Entries []Entry
}

// Parse decodes schema.json and validates its invariants: every entry
// has a unique ID, there is at least one entry, and the primary key
// index sequence is dense starting at zero (spec §4.1).
func Parse(data []byte) (*Schema, error) {
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: invalid schema.json: %v", dserr.ErrInvalidFileContents, err)
	}
	sch := &Schema{Entries: entries}
	if err := sch.Validate(); err != nil {
		return nil, err
	}
	return sch, nil
}

// Validate enforces the schema invariants documented in spec §4.1.
func (s *Schema) Validate() error {
	if len(s.Entries) == 0 {
		return fmt.Errorf("%w: schema must declare at least one column", dserr.ErrSchemaValidation)
	}

	seenIDs := make(map[string]bool, len(s.Entries))
	pkByIndex := map[int]bool{}
	maxPK := -1

	for _, e := range s.Entries {
		if e.ID == "" {
			return fmt.Errorf("%w: column %q has an empty id", dserr.ErrSchemaValidation, e.Name)
		}
		if seenIDs[e.ID] {
			return fmt.Errorf("%w: duplicate column id %q", dserr.ErrSchemaValidation, e.ID)
		}
		seenIDs[e.ID] = true

		if !validDataTypes[e.DataType] {
			return fmt.Errorf("%w: column %q has unknown dataType %q", dserr.ErrSchemaValidation, e.ID, e.DataType)
		}

		if e.PrimaryKeyIndex != nil {
			idx := *e.PrimaryKeyIndex
			if idx < 0 {
				return fmt.Errorf("%w: column %q has negative primaryKeyIndex", dserr.ErrSchemaValidation, e.ID)
			}
			if pkByIndex[idx] {
				return fmt.Errorf("%w: duplicate primaryKeyIndex %d", dserr.ErrSchemaValidation, idx)
			}
			pkByIndex[idx] = true
			if idx > maxPK {
				maxPK = idx
			}
		}
	}

	if maxPK >= 0 {
		for i := 0; i <= maxPK; i++ {
			if !pkByIndex[i] {
				return fmt.Errorf("%w: primaryKeyIndex sequence has a gap at %d", dserr.ErrSchemaValidation, i)
			}
		}
	} else {
		return fmt.Errorf("%w: schema must declare at least one primary key column", dserr.ErrSchemaValidation)
	}

	return nil
}

// primaryKeyEntries returns the PK entries ordered by PrimaryKeyIndex.
func (s *Schema) primaryKeyEntries() []Entry {
	entries := make([]Entry, 0, len(s.Entries))
	for _, e := range s.Entries {
		if e.IsPrimaryKey() {
			entries = append(entries, e)
		}
	}
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			if *entries[j].PrimaryKeyIndex < *entries[i].PrimaryKeyIndex {
				entries[i], entries[j] = entries[j], entries[i]
			}
		}
	}
	return entries
}

// PrimaryKeyNames returns column names in primary-key order.
func (s *Schema) PrimaryKeyNames() []string {
	entries := s.primaryKeyEntries()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names
}

// PrimaryKeyIDs returns column IDs in primary-key order.
func (s *Schema) PrimaryKeyIDs() []string {
	entries := s.primaryKeyEntries()
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	return ids
}

// NonPrimaryKeyNames returns the non-primary-key column names, in
// schema declaration order.
func (s *Schema) NonPrimaryKeyNames() []string {
	var names []string
	for _, e := range s.Entries {
		if !e.IsPrimaryKey() {
			names = append(names, e.Name)
		}
	}
	return names
}

// NonPrimaryKeyIDs returns the non-primary-key column IDs, in schema
// declaration order.
func (s *Schema) NonPrimaryKeyIDs() []string {
	var ids []string
	for _, e := range s.Entries {
		if !e.IsPrimaryKey() {
			ids = append(ids, e.ID)
		}
	}
	return ids
}

// ByID returns the entry with the given column ID, or false if absent.
func (s *Schema) ByID(id string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// ByName returns the entry with the given column name, or false if
// absent.
func (s *Schema) ByName(name string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// PrimaryGeometry returns the dataset's geometry column, if any. Spec
// §4.4/§4.5 treat the first declared geometry column as the one excluded
// from GeoJSON properties and reprojected on ToGeoJSON.
func (s *Schema) PrimaryGeometry() (Entry, bool) {
	for _, e := range s.Entries {
		if e.DataType == DataTypeGeometry {
			return e, true
		}
	}
	return Entry{}, false
}

// ToLegend collapses the current schema to a Legend snapshot of its
// column ordering, for datasets writing a new feature under the current
// schema (spec §4.2).
func (s *Schema) ToLegend() (*legend.Legend, error) {
	return legend.FromColumnIDs(s.PrimaryKeyIDs(), s.NonPrimaryKeyIDs())
}

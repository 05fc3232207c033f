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

// Package feature wraps a projected raw feature with the typed
// accessors spec §4.5 describes: one per schema.DataType, each
// returning a Result rather than throwing on a constraint violation.
package feature

import (
	"fmt"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/rawfeature"
	"github.com/koordinates/tabledataset/schema"
)

// Result is what every typed accessor returns: ok and data for the
// success path, errors describing constraint violations otherwise.
// Numeric precision/scale violations are the one soft case: OK stays
// true and Data is returned alongside the Errors. Every other failed
// accessor returns OK false and no Data.
type Result struct {
	Type         schema.DataType
	IsPrimaryKey bool
	OK           bool
	Data         any
	Errors       []*dserr.FieldError
}

func fail(typ schema.DataType, isPK bool, field, code, message string) Result {
	return Result{
		Type:         typ,
		IsPrimaryKey: isPK,
		OK:           false,
		Errors:       []*dserr.FieldError{{Field: field, Code: code, Message: message}},
	}
}

// Feature is a RawFeature projected onto the current schema, exposed
// through typed accessors. It holds the same shape as
// rawfeature.Object; New wraps one for accessor use.
type Feature struct {
	Schema         *schema.Schema
	IDs            map[string]any
	Properties     map[string]any
	DroppedKeys    []string
	GeometryColumn string
	CRS            *crs.CRS
	Eid            string
}

// New wraps a projected rawfeature.Object for typed access.
func New(obj *rawfeature.Object, sch *schema.Schema) *Feature {
	return &Feature{
		Schema:         sch,
		IDs:            obj.IDs,
		Properties:     obj.Properties,
		DroppedKeys:    obj.DroppedKeys,
		GeometryColumn: obj.GeometryColumn,
		CRS:            obj.CRS,
		Eid:            obj.Eid,
	}
}

// entry looks up name in the schema, panicking if it does not exist:
// callers are expected to only ask for columns the schema declares.
func (f *Feature) entry(name string) schema.Entry {
	e, ok := f.Schema.ByName(name)
	if !ok {
		panic(fmt.Errorf("%w: no such column %q", dserr.ErrInvalidValue, name))
	}
	return e
}

// checkType looks up name and panics TypeMismatch if its declared type
// is not want, per spec §4.5 and §7. An unknown column name panics in
// entry before the type is checked.
func (f *Feature) checkType(name string, want schema.DataType) schema.Entry {
	e := f.entry(name)
	if e.DataType != want {
		dserr.TypeMismatch(name, string(want), string(e.DataType))
	}
	return e
}

// rawValue returns the projected value for name, from ids or
// properties depending on whether it is a primary key column.
func (f *Feature) rawValue(name string, isPK bool) any {
	if isPK {
		return f.IDs[name]
	}
	return f.Properties[name]
}

// Validate runs every typed accessor once and aggregates the
// constraint violations, the same check FromGeoJSON applies, exposed
// for callers (workingcopy) that build or mutate a Feature outside
// that path.
func (f *Feature) Validate() error {
	var agg dserr.AggregateError
	for _, e := range f.Schema.Entries {
		result := f.access(e.Name)
		if !result.OK {
			agg.Errors = append(agg.Errors, result.Errors...)
		}
	}
	if len(agg.Errors) > 0 {
		return &agg
	}
	return nil
}

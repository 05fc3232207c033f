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

package workingcopy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/feature"
	"github.com/koordinates/tabledataset/schema"
	"github.com/koordinates/tabledataset/serializer"
)

// orderedFields is a JSON object that preserves insertion order,
// because encoding/json always sorts map[string]any keys and spec
// §8's diff properties require primary keys first, then the geometry
// column, then the remaining properties in schema order.
type orderedFields struct {
	keys   []string
	values map[string]any
}

func (o *orderedFields) set(name string, value any) {
	if o.values == nil {
		o.values = map[string]any{}
	}
	if _, exists := o.values[name]; !exists {
		o.keys = append(o.keys, name)
	}
	o.values[name] = value
}

func (o *orderedFields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		buf.Write(keyJSON)
		buf.WriteByte(':')
		valueJSON, err := json.Marshal(o.values[key])
		if err != nil {
			return nil, err
		}
		buf.Write(valueJSON)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// FeatureChange is one row's edit in the diff document: exactly one of
// Insert ("++"), Delete ("--"), or Update ("+") is set.
type FeatureChange struct {
	Insert *orderedFields `json:"++,omitempty"`
	Delete *orderedFields `json:"--,omitempty"`
	Update *orderedFields `json:"+,omitempty"`
}

// DatasetDiff is one dataset's slice of the diff document. An
// untouched working copy marshals to "{}" (spec §8).
type DatasetDiff struct {
	Feature []FeatureChange `json:"feature,omitempty"`
}

// Patch is the "kart.patch/v1" envelope: the commit the diff is based
// on (nil for an uncommitted working copy) and the CRS values are
// expressed in.
type Patch struct {
	Base *string `json:"base"`
	CRS  string  `json:"crs"`
}

// Document is the full canonical diff produced by Diff (spec §4.7).
type Document struct {
	Patch Patch                  `json:"kart.patch/v1"`
	Diff  map[string]DatasetDiff `json:"kart.diff/v1+hexwkb"`
}

// Diff synthesizes the canonical kart.patch/v1 + kart.diff/v1+hexwkb
// document for every tracked change, under datasetID. base is the
// commit the working copy is based on, or nil if there isn't one yet.
//
// A primary-key-identity-changing Update is never emitted in place:
// it is split into a Delete of the old keys followed by an Insert of
// the full merged row (spec §4.7).
func (wc *WorkingFeatureCollection) Diff(ctx context.Context, datasetID string, base *string) (*Document, error) {
	wc.mu.Lock()
	tracker := make(map[string]*trackedChange, len(wc.tracker))
	eids := make([]string, 0, len(wc.tracker))
	for eid, change := range wc.tracker {
		tracker[eid] = change
		eids = append(eids, eid)
	}
	wc.mu.Unlock()
	sort.Strings(eids)

	pkNames := wc.schema.PrimaryKeyNames()
	geomEntry, hasGeom := wc.schema.PrimaryGeometry()

	var changes []FeatureChange
	for _, eid := range eids {
		change := tracker[eid]

		switch change.kind {
		case kindInsert:
			fields, err := insertFields(wc.schema, change.feature, pkNames, geomEntry, hasGeom)
			if err != nil {
				return nil, err
			}
			changes = append(changes, FeatureChange{Insert: fields})

		case kindDelete:
			baseline, err := wc.baseline.Get(ctx, eid)
			if err != nil {
				return nil, err
			}
			changes = append(changes, FeatureChange{Delete: deleteFields(baseline, pkNames)})

		case kindUpdate:
			baseline, err := wc.baseline.Get(ctx, eid)
			if err != nil {
				return nil, err
			}
			if baseline == nil {
				return nil, fmt.Errorf("%w: update tracked for eid %q with no baseline feature", dserr.ErrInconsistentState, eid)
			}
			merged, err := wc.applyUpdate(baseline, change)
			if err != nil {
				return nil, err
			}

			if primaryKeyIdentityChanged(baseline, merged, pkNames) {
				changes = append(changes, FeatureChange{Delete: deleteFields(baseline, pkNames)})
				fields, err := insertFields(wc.schema, merged, pkNames, geomEntry, hasGeom)
				if err != nil {
					return nil, err
				}
				changes = append(changes, FeatureChange{Insert: fields})
				continue
			}

			fields, err := updateFields(baseline, change, pkNames, geomEntry, hasGeom)
			if err != nil {
				return nil, err
			}
			changes = append(changes, FeatureChange{Update: fields})
		}
	}

	return &Document{
		Patch: Patch{Base: base, CRS: crs.DefaultIdentifier},
		Diff: map[string]DatasetDiff{
			datasetID: {Feature: changes},
		},
	}, nil
}

// insertFields renders the "++" object: primary keys first in schema
// order, then the primary geometry key, then remaining properties in
// schema order, never overwriting a key already emitted.
func insertFields(sch *schema.Schema, f *feature.Feature, pkNames []string, geomEntry schema.Entry, hasGeom bool) (*orderedFields, error) {
	fields := &orderedFields{}

	for _, name := range pkNames {
		canon, err := serializer.ToCanonical(f.IDs[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		fields.set(name, canon)
	}

	if hasGeom {
		canon, err := serializer.ToCanonical(f.Properties[geomEntry.Name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", geomEntry.Name, err)
		}
		fields.set(geomEntry.Name, canon)
	}

	for _, name := range sch.NonPrimaryKeyNames() {
		if hasGeom && name == geomEntry.Name {
			continue
		}
		value, ok := f.Properties[name]
		if !ok {
			continue
		}
		canon, err := serializer.ToCanonical(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		fields.set(name, canon)
	}

	return fields, nil
}

// deleteFields renders the "--" object: primary keys from baseline, or
// null for any that are missing (e.g. an already-inconsistent
// baseline).
func deleteFields(baseline *feature.Feature, pkNames []string) *orderedFields {
	fields := &orderedFields{}
	for _, name := range pkNames {
		var value any
		if baseline != nil {
			value = baseline.IDs[name]
		}
		canon, _ := serializer.ToCanonical(value)
		fields.set(name, canon)
	}
	return fields
}

// updateFields renders the "+" object: primary keys from baseline,
// then the replacement geometry if one was tracked, then the changed
// properties' new values.
func updateFields(baseline *feature.Feature, change *trackedChange, pkNames []string, geomEntry schema.Entry, hasGeom bool) (*orderedFields, error) {
	fields := &orderedFields{}

	for _, name := range pkNames {
		canon, err := serializer.ToCanonical(baseline.IDs[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		fields.set(name, canon)
	}

	if hasGeom && change.geometrySet {
		canon, err := serializer.ToCanonical(change.geometry)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", geomEntry.Name, err)
		}
		fields.set(geomEntry.Name, canon)
	}

	names := make([]string, 0, len(change.properties))
	for name := range change.properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		canon, err := serializer.ToCanonical(change.properties[name])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		fields.set(name, canon)
	}

	return fields, nil
}

func primaryKeyIdentityChanged(baseline, merged *feature.Feature, pkNames []string) bool {
	for _, name := range pkNames {
		if !valuesEqual(baseline.IDs[name], merged.IDs[name]) {
			return true
		}
	}
	return false
}

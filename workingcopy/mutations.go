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
	"context"
	"fmt"
	"math/big"
	"reflect"
	"sort"

	"github.com/paulmach/orb"

	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/feature"
)

// Has reports whether eid exists, overlaying the tracker on baseline:
// Delete hides it, Insert makes it present regardless of baseline, and
// any other eid falls through to the baseline.
func (wc *WorkingFeatureCollection) Has(ctx context.Context, eid string) (bool, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.hasLocked(ctx, eid)
}

func (wc *WorkingFeatureCollection) hasLocked(ctx context.Context, eid string) (bool, error) {
	if change, ok := wc.tracker[eid]; ok {
		return change.kind != kindDelete, nil
	}
	return wc.baseline.Has(ctx, eid)
}

// Get returns the overlaid feature at eid: nil if tracked as deleted,
// the tracked feature if inserted, baseline merged with the tracked
// update if updated, and the baseline's own Get result for an
// untracked eid.
func (wc *WorkingFeatureCollection) Get(ctx context.Context, eid string) (*feature.Feature, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.getLocked(ctx, eid)
}

func (wc *WorkingFeatureCollection) getLocked(ctx context.Context, eid string) (*feature.Feature, error) {
	change, tracked := wc.tracker[eid]
	if !tracked {
		return wc.baseline.Get(ctx, eid)
	}
	switch change.kind {
	case kindDelete:
		return nil, nil
	case kindInsert:
		return change.feature, nil
	case kindUpdate:
		baseline, err := wc.baseline.Get(ctx, eid)
		if err != nil {
			return nil, err
		}
		if baseline == nil {
			return nil, fmt.Errorf("%w: update tracked for eid %q with no baseline feature", dserr.ErrInconsistentState, eid)
		}
		return wc.applyUpdate(baseline, change)
	default:
		return nil, nil
	}
}

// applyUpdate merges change onto a clone of baseline: a replacement
// geometry wins outright, deleted keys are removed, and remaining
// overlay values are set, routed to IDs or Properties by whichever the
// schema says the column belongs to. The result is validated before
// being returned (spec §4.7: "any returned feature must still satisfy
// schema compliance").
func (wc *WorkingFeatureCollection) applyUpdate(baseline *feature.Feature, change *trackedChange) (*feature.Feature, error) {
	merged := cloneFeature(baseline)

	if change.geometrySet {
		if geomEntry, ok := wc.schema.PrimaryGeometry(); ok {
			merged.Properties[geomEntry.Name] = change.geometry
		}
	}

	for name := range change.deletedProperties {
		if e, ok := wc.schema.ByName(name); ok && e.IsPrimaryKey() {
			delete(merged.IDs, name)
		} else {
			delete(merged.Properties, name)
		}
	}
	for name, value := range change.properties {
		if e, ok := wc.schema.ByName(name); ok && e.IsPrimaryKey() {
			merged.IDs[name] = value
		} else {
			merged.Properties[name] = value
		}
	}

	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func cloneFeature(f *feature.Feature) *feature.Feature {
	clone := &feature.Feature{
		Schema:         f.Schema,
		IDs:            make(map[string]any, len(f.IDs)),
		Properties:     make(map[string]any, len(f.Properties)),
		DroppedKeys:    append([]string(nil), f.DroppedKeys...),
		GeometryColumn: f.GeometryColumn,
		CRS:            f.CRS,
		Eid:            f.Eid,
	}
	for k, v := range f.IDs {
		clone.IDs[k] = v
	}
	for k, v := range f.Properties {
		clone.Properties[k] = v
	}
	return clone
}

// Add records f as an Insert. It fails if f's eid is already present
// (in baseline or as a non-delete tracked entry), if its geometry type
// does not match the collection's established dominant type, or if f
// fails schema validation (spec §4.7).
func (wc *WorkingFeatureCollection) Add(ctx context.Context, f *feature.Feature) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	has, err := wc.hasLocked(ctx, f.Eid)
	if err != nil {
		return err
	}
	if has {
		return fmt.Errorf("%w: feature %q already exists", dserr.ErrInvalidValue, f.Eid)
	}

	if err := wc.checkDominantGeometry(ctx, f); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}

	wc.tracker[f.Eid] = &trackedChange{kind: kindInsert, feature: cloneFeature(f)}
	wc.publish(EventAdded, f.Eid)
	return nil
}

// Delete records eid as a Delete, unless it is currently tracked as an
// Insert, in which case the tracker entry is simply removed (net
// zero). Fails if eid is not currently present (spec §4.7).
func (wc *WorkingFeatureCollection) Delete(ctx context.Context, eid string) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	has, err := wc.hasLocked(ctx, eid)
	if err != nil {
		return err
	}
	if !has {
		return fmt.Errorf("%w: feature %q does not exist", dserr.ErrInvalidValue, eid)
	}

	if change, ok := wc.tracker[eid]; ok && change.kind == kindInsert {
		delete(wc.tracker, eid)
		wc.publish(EventDeleted, eid)
		return nil
	}

	wc.tracker[eid] = &trackedChange{kind: kindDelete}
	wc.publish(EventDeleted, eid)
	return nil
}

// UpdateProperties merges (merge=true) or replaces (merge=false) props
// against the current overlaid view of eid. A value equal to Unset
// deletes that key. Keys whose resulting value equals the baseline
// value are stripped from the recorded delta; if nothing remains, no
// change is recorded at all. A non-empty delta is merged with any
// existing geometry update already tracked for eid (spec §4.7).
func (wc *WorkingFeatureCollection) UpdateProperties(ctx context.Context, eid string, props map[string]any, merge bool) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if change, tracked := wc.tracker[eid]; tracked && change.kind == kindInsert {
		candidate := cloneFeature(change.feature)
		applyPropertyOverlay(candidate, props, merge, wc)
		if err := candidate.Validate(); err != nil {
			return err
		}
		change.feature = candidate
		wc.publish(EventUpdated, eid)
		return nil
	}

	current, err := wc.getLocked(ctx, eid)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: feature %q does not exist", dserr.ErrInvalidValue, eid)
	}

	baseline, err := wc.baseline.Get(ctx, eid)
	if err != nil {
		return err
	}
	if baseline == nil {
		return fmt.Errorf("%w: tracked update for eid %q with no baseline feature", dserr.ErrInconsistentState, eid)
	}

	candidate := cloneFeature(current)
	applyPropertyOverlay(candidate, props, merge, wc)

	// candidate already carries any tracked delta, so changed/deleted
	// is the complete delta against baseline and replaces the old one.
	changed, deleted := diffAgainstBaseline(candidate, baseline, wc)
	change, tracked := wc.tracker[eid]
	tracked = tracked && change.kind == kindUpdate
	if len(changed) == 0 && len(deleted) == 0 {
		if tracked {
			delete(wc.tracker, eid)
			wc.publish(EventUpdated, eid)
		}
		return nil
	}

	if err := candidate.Validate(); err != nil {
		return err
	}

	if !tracked {
		change = &trackedChange{kind: kindUpdate}
		wc.tracker[eid] = change
	}
	change.properties = changed
	change.deletedProperties = deleted

	wc.publish(EventUpdated, eid)
	return nil
}

func applyPropertyOverlay(f *feature.Feature, props map[string]any, merge bool, wc *WorkingFeatureCollection) {
	if !merge {
		for _, name := range wc.schema.NonPrimaryKeyNames() {
			delete(f.Properties, name)
		}
	}
	for name, value := range props {
		route := func(setter, deleter func()) {
			if value == Unset {
				deleter()
				return
			}
			setter()
		}
		if e, ok := wc.schema.ByName(name); ok && e.IsPrimaryKey() {
			route(func() { f.IDs[name] = value }, func() { delete(f.IDs, name) })
		} else {
			route(func() { f.Properties[name] = value }, func() { delete(f.Properties, name) })
		}
	}
}

func diffAgainstBaseline(candidate, baseline *feature.Feature, wc *WorkingFeatureCollection) (map[string]any, map[string]bool) {
	changed := map[string]any{}
	deleted := map[string]bool{}

	diffMap := func(candidateMap, baselineMap map[string]any, names []string) {
		for _, name := range names {
			cv, cok := candidateMap[name]
			bv, bok := baselineMap[name]
			switch {
			case !cok && bok:
				deleted[name] = true
			case cok && (!bok || !valuesEqual(cv, bv)):
				changed[name] = cv
			}
		}
	}
	diffMap(candidate.Properties, baseline.Properties, wc.schema.NonPrimaryKeyNames())
	diffMap(candidate.IDs, baseline.IDs, wc.schema.PrimaryKeyNames())
	return changed, deleted
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ai, ok := a.(*big.Int); ok {
		bi, ok := b.(*big.Int)
		return ok && ai.Cmp(bi) == 0
	}
	return reflect.DeepEqual(a, b)
}

// UpdateGeometry replaces eid's geometry, merging with any properties
// update already tracked for eid. Fails if the new geometry's type
// differs from the feature's current geometry type (spec §4.7).
func (wc *WorkingFeatureCollection) UpdateGeometry(ctx context.Context, eid string, geom orb.Geometry) error {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	geomEntry, hasGeom := wc.schema.PrimaryGeometry()
	if !hasGeom {
		return fmt.Errorf("%w: schema declares no geometry column", dserr.ErrUnsupported)
	}
	if geom != nil && geom.GeoJSONType() == "GeometryCollection" {
		return fmt.Errorf("%w: GeometryCollection features are not supported", dserr.ErrUnsupported)
	}

	if change, tracked := wc.tracker[eid]; tracked && change.kind == kindInsert {
		if existing, ok := change.feature.Properties[geomEntry.Name].(orb.Geometry); ok && existing != nil && geom != nil && existing.GeoJSONType() != geom.GeoJSONType() {
			return fmt.Errorf("%w: geometry type %s does not match existing type %s", dserr.ErrUnsupported, geom.GeoJSONType(), existing.GeoJSONType())
		}
		candidate := cloneFeature(change.feature)
		candidate.Properties[geomEntry.Name] = geom
		if err := candidate.Validate(); err != nil {
			return err
		}
		change.feature = candidate
		wc.publish(EventUpdated, eid)
		return nil
	}

	current, err := wc.getLocked(ctx, eid)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("%w: feature %q does not exist", dserr.ErrInvalidValue, eid)
	}
	if existing, ok := current.Properties[geomEntry.Name].(orb.Geometry); ok && existing != nil && geom != nil && existing.GeoJSONType() != geom.GeoJSONType() {
		return fmt.Errorf("%w: geometry type %s does not match existing type %s", dserr.ErrUnsupported, geom.GeoJSONType(), existing.GeoJSONType())
	}

	candidate := cloneFeature(current)
	candidate.Properties[geomEntry.Name] = geom
	if err := candidate.Validate(); err != nil {
		return err
	}

	change, tracked := wc.tracker[eid]
	if !tracked || change.kind != kindUpdate {
		change = &trackedChange{kind: kindUpdate}
		wc.tracker[eid] = change
	}
	change.geometry = geom
	change.geometrySet = true

	wc.publish(EventUpdated, eid)
	return nil
}

// checkDominantGeometry enforces spec §4.7's rule that a collection
// carries a single non-GeometryCollection geometry type: the first
// feature with a non-null geometry establishes it, and every
// subsequent Add must match.
func (wc *WorkingFeatureCollection) checkDominantGeometry(ctx context.Context, f *feature.Feature) error {
	geomEntry, hasGeom := wc.schema.PrimaryGeometry()
	if !hasGeom {
		return nil
	}

	result := f.Geometry(geomEntry.Name)
	if !result.OK || result.Data == nil {
		return nil
	}
	geom, ok := result.Data.(orb.Geometry)
	if !ok {
		return nil
	}

	if geom.GeoJSONType() == "GeometryCollection" {
		return fmt.Errorf("%w: GeometryCollection features are not supported", dserr.ErrUnsupported)
	}

	if wc.dominantGeometryType == "" {
		dominant, err := wc.resolveDominantGeometryType(ctx, geomEntry.Name)
		if err != nil {
			return err
		}
		wc.dominantGeometryType = dominant
	}

	if wc.dominantGeometryType != "" && wc.dominantGeometryType != geom.GeoJSONType() {
		return fmt.Errorf("%w: geometry type %s does not match collection's dominant type %s", dserr.ErrUnsupported, geom.GeoJSONType(), wc.dominantGeometryType)
	}
	if wc.dominantGeometryType == "" {
		wc.dominantGeometryType = geom.GeoJSONType()
	}
	return nil
}

func (wc *WorkingFeatureCollection) resolveDominantGeometryType(ctx context.Context, geomName string) (string, error) {
	for f, err := range wc.baseline.Iterate(ctx) {
		if err != nil {
			return "", err
		}
		result := f.Geometry(geomName)
		if !result.OK || result.Data == nil {
			continue
		}
		if geom, ok := result.Data.(orb.Geometry); ok {
			return geom.GeoJSONType(), nil
		}
	}
	return "", nil
}

// ChangeKind identifies one tracked change's shape, for introspection
// via Changes.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeSummary is a read-only snapshot of one tracker entry.
type ChangeSummary struct {
	Eid               string
	Kind              ChangeKind
	Feature           *feature.Feature
	Properties        map[string]any
	DeletedProperties []string
	Geometry          orb.Geometry
	GeometryChanged   bool
}

// Changes returns a read-only snapshot of the tracker, in eid order -
// useful for a host application building its own UI over pending
// edits without reaching into unexported state.
func (wc *WorkingFeatureCollection) Changes() []ChangeSummary {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	eids := make([]string, 0, len(wc.tracker))
	for eid := range wc.tracker {
		eids = append(eids, eid)
	}
	sort.Strings(eids)

	out := make([]ChangeSummary, 0, len(eids))
	for _, eid := range eids {
		change := wc.tracker[eid]
		summary := ChangeSummary{Eid: eid}
		switch change.kind {
		case kindInsert:
			summary.Kind = ChangeInsert
			summary.Feature = cloneFeature(change.feature)
		case kindDelete:
			summary.Kind = ChangeDelete
		case kindUpdate:
			summary.Kind = ChangeUpdate
			if len(change.properties) > 0 {
				summary.Properties = make(map[string]any, len(change.properties))
				for k, v := range change.properties {
					summary.Properties[k] = v
				}
			}
			for k := range change.deletedProperties {
				summary.DeletedProperties = append(summary.DeletedProperties, k)
			}
			sort.Strings(summary.DeletedProperties)
			if change.geometrySet {
				summary.Geometry = change.geometry
				summary.GeometryChanged = true
			}
		}
		out = append(out, summary)
	}
	return out
}

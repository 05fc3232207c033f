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
	"encoding/json"
	"fmt"
	"sort"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/feature"
)

// FeatureCollection is the materialized view ToGeoJSON returns: a
// snapshot that exposes no mutation method, the closest idiomatic-Go
// rendering of spec §4.7's "immutable (deep-frozen) FeatureCollection"
// - see DESIGN.md for the tradeoff against a literal deep freeze.
type FeatureCollection struct {
	features []feature.GeoJSONFeature
}

// Len returns the number of features in the view.
func (fc *FeatureCollection) Len() int {
	return len(fc.features)
}

// At returns a copy of the feature at index i.
func (fc *FeatureCollection) At(i int) feature.GeoJSONFeature {
	return fc.features[i]
}

// MarshalJSON renders the view as a standard GeoJSON FeatureCollection.
func (fc *FeatureCollection) MarshalJSON() ([]byte, error) {
	type envelope struct {
		Type     string                   `json:"type"`
		Features []feature.GeoJSONFeature `json:"features"`
	}
	return json.Marshal(envelope{Type: "FeatureCollection", Features: fc.features})
}

// ToGeoJSON clones the baseline FeatureCollection and applies every
// tracked change in eid order: deletes drop a baseline feature,
// updates replace it with the merged view, and inserts append a new
// one. A tracked Insert that collides with an existing baseline eid,
// or a tracked Update/Delete with no corresponding baseline feature,
// raises InconsistentState (spec §4.7).
func (wc *WorkingFeatureCollection) ToGeoJSON(ctx context.Context, reprojector crs.Reprojector) (*FeatureCollection, error) {
	wc.mu.Lock()
	tracker := make(map[string]*trackedChange, len(wc.tracker))
	eids := make([]string, 0, len(wc.tracker))
	for eid, change := range wc.tracker {
		tracker[eid] = change
		eids = append(eids, eid)
	}
	wc.mu.Unlock()
	sort.Strings(eids)

	var out []feature.GeoJSONFeature
	seen := map[string]bool{}

	for f, err := range wc.baseline.Iterate(ctx) {
		if err != nil {
			return nil, err
		}
		seen[f.Eid] = true

		change, tracked := tracker[f.Eid]
		if !tracked {
			gf, err := f.ToGeoJSON(reprojector)
			if err != nil {
				return nil, err
			}
			if gf != nil {
				out = append(out, *gf)
			}
			continue
		}

		switch change.kind {
		case kindDelete:
			continue
		case kindInsert:
			return nil, fmt.Errorf("%w: insert tracked for eid %q already present in baseline", dserr.ErrInconsistentState, f.Eid)
		case kindUpdate:
			merged, err := wc.applyUpdate(f, change)
			if err != nil {
				return nil, err
			}
			gf, err := merged.ToGeoJSON(reprojector)
			if err != nil {
				return nil, err
			}
			if gf != nil {
				out = append(out, *gf)
			}
		}
	}

	for _, eid := range eids {
		change := tracker[eid]
		if seen[eid] {
			continue
		}
		if change.kind != kindInsert {
			return nil, fmt.Errorf("%w: %s tracked for eid %q has no baseline feature", dserr.ErrInconsistentState, changeKindLabel(change.kind), eid)
		}
		gf, err := change.feature.ToGeoJSON(reprojector)
		if err != nil {
			return nil, err
		}
		if gf != nil {
			out = append(out, *gf)
		}
	}

	return &FeatureCollection{features: out}, nil
}

func changeKindLabel(kind changeKind) string {
	switch kind {
	case kindInsert:
		return "insert"
	case kindUpdate:
		return "update"
	case kindDelete:
		return "delete"
	default:
		return "unknown"
	}
}

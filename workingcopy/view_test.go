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

package workingcopy_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koordinates/tabledataset/crs"
	itest "github.com/koordinates/tabledataset/internal/test"
	"github.com/koordinates/tabledataset/workingcopy"
)

func TestViewToGeoJSONReflectsUntouchedBaseline(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, []itest.Feature{
		{PrimaryKeys: []any{int64(1)}, Properties: map[string]any{"name": "Alice", "geom": orb.Point{1, 2}}},
		{PrimaryKeys: []any{int64(2)}, Properties: map[string]any{"name": "Bob", "geom": orb.Point{3, 4}}},
	})
	wc := workingcopy.New(ds, sch)

	view, err := wc.ToGeoJSON(context.Background(), crs.IdentityReprojector{})
	require.NoError(t, err)
	assert.Equal(t, 2, view.Len())
}

func TestViewToGeoJSONOverlaysInsertUpdateAndDelete(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, []itest.Feature{
		{PrimaryKeys: []any{int64(1)}, Properties: map[string]any{"name": "Alice", "geom": orb.Point{1, 2}}},
		{PrimaryKeys: []any{int64(2)}, Properties: map[string]any{"name": "Bob", "geom": orb.Point{3, 4}}},
	})
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	// Update feature 1's name, delete feature 2, insert feature 3.
	require.NoError(t, wc.UpdateProperties(ctx, eidFor(t, 1), map[string]any{"name": "Alicia"}, true))
	require.NoError(t, wc.Delete(ctx, eidFor(t, 2)))
	require.NoError(t, wc.Add(ctx, buildFeature(sch, eidFor(t, 3), int64(3), "Carol", orb.Point{5, 6})))

	view, err := wc.ToGeoJSON(ctx, crs.IdentityReprojector{})
	require.NoError(t, err)
	require.Equal(t, 2, view.Len())

	names := map[string]bool{}
	for i := 0; i < view.Len(); i++ {
		gf := view.At(i)
		names[gf.Properties["name"].(string)] = true
	}
	assert.True(t, names["Alicia"])
	assert.True(t, names["Carol"])
	assert.False(t, names["Bob"])
}

func TestViewMarshalJSONProducesFeatureCollectionEnvelope(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, []itest.Feature{
		{PrimaryKeys: []any{int64(1)}, Properties: map[string]any{"name": "Alice", "geom": orb.Point{1, 2}}},
	})
	wc := workingcopy.New(ds, sch)

	view, err := wc.ToGeoJSON(context.Background(), crs.IdentityReprojector{})
	require.NoError(t, err)

	data, err := json.Marshal(view)
	require.NoError(t, err)

	var envelope struct {
		Type     string `json:"type"`
		Features []any  `json:"features"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, "FeatureCollection", envelope.Type)
	assert.Len(t, envelope.Features, 1)
}

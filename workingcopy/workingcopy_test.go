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
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/dataset"
	"github.com/koordinates/tabledataset/feature"
	itest "github.com/koordinates/tabledataset/internal/test"
	"github.com/koordinates/tabledataset/schema"
	"github.com/koordinates/tabledataset/workingcopy"
)

func intPtr(i int) *int { return &i }

func pointSchema() *schema.Schema {
	return &schema.Schema{Entries: []schema.Entry{
		{ID: "c1", Name: "id", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(0), Size: 64},
		{ID: "c2", Name: "name", DataType: schema.DataTypeText},
		{ID: "c3", Name: "geom", DataType: schema.DataTypeGeometry, GeometryCRS: crs.DefaultIdentifier},
	}}
}

func loadBaseline(t *testing.T, sch *schema.Schema, features []itest.Feature) *dataset.TableDatasetV3 {
	t.Helper()
	repo := itest.NewRepo(t)
	repo.AddDataset(t, "ds1", sch, itest.DefaultPathStructure(), features)
	ds, err := dataset.Load(context.Background(), repo.Store, "ds1", crs.IdentityReprojector{})
	require.NoError(t, err)
	return ds
}

func eidFor(t *testing.T, pk int64) string {
	t.Helper()
	eid, err := itest.DefaultPathStructure().Eid([]any{pk})
	require.NoError(t, err)
	return eid
}

func buildFeature(sch *schema.Schema, eid string, id int64, name string, geom orb.Geometry) *feature.Feature {
	return &feature.Feature{
		Schema:         sch,
		IDs:            map[string]any{"id": id},
		Properties:     map[string]any{"name": name, "geom": geom},
		GeometryColumn: "geom",
		CRS:            &crs.CRS{Identifier: crs.DefaultIdentifier},
		Eid:            eid,
	}
}

func TestAddMakesFeatureVisible(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, nil)
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	eid := eidFor(t, 1)
	f := buildFeature(sch, eid, int64(1), "Alice", orb.Point{1, 2})

	require.NoError(t, wc.Add(ctx, f))

	has, err := wc.Has(ctx, eid)
	require.NoError(t, err)
	assert.True(t, has)

	got, err := wc.Get(ctx, eid)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alice", got.Properties["name"])
}

func TestDeleteOnInsertTrackedEidRemovesTrackerEntry(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, nil)
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	eid := eidFor(t, 1)
	f := buildFeature(sch, eid, int64(1), "Alice", orb.Point{1, 2})
	require.NoError(t, wc.Add(ctx, f))
	require.NoError(t, wc.Delete(ctx, eid))

	has, err := wc.Has(ctx, eid)
	require.NoError(t, err)
	assert.False(t, has)
	assert.Empty(t, wc.Changes())
}

func TestUpdatePropertiesToBaselineValueRecordsNoChange(t *testing.T) {
	sch := pointSchema()
	eid := eidFor(t, 1)
	ds := loadBaseline(t, sch, []itest.Feature{
		{PrimaryKeys: []any{int64(1)}, Properties: map[string]any{"name": "Alice", "geom": orb.Point{1, 2}}},
	})
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	require.NoError(t, wc.UpdateProperties(ctx, eid, map[string]any{"name": "Alice"}, true))
	assert.Empty(t, wc.Changes())
}

func TestUpdateGeometryThenUpdatePropertiesMergeIntoOneUpdate(t *testing.T) {
	sch := pointSchema()
	eid := eidFor(t, 1)
	ds := loadBaseline(t, sch, []itest.Feature{
		{PrimaryKeys: []any{int64(1)}, Properties: map[string]any{"name": "Alice", "geom": orb.Point{1, 2}}},
	})
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	require.NoError(t, wc.UpdateGeometry(ctx, eid, orb.Point{9, 9}))
	require.NoError(t, wc.UpdateProperties(ctx, eid, map[string]any{"name": "Bob"}, true))

	changes := wc.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, workingcopy.ChangeUpdate, changes[0].Kind)
	assert.True(t, changes[0].GeometryChanged)
	assert.Equal(t, orb.Point{9, 9}, changes[0].Geometry)
	assert.Equal(t, "Bob", changes[0].Properties["name"])
}

func TestUpdateThenDeleteCollapsesToASingleDelete(t *testing.T) {
	sch := pointSchema()
	eid := eidFor(t, 1)
	ds := loadBaseline(t, sch, []itest.Feature{
		{PrimaryKeys: []any{int64(1)}, Properties: map[string]any{"name": "Alice", "geom": orb.Point{1, 2}}},
	})
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	require.NoError(t, wc.UpdateProperties(ctx, eid, map[string]any{"name": "Bob"}, true))
	require.NoError(t, wc.Delete(ctx, eid))

	changes := wc.Changes()
	require.Len(t, changes, 1)
	assert.Equal(t, workingcopy.ChangeDelete, changes[0].Kind)
}

func TestAddThenDeleteProducesNoDiffEntry(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, nil)
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	eid := eidFor(t, 1)
	f := buildFeature(sch, eid, int64(1), "Alice", orb.Point{1, 2})
	require.NoError(t, wc.Add(ctx, f))
	require.NoError(t, wc.Delete(ctx, eid))

	doc, err := wc.Diff(ctx, "ds1", nil)
	require.NoError(t, err)
	assert.Empty(t, doc.Diff["ds1"].Feature)
}

func TestDominantGeometryRejectsMismatchedType(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, nil)
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	require.NoError(t, wc.Add(ctx, buildFeature(sch, eidFor(t, 1), int64(1), "Alice", orb.Point{1, 2})))

	lineFeature := buildFeature(sch, eidFor(t, 2), int64(2), "Bob", orb.LineString{{0, 0}, {1, 1}})
	err := wc.Add(ctx, lineFeature)
	require.Error(t, err)
}

func TestGeometryCollectionAlwaysRejected(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, nil)
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	collection := orb.Collection{orb.Point{1, 2}}
	f := buildFeature(sch, eidFor(t, 1), int64(1), "Alice", collection)
	err := wc.Add(ctx, f)
	require.Error(t, err)
}

func TestSubscribeReceivesAddedAndAnyEvents(t *testing.T) {
	sch := pointSchema()
	ds := loadBaseline(t, sch, nil)
	wc := workingcopy.New(ds, sch)
	ctx := context.Background()

	var addedCount, anyCount int
	unsubAdded := wc.Subscribe(workingcopy.EventAdded, func(workingcopy.Event) { addedCount++ })
	unsubAny := wc.Subscribe(workingcopy.EventAny, func(workingcopy.Event) { anyCount++ })

	require.NoError(t, wc.Add(ctx, buildFeature(sch, eidFor(t, 1), int64(1), "Alice", orb.Point{1, 2})))
	assert.Equal(t, 1, addedCount)
	assert.Equal(t, 1, anyCount)

	unsubAdded()
	unsubAdded() // idempotent
	unsubAny()

	require.NoError(t, wc.Add(ctx, buildFeature(sch, eidFor(t, 2), int64(2), "Bob", orb.Point{3, 4})))
	assert.Equal(t, 1, addedCount)
	assert.Equal(t, 1, anyCount)
}

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

package kart_test

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/feature"
	itest "github.com/koordinates/tabledataset/internal/test"
	"github.com/koordinates/tabledataset/kart"
	"github.com/koordinates/tabledataset/schema"
)

func intPtr(i int) *int { return &i }

func pointSchema() *schema.Schema {
	return &schema.Schema{Entries: []schema.Entry{
		{ID: "c1", Name: "id", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(0), Size: 64},
		{ID: "c2", Name: "name", DataType: schema.DataTypeText},
		{ID: "c3", Name: "geom", DataType: schema.DataTypeGeometry, GeometryCRS: crs.DefaultIdentifier},
	}}
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

func TestHasRejectsNonDatasetDirectory(t *testing.T) {
	repo := itest.NewRepo(t)
	r := kart.New(repo.Store, crs.IdentityReprojector{})
	assert.False(t, r.Has(context.Background(), "nope"))
}

func TestDatasetLoadsAndBindsWorkingCopy(t *testing.T) {
	repo := itest.NewRepo(t)
	repo.AddDataset(t, "towns", pointSchema(), itest.DefaultPathStructure(), []itest.Feature{
		{PrimaryKeys: []any{int64(1)}, Properties: map[string]any{"name": "Alice", "geom": orb.Point{1, 2}}},
	})

	r := kart.New(repo.Store, crs.IdentityReprojector{})
	ctx := context.Background()

	assert.True(t, r.Has(ctx, "towns"))

	bound, err := r.Dataset(ctx, "towns")
	require.NoError(t, err)
	assert.Equal(t, "towns", bound.Dataset.Title)
	require.NotNil(t, bound.WorkingCopy)

	has, err := bound.WorkingCopy.Has(ctx, mustEid(t, 1))
	require.NoError(t, err)
	assert.True(t, has)
}

func TestDatasetFailsForInvalidLayout(t *testing.T) {
	repo := itest.NewRepo(t)
	r := kart.New(repo.Store, crs.IdentityReprojector{})
	_, err := r.Dataset(context.Background(), "missing")
	require.Error(t, err)
}

func TestDatasetsIteratesOnlyValidLayouts(t *testing.T) {
	repo := itest.NewRepo(t)
	repo.AddDataset(t, "towns", pointSchema(), itest.DefaultPathStructure(), nil)
	repo.AddDataset(t, "rivers", pointSchema(), itest.DefaultPathStructure(), nil)

	r := kart.New(repo.Store, crs.IdentityReprojector{})
	names := map[string]bool{}
	for name, err := range r.Datasets(context.Background()) {
		require.NoError(t, err)
		names[name] = true
	}
	assert.Equal(t, map[string]bool{"towns": true, "rivers": true}, names)
}

func TestToDiffMergesPerDatasetDocuments(t *testing.T) {
	repo := itest.NewRepo(t)
	repo.AddDataset(t, "towns", pointSchema(), itest.DefaultPathStructure(), []itest.Feature{
		{PrimaryKeys: []any{int64(1)}, Properties: map[string]any{"name": "Alice", "geom": orb.Point{1, 2}}},
	})
	repo.AddDataset(t, "rivers", pointSchema(), itest.DefaultPathStructure(), nil)

	r := kart.New(repo.Store, crs.IdentityReprojector{})
	ctx := context.Background()

	towns, err := r.Dataset(ctx, "towns")
	require.NoError(t, err)
	rivers, err := r.Dataset(ctx, "rivers")
	require.NoError(t, err)

	eid, err := itest.DefaultPathStructure().Eid([]any{int64(2)})
	require.NoError(t, err)
	require.NoError(t, towns.WorkingCopy.Add(ctx, buildFeature(pointSchema(), eid, int64(2), "Bob", orb.Point{3, 4})))

	doc, err := r.ToDiff(ctx, map[string]*kart.BoundDataset{"towns": towns, "rivers": rivers}, nil)
	require.NoError(t, err)

	require.Contains(t, doc.Diff, "towns")
	require.Contains(t, doc.Diff, "rivers")
	assert.Len(t, doc.Diff["towns"].Feature, 1)
	assert.Empty(t, doc.Diff["rivers"].Feature)
}

func mustEid(t *testing.T, pk int64) string {
	t.Helper()
	eid, err := itest.DefaultPathStructure().Eid([]any{pk})
	require.NoError(t, err)
	return eid
}

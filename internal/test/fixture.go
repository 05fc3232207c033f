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

// Package test builds minimal, on-disk Table Dataset V3 layouts for
// dataset/workingcopy/kart tests, so those packages can exercise a real
// tablefs.Store instead of a mock.
package test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/koordinates/tabledataset/legend"
	"github.com/koordinates/tabledataset/pathstructure"
	"github.com/koordinates/tabledataset/rawfeature/msgpackext"
	"github.com/koordinates/tabledataset/schema"
	"github.com/koordinates/tabledataset/tablefs"
)

// Feature is one row to materialize under feature/<eid>, keyed by
// column name rather than column ID to keep call sites readable.
type Feature struct {
	PrimaryKeys []any          // in schema primary-key order
	Properties  map[string]any // by column name, non-primary-key columns only
}

// Repo is a fixture repository root: a temp directory holding one or
// more dataset working trees plus a store opened on it.
type Repo struct {
	Root  string
	Store *tablefs.BucketStore
}

// NewRepo creates an empty fixture repository rooted at a fresh temp
// directory.
func NewRepo(t *testing.T) *Repo {
	t.Helper()
	root := t.TempDir()
	store, err := tablefs.NewLocalStore(context.Background(), root)
	require.NoError(t, err)
	return &Repo{Root: root, Store: store}
}

// DefaultPathStructure is the int/hex/16-branch/2-level scheme used by
// fixtures that don't care about sharding specifics.
func DefaultPathStructure() *pathstructure.PathStructure {
	return &pathstructure.PathStructure{
		Scheme:   pathstructure.SchemeInt,
		Branches: 16,
		Levels:   2,
		Encoding: pathstructure.EncodingHex,
	}
}

// AddDataset materializes a complete .table-dataset tree for id: title,
// schema.json, path-structure.json, the schema's current legend, and one
// feature file per entry in features. It fails the test on any error.
func (r *Repo) AddDataset(t *testing.T, id string, sch *schema.Schema, ps *pathstructure.PathStructure, features []Feature) {
	t.Helper()

	root := filepath.Join(r.Root, id, ".table-dataset")
	metaDir := filepath.Join(root, "meta")
	legendDir := filepath.Join(metaDir, "legend")
	featureDir := filepath.Join(root, "feature")
	require.NoError(t, os.MkdirAll(legendDir, 0o755))
	require.NoError(t, os.MkdirAll(featureDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(metaDir, "title"), []byte(id), 0o644))

	schemaBytes, err := schemaJSON(sch)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, "schema.json"), schemaBytes, 0o644))

	psBytes, err := pathStructureJSON(ps)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(metaDir, "path-structure.json"), psBytes, 0o644))

	lg, err := sch.ToLegend()
	require.NoError(t, err)
	legendBytes, err := legend.Pack(lg.PrimaryKeyIDs, lg.NonPrimaryKeyIDs)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(legendDir, lg.ID), legendBytes, 0o644))

	for _, f := range features {
		r.writeFeature(t, featureDir, ps, sch, lg, f)
	}
}

func (r *Repo) writeFeature(t *testing.T, featureDir string, ps *pathstructure.PathStructure, sch *schema.Schema, lg *legend.Legend, f Feature) {
	t.Helper()

	eid, err := ps.Eid(f.PrimaryKeys)
	require.NoError(t, err)

	nonPK := make([]any, len(lg.NonPrimaryKeyIDs))
	for i, colID := range lg.NonPrimaryKeyIDs {
		entry, ok := sch.ByID(colID)
		require.True(t, ok)
		nonPK[i] = wrapGeometry(f.Properties[entry.Name])
	}

	body, err := msgpack.Marshal([]any{lg.ID, nonPK})
	require.NoError(t, err)

	path := filepath.Join(featureDir, filepath.FromSlash(eid))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, body, 0o644))
}

// schemaJSON renders entries the way meta/schema.json stores them: a
// bare JSON array, field names exactly as schema.Entry declares them.
func schemaJSON(sch *schema.Schema) ([]byte, error) {
	return json.Marshal(sch.Entries)
}

func pathStructureJSON(ps *pathstructure.PathStructure) ([]byte, error) {
	return json.Marshal(ps)
}

// wrapGeometry lifts a raw orb.Geometry into the msgpack extension type
// rawfeature expects on disk; every other value passes through as-is.
func wrapGeometry(v any) any {
	if geom, ok := v.(orb.Geometry); ok {
		return &msgpackext.Geometry{Value: geom}
	}
	return v
}

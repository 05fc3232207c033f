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

// Package dataset loads and reads a single Table Dataset V3: its
// metadata (title, schema, legends, path structure, CRS set), its
// feature files (lazily walked or randomly accessed by eid), and a
// spatial index over its geometry column (spec §4.6).
package dataset

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"path"
	"strings"
	"sync"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/feature"
	"github.com/koordinates/tabledataset/legend"
	"github.com/koordinates/tabledataset/pathstructure"
	"github.com/koordinates/tabledataset/rawfeature"
	"github.com/koordinates/tabledataset/schema"
	"github.com/koordinates/tabledataset/tablefs"
)

const (
	metaDir    = "meta"
	legendDir  = "meta/legend"
	crsDir     = "meta/crs"
	featureDir = "feature"
	datasetDir = ".table-dataset"
)

// TableDatasetV3 is one dataset loaded from a repository working tree:
// its metadata plus read access to its feature files.
type TableDatasetV3 struct {
	ID          string
	Store       tablefs.Store
	Reprojector crs.Reprojector

	Title         string
	Description   string
	PathStructure *pathstructure.PathStructure
	Schema        *schema.Schema
	Legends       map[string]*legend.Legend
	CRS           *crs.Registry
	FeatureCount  int

	// CacheDir, if set, is an on-disk directory (outside the read-only
	// FS facade) the spatial index cache is persisted to. An empty
	// CacheDir means the index is rebuilt every process run.
	CacheDir string

	geoJSONOnce  sync.Once
	geoJSON      []*feature.GeoJSONFeature
	geoJSONErr   error
	indexMu      sync.Mutex
	index        *spatialIndex
}

func (ds *TableDatasetV3) rootDir() string {
	return tablefs.Join(ds.ID, datasetDir)
}

func (ds *TableDatasetV3) metaPath(name string) string {
	return tablefs.Join(ds.rootDir(), metaDir, name)
}

func (ds *TableDatasetV3) featureRoot() string {
	return tablefs.Join(ds.rootDir(), featureDir)
}

// IsValidDataset reports whether id names a Table Dataset V3 layout
// under store: a .table-dataset/meta directory with title, schema.json,
// path-structure.json, and a non-empty legend folder (spec §4.6).
func IsValidDataset(ctx context.Context, store tablefs.Store, id string) bool {
	root := tablefs.Join(id, datasetDir)
	for _, name := range []string{"title", "schema.json", "path-structure.json"} {
		if _, err := store.Stat(ctx, tablefs.Join(root, metaDir, name)); err != nil {
			return false
		}
	}
	entries, err := store.List(ctx, tablefs.Join(root, legendDir))
	if err != nil || len(entries) == 0 {
		return false
	}
	return true
}

// Load reads a dataset's metadata and returns a TableDatasetV3 ready
// for reads. reprojector is used by Feature.ToGeoJSON and may be nil if
// the caller never calls it.
func Load(ctx context.Context, store tablefs.Store, id string, reprojector crs.Reprojector) (*TableDatasetV3, error) {
	ds := &TableDatasetV3{ID: id, Store: store, Reprojector: reprojector}
	root := ds.rootDir()

	titleBytes, err := store.Read(ctx, tablefs.Join(root, metaDir, "title"))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read title: %v", dserr.ErrFileNotFound, err)
	}
	ds.Title = strings.TrimSpace(string(titleBytes))

	if descBytes, err := store.Read(ctx, tablefs.Join(root, metaDir, "description")); err == nil {
		ds.Description = strings.TrimSpace(string(descBytes))
	}

	psBytes, err := store.Read(ctx, tablefs.Join(root, metaDir, "path-structure.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read path-structure.json: %v", dserr.ErrFileNotFound, err)
	}
	ds.PathStructure, err = pathstructure.Parse(psBytes)
	if err != nil {
		return nil, err
	}

	schemaBytes, err := store.Read(ctx, tablefs.Join(root, metaDir, "schema.json"))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read schema.json: %v", dserr.ErrFileNotFound, err)
	}
	ds.Schema, err = schema.Parse(schemaBytes)
	if err != nil {
		return nil, err
	}

	ds.Legends, err = loadLegends(ctx, store, tablefs.Join(root, legendDir))
	if err != nil {
		return nil, err
	}

	ds.CRS, err = crs.Load(ctx, store, tablefs.Join(root, crsDir))
	if err != nil {
		return nil, err
	}

	count, err := countFeatureFiles(ctx, store, ds.featureRoot(), ds.PathStructure.Levels, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to count feature files: %w", err)
	}
	ds.FeatureCount = count

	return ds, nil
}

func loadLegends(ctx context.Context, store tablefs.Store, dir string) (map[string]*legend.Legend, error) {
	entries, err := store.List(ctx, dir)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to list legend directory: %v", dserr.ErrFileNotFound, err)
	}
	legends := make(map[string]*legend.Legend, len(entries))
	for _, e := range entries {
		if e.IsDir {
			continue
		}
		data, err := store.Read(ctx, tablefs.Join(dir, e.Name))
		if err != nil {
			return nil, fmt.Errorf("%w: failed to read legend %s: %v", dserr.ErrFileReadError, e.Name, err)
		}
		lg, err := legend.Parse(data, e.Name)
		if err != nil {
			return nil, err
		}
		legends[lg.ID] = lg
	}
	return legends, nil
}

// countFeatureFiles replicates the terminal-branch walk (spec §4.6)
// just to count leaves, without materializing any feature.
func countFeatureFiles(ctx context.Context, store tablefs.Store, dir string, levels, depth int) (int, error) {
	entries, err := store.List(ctx, dir)
	if err != nil {
		return 0, nil // an empty/missing feature/ directory is a zero-row dataset
	}
	if len(entries) == 0 {
		return 0, nil
	}
	recurse := entries[0].IsDir && depth < levels
	if !recurse {
		return len(entries), nil
	}
	total := 0
	for _, e := range entries {
		sub, err := countFeatureFiles(ctx, store, tablefs.Join(dir, e.Name), levels, depth+1)
		if err != nil {
			return 0, err
		}
		total += sub
	}
	return total, nil
}

// walkFeatureFiles performs the terminal-branch walk described in spec
// §4.6: it recurses only when the first entry of a directory is itself
// a directory and the current depth is below path-structure levels;
// otherwise every entry in the directory is a feature file. It yields
// lazily and stops as soon as the caller stops pulling.
func (ds *TableDatasetV3) walkFeatureFiles(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ds.walkDir(ctx, ds.featureRoot(), 0, yield)
	}
}

func (ds *TableDatasetV3) walkDir(ctx context.Context, dir string, depth int, yield func(string, error) bool) bool {
	if err := ctx.Err(); err != nil {
		return yield("", err)
	}
	entries, err := ds.Store.List(ctx, dir)
	if err != nil {
		return yield("", fmt.Errorf("%w: failed to list %s: %v", dserr.ErrFileReadError, dir, err))
	}
	if len(entries) == 0 {
		return true
	}
	recurse := entries[0].IsDir && depth < ds.PathStructure.Levels
	for _, e := range entries {
		full := tablefs.Join(dir, e.Name)
		if recurse {
			if !ds.walkDir(ctx, full, depth+1, yield) {
				return false
			}
			continue
		}
		if !yield(full, nil) {
			return false
		}
	}
	return true
}

// Iterate lazily decodes and projects every feature file, in
// filesystem order. Callers that stop ranging before exhausting the
// sequence cancel the underlying walk (spec §5).
func (ds *TableDatasetV3) Iterate(ctx context.Context) iter.Seq2[*feature.Feature, error] {
	return func(yield func(*feature.Feature, error) bool) {
		for full, err := range ds.walkFeatureFiles(ctx) {
			if err != nil {
				if !yield(nil, err) {
					return
				}
				continue
			}
			f, ferr := ds.loadFeature(ctx, full)
			if !yield(f, ferr) {
				return
			}
		}
	}
}

func (ds *TableDatasetV3) loadFeature(ctx context.Context, fullPath string) (*feature.Feature, error) {
	filename := path.Base(fullPath)
	body, err := ds.Store.Read(ctx, fullPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", dserr.ErrFileReadError, fullPath, err)
	}
	raw, err := rawfeature.Decode(filename, body)
	if err != nil {
		return nil, err
	}
	obj, err := raw.ToObject(ds.Legends, ds.Schema, ds.PathStructure, ds.CRS)
	if err != nil {
		return nil, err
	}
	return feature.New(obj, ds.Schema), nil
}

// Has reports whether a feature with the given eid exists.
func (ds *TableDatasetV3) Has(ctx context.Context, eid string) (bool, error) {
	_, err := ds.Store.Stat(ctx, tablefs.Join(ds.featureRoot(), eid))
	if err != nil {
		if errors.Is(err, tablefs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Get loads and projects the single feature stored at eid.
func (ds *TableDatasetV3) Get(ctx context.Context, eid string) (*feature.Feature, error) {
	return ds.loadFeature(ctx, tablefs.Join(ds.featureRoot(), eid))
}

// ToGeoJSON materializes every feature in the dataset as a GeoJSON
// feature, caching the result after the first call. Spec §4.6 warns
// this is memory-heavy for large datasets; prefer Iterate or
// SelectIntersection where possible.
func (ds *TableDatasetV3) ToGeoJSON(ctx context.Context) ([]*feature.GeoJSONFeature, error) {
	ds.geoJSONOnce.Do(func() {
		var out []*feature.GeoJSONFeature
		for f, err := range ds.Iterate(ctx) {
			if err != nil {
				ds.geoJSONErr = err
				return
			}
			gf, err := f.ToGeoJSON(ds.Reprojector)
			if err != nil {
				ds.geoJSONErr = err
				return
			}
			if gf != nil {
				out = append(out, gf)
			}
		}
		ds.geoJSON = out
	})
	return ds.geoJSON, ds.geoJSONErr
}

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

package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dhconnelly/rtreego"
	"github.com/paulmach/orb"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/koordinates/tabledataset/feature"
)

// spatialIndex is a static R-tree over every feature's geometry bound,
// built on demand and optionally persisted (spec §4.6).
type spatialIndex struct {
	tree *rtreego.Rtree
}

// indexedEid pairs a feature's eid with its bounding box, and is both
// the rtreego.Spatial this dataset inserts into its tree and the
// on-disk cache record: the cache file is a msgpack-encoded list of
// these records, from which the tree is rebuilt.
type indexedEid struct {
	Eid                    string
	MinX, MinY, MaxX, MaxY float64
}

func (e indexedEid) Bounds() rtreego.Rect {
	widths := []float64{e.MaxX - e.MinX, e.MaxY - e.MinY}
	for i, w := range widths {
		if w <= 0 {
			widths[i] = 1e-9
		}
	}
	rect, _ := rtreego.NewRect(rtreego.Point{e.MinX, e.MinY}, widths)
	return rect
}

// SelectIntersection returns every feature whose geometry bound
// intersects bbox ([minX, minY, maxX, maxY]), building (and caching)
// the spatial index on first use.
func (ds *TableDatasetV3) SelectIntersection(ctx context.Context, bbox [4]float64) ([]*feature.Feature, error) {
	idx, err := ds.ensureIndex(ctx)
	if err != nil {
		return nil, err
	}

	widths := []float64{bbox[2] - bbox[0], bbox[3] - bbox[1]}
	for i, w := range widths {
		if w <= 0 {
			widths[i] = 1e-9
		}
	}
	queryRect, err := rtreego.NewRect(rtreego.Point{bbox[0], bbox[1]}, widths)
	if err != nil {
		return nil, fmt.Errorf("invalid query bounding box: %w", err)
	}

	var out []*feature.Feature
	for _, spatial := range idx.tree.SearchIntersect(queryRect) {
		entry := spatial.(indexedEid)
		f, err := ds.Get(ctx, entry.Eid)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

func (ds *TableDatasetV3) ensureIndex(ctx context.Context) (*spatialIndex, error) {
	ds.indexMu.Lock()
	defer ds.indexMu.Unlock()

	if ds.index != nil {
		return ds.index, nil
	}

	if cached, err := ds.loadCachedIndex(); err == nil && cached != nil {
		ds.index = cached
		return ds.index, nil
	}

	geomEntry, hasGeom := ds.Schema.PrimaryGeometry()

	tree := rtreego.NewTree(2, 25, 50)
	var entries []indexedEid
	if hasGeom {
		for f, err := range ds.Iterate(ctx) {
			if err != nil {
				return nil, err
			}
			result := f.Geometry(geomEntry.Name)
			if !result.OK || result.Data == nil {
				continue
			}
			geom, ok := result.Data.(orb.Geometry)
			if !ok {
				continue
			}
			bound := geom.Bound()
			entry := indexedEid{Eid: f.Eid, MinX: bound.Min[0], MinY: bound.Min[1], MaxX: bound.Max[0], MaxY: bound.Max[1]}
			tree.Insert(entry)
			entries = append(entries, entry)
		}
	}

	ds.index = &spatialIndex{tree: tree}
	if err := ds.persistIndex(entries); err != nil {
		return nil, fmt.Errorf("failed to persist spatial index cache: %w", err)
	}
	return ds.index, nil
}

func (ds *TableDatasetV3) cacheFilePath() (string, bool) {
	if ds.CacheDir == "" {
		return "", false
	}
	return filepath.Join(ds.CacheDir, ds.ID+".rtree.msgpack"), true
}

func (ds *TableDatasetV3) loadCachedIndex() (*spatialIndex, error) {
	path, ok := ds.cacheFilePath()
	if !ok {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil
	}
	var entries []indexedEid
	if err := msgpack.Unmarshal(data, &entries); err != nil {
		return nil, nil
	}
	tree := rtreego.NewTree(2, 25, 50)
	for _, e := range entries {
		tree.Insert(e)
	}
	return &spatialIndex{tree: tree}, nil
}

// persistIndex writes the cache atomically (write to a temp file, then
// rename) so a reader never observes a torn write (spec §5).
func (ds *TableDatasetV3) persistIndex(entries []indexedEid) error {
	path, ok := ds.cacheFilePath()
	if !ok {
		return nil
	}
	if err := os.MkdirAll(ds.CacheDir, 0o755); err != nil {
		return err
	}

	data, err := msgpack.Marshal(entries)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

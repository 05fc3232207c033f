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

// Package kart binds a cloned working tree root to the datasets it
// contains: it gates dataset construction through
// dataset.IsValidDataset, loads datasets on demand, and merges each
// dataset's working-copy diff into the kart.diff/v1+hexwkb document
// (spec §4.8).
package kart

import (
	"context"
	"fmt"
	"iter"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/dataset"
	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/tablefs"
	"github.com/koordinates/tabledataset/workingcopy"
)

// BoundDataset pairs a loaded TableDatasetV3 with the working copy the
// Repository tracks edits against. The working copy's baseline is the
// dataset itself: dataset.TableDatasetV3 satisfies workingcopy.Baseline
// structurally.
type BoundDataset struct {
	Dataset     *dataset.TableDatasetV3
	WorkingCopy *workingcopy.WorkingFeatureCollection
}

// Repository is a Table Dataset V3 working tree: a named set of
// datasets sharing one FS facade and CRS reprojector.
type Repository struct {
	Store       tablefs.Store
	Reprojector crs.Reprojector

	// CacheDir, if set, is passed through to every dataset loaded from
	// this repository as its spatial-index cache directory.
	CacheDir string
}

// New binds a Repository to store. reprojector may be nil if no
// dataset's geometry needs reprojecting away from its stored CRS.
func New(store tablefs.Store, reprojector crs.Reprojector) *Repository {
	return &Repository{Store: store, Reprojector: reprojector}
}

// Has reports whether name names a valid Table Dataset V3 layout.
func (r *Repository) Has(ctx context.Context, name string) bool {
	return dataset.IsValidDataset(ctx, r.Store, name)
}

// Get loads name's dataset and binds a working copy to it. It fails if
// name does not name a valid dataset layout.
func (r *Repository) Get(ctx context.Context, name string) (*BoundDataset, error) {
	return r.Dataset(ctx, name)
}

// Dataset validates and loads name's dataset in one call, binding a
// fresh, empty working copy to it.
func (r *Repository) Dataset(ctx context.Context, name string) (*BoundDataset, error) {
	if !dataset.IsValidDataset(ctx, r.Store, name) {
		return nil, fmt.Errorf("%w: %q is not a valid Table Dataset V3 layout", dserr.ErrInvalidFileContents, name)
	}

	ds, err := dataset.Load(ctx, r.Store, name, r.Reprojector)
	if err != nil {
		return nil, err
	}
	ds.CacheDir = r.CacheDir

	return &BoundDataset{
		Dataset:     ds,
		WorkingCopy: workingcopy.New(ds, ds.Schema),
	}, nil
}

// Datasets lazily iterates every valid dataset name at the repository
// root, backed by the FS facade's List.
func (r *Repository) Datasets(ctx context.Context) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		entries, err := r.Store.List(ctx, "")
		if err != nil {
			yield("", fmt.Errorf("failed to list repository root: %w", err))
			return
		}
		for _, e := range entries {
			if !e.IsDir {
				continue
			}
			if !dataset.IsValidDataset(ctx, r.Store, e.Name) {
				continue
			}
			if !yield(e.Name, nil) {
				return
			}
		}
	}
}

// ToDiff merges every valid dataset's working-copy diff into a single
// kart.diff/v1+hexwkb document, under base. Datasets with no pending
// changes still contribute an empty entry (spec §4.8).
func (r *Repository) ToDiff(ctx context.Context, datasets map[string]*BoundDataset, base *string) (*workingcopy.Document, error) {
	merged := &workingcopy.Document{
		Patch: workingcopy.Patch{Base: base, CRS: crs.DefaultIdentifier},
		Diff:  map[string]workingcopy.DatasetDiff{},
	}
	for name, bound := range datasets {
		doc, err := bound.WorkingCopy.Diff(ctx, name, base)
		if err != nil {
			return nil, fmt.Errorf("failed to diff dataset %q: %w", name, err)
		}
		for id, diff := range doc.Diff {
			merged.Diff[id] = diff
		}
	}
	return merged, nil
}

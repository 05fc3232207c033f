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

// Package tablefs is the uniform path arithmetic and read-only filesystem
// facade the dataset engine reads through. The git working tree a
// Repository materializes, a locally cloned checkout, or any other
// path-based object storage can back it; the engine never talks to the
// filesystem directly.
package tablefs

import (
	"context"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"
)

// Entry describes one directory listing result.
type Entry struct {
	Name  string // base name, relative to the directory listed
	IsDir bool
	Size  int64
}

// Store is a uniform, read-only, path-based object store: list, stat,
// read. Paths are always "/"-separated and relative to the store's root,
// never beginning with "/".
type Store interface {
	// List returns the direct children of dir (non-recursive), sorted by
	// Name. dir == "" lists the root.
	List(ctx context.Context, dir string) ([]Entry, error)

	// Stat reports whether name exists and, if so, whether it is a
	// directory.
	Stat(ctx context.Context, name string) (Entry, error)

	// Read returns the full contents of the file at name.
	Read(ctx context.Context, name string) ([]byte, error)
}

// Join joins path segments using "/" and cleans the result, mirroring
// path.Join but documenting the facade's own path arithmetic explicitly
// since dataset paths are always POSIX-style regardless of host OS.
func Join(segments ...string) string {
	return path.Join(segments...)
}

// ErrNotExist is returned by Stat and Read when the named path has no
// entry in the store.
var ErrNotExist = fmt.Errorf("tablefs: path does not exist")

// BucketStore adapts a gocloud.dev/blob Bucket to the Store interface.
// Local working trees are opened with fileblob; other backends (cloud
// object storage serving a read-only mirror of a dataset, for example)
// plug in by opening a different gocloud.dev/blob driver URL.
type BucketStore struct {
	bucket *blob.Bucket
}

// NewLocalStore opens a BucketStore rooted at a directory on the local
// filesystem, as used for a materialized git working tree.
func NewLocalStore(ctx context.Context, root string) (*BucketStore, error) {
	bucket, err := blob.OpenBucket(ctx, "file://"+root)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", root, err)
	}
	return &BucketStore{bucket: bucket}, nil
}

// NewBucketStore wraps an already-open bucket, for callers that manage
// their own gocloud.dev/blob.Bucket lifecycle.
func NewBucketStore(bucket *blob.Bucket) *BucketStore {
	return &BucketStore{bucket: bucket}
}

func normalizeDir(dir string) string {
	dir = strings.TrimPrefix(dir, "/")
	if dir == "" || dir == "." {
		return ""
	}
	return strings.TrimSuffix(dir, "/") + "/"
}

func (s *BucketStore) List(ctx context.Context, dir string) ([]Entry, error) {
	prefix := normalizeDir(dir)
	iter := s.bucket.List(&blob.ListOptions{Prefix: prefix, Delimiter: "/"})
	entries := []Entry{}
	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %q: %w", dir, err)
		}
		name := strings.TrimPrefix(obj.Key, prefix)
		name = strings.TrimSuffix(name, "/")
		if name == "" {
			continue
		}
		entries = append(entries, Entry{
			Name:  name,
			IsDir: obj.IsDir,
			Size:  obj.Size,
		})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *BucketStore) Stat(ctx context.Context, name string) (Entry, error) {
	exists, err := s.bucket.Exists(ctx, name)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %q: %w", name, err)
	}
	if exists {
		attrs, err := s.bucket.Attributes(ctx, name)
		if err != nil {
			return Entry{}, fmt.Errorf("failed to stat %q: %w", name, err)
		}
		return Entry{Name: path.Base(name), Size: attrs.Size}, nil
	}

	// directories have no blob key of their own; confirm by listing.
	entries, err := s.List(ctx, name)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to stat %q: %w", name, err)
	}
	if len(entries) == 0 {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotExist, name)
	}
	return Entry{Name: path.Base(name), IsDir: true}, nil
}

func (s *BucketStore) Read(ctx context.Context, name string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, name)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, name)
		}
		return nil, fmt.Errorf("failed to read %q: %w", name, err)
	}
	return data, nil
}

func (s *BucketStore) Close() error {
	return s.bucket.Close()
}

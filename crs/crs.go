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

// Package crs is the per-dataset coordinate reference system registry:
// identifier to WKT text, loaded once from meta/crs/*.wkt and read-only
// thereafter. Reprojection math itself is out of this package's scope;
// Reprojector is the seam a caller supplies an implementation for.
package crs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/koordinates/tabledataset/tablefs"
)

// CRS is a coordinate reference system identified by a string (typically
// "EPSG:<n>") with its associated WKT definition.
type CRS struct {
	Identifier string
	WKT        string
}

// Registry is the immutable, per-dataset identifier -> CRS map.
type Registry struct {
	byIdentifier map[string]*CRS
}

// DefaultIdentifier is the fallback CRS used when a geometry column does
// not declare its own (spec §4.4 step 5).
const DefaultIdentifier = "EPSG:4326"

// Load reads every "<identifier>.wkt" file under dir in store and returns
// the populated registry. A dataset with no meta/crs directory yields an
// empty (but non-nil) registry.
func Load(ctx context.Context, store tablefs.Store, dir string) (*Registry, error) {
	reg := &Registry{byIdentifier: map[string]*CRS{}}

	entries, err := store.List(ctx, dir)
	if err != nil {
		if errors.Is(err, tablefs.ErrNotExist) {
			return reg, nil
		}
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir || !strings.HasSuffix(entry.Name, ".wkt") {
			continue
		}
		identifier := strings.TrimSuffix(entry.Name, ".wkt")
		data, err := store.Read(ctx, tablefs.Join(dir, entry.Name))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name, err)
		}
		reg.byIdentifier[identifier] = &CRS{
			Identifier: identifier,
			WKT:        strings.TrimSpace(string(data)),
		}
	}

	return reg, nil
}

// Lookup returns the CRS registered under identifier, or nil if absent.
// A nil return (rather than an error) is deliberate: spec §4.4 step 5
// and §8 scenario 4 require the caller to fall back to a null CRS, not
// to abort.
func (r *Registry) Lookup(identifier string) *CRS {
	if r == nil {
		return nil
	}
	return r.byIdentifier[identifier]
}

// Has reports whether identifier is registered.
func (r *Registry) Has(identifier string) bool {
	return r.Lookup(identifier) != nil
}

// Identifiers returns the registered identifiers in no particular order.
func (r *Registry) Identifiers() []string {
	ids := make([]string, 0, len(r.byIdentifier))
	for id := range r.byIdentifier {
		ids = append(ids, id)
	}
	return ids
}

// Reprojector reprojects coordinates between coordinate reference
// systems. Its implementation is an external collaborator (spec §1): the
// core only needs the (coords, fromCRS, toCRS) -> coords shape.
type Reprojector interface {
	Reproject(coords [][]float64, fromCRS string, toCRS string) ([][]float64, error)
}

// IdentityReprojector returns coordinates unchanged. It is useful for
// datasets already in the target CRS and for tests; production callers
// normally inject a real reprojection library.
type IdentityReprojector struct{}

func (IdentityReprojector) Reproject(coords [][]float64, fromCRS string, toCRS string) ([][]float64, error) {
	return coords, nil
}

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

// Package legend parses the immutable legend blobs under
// meta/legend/<hash>: a snapshot of a past schema's column ordering that
// lets older rows be decoded under a newer schema.
package legend

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/serializer"
)

// Legend is an immutable column-ordering snapshot, identifiable by the
// content hash of its packed bytes (spec §4.2).
type Legend struct {
	ID               string
	PrimaryKeyIDs    []string
	NonPrimaryKeyIDs []string
}

// Parse decodes a legend's packed bytes and verifies that its content
// hash matches filenameStem, per spec §4.2's MUST. A mismatch is
// surfaced as ErrInvalidFileContents.
func Parse(data []byte, filenameStem string) (*Legend, error) {
	var packed []([]string)
	if err := msgpack.Unmarshal(data, &packed); err != nil {
		return nil, fmt.Errorf("%w: failed to decode legend: %v", dserr.ErrInvalidFileContents, err)
	}
	if len(packed) != 2 {
		return nil, fmt.Errorf("%w: expected a 2-tuple, got %d elements", dserr.ErrInvalidFileContents, len(packed))
	}

	id := serializer.HashPrefixHex(data)
	if id != filenameStem {
		return nil, fmt.Errorf("%w: legend hash %s does not match filename %s", dserr.ErrInvalidFileContents, id, filenameStem)
	}

	return &Legend{
		ID:               id,
		PrimaryKeyIDs:    append([]string{}, packed[0]...),
		NonPrimaryKeyIDs: append([]string{}, packed[1]...),
	}, nil
}

// Pack serializes a legend's column ordering to the on-wire form used to
// derive its ID, letting callers build a synthetic legend for a schema
// that has never been written to disk (schema.Schema.ToLegend).
func Pack(primaryKeyIDs, nonPrimaryKeyIDs []string) ([]byte, error) {
	packed := [][]string{primaryKeyIDs, nonPrimaryKeyIDs}
	return msgpack.Marshal(packed)
}

// FromColumnIDs builds a Legend directly from its column ordering,
// computing the ID from the packed bytes. Used by schema.Schema.ToLegend
// to collapse the current schema to a legend.
func FromColumnIDs(primaryKeyIDs, nonPrimaryKeyIDs []string) (*Legend, error) {
	data, err := Pack(primaryKeyIDs, nonPrimaryKeyIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to pack legend: %w", err)
	}
	return &Legend{
		ID:               serializer.HashPrefixHex(data),
		PrimaryKeyIDs:    append([]string{}, primaryKeyIDs...),
		NonPrimaryKeyIDs: append([]string{}, nonPrimaryKeyIDs...),
	}, nil
}

// ColumnID describes one column's position in the legend's on-wire
// ordering.
type ColumnID struct {
	ColumnID  string
	IsPrimary bool
	DataIndex int // position within the primary or non-primary value array
}

// ColumnIDs yields column identities in on-wire order, so RawFeature
// decoding can map packed values to column identities with a single
// indexed lookup (SPEC_FULL.md §4).
func (l *Legend) ColumnIDs() []ColumnID {
	ids := make([]ColumnID, 0, len(l.PrimaryKeyIDs)+len(l.NonPrimaryKeyIDs))
	for i, id := range l.PrimaryKeyIDs {
		ids = append(ids, ColumnID{ColumnID: id, IsPrimary: true, DataIndex: i})
	}
	for i, id := range l.NonPrimaryKeyIDs {
		ids = append(ids, ColumnID{ColumnID: id, IsPrimary: false, DataIndex: i})
	}
	return ids
}

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

package rawfeature_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/legend"
	"github.com/koordinates/tabledataset/pathstructure"
	"github.com/koordinates/tabledataset/rawfeature"
	"github.com/koordinates/tabledataset/schema"
	"github.com/koordinates/tabledataset/serializer"
)

func intPtr(i int) *int { return &i }

func TestDecodeSinglePrimaryKey(t *testing.T) {
	lg, err := legend.FromColumnIDs([]string{"id"}, []string{"name"})
	require.NoError(t, err)

	keyBytes, err := msgpack.Marshal([]any{int64(1)})
	require.NoError(t, err)
	filename := encodeB64URL(keyBytes)

	body, err := msgpack.Marshal([]any{lg.ID, []any{"Alice"}})
	require.NoError(t, err)

	raw, err := rawfeature.Decode(filename, body)
	require.NoError(t, err)
	assert.Equal(t, lg.ID, raw.LegendID)
	assert.EqualValues(t, 1, raw.PrimaryKeys[0])
	assert.Equal(t, []any{"Alice"}, raw.NonPrimaryKeyValues)
}

func TestDecodeIgnoresTrailingBytes(t *testing.T) {
	lg, err := legend.FromColumnIDs([]string{"id"}, nil)
	require.NoError(t, err)

	keyBytes, err := msgpack.Marshal([]any{int64(7)})
	require.NoError(t, err)
	filename := encodeB64URL(keyBytes)

	body, err := msgpack.Marshal([]any{lg.ID, []any{}})
	require.NoError(t, err)
	body = append(body, 0xFF, 0xFF, 0xFF)

	raw, err := rawfeature.Decode(filename, body)
	require.NoError(t, err)
	assert.Equal(t, lg.ID, raw.LegendID)
}

func TestDecodeRejectsBadFilename(t *testing.T) {
	_, err := rawfeature.Decode("not base64!!!", []byte{})
	require.Error(t, err)
}

func TestToObjectSchemaEvolutionDropsAndNullsColumns(t *testing.T) {
	lg, err := legend.FromColumnIDs([]string{"id"}, []string{"name", "age"})
	require.NoError(t, err)

	raw := &rawfeature.RawFeature{
		LegendID:            lg.ID,
		PrimaryKeys:         []any{int64(1)},
		NonPrimaryKeyValues: []any{"Alice", int64(42)},
	}

	sch := &schema.Schema{Entries: []schema.Entry{
		{ID: "id", Name: "id", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(0)},
		{ID: "name", Name: "name", DataType: schema.DataTypeText},
		{ID: "birth_year", Name: "birth_year", DataType: schema.DataTypeInteger},
	}}

	ps, err := pathstructure.Parse([]byte(`{"scheme":"int","branches":16,"levels":2,"encoding":"hex"}`))
	require.NoError(t, err)

	registry := &crs.Registry{}
	legends := map[string]*legend.Legend{lg.ID: lg}

	obj, err := raw.ToObject(legends, sch, ps, registry)
	require.NoError(t, err)

	assert.EqualValues(t, 1, obj.IDs["id"])
	assert.Equal(t, "Alice", obj.Properties["name"])
	assert.Nil(t, obj.Properties["birth_year"])
	assert.Equal(t, []string{"age"}, obj.DroppedKeys)
	assert.NotEmpty(t, obj.Eid)
}

func TestToObjectFallsBackToDefaultCRS(t *testing.T) {
	lg, err := legend.FromColumnIDs([]string{"id"}, nil)
	require.NoError(t, err)

	raw := &rawfeature.RawFeature{LegendID: lg.ID, PrimaryKeys: []any{int64(1)}}
	sch := &schema.Schema{Entries: []schema.Entry{
		{ID: "id", Name: "id", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(0)},
		{ID: "geom", Name: "geom", DataType: schema.DataTypeGeometry},
	}}
	ps, err := pathstructure.Parse([]byte(`{"scheme":"int","branches":16,"levels":2,"encoding":"hex"}`))
	require.NoError(t, err)

	registry := &crs.Registry{}
	obj, err := raw.ToObject(map[string]*legend.Legend{lg.ID: lg}, sch, ps, registry)
	require.NoError(t, err)
	assert.Equal(t, "geom", obj.GeometryColumn)
	assert.Nil(t, obj.CRS)
}

func encodeB64URL(data []byte) string {
	return serializer.Base64URLEncode(data)
}

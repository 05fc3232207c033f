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

package schema_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koordinates/tabledataset/schema"
)

func intPtr(i int) *int { return &i }

func TestParseValidSchema(t *testing.T) {
	data := []byte(`[
		{"id":"c1","name":"id","dataType":"integer","primaryKeyIndex":0,"size":64},
		{"id":"c2","name":"name","dataType":"text"},
		{"id":"c3","name":"geom","dataType":"geometry","geometryType":"Point"}
	]`)
	sch, err := schema.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, sch.PrimaryKeyNames())
	assert.Equal(t, []string{"c1"}, sch.PrimaryKeyIDs())
	assert.Equal(t, []string{"name", "geom"}, sch.NonPrimaryKeyNames())

	geomEntry, ok := sch.PrimaryGeometry()
	require.True(t, ok)
	assert.Equal(t, "geom", geomEntry.Name)
}

func TestValidateRejectsDuplicateIDs(t *testing.T) {
	sch := &schema.Schema{Entries: []schema.Entry{
		{ID: "c1", Name: "a", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(0)},
		{ID: "c1", Name: "b", DataType: schema.DataTypeText},
	}}
	require.Error(t, sch.Validate())
}

func TestValidateRejectsPrimaryKeyIndexGap(t *testing.T) {
	sch := &schema.Schema{Entries: []schema.Entry{
		{ID: "c1", Name: "a", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(0)},
		{ID: "c2", Name: "b", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(2)},
	}}
	require.Error(t, sch.Validate())
}

func TestValidateRejectsUnknownDataType(t *testing.T) {
	sch := &schema.Schema{Entries: []schema.Entry{
		{ID: "c1", Name: "a", DataType: "not-a-type", PrimaryKeyIndex: intPtr(0)},
	}}
	require.Error(t, sch.Validate())
}

func TestValidateRequiresAtLeastOnePrimaryKey(t *testing.T) {
	sch := &schema.Schema{Entries: []schema.Entry{
		{ID: "c1", Name: "a", DataType: schema.DataTypeText},
	}}
	require.Error(t, sch.Validate())
}

func TestByNameAndByID(t *testing.T) {
	sch := &schema.Schema{Entries: []schema.Entry{
		{ID: "c1", Name: "id", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(0)},
	}}
	e, ok := sch.ByName("id")
	require.True(t, ok)
	assert.Equal(t, "c1", e.ID)

	e2, ok := sch.ByID("c1")
	require.True(t, ok)
	assert.Equal(t, "id", e2.Name)

	_, ok = sch.ByName("missing")
	assert.False(t, ok)
}

func TestToLegend(t *testing.T) {
	sch := &schema.Schema{Entries: []schema.Entry{
		{ID: "c1", Name: "id", DataType: schema.DataTypeInteger, PrimaryKeyIndex: intPtr(0)},
		{ID: "c2", Name: "name", DataType: schema.DataTypeText},
	}}
	lg, err := sch.ToLegend()
	require.NoError(t, err)
	assert.Equal(t, []string{"c1"}, lg.PrimaryKeyIDs)
	assert.Equal(t, []string{"c2"}, lg.NonPrimaryKeyIDs)
}

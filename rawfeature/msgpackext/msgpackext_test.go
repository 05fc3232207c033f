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

package msgpackext_test

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/koordinates/tabledataset/rawfeature/msgpackext"
)

func TestEncodeDecodeGeopackagePoint(t *testing.T) {
	geom := orb.Point{1.5, -2.5}
	data, err := msgpackext.EncodeGeopackage(geom)
	require.NoError(t, err)

	decoded, err := msgpackext.DecodeGeopackage(data)
	require.NoError(t, err)
	assert.Equal(t, geom, decoded)
}

func TestEncodeDecodeGeopackageLineString(t *testing.T) {
	geom := orb.LineString{{0, 0}, {1, 1}, {2, 0}}
	data, err := msgpackext.EncodeGeopackage(geom)
	require.NoError(t, err)

	decoded, err := msgpackext.DecodeGeopackage(data)
	require.NoError(t, err)
	assert.Equal(t, geom, decoded)
}

func TestDecodeGeopackageRejectsBadHeader(t *testing.T) {
	_, err := msgpackext.DecodeGeopackage([]byte{0x00, 0x00, 0x00, 0x00})
	require.Error(t, err)
}

func TestGeometryRoundTripsThroughMsgpackExt(t *testing.T) {
	geom := &msgpackext.Geometry{Value: orb.Point{3, 4}}
	data, err := msgpack.Marshal(geom)
	require.NoError(t, err)

	var decoded msgpackext.Geometry
	require.NoError(t, msgpack.Unmarshal(data, &decoded))
	assert.Equal(t, geom.Value, decoded.Value)
}

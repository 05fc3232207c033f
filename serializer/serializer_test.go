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

package serializer_test

import (
	"math/big"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/koordinates/tabledataset/serializer"
	"github.com/koordinates/tabledataset/valuetype"
)

func TestToCanonicalGeometry(t *testing.T) {
	p := orb.Point{1, 2}
	canon, err := serializer.ToCanonical(p)
	require.NoError(t, err)
	s, ok := canon.(string)
	require.True(t, ok)
	assert.NotEmpty(t, s)

	// hex-encoded, so only 0-9a-f characters.
	for _, r := range s {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
}

func TestToCanonicalBlob(t *testing.T) {
	canon, err := serializer.ToCanonical([]byte{0xde, 0xad, 0xbe, 0xef})
	require.NoError(t, err)
	assert.Equal(t, "deadbeef", canon)
}

func TestToCanonicalBigInt(t *testing.T) {
	n := new(big.Int)
	n.SetString("123456789012345678901234567890", 10)
	canon, err := serializer.ToCanonical(n)
	require.NoError(t, err)

	data, err := serializer.MarshalCanonical(n)
	require.NoError(t, err)
	assert.Equal(t, "123456789012345678901234567890", string(data))
	assert.NotNil(t, canon)
}

func TestToCanonicalTemporal(t *testing.T) {
	d, err := valuetype.ParseDate("2023-11-05")
	require.NoError(t, err)
	canon, err := serializer.ToCanonical(d)
	require.NoError(t, err)
	assert.Equal(t, "2023-11-05", canon)
}

func TestToCanonicalNil(t *testing.T) {
	canon, err := serializer.ToCanonical(nil)
	require.NoError(t, err)
	assert.Nil(t, canon)
}

func TestMarshalCanonicalSortsMapKeys(t *testing.T) {
	data, err := serializer.MarshalCanonical(map[string]any{"b": 1, "a": 2})
	require.NoError(t, err)
	assert.Equal(t, `{"a":2,"b":1}`, string(data))
}

func TestHashPrefixHexDeterministic(t *testing.T) {
	a := serializer.HashPrefixHex([]byte("hello"))
	b := serializer.HashPrefixHex([]byte("hello"))
	assert.Equal(t, a, b)
	assert.Len(t, a, serializer.LegendIDLength*2)
}

func TestBase64DecodeAcceptsAllVariants(t *testing.T) {
	data := []byte{0xfb, 0xff, 0x01, 0x02, 0x03}

	std := serializer.Base64Encode(data)
	url := serializer.Base64URLEncode(data)

	for _, encoded := range []string{std, url} {
		decoded, err := serializer.Base64Decode(encoded)
		require.NoError(t, err, encoded)
		assert.Equal(t, data, decoded)
	}
}

func TestBase64DecodeInvalid(t *testing.T) {
	_, err := serializer.Base64Decode("not base64!!!")
	assert.Error(t, err)
}

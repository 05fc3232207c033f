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

package pathstructure_test

import (
	"crypto/sha256"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/koordinates/tabledataset/pathstructure"
)

func TestParseValidatesEncodingBranchesCrossField(t *testing.T) {
	_, err := pathstructure.Parse([]byte(`{"scheme":"int","branches":64,"levels":2,"encoding":"hex"}`))
	require.Error(t, err)

	_, err = pathstructure.Parse([]byte(`{"scheme":"int","branches":64,"levels":2,"encoding":"base64"}`))
	require.NoError(t, err)
}

func TestEidIntHexScheme(t *testing.T) {
	ps, err := pathstructure.Parse([]byte(`{"scheme":"int","branches":16,"levels":2,"encoding":"hex"}`))
	require.NoError(t, err)

	eid, err := ps.Eid([]any{int64(12345)})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(eid, "3/0/"), "eid %q should have folder path 3/0/", eid)
}

func TestEidIntSchemeIsStableAcrossNearbyKeys(t *testing.T) {
	ps, err := pathstructure.Parse([]byte(`{"scheme":"int","branches":16,"levels":2,"encoding":"hex"}`))
	require.NoError(t, err)

	a, err := ps.Eid([]any{int64(12345)})
	require.NoError(t, err)
	b, err := ps.Eid([]any{int64(12346)})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)

	aFolders := strings.SplitN(a, "/", 3)[:2]
	bFolders := strings.SplitN(b, "/", 3)[:2]
	changed := 0
	for i := range aFolders {
		if aFolders[i] != bFolders[i] {
			changed++
		}
	}
	assert.LessOrEqual(t, changed, ps.Levels)
}

func TestEidIntRejectsMultiplePrimaryKeys(t *testing.T) {
	ps, err := pathstructure.Parse([]byte(`{"scheme":"int","branches":16,"levels":2,"encoding":"hex"}`))
	require.NoError(t, err)
	_, err = ps.Eid([]any{int64(1), int64(2)})
	require.Error(t, err)
}

func TestEidHashSchemeMatchesIndependentComputation(t *testing.T) {
	ps, err := pathstructure.Parse([]byte(`{"scheme":"msgpack/hash","branches":64,"levels":3,"encoding":"base64"}`))
	require.NoError(t, err)

	keys := []any{"A", "7"}
	eid, err := ps.Eid(keys)
	require.NoError(t, err)

	packed, err := msgpack.Marshal(keys)
	require.NoError(t, err)
	sum := sha256.Sum256(packed)
	hashString := strings.TrimRight(base64.StdEncoding.EncodeToString(sum[:]), "=")
	wantFolders := hashString[:3]

	parts := strings.SplitN(eid, "/", 4)
	require.Len(t, parts, 4)
	gotFolders := parts[0] + parts[1] + parts[2]
	assert.Equal(t, wantFolders, gotFolders)

	wantFilename := strings.TrimRight(base64.URLEncoding.EncodeToString(packed), "=")
	assert.Equal(t, wantFilename, parts[3])
}

func TestEidHashSchemeRequiresAtLeastOneKey(t *testing.T) {
	ps, err := pathstructure.Parse([]byte(`{"scheme":"msgpack/hash","branches":64,"levels":3,"encoding":"base64"}`))
	require.NoError(t, err)
	_, err = ps.Eid(nil)
	require.Error(t, err)
}

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

// Package pathstructure parses path-structure.json and derives the
// deterministic encoded ID (eid) for a primary-key tuple: the
// folder-tree-plus-filename path a feature is stored under beneath
// .table-dataset/feature/ (spec §4.3).
package pathstructure

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/serializer"
)

// Scheme selects how a primary-key tuple maps to a folder tree.
type Scheme string

const (
	SchemeInt          Scheme = "int"
	SchemeMsgpackHash  Scheme = "msgpack/hash"
)

// Encoding selects the alphabet used for folder names.
type Encoding string

const (
	EncodingHex    Encoding = "hex"
	EncodingBase64 Encoding = "base64"
)

const (
	hexAlphabet    = "0123456789abcdef"
	base64Alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"
)

// PathStructure is the immutable sharding scheme read from
// path-structure.json.
type PathStructure struct {
	Scheme   Scheme   `json:"scheme"`
	Branches int      `json:"branches"`
	Levels   int      `json:"levels"`
	Encoding Encoding `json:"encoding"`
}

// Parse decodes path-structure.json and validates it per spec §3.
func Parse(data []byte) (*PathStructure, error) {
	ps := &PathStructure{}
	if err := json.Unmarshal(data, ps); err != nil {
		return nil, fmt.Errorf("%w: invalid path-structure.json: %v", dserr.ErrInvalidFileContents, err)
	}
	if err := ps.Validate(); err != nil {
		return nil, err
	}
	return ps, nil
}

// Validate enforces the cross-field constraints from spec §3:
// encoding=base64 implies branches=64; encoding=hex implies
// branches in {16, 256}.
func (ps *PathStructure) Validate() error {
	if ps.Levels < 1 {
		return fmt.Errorf("%w: levels must be >= 1, got %d", dserr.ErrSchemaValidation, ps.Levels)
	}
	switch ps.Scheme {
	case SchemeInt, SchemeMsgpackHash:
	default:
		return fmt.Errorf("%w: unknown scheme %q", dserr.ErrSchemaValidation, ps.Scheme)
	}
	switch ps.Encoding {
	case EncodingBase64:
		if ps.Branches != 64 {
			return fmt.Errorf("%w: encoding=base64 requires branches=64, got %d", dserr.ErrSchemaValidation, ps.Branches)
		}
	case EncodingHex:
		if ps.Branches != 16 && ps.Branches != 256 {
			return fmt.Errorf("%w: encoding=hex requires branches in {16, 256}, got %d", dserr.ErrSchemaValidation, ps.Branches)
		}
	default:
		return fmt.Errorf("%w: unknown encoding %q", dserr.ErrSchemaValidation, ps.Encoding)
	}
	return nil
}

func (ps *PathStructure) alphabet() string {
	if ps.Encoding == EncodingBase64 {
		return base64Alphabet
	}
	return hexAlphabet
}

// charsPerLevel is how many alphabet characters make up one folder
// segment under the msgpack/hash scheme: a byte (two hex characters) for
// hex with branches=256, or a single character otherwise (one hex
// character for branches=16, one base64 character for branches=64).
func (ps *PathStructure) charsPerLevel() int {
	if ps.Encoding == EncodingHex && ps.Branches == 256 {
		return 2
	}
	return 1
}

// Eid derives the encoded ID for an ordered tuple of primary-key values
// (spec §4.3). Integer primary keys are passed as int64; everything else
// (strings, etc.) is passed through as-is for msgpack packing.
func (ps *PathStructure) Eid(primaryKeys []any) (string, error) {
	switch ps.Scheme {
	case SchemeInt:
		return ps.eidInt(primaryKeys)
	case SchemeMsgpackHash:
		return ps.eidHash(primaryKeys)
	default:
		return "", fmt.Errorf("%w: unknown scheme %q", dserr.ErrSchemaValidation, ps.Scheme)
	}
}

func (ps *PathStructure) eidInt(primaryKeys []any) (string, error) {
	if len(primaryKeys) != 1 {
		return "", fmt.Errorf("%w: int scheme requires exactly one primary key value, got %d", dserr.ErrInvalidValue, len(primaryKeys))
	}

	n, err := toBigInt(primaryKeys[0])
	if err != nil {
		return "", fmt.Errorf("%w: int scheme primary key must be an integer: %v", dserr.ErrInvalidValue, err)
	}

	filename, err := packedFilename([]any{primaryKeys[0]})
	if err != nil {
		return "", err
	}

	alphabet := ps.alphabet()
	base := int64(len(alphabet))

	// Encode to levels+1 characters, then drop the last so that
	// sequential integers don't create a new folder per increment.
	digits := encodeBase(n, base, ps.Levels+1)
	folderChars := digits[:ps.Levels]

	var b strings.Builder
	for _, c := range folderChars {
		b.WriteByte(alphabet[c])
		b.WriteByte('/')
	}
	b.WriteString(filename)
	return b.String(), nil
}

func (ps *PathStructure) eidHash(primaryKeys []any) (string, error) {
	if len(primaryKeys) == 0 {
		return "", fmt.Errorf("%w: msgpack/hash scheme requires at least one primary key value", dserr.ErrInvalidValue)
	}

	packed, err := msgpack.Marshal(primaryKeys)
	if err != nil {
		return "", fmt.Errorf("%w: failed to pack primary keys: %v", dserr.ErrInvalidValue, err)
	}

	sum := sha256.Sum256(packed)

	charCount := ps.Levels * ps.charsPerLevel()
	var hashString string
	zeroChar := byte('A')
	if ps.Encoding == EncodingHex {
		hashString = fmt.Sprintf("%x", sum[:])
		zeroChar = '0'
	} else {
		hashString = strings.TrimRight(serializer.Base64Encode(sum[:]), "=")
	}

	for len(hashString) < charCount {
		hashString = string(zeroChar) + hashString
	}
	hashString = hashString[:charCount]

	filename := strings.TrimRight(serializer.Base64URLEncode(packed), "=")

	var b strings.Builder
	step := ps.charsPerLevel()
	for i := 0; i < ps.Levels; i++ {
		b.WriteString(hashString[i*step : (i+1)*step])
		b.WriteByte('/')
	}
	b.WriteString(filename)
	return b.String(), nil
}

// packedFilename packs values and renders them with the URL-safe
// alphabet feature filenames use on disk (spec §9 open question).
func packedFilename(values []any) (string, error) {
	packed, err := msgpack.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("%w: failed to pack key tuple: %v", dserr.ErrInvalidValue, err)
	}
	return strings.TrimRight(serializer.Base64URLEncode(packed), "="), nil
}

func toBigInt(v any) (*big.Int, error) {
	switch value := v.(type) {
	case *big.Int:
		return value, nil
	case int64:
		return big.NewInt(value), nil
	case int:
		return big.NewInt(int64(value)), nil
	case float64:
		return big.NewInt(int64(value)), nil
	case string:
		n, ok := new(big.Int).SetString(value, 10)
		if !ok {
			return nil, fmt.Errorf("cannot parse %q as an integer", value)
		}
		return n, nil
	default:
		return nil, fmt.Errorf("unsupported primary key type %T", v)
	}
}

// encodeBase renders n in the given base to exactly width digit indices,
// left-padding with 0 (the zero digit) or truncating the most
// significant digits if the natural representation is longer than
// width.
func encodeBase(n *big.Int, base int64, width int) []int {
	abs := new(big.Int).Abs(n)
	b := big.NewInt(base)
	zero := big.NewInt(0)
	mod := new(big.Int)
	m := new(big.Int).Set(abs)

	var digits []int
	if m.Cmp(zero) == 0 {
		digits = []int{0}
	}
	for m.Cmp(zero) > 0 {
		m.DivMod(m, b, mod)
		digits = append([]int{int(mod.Int64())}, digits...)
	}

	if len(digits) > width {
		digits = digits[:width]
	}
	for len(digits) < width {
		digits = append([]int{0}, digits...)
	}
	return digits
}

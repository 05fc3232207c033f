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

// Package serializer produces the canonical, hash-stable JSON form used
// for equality checks and for the Kart-wire diff representation: hex WKB
// for geometries, hex for opaque blobs, raw (unquoted) big integers,
// and ISO 8601 strings for temporal values.
package serializer

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/koordinates/tabledataset/valuetype"
)

// LegendIDLength is the number of leading SHA-256 bytes used as a legend's
// content-addressed identifier (spec §4.2, §6).
const LegendIDLength = 20

// HashPrefixHex returns the lowercase hex encoding of the first
// LegendIDLength bytes of sha256(data).
func HashPrefixHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:LegendIDLength])
}

// Value is the tagged union a column's canonical wire rendering is built
// from. A nil Value renders as JSON null.
type Value any

// stringer types whose canonical rendering is their String() form.
type isoStringer interface {
	String() string
}

// ToCanonical converts a raw column value (as produced by a typed
// accessor's Data) into the JSON-marshalable representation used both by
// the equality-check serializer and the kart.diff/v1+hexwkb wire format.
func ToCanonical(value any) (any, error) {
	switch v := value.(type) {
	case nil:
		return nil, nil
	case orb.Geometry:
		data, err := wkb.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode geometry as wkb: %w", err)
		}
		return hex.EncodeToString(data), nil
	case []byte:
		return hex.EncodeToString(v), nil
	case *big.Int:
		return json.RawMessage(v.String()), nil
	case valuetype.Date, valuetype.Time, valuetype.Timestamp, valuetype.Duration:
		return v.(isoStringer).String(), nil
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, raw := range v {
			converted, err := ToCanonical(raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			out[k] = converted
		}
		return out, nil
	default:
		return v, nil
	}
}

// MarshalCanonical marshals value to its canonical JSON form: object keys
// sorted (the stdlib encoding/json default for maps), geometries as hex
// WKB, blobs as hex, big integers as raw numbers, and temporals as ISO
// strings.
func MarshalCanonical(value any) ([]byte, error) {
	converted, err := ToCanonical(value)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(converted); err != nil {
		return nil, err
	}
	result := buf.Bytes()
	if len(result) > 0 && result[len(result)-1] == '\n' {
		result = result[:len(result)-1]
	}
	return result, nil
}

// Base64Encode is the classic (non-URL) alphabet, used for the
// msgpack/hash-scheme folder characters and for blobs in the GeoJSON
// "_kart" form (spec §9 open question).
func Base64Encode(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// Base64URLEncode is the URL-safe alphabet used for feature filenames -
// the packed primary-key tuple encoded under both path-structure
// schemes (spec §9 open question).
func Base64URLEncode(data []byte) string {
	return base64.URLEncoding.EncodeToString(data)
}

// Base64Decode accepts both the classic and URL-safe alphabets, and
// tolerates missing padding, since spec §6 notes both appear across code
// paths and a decoder must accept either on read.
func Base64Decode(s string) ([]byte, error) {
	candidates := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	var lastErr error
	for _, enc := range candidates {
		data, err := enc.DecodeString(s)
		if err == nil {
			return data, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("invalid base64 %q: %w", s, lastErr)
}

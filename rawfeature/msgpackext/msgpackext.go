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

// Package msgpackext registers the MessagePack extension types a Table
// Dataset V3 feature body can contain: extension 71 ("G") for geometry,
// encoded as a geopackage-binary envelope, and the standard timestamp
// extension for instant-in-time values (handled natively by the
// underlying msgpack library).
package msgpackext

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/wkb"
	"github.com/vmihailenco/msgpack/v5"
)

// GeometryExtID is the registered extension type for geometry blobs
// (spec §4.4, §6).
const GeometryExtID = 71

func init() {
	msgpack.RegisterExt(GeometryExtID, (*Geometry)(nil))
}

// Geometry wraps an orb.Geometry so it can be registered as a msgpack
// extension type. Decoding and encoding translate to and from the
// geopackage-binary envelope form the dataset stores on disk.
type Geometry struct {
	Value orb.Geometry
}

func (g *Geometry) MarshalMsgpack() ([]byte, error) {
	return EncodeGeopackage(g.Value)
}

func (g *Geometry) UnmarshalMsgpack(data []byte) error {
	geom, err := DecodeGeopackage(data)
	if err != nil {
		return err
	}
	g.Value = geom
	return nil
}

const (
	gpMagic0 = 'G'
	gpMagic1 = 'P'
)

// envelope indicator values from the geopackage binary header flags byte.
const (
	envelopeNone = 0
	envelopeXY   = 1
)

// EncodeGeopackage writes geom as a geopackage-binary blob: a "GP"
// magic, version byte, flags byte (little-endian, with an xy envelope
// for anything but a bare point), a zero SRS ID, the optional envelope,
// and little-endian WKB.
func EncodeGeopackage(geom orb.Geometry) ([]byte, error) {
	if geom == nil {
		return nil, fmt.Errorf("cannot encode a nil geometry")
	}

	wkbBytes, err := wkb.Marshal(geom, binary.LittleEndian)
	if err != nil {
		return nil, fmt.Errorf("failed to encode geometry as wkb: %w", err)
	}

	hasEnvelope := geom.GeoJSONType() != "Point"

	flags := byte(0x01) // bit 0: little-endian
	if hasEnvelope {
		flags |= envelopeXY << 1
	}

	header := []byte{gpMagic0, gpMagic1, 0x00, flags}
	srsID := make([]byte, 4)
	binary.LittleEndian.PutUint32(srsID, 0)

	out := append(header, srsID...)
	if hasEnvelope {
		bound := geom.Bound()
		envelope := make([]byte, 32)
		binary.LittleEndian.PutUint64(envelope[0:8], math.Float64bits(bound.Min[0]))
		binary.LittleEndian.PutUint64(envelope[8:16], math.Float64bits(bound.Max[0]))
		binary.LittleEndian.PutUint64(envelope[16:24], math.Float64bits(bound.Min[1]))
		binary.LittleEndian.PutUint64(envelope[24:32], math.Float64bits(bound.Max[1]))
		out = append(out, envelope...)
	}
	out = append(out, wkbBytes...)
	return out, nil
}

// envelopeByteLength maps the 3-bit envelope indicator to its byte size.
func envelopeByteLength(code byte) (int, error) {
	switch code {
	case 0:
		return 0, nil
	case 1:
		return 32, nil // minx, maxx, miny, maxy
	case 2, 3:
		return 48, nil // + minz, maxz
	case 4:
		return 64, nil // + minm, maxm
	default:
		return 0, fmt.Errorf("unsupported geopackage envelope indicator %d", code)
	}
}

// DecodeGeopackage parses a geopackage-binary blob and returns the
// contained geometry, ignoring the envelope and SRS ID (the dataset's
// CRS registry is authoritative, per spec §4.4).
func DecodeGeopackage(data []byte) (orb.Geometry, error) {
	if len(data) < 8 || data[0] != gpMagic0 || data[1] != gpMagic1 {
		return nil, fmt.Errorf("invalid geopackage geometry header")
	}
	flags := data[3]
	envelopeCode := (flags >> 1) & 0x07
	envelopeLen, err := envelopeByteLength(envelopeCode)
	if err != nil {
		return nil, err
	}

	wkbOffset := 8 + envelopeLen
	if len(data) < wkbOffset {
		return nil, fmt.Errorf("truncated geopackage geometry: need %d bytes, got %d", wkbOffset, len(data))
	}

	geom, err := wkb.Unmarshal(data[wkbOffset:])
	if err != nil {
		return nil, fmt.Errorf("failed to decode wkb geometry: %w", err)
	}
	return geom, nil
}

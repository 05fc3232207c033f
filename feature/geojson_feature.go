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

package feature

import (
	"encoding/json"
	"fmt"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/koordinates/tabledataset/crs"
	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/schema"
	"github.com/koordinates/tabledataset/serializer"
)

// KartMetadata is the "_kart" block toGeoJSON attaches to every
// feature: the feature's primary-key identity, its eid, and which
// property holds the geometry (spec §4.5).
type KartMetadata struct {
	IDs            map[string]any `json:"ids"`
	Eid            string         `json:"eid"`
	GeometryColumn string         `json:"geometryColumn"`
}

// GeoJSONFeature is the wire shape toGeoJSON produces: a standard
// GeoJSON Feature plus the "_kart" identity block.
type GeoJSONFeature struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Kart       KartMetadata      `json:"_kart"`
	Properties map[string]any    `json:"properties"`
	Geometry   *geojson.Geometry `json:"geometry"`
}

// MarshalJSON renders f with the standard GeoJSON Feature member order.
func (f *GeoJSONFeature) MarshalJSON() ([]byte, error) {
	type alias GeoJSONFeature
	return json.Marshal((*alias)(f))
}

// ToGeoJSON renders the feature as a GeoJSON Feature with a "_kart"
// metadata block, reprojecting its geometry to EPSG:4326 via
// reprojector. Returns nil if the feature has no geometry column or the
// geometry is null (spec §4.5).
func (f *Feature) ToGeoJSON(reprojector crs.Reprojector) (*GeoJSONFeature, error) {
	if f.GeometryColumn == "" {
		return nil, nil
	}

	rawGeom := f.Properties[f.GeometryColumn]
	if rawGeom == nil {
		return nil, nil
	}
	geom, ok := rawGeom.(orb.Geometry)
	if !ok {
		return nil, fmt.Errorf("%w: geometry column %q does not hold a geometry value", dserr.ErrInconsistentState, f.GeometryColumn)
	}

	reprojected := geom
	if reprojector != nil && f.CRS != nil && f.CRS.Identifier != crs.DefaultIdentifier {
		coords, err := reprojectGeometryCoords(reprojector, geom, f.CRS.Identifier, crs.DefaultIdentifier)
		if err != nil {
			return nil, fmt.Errorf("failed to reproject geometry column %q: %w", f.GeometryColumn, err)
		}
		reprojected = coords
	}

	properties := map[string]any{}
	for name, value := range f.Properties {
		if name == f.GeometryColumn {
			continue
		}
		canon, err := toGeoJSONValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode property %q: %w", name, err)
		}
		properties[name] = canon
	}

	ids := map[string]any{}
	for name, value := range f.IDs {
		canon, err := toGeoJSONValue(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode id %q: %w", name, err)
		}
		ids[name] = canon
	}

	return &GeoJSONFeature{
		Type: "Feature",
		ID:   f.Eid,
		Kart: KartMetadata{
			IDs:            ids,
			Eid:            f.Eid,
			GeometryColumn: f.GeometryColumn,
		},
		Properties: properties,
		Geometry:   geojson.NewGeometry(reprojected),
	}, nil
}

// toGeoJSONValue canonicalizes a property/id value for the GeoJSON "_kart"
// wire form: blobs are base64, matching what Blob() decodes on the way
// back in, rather than serializer.ToCanonical's hex (which is for the
// kart.diff wire format, decoded nowhere along this path). Every other
// type defers to serializer.ToCanonical unchanged.
func toGeoJSONValue(value any) (any, error) {
	if b, ok := value.([]byte); ok {
		return serializer.Base64Encode(b), nil
	}
	return serializer.ToCanonical(value)
}

// FromGeoJSON inverts ToGeoJSON: copies primary-key ids from _kart.ids,
// copies properties, places geometry under its schema column name,
// validates against sch, and raises AggregateError on any constraint
// violation (spec §4.5).
func FromGeoJSON(gf *GeoJSONFeature, sch *schema.Schema) (*Feature, error) {
	f := &Feature{
		Schema:     sch,
		IDs:        map[string]any{},
		Properties: map[string]any{},
		Eid:        gf.Kart.Eid,
	}

	for k, v := range gf.Kart.IDs {
		f.IDs[k] = v
	}
	for k, v := range gf.Properties {
		f.Properties[k] = v
	}

	if geomEntry, ok := sch.PrimaryGeometry(); ok {
		f.GeometryColumn = geomEntry.Name
		if gf.Geometry != nil {
			f.Properties[geomEntry.Name] = gf.Geometry.Geometry()
		}
	}

	var agg dserr.AggregateError
	for _, e := range sch.Entries {
		result := f.access(e.Name)
		if !result.OK {
			agg.Errors = append(agg.Errors, result.Errors...)
		}
	}
	if len(agg.Errors) > 0 {
		return nil, &agg
	}

	return f, nil
}

// access dispatches to the typed accessor matching e's declared
// dataType, used by FromGeoJSON to validate every column once.
func (f *Feature) access(name string) Result {
	e, ok := f.Schema.ByName(name)
	if !ok {
		return Result{OK: true}
	}
	switch e.DataType {
	case schema.DataTypeBlob:
		return f.Blob(name)
	case schema.DataTypeBoolean:
		return f.Boolean(name)
	case schema.DataTypeDate:
		return f.Date(name)
	case schema.DataTypeFloat:
		return f.Float(name)
	case schema.DataTypeGeometry:
		return f.Geometry(name)
	case schema.DataTypeInteger:
		return f.Integer(name)
	case schema.DataTypeInterval:
		return f.Interval(name)
	case schema.DataTypeNumeric:
		return f.Numeric(name)
	case schema.DataTypeText:
		return f.Text(name)
	case schema.DataTypeTime:
		return f.Time(name)
	case schema.DataTypeTimestamp:
		return f.Timestamp(name)
	default:
		return Result{OK: true}
	}
}

// reprojectGeometryCoords walks geom's coordinates through reprojector.
// Supported for the common single-ring/point shapes; geometry
// collections are reprojected member-wise.
func reprojectGeometryCoords(reprojector crs.Reprojector, geom orb.Geometry, fromCRS, toCRS string) (orb.Geometry, error) {
	switch g := geom.(type) {
	case orb.Point:
		out, err := reprojector.Reproject([][]float64{{g[0], g[1]}}, fromCRS, toCRS)
		if err != nil {
			return nil, err
		}
		return orb.Point{out[0][0], out[0][1]}, nil
	case orb.MultiPoint:
		coords := pointsToCoords(g)
		out, err := reprojector.Reproject(coords, fromCRS, toCRS)
		if err != nil {
			return nil, err
		}
		return coordsToMultiPoint(out), nil
	case orb.LineString:
		return reprojectLineString(reprojector, g, fromCRS, toCRS)
	case orb.Polygon:
		rings := make(orb.Polygon, len(g))
		for i, ring := range g {
			reprojected, err := reprojectLineString(reprojector, orb.LineString(ring), fromCRS, toCRS)
			if err != nil {
				return nil, err
			}
			rings[i] = orb.Ring(reprojected)
		}
		return rings, nil
	case orb.MultiLineString:
		lines := make(orb.MultiLineString, len(g))
		for i, line := range g {
			reprojected, err := reprojectLineString(reprojector, line, fromCRS, toCRS)
			if err != nil {
				return nil, err
			}
			lines[i] = reprojected
		}
		return lines, nil
	case orb.MultiPolygon:
		polys := make(orb.MultiPolygon, len(g))
		for i, poly := range g {
			reprojectedPoly, err := reprojectGeometryCoords(reprojector, poly, fromCRS, toCRS)
			if err != nil {
				return nil, err
			}
			polys[i] = reprojectedPoly.(orb.Polygon)
		}
		return polys, nil
	case orb.Collection:
		out := make(orb.Collection, len(g))
		for i, member := range g {
			reprojectedMember, err := reprojectGeometryCoords(reprojector, member, fromCRS, toCRS)
			if err != nil {
				return nil, err
			}
			out[i] = reprojectedMember
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: reprojection not supported for geometry type %T", dserr.ErrUnsupported, geom)
	}
}

func reprojectLineString(reprojector crs.Reprojector, line orb.LineString, fromCRS, toCRS string) (orb.LineString, error) {
	coords := pointsToCoords([]orb.Point(line))
	out, err := reprojector.Reproject(coords, fromCRS, toCRS)
	if err != nil {
		return nil, err
	}
	return coordsToLineString(out), nil
}

func pointsToCoords(points []orb.Point) [][]float64 {
	coords := make([][]float64, len(points))
	for i, p := range points {
		coords[i] = []float64{p[0], p[1]}
	}
	return coords
}

func coordsToMultiPoint(coords [][]float64) orb.MultiPoint {
	points := make(orb.MultiPoint, len(coords))
	for i, c := range coords {
		points[i] = orb.Point{c[0], c[1]}
	}
	return points
}

func coordsToLineString(coords [][]float64) orb.LineString {
	points := make(orb.LineString, len(coords))
	for i, c := range coords {
		points[i] = orb.Point{c[0], c[1]}
	}
	return points
}

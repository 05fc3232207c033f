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
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	"github.com/koordinates/tabledataset/dserr"
	"github.com/koordinates/tabledataset/schema"
	"github.com/koordinates/tabledataset/serializer"
	"github.com/koordinates/tabledataset/valuetype"
)

var integerPattern = regexp.MustCompile(`^-?\d+n?$`)
var numericPattern = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// Blob returns the byte sequence stored at name, accepting a native
// byte slice, a base64 string, or an array of 0..255 integers.
func (f *Feature) Blob(name string) Result {
	e := f.checkType(name, schema.DataTypeBlob)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeBlob, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	switch v := raw.(type) {
	case []byte:
		return Result{Type: schema.DataTypeBlob, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v}
	case string:
		data, err := serializer.Base64Decode(v)
		if err != nil {
			return fail(schema.DataTypeBlob, e.IsPrimaryKey(), name, "invalid_format", err.Error())
		}
		return Result{Type: schema.DataTypeBlob, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: data}
	case []any:
		data := make([]byte, len(v))
		for i, elem := range v {
			n, ok := asInt64(elem)
			if !ok || n < 0 || n > 255 {
				return fail(schema.DataTypeBlob, e.IsPrimaryKey(), name, "invalid_format", "blob byte array elements must be 0..255")
			}
			data[i] = byte(n)
		}
		return Result{Type: schema.DataTypeBlob, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: data}
	default:
		return fail(schema.DataTypeBlob, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to blob", raw))
	}
}

// Boolean returns the bool stored at name, accepting a native bool, 0/1,
// or a case-insensitive "true"/"false" string.
func (f *Feature) Boolean(name string) Result {
	e := f.checkType(name, schema.DataTypeBoolean)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeBoolean, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	switch v := raw.(type) {
	case bool:
		return Result{Type: schema.DataTypeBoolean, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v}
	case int64:
		return Result{Type: schema.DataTypeBoolean, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v != 0}
	case int:
		return Result{Type: schema.DataTypeBoolean, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v != 0}
	case float64:
		return Result{Type: schema.DataTypeBoolean, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v != 0}
	case string:
		switch strings.ToLower(v) {
		case "true":
			return Result{Type: schema.DataTypeBoolean, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: true}
		case "false":
			return Result{Type: schema.DataTypeBoolean, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: false}
		default:
			return fail(schema.DataTypeBoolean, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %q to boolean", v))
		}
	default:
		return fail(schema.DataTypeBoolean, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to boolean", raw))
	}
}

// Date returns the valuetype.Date stored at name, parsing an ISO 8601
// date string and requiring the round trip (parse, then String()) to
// reproduce the input exactly.
func (f *Feature) Date(name string) Result {
	e := f.checkType(name, schema.DataTypeDate)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeDate, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	switch v := raw.(type) {
	case valuetype.Date:
		return Result{Type: schema.DataTypeDate, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v}
	case string:
		d, err := valuetype.ParseDate(v)
		if err != nil {
			return fail(schema.DataTypeDate, e.IsPrimaryKey(), name, "invalid_format", err.Error())
		}
		if d.String() != v {
			return fail(schema.DataTypeDate, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("date %q does not round-trip", v))
		}
		return Result{Type: schema.DataTypeDate, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: d}
	default:
		return fail(schema.DataTypeDate, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to date", raw))
	}
}

// Time returns the valuetype.Time stored at name.
func (f *Feature) Time(name string) Result {
	e := f.checkType(name, schema.DataTypeTime)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeTime, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	switch v := raw.(type) {
	case valuetype.Time:
		return Result{Type: schema.DataTypeTime, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v}
	case string:
		t, err := valuetype.ParseTime(v)
		if err != nil {
			return fail(schema.DataTypeTime, e.IsPrimaryKey(), name, "invalid_format", err.Error())
		}
		if t.String() != v {
			return fail(schema.DataTypeTime, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("time %q does not round-trip", v))
		}
		return Result{Type: schema.DataTypeTime, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: t}
	default:
		return fail(schema.DataTypeTime, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to time", raw))
	}
}

// Timestamp returns the valuetype.Timestamp stored at name.
func (f *Feature) Timestamp(name string) Result {
	e := f.checkType(name, schema.DataTypeTimestamp)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeTimestamp, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	switch v := raw.(type) {
	case valuetype.Timestamp:
		return Result{Type: schema.DataTypeTimestamp, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v}
	case string:
		ts, err := valuetype.ParseTimestamp(v)
		if err != nil {
			return fail(schema.DataTypeTimestamp, e.IsPrimaryKey(), name, "invalid_format", err.Error())
		}
		if ts.String() != v {
			return fail(schema.DataTypeTimestamp, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("timestamp %q does not round-trip", v))
		}
		return Result{Type: schema.DataTypeTimestamp, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: ts}
	default:
		return fail(schema.DataTypeTimestamp, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to timestamp", raw))
	}
}

// Interval returns the valuetype.Duration stored at name.
func (f *Feature) Interval(name string) Result {
	e := f.checkType(name, schema.DataTypeInterval)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeInterval, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	switch v := raw.(type) {
	case valuetype.Duration:
		return Result{Type: schema.DataTypeInterval, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: v}
	case string:
		d, err := valuetype.ParseDuration(v)
		if err != nil {
			return fail(schema.DataTypeInterval, e.IsPrimaryKey(), name, "invalid_format", err.Error())
		}
		if d.String() != v {
			return fail(schema.DataTypeInterval, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("interval %q does not round-trip", v))
		}
		return Result{Type: schema.DataTypeInterval, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: d}
	default:
		return fail(schema.DataTypeInterval, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to interval", raw))
	}
}

// Float returns the float64 stored at name, accepting a native number
// or a string parseable to a finite number.
func (f *Feature) Float(name string) Result {
	e := f.checkType(name, schema.DataTypeFloat)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeFloat, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case float32:
		n = float64(v)
	case int64:
		n = float64(v)
	case int:
		n = float64(v)
	case string:
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fail(schema.DataTypeFloat, e.IsPrimaryKey(), name, "invalid_format", err.Error())
		}
		n = parsed
	default:
		return fail(schema.DataTypeFloat, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to float", raw))
	}

	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fail(schema.DataTypeFloat, e.IsPrimaryKey(), name, "invalid_format", "float value must be finite")
	}
	return Result{Type: schema.DataTypeFloat, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: n}
}

// Integer returns the *big.Int stored at name, rejecting values outside
// the declared signed bit size (schema.Entry.Size).
func (f *Feature) Integer(name string) Result {
	e := f.checkType(name, schema.DataTypeInteger)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeInteger, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	var n *big.Int
	switch v := raw.(type) {
	case *big.Int:
		n = v
	case int64:
		n = big.NewInt(v)
	case int:
		n = big.NewInt(int64(v))
	case string:
		if !integerPattern.MatchString(v) {
			return fail(schema.DataTypeInteger, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("%q is not an integer literal", v))
		}
		parsed, ok := new(big.Int).SetString(strings.TrimSuffix(v, "n"), 10)
		if !ok {
			return fail(schema.DataTypeInteger, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot parse %q as an integer", v))
		}
		n = parsed
	case json.RawMessage:
		parsed, ok := new(big.Int).SetString(strings.TrimSpace(string(v)), 10)
		if !ok {
			return fail(schema.DataTypeInteger, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot parse %q as an integer", string(v)))
		}
		n = parsed
	case json.Number:
		parsed, ok := new(big.Int).SetString(v.String(), 10)
		if !ok {
			return fail(schema.DataTypeInteger, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot parse %q as an integer", v.String()))
		}
		n = parsed
	default:
		return fail(schema.DataTypeInteger, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to integer", raw))
	}

	if e.Size > 0 {
		half := new(big.Int).Lsh(big.NewInt(1), uint(e.Size-1))
		max := new(big.Int).Sub(half, big.NewInt(1))
		min := new(big.Int).Neg(half)
		if n.Cmp(min) < 0 || n.Cmp(max) > 0 {
			return fail(schema.DataTypeInteger, e.IsPrimaryKey(), name, "out_of_range",
				fmt.Sprintf("%s does not fit in a signed %d-bit integer", n.String(), e.Size))
		}
	}
	return Result{Type: schema.DataTypeInteger, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: n}
}

// Numeric returns the fixed-point decimal stored at name, as its
// canonical decimal string. Precision/scale violations are reported in
// Errors but the parsed value is still returned, per spec §4.5.
func (f *Feature) Numeric(name string) Result {
	e := f.checkType(name, schema.DataTypeNumeric)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeNumeric, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	var s string
	switch v := raw.(type) {
	case string:
		s = v
	case float64:
		s = strconv.FormatFloat(v, 'f', -1, 64)
	case *big.Int:
		s = v.String()
	default:
		return fail(schema.DataTypeNumeric, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to numeric", raw))
	}

	if !numericPattern.MatchString(s) {
		return fail(schema.DataTypeNumeric, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("%q is not a decimal literal", s))
	}

	precision, scale := decimalPrecisionScale(s)
	result := Result{Type: schema.DataTypeNumeric, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: s}

	if e.Precision > 0 && precision > e.Precision {
		result.Errors = append(result.Errors, &dserr.FieldError{
			Field: name, Code: "too_big",
			Message: fmt.Sprintf("precision %d exceeds schema precision %d", precision, e.Precision),
		})
	}
	if e.Scale > 0 && scale > e.Scale {
		result.Errors = append(result.Errors, &dserr.FieldError{
			Field: name, Code: "too_big",
			Message: fmt.Sprintf("scale %d exceeds schema scale %d", scale, e.Scale),
		})
	}
	return result
}

// decimalPrecisionScale counts total significant digits and digits
// after the decimal point in a string matching numericPattern.
func decimalPrecisionScale(s string) (precision, scale int) {
	s = strings.TrimPrefix(s, "-")
	parts := strings.SplitN(s, ".", 2)
	intPart := strings.TrimLeft(parts[0], "0")
	if intPart == "" {
		intPart = "0"
	}
	precision = len(intPart)
	if intPart == "0" {
		precision = 0
	}
	if len(parts) == 2 {
		scale = len(parts[1])
		precision += scale
	}
	if precision == 0 && scale == 0 {
		precision = 1
	}
	return precision, scale
}

// Text returns the string stored at name, rejecting one longer than
// schema.Entry.Length when set.
func (f *Feature) Text(name string) Result {
	e := f.checkType(name, schema.DataTypeText)
	raw := f.rawValue(name, e.IsPrimaryKey())
	if raw == nil {
		return Result{Type: schema.DataTypeText, IsPrimaryKey: e.IsPrimaryKey(), OK: true}
	}

	s, ok := raw.(string)
	if !ok {
		return fail(schema.DataTypeText, e.IsPrimaryKey(), name, "invalid_format", fmt.Sprintf("cannot coerce %T to text", raw))
	}

	if e.Length > 0 && len([]rune(s)) > e.Length {
		return fail(schema.DataTypeText, e.IsPrimaryKey(), name, "too_big",
			fmt.Sprintf("text length %d exceeds schema length %d", len([]rune(s)), e.Length))
	}
	return Result{Type: schema.DataTypeText, IsPrimaryKey: e.IsPrimaryKey(), OK: true, Data: s}
}

func asInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

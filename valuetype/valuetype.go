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

// Package valuetype holds the plain temporal value types
// that schema-typed columns project onto: dates, times, and timestamps
// without a timezone, and ISO 8601 durations.
// None of these carry validation state of their own; callers compare a
// round-tripped string against the input to detect lossy coercions.
package valuetype

import (
	"fmt"
	"strings"
	"time"
)

const (
	dateLayout      = "2006-01-02"
	timeLayout      = "15:04:05.999999999"
	timestampLayout = "2006-01-02T15:04:05.999999999"
)

// Date is a calendar date with no time-of-day or timezone component.
type Date struct {
	t time.Time
}

func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{t: t}, nil
}

func (d Date) String() string {
	return d.t.Format(dateLayout)
}

func (d Date) Equal(other Date) bool {
	return d.t.Equal(other.t)
}

// Time is a time-of-day with no date or timezone component.
type Time struct {
	t time.Time
}

func ParseTime(s string) (Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return Time{}, fmt.Errorf("invalid time %q: %w", s, err)
	}
	return Time{t: t}, nil
}

func (t Time) String() string {
	return t.t.Format(timeLayout)
}

func (t Time) Equal(other Time) bool {
	return t.t.Equal(other.t)
}

// Timestamp is a date and time-of-day with no timezone, matching the
// "timestamp" schema type when its timezone attribute is null.
type Timestamp struct {
	t time.Time
}

func ParseTimestamp(s string) (Timestamp, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return Timestamp{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return Timestamp{t: t}, nil
}

func (ts Timestamp) String() string {
	return ts.t.Format(timestampLayout)
}

func (ts Timestamp) Equal(other Timestamp) bool {
	return ts.t.Equal(other.t)
}

func (ts Timestamp) Time() time.Time {
	return ts.t
}

func FromUnix(sec int64, nsec int64) Timestamp {
	return Timestamp{t: time.Unix(sec, nsec).UTC()}
}

func (ts Timestamp) Unix() (sec int64, nsec int64) {
	return ts.t.Unix(), int64(ts.t.Nanosecond())
}

// Duration is an ISO 8601 duration, e.g. "P1DT2H3M4.5S". It is kept
// distinct from time.Duration because ISO 8601 durations carry calendar
// components (years, months, days) that don't reduce to a fixed number
// of nanoseconds.
type Duration struct {
	Years, Months, Days             int
	Hours, Minutes                  int
	Seconds                         float64
}

func ParseDuration(s string) (Duration, error) {
	orig := s
	if len(s) == 0 || s[0] != 'P' {
		return Duration{}, fmt.Errorf("invalid duration %q: must start with P", orig)
	}
	s = s[1:]

	datePart := s
	timePart := ""
	if idx := strings.IndexByte(s, 'T'); idx >= 0 {
		datePart = s[:idx]
		timePart = s[idx+1:]
	}

	d := Duration{}
	var err error
	datePart, d.Years, err = consumeUnit(datePart, 'Y')
	if err != nil {
		return Duration{}, fmt.Errorf("invalid duration %q: %w", orig, err)
	}
	datePart, d.Months, err = consumeUnit(datePart, 'M')
	if err != nil {
		return Duration{}, fmt.Errorf("invalid duration %q: %w", orig, err)
	}
	datePart, d.Days, err = consumeUnit(datePart, 'D')
	if err != nil {
		return Duration{}, fmt.Errorf("invalid duration %q: %w", orig, err)
	}
	if datePart != "" {
		return Duration{}, fmt.Errorf("invalid duration %q: unexpected trailing %q", orig, datePart)
	}

	if timePart != "" {
		timePart, d.Hours, err = consumeUnit(timePart, 'H')
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", orig, err)
		}
		timePart, d.Minutes, err = consumeUnit(timePart, 'M')
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", orig, err)
		}
		var secs float64
		timePart, secs, err = consumeFloatUnit(timePart, 'S')
		if err != nil {
			return Duration{}, fmt.Errorf("invalid duration %q: %w", orig, err)
		}
		d.Seconds = secs
		if timePart != "" {
			return Duration{}, fmt.Errorf("invalid duration %q: unexpected trailing %q", orig, timePart)
		}
	}

	return d, nil
}

func consumeUnit(s string, unit byte) (string, int, error) {
	idx := strings.IndexByte(s, unit)
	if idx < 0 {
		return s, 0, nil
	}
	var n int
	if _, err := fmt.Sscanf(s[:idx], "%d", &n); err != nil {
		return s, 0, fmt.Errorf("invalid %c component %q", unit, s[:idx])
	}
	return s[idx+1:], n, nil
}

func consumeFloatUnit(s string, unit byte) (string, float64, error) {
	idx := strings.IndexByte(s, unit)
	if idx < 0 {
		return s, 0, nil
	}
	var n float64
	if _, err := fmt.Sscanf(s[:idx], "%g", &n); err != nil {
		return s, 0, fmt.Errorf("invalid %c component %q", unit, s[:idx])
	}
	return s[idx+1:], n, nil
}

func (d Duration) String() string {
	var b strings.Builder
	b.WriteByte('P')
	if d.Years != 0 {
		fmt.Fprintf(&b, "%dY", d.Years)
	}
	if d.Months != 0 {
		fmt.Fprintf(&b, "%dM", d.Months)
	}
	if d.Days != 0 {
		fmt.Fprintf(&b, "%dD", d.Days)
	}
	hasTime := d.Hours != 0 || d.Minutes != 0 || d.Seconds != 0
	if hasTime {
		b.WriteByte('T')
		if d.Hours != 0 {
			fmt.Fprintf(&b, "%dH", d.Hours)
		}
		if d.Minutes != 0 {
			fmt.Fprintf(&b, "%dM", d.Minutes)
		}
		if d.Seconds != 0 {
			s := fmt.Sprintf("%g", d.Seconds)
			fmt.Fprintf(&b, "%sS", s)
		}
	}
	if b.Len() == 1 {
		return "PT0S"
	}
	return b.String()
}

func (d Duration) Equal(other Duration) bool {
	return d == other
}

// Copyright 2024 distinst-go Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sector resolves the human-facing sector grammar (spec §3, §4.1)
// into absolute sector offsets for a given device geometry.
package sector

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind discriminates the Sector variants.
type Kind int

const (
	Start Kind = iota
	End
	Unit
	UnitFromEnd
	Megabyte
	MegabyteFromEnd
	Percent
)

// Sector is the tagged union described in spec §3. Value holds the u64
// payload for Unit/UnitFromEnd/Megabyte/MegabyteFromEnd, and the percent
// (0..=65535, where 65535 == 100%) for Percent.
type Sector struct {
	Kind  Kind
	Value uint64
}

const maxPercent = math.MaxUint16

// StartOffsetBytes is the fixed 2MiB alignment spec'd for Start.
const StartOffsetBytes = 2 * 1024 * 1024

// Resolve turns a Sector into an absolute sector number on a device with
// total sectors and logical block size lbs. The result never exceeds
// total.
func (s Sector) Resolve(total, lbs uint64) (uint64, error) {
	v, err := s.ResolveUnclamped(total, lbs)
	if err != nil {
		return 0, err
	}
	if v > total {
		v = total
	}
	return v, nil
}

// ResolveUnclamped resolves like Resolve but returns the raw value even
// when it exceeds total. Resolve's clamp is the right behavior for most
// callers, but it also erases the information an out-of-bounds check
// needs; callers that must reject (rather than silently truncate) an
// over-total sector — e.g. add_partition's end-sector check, spec §8 —
// should compare this against total themselves before clamping.
func (s Sector) ResolveUnclamped(total, lbs uint64) (uint64, error) {
	var v uint64
	switch s.Kind {
	case Start:
		v = StartOffsetBytes / lbs
	case End:
		start := StartOffsetBytes / lbs
		if total < start {
			v = 0
		} else {
			v = total - start
		}
	case Unit:
		v = s.Value
	case UnitFromEnd:
		if s.Value > total {
			v = 0
		} else {
			v = total - s.Value
		}
	case Megabyte:
		v = (s.Value * 1024 * 1024) / lbs
	case MegabyteFromEnd:
		mb := (s.Value * 1024 * 1024) / lbs
		if mb > total {
			v = 0
		} else {
			v = total - mb
		}
	case Percent:
		if s.Value > maxPercent {
			return 0, fmt.Errorf("invalid percent: %d", s.Value)
		}
		// The two endpoints are special-cased: the truncating formula
		// below loses precision at the top of its range and would
		// otherwise resolve maxPercent (100%) short of total (spec §8:
		// "Percent(u16::MAX) resolves to exactly total_sectors").
		switch s.Value {
		case 0:
			v = 0
		case maxPercent:
			v = total
		default:
			// total*lbs/max * pct, then back to sectors by /lbs: ordered
			// this way (not pct*total/max) to avoid overflow on large
			// disks without widening past u64, per spec §4.1.
			v = (total * lbs / maxPercent * s.Value) / lbs
		}
	default:
		return 0, fmt.Errorf("invalid sector kind: %d", s.Kind)
	}
	return v, nil
}

// String renders the canonical textual form, inverse of Parse.
func (s Sector) String() string {
	switch s.Kind {
	case Start:
		return "start"
	case End:
		return "end"
	case Unit:
		return strconv.FormatUint(s.Value, 10)
	case UnitFromEnd:
		return "-" + strconv.FormatUint(s.Value, 10)
	case Megabyte:
		return strconv.FormatUint(s.Value, 10) + "M"
	case MegabyteFromEnd:
		return "-" + strconv.FormatUint(s.Value, 10) + "M"
	case Percent:
		pct := (uint64(s.Value)*100 + maxPercent/2) / maxPercent
		return strconv.FormatUint(pct, 10) + "%"
	default:
		return "invalid"
	}
}

// Parse implements the grammar from spec §3:
//
//	"start" | "end" | N | -N | N 'M' | -N 'M' | N '%'   with 0 <= N% <= 100
func Parse(s string) (Sector, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "start":
		return Sector{Kind: Start}, nil
	case "end":
		return Sector{Kind: End}, nil
	}
	if s == "" {
		return Sector{}, fmt.Errorf("empty sector expression")
	}

	if strings.HasSuffix(s, "%") {
		n, err := strconv.ParseUint(strings.TrimSuffix(s, "%"), 10, 64)
		if err != nil {
			return Sector{}, fmt.Errorf("invalid percent sector %q: %w", s, err)
		}
		if n > 100 {
			return Sector{}, fmt.Errorf("percent out of range 0..=100: %d", n)
		}
		return Sector{Kind: Percent, Value: n * maxPercent / 100}, nil
	}

	negative := strings.HasPrefix(s, "-")
	body := strings.TrimPrefix(s, "-")

	if strings.HasSuffix(body, "M") {
		n, err := strconv.ParseUint(strings.TrimSuffix(body, "M"), 10, 64)
		if err != nil {
			return Sector{}, fmt.Errorf("invalid megabyte sector %q: %w", s, err)
		}
		if negative {
			return Sector{Kind: MegabyteFromEnd, Value: n}, nil
		}
		return Sector{Kind: Megabyte, Value: n}, nil
	}

	n, err := strconv.ParseUint(body, 10, 64)
	if err != nil {
		return Sector{}, fmt.Errorf("invalid sector %q: %w", s, err)
	}
	if negative {
		return Sector{Kind: UnitFromEnd, Value: n}, nil
	}
	return Sector{Kind: Unit, Value: n}, nil
}

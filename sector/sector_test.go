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

package sector

import "testing"

func TestResolveBoundaries(t *testing.T) {
	const total = 1_000_000
	const lbs = 512

	got, err := Sector{Kind: Percent, Value: maxPercent}.Resolve(total, lbs)
	if err != nil || got != total {
		t.Fatalf("Percent(max) = %d, %v; want %d, nil", got, err, total)
	}

	got, err = Sector{Kind: Percent, Value: 0}.Resolve(total, lbs)
	if err != nil || got != 0 {
		t.Fatalf("Percent(0) = %d, %v; want 0, nil", got, err)
	}

	got, err = Sector{Kind: Start}.Resolve(total, lbs)
	want := uint64(StartOffsetBytes / lbs)
	if err != nil || got != want {
		t.Fatalf("Start = %d, %v; want %d, nil", got, err, want)
	}

	got, err = Sector{Kind: End}.Resolve(total, lbs)
	if err != nil || got != total-want {
		t.Fatalf("End = %d, %v; want %d, nil", got, err, total-want)
	}

	// Resolve never exceeds total.
	got, err = Sector{Kind: Unit, Value: total + 1000}.Resolve(total, lbs)
	if err != nil || got != total {
		t.Fatalf("Unit(total+1000) = %d, %v; want %d, nil", got, err, total)
	}
}

func TestResolveUnclampedSurfacesOutOfBounds(t *testing.T) {
	const total = 1_000_000
	const lbs = 512

	got, err := Sector{Kind: Unit, Value: total + 1}.ResolveUnclamped(total, lbs)
	if err != nil || got != total+1 {
		t.Fatalf("ResolveUnclamped(Unit(total+1)) = %d, %v; want %d, nil", got, err, total+1)
	}

	got, err = Sector{Kind: Unit, Value: total}.ResolveUnclamped(total, lbs)
	if err != nil || got != total {
		t.Fatalf("ResolveUnclamped(Unit(total)) = %d, %v; want %d, nil", got, err, total)
	}
}

func TestParseDisplayRoundTrip(t *testing.T) {
	cases := []string{"start", "end", "0", "2048", "-2048", "538M", "-538M", "50%", "100%", "0%"}
	for _, c := range cases {
		s, err := Parse(c)
		if err != nil {
			t.Fatalf("Parse(%q): %v", c, err)
		}
		got := s.String()
		if got != c {
			t.Errorf("Parse(%q).String() = %q, want %q", c, got, c)
		}
	}
}

func TestParseInvalid(t *testing.T) {
	for _, c := range []string{"", "101%", "abc", "-abc", "3.5"} {
		if _, err := Parse(c); err == nil {
			t.Errorf("Parse(%q): expected error", c)
		}
	}
}

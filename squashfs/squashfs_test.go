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

package squashfs

import (
	"strings"
	"testing"
)

func TestReadProgressDedupesConsecutiveValues(t *testing.T) {
	input := "[=====     ] 100/1000  10%\r" +
		"[=====     ] 100/1000  10%\r" +
		"[==========] 500/1000  50%\r" +
		"[==========] 1000/1000 100%\n"

	var ticks []int
	readProgress(strings.NewReader(input), func(pct int) { ticks = append(ticks, pct) })

	want := []int{10, 50, 100}
	if len(ticks) != len(want) {
		t.Fatalf("got %v, want %v", ticks, want)
	}
	for i := range want {
		if ticks[i] != want[i] {
			t.Errorf("tick %d = %d, want %d", i, ticks[i], want[i])
		}
	}
}

func TestReadProgressIgnoresNonProgressLines(t *testing.T) {
	input := "Parallel unsquashfs: Using 4 processors\r100 inodes\n"
	var ticks []int
	readProgress(strings.NewReader(input), func(pct int) { ticks = append(ticks, pct) })
	if len(ticks) != 0 {
		t.Errorf("expected no progress ticks from non-progress lines, got %v", ticks)
	}
}

func TestProgressLineRegex(t *testing.T) {
	cases := map[string]bool{
		"[=====     ] 100/1000  10%": true,
		"[==========] 1000/1000 100%": true,
		"not a progress line":         false,
	}
	for line, want := range cases {
		if got := progressLine.MatchString(line); got != want {
			t.Errorf("progressLine.MatchString(%q) = %v, want %v", line, got, want)
		}
	}
}

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

import "github.com/dustin/go-humanize"

// Describe resolves s against total and lbs and renders the byte offset
// of the resolved sector as a human-readable size (e.g. "564 MB" for
// "538M" with 512-byte sectors).
func Describe(s Sector, total, lbs uint64) (string, error) {
	abs, err := s.Resolve(total, lbs)
	if err != nil {
		return "", err
	}
	return humanize.Bytes(abs * lbs), nil
}

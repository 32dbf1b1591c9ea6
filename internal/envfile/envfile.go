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

// Package envfile reads and writes simple KEY=VALUE files: grub's
// /etc/default/grub and the live system's /cdrom/recovery.conf (spec §6),
// generalized from distinst's crates/envfile.
package envfile

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// File is an in-memory KEY=VALUE store loaded from (and writable back to)
// path. Load keeps only KEY=VALUE lines and strips surrounding double
// quotes from values; Write emits values unquoted, with keys in sorted
// order. Other lines and the original quoting are not preserved.
type File struct {
	path  string
	store map[string]string
}

// Load reads path, tolerating a missing file (returned as an empty store,
// matching grub's own "create the file on first write" default file
// behavior).
func Load(path string) (*File, error) {
	f := &File{path: path, store: map[string]string{}}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	for _, line := range strings.Split(string(data), "\n") {
		eq := strings.IndexByte(line, '=')
		if eq < 0 {
			continue
		}
		key := line[:eq]
		value := strings.Trim(line[eq+1:], `"`)
		f.store[key] = value
	}
	return f, nil
}

// Get returns the value for key, and whether it was present.
func (f *File) Get(key string) (string, bool) {
	v, ok := f.store[key]
	return v, ok
}

// Set inserts or overwrites key.
func (f *File) Set(key, value string) {
	f.store[key] = value
}

// Write serializes the store back to its path, one KEY=VALUE per line in
// sorted key order, matching the original's BTreeMap-backed determinism.
func (f *File) Write() error {
	keys := make([]string, 0, len(f.store))
	for k := range f.store {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s=%s\n", k, f.store[k])
	}
	if err := os.WriteFile(f.path, buf.Bytes(), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", f.path)
	}
	return nil
}

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

package probe

import (
	"os"
	"path/filepath"
)

// PartitionID is a resolved kernel-exposed identifier for a partition.
type PartitionID struct {
	Kind string // "uuid", "partuuid", "label", "partlabel", "id"
	Path string // the /dev/disk/by-* symlink itself, whose target is the device
}

var byDirs = []string{"by-uuid", "by-partuuid", "by-label", "by-partlabel", "by-id"}

func kindFromDir(dir string) string {
	switch dir {
	case "by-uuid":
		return "uuid"
	case "by-partuuid":
		return "partuuid"
	case "by-label":
		return "label"
	case "by-partlabel":
		return "partlabel"
	default:
		return "id"
	}
}

// ResolveIdentifiers scans /dev/disk/by-{uuid,partuuid,label,partlabel,id}
// for every symlink pointing at devicePath, returning one PartitionID per
// matching identifier class (spec §4.3).
func ResolveIdentifiers(devicePath string) ([]PartitionID, error) {
	resolved, err := filepath.EvalSymlinks(devicePath)
	if err != nil {
		resolved = devicePath
	}

	var out []PartitionID
	for _, dir := range byDirs {
		base := filepath.Join("/dev/disk", dir)
		entries, err := os.ReadDir(base)
		if err != nil {
			continue
		}
		for _, e := range entries {
			link := filepath.Join(base, e.Name())
			target, err := filepath.EvalSymlinks(link)
			if err != nil || target != resolved {
				continue
			}
			out = append(out, PartitionID{Kind: kindFromDir(dir), Path: link})
		}
	}
	return out, nil
}

// PreferredIdentifier picks the identifier fstab/crypttab generation
// should use for a partition of the given mount fstype: PARTUUID is
// preferred over UUID for FAT filesystems, since FAT's 32-bit volume
// "UUID" is short enough to collide across independently formatted
// volumes (spec §4.3).
func PreferredIdentifier(ids []PartitionID, fatLike bool) *PartitionID {
	pick := func(kind string) *PartitionID {
		for i := range ids {
			if ids[i].Kind == kind {
				return &ids[i]
			}
		}
		return nil
	}
	if fatLike {
		if p := pick("partuuid"); p != nil {
			return p
		}
		return pick("uuid")
	}
	if p := pick("uuid"); p != nil {
		return p
	}
	return pick("partuuid")
}

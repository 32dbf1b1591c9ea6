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

// Package disk is the typed, validating in-memory disk model (spec §3,
// §4.4): physical disks, partitions, LVM devices and LUKS descriptors,
// with the size/overlap/table-kind/filesystem invariants that gate every
// mutation a caller makes before commit.
package disk

import "fmt"

// FileSystem enumerates the filesystem kinds the engine understands. Luks
// and Lvm are opaque containers: they take no mkfs and have no direct
// size-validity rule of their own.
type FileSystem int

const (
	Btrfs FileSystem = iota
	Exfat
	Ext2
	Ext3
	Ext4
	F2fs
	Fat16
	Fat32
	Ntfs
	Swap
	Xfs
	Luks
	Lvm
)

const mib = 1024 * 1024
const gib = 1024 * mib
const tib = 1024 * gib

var names = map[FileSystem]string{
	Btrfs: "btrfs", Exfat: "exfat", Ext2: "ext2", Ext3: "ext3", Ext4: "ext4",
	F2fs: "f2fs", Fat16: "fat16", Fat32: "fat32", Ntfs: "ntfs", Swap: "swap",
	Xfs: "xfs", Luks: "luks", Lvm: "lvm",
}

// String returns the canonical name, e.g. "ext4".
func (f FileSystem) String() string {
	if n, ok := names[f]; ok {
		return n
	}
	return fmt.Sprintf("FileSystem(%d)", int(f))
}

// MountFSType returns the string the kernel/mount(8) expects in the fstype
// field, which for a couple of filesystems differs from the canonical
// name (spec §4.7).
func (f FileSystem) MountFSType() string {
	switch f {
	case Fat16, Fat32:
		return "vfat"
	case Swap:
		return "swap"
	default:
		return f.String()
	}
}

// IsContainer reports whether f is an opaque container with no direct
// mkfs of its own (Luks, Lvm).
func (f FileSystem) IsContainer() bool {
	return f == Luks || f == Lvm
}

// SupportsShrink reports whether the filesystem-specific resize tooling
// can shrink this filesystem in place (spec §4.5 step 5: ext* and ntfs
// do, xfs and f2fs do not).
func (f FileSystem) SupportsShrink() bool {
	switch f {
	case Ext2, Ext3, Ext4, Ntfs:
		return true
	default:
		return false
	}
}

// ValidSize reports whether a filesystem of size bytes satisfies the
// per-filesystem limits from spec §3.
func (f FileSystem) ValidSize(size uint64) bool {
	switch f {
	case Fat16:
		return size >= 16*mib && size <= 4095*mib
	case Fat32:
		return size >= 33*mib && size <= 2*tib
	case Ext4:
		return size <= 16*tib
	case Btrfs:
		return size >= 250*mib
	default:
		return true
	}
}

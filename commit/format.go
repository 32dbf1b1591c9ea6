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

package commit

import (
	"context"
	"fmt"

	"github.com/distinst-go/distinst/disk"
	"github.com/distinst-go/distinst/internal/runner"
)

// mkfsArgs maps a filesystem to its mkfs invocation, table-driven per
// spec §4.5 step 9 and the design note in spec §9 ("keep argv
// construction adjacent to the semantic wrapper").
func mkfsArgs(fs disk.FileSystem, label *string, devicePath string) (tool string, args []string, ok bool) {
	switch fs {
	case disk.Ext2:
		tool, args = "mkfs.ext2", []string{"-F"}
	case disk.Ext3:
		tool, args = "mkfs.ext3", []string{"-F"}
	case disk.Ext4:
		tool, args = "mkfs.ext4", []string{"-F"}
	case disk.Btrfs:
		tool, args = "mkfs.btrfs", []string{"-f"}
	case disk.Xfs:
		tool, args = "mkfs.xfs", []string{"-f"}
	case disk.F2fs:
		tool, args = "mkfs.f2fs", []string{"-f"}
	case disk.Fat16:
		tool, args = "mkfs.vfat", []string{"-F16"}
	case disk.Fat32:
		tool, args = "mkfs.vfat", []string{"-F32"}
	case disk.Ntfs:
		tool, args = "mkfs.ntfs", []string{"-f"}
	case disk.Exfat:
		tool, args = "mkfs.exfat", nil
	default:
		return "", nil, false
	}
	if label != nil {
		switch fs {
		case disk.Ext2, disk.Ext3, disk.Ext4:
			args = append(args, "-L", *label)
		case disk.Fat16, disk.Fat32:
			args = append(args, "-n", *label)
		case disk.Btrfs, disk.Xfs, disk.F2fs:
			args = append(args, "-L", *label)
		}
	}
	args = append(args, devicePath)
	return tool, args, true
}

// growArgs names the grow command for filesystems that support in-place
// growth (spec §4.5 step 5): ext2/3/4, xfs and ntfs; f2fs has no entry.
// shrinkArgs below covers the shrinkable subset (ext2/3/4 and ntfs).
func growArgs(fs disk.FileSystem, devicePath string) (tool string, args []string, ok bool) {
	switch fs {
	case disk.Ext2, disk.Ext3, disk.Ext4:
		return "resize2fs", []string{devicePath}, true
	case disk.Xfs:
		return "xfs_growfs", []string{devicePath}, true
	case disk.Ntfs:
		return "ntfsresize", []string{"-f", devicePath}, true
	default:
		return "", nil, false
	}
}

func shrinkArgs(fs disk.FileSystem, devicePath string, sizeBytes uint64) (tool string, args []string, ok bool) {
	switch fs {
	case disk.Ext2, disk.Ext3, disk.Ext4:
		return "resize2fs", []string{devicePath, fmt.Sprintf("%dK", sizeBytes/1024)}, true
	case disk.Ntfs:
		return "ntfsresize", []string{"-f", "-s", fmt.Sprintf("%d", sizeBytes), devicePath}, true
	default:
		return "", nil, false
	}
}

func fsckArgs(fs disk.FileSystem, devicePath string) (tool string, args []string, ok bool) {
	switch fs {
	case disk.Ext2, disk.Ext3, disk.Ext4:
		return "e2fsck", []string{"-f", "-y", devicePath}, true
	case disk.Ntfs:
		return "ntfsfix", []string{devicePath}, true
	default:
		return "", nil, false
	}
}

// formatPartition runs mkfs for p, or mkswap; an existing swap signature
// (per swaplabel) short-circuits reformatting a swap partition (spec
// §4.5 step 9).
func (e *Engine) formatPartition(ctx context.Context, p *disk.Partition) error {
	fs := p.EffectiveFileSystem()
	if fs == nil || fs.IsContainer() {
		return nil
	}
	if *fs == disk.Swap {
		if _, err := runner.ExecWithStdout(ctx, "swaplabel", runner.Options{}, p.DevicePath); err == nil {
			return nil
		}
		return runner.Exec(ctx, "mkswap", runner.Options{}, p.DevicePath)
	}
	tool, args, ok := mkfsArgs(*fs, p.Name, p.DevicePath)
	if !ok {
		return fmt.Errorf("no mkfs tool for filesystem %s", fs)
	}
	return runner.Exec(ctx, tool, runner.Options{}, args...)
}

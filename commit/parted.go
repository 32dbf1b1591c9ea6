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
	"strconv"

	"github.com/distinst-go/distinst/disk"
	"github.com/distinst-go/distinst/internal/runner"
)

// partedScript runs a single parted -s -a optimal invocation against
// devicePath with cmds as successive positional arguments, grounded on
// the mkpart/mklabel/rm/set subcommand shapes used throughout the pack
// (other_examples' bloud/partition.go and snapd's sfdisk driver use the
// equivalent "one tool invocation per structural change" idiom).
func partedScript(ctx context.Context, devicePath string, cmds ...string) error {
	args := append([]string{"-s", "-a", "optimal", devicePath}, cmds...)
	return runner.Exec(ctx, "parted", runner.Options{}, args...)
}

func wipefs(ctx context.Context, devicePath string) error {
	return runner.Exec(ctx, "wipefs", runner.Options{}, "-a", devicePath)
}

func mklabel(ctx context.Context, devicePath string, table disk.PartitionTable) error {
	return partedScript(ctx, devicePath, "mklabel", table.String())
}

// removeByNumber issues parted's "rm" for the given partition number;
// the caller passes the number recorded on the partition when it was
// probed (spec §4.5 step 3).
func removeByNumber(ctx context.Context, devicePath string, number int32) error {
	return partedScript(ctx, devicePath, "rm", strconv.Itoa(int(number)))
}

func partedFSName(fs disk.FileSystem) string {
	switch fs {
	case disk.Fat16, disk.Fat32:
		return "fat32"
	case disk.Ntfs:
		return "ntfs"
	case disk.Luks, disk.Lvm:
		return "" // no fs type passed to mkpart for a container
	default:
		return fs.String()
	}
}

// createPartition issues `parted mkpart` for a planned partition using
// an exact sector constraint, then sets the requested flags and an
// optional GPT name (spec §4.5 step 6).
func createPartition(ctx context.Context, devicePath string, p *disk.Partition, table disk.PartitionTable) error {
	partType := p.PartType.String()
	if table == disk.Gpt {
		partType = "primary"
	}

	fsName := ""
	if fs := p.EffectiveFileSystem(); fs != nil {
		fsName = partedFSName(*fs)
	}

	cmds := []string{"unit", "s", "mkpart", partType}
	if fsName != "" {
		cmds = append(cmds, fsName)
	}
	cmds = append(cmds,
		fmt.Sprintf("%ds", p.StartSector),
		fmt.Sprintf("%ds", p.EndSector),
	)
	mkpart := append([]string{"-s", "-a", "none", devicePath}, cmds...)
	if err := runner.Exec(ctx, "parted", runner.Options{}, mkpart...); err != nil {
		return err
	}

	if table == disk.Gpt && p.Name != nil {
		if err := partedScript(ctx, devicePath, "name", strconv.Itoa(int(p.Number)), *p.Name); err != nil {
			return err
		}
	}
	for _, flag := range p.Flags {
		if err := partedScript(ctx, devicePath, "set", strconv.Itoa(int(p.Number)), string(flag), "on"); err != nil {
			return err
		}
	}
	return nil
}

// resizeGeometry updates parted's view of a partition's end sector; the
// actual data resize (fs grow/shrink) happens separately (spec §4.5 step
// 5) before (shrink) or after (grow) this call.
func resizeGeometry(ctx context.Context, devicePath string, number int32, newEnd uint64) error {
	return partedScript(ctx, devicePath, "resizepart", strconv.Itoa(int(number)), fmt.Sprintf("%ds", newEnd))
}

func blockdevReread(ctx context.Context, devicePath string) error {
	if err := runner.Exec(ctx, "blockdev", runner.Options{}, "--flushbufs", devicePath); err != nil {
		return err
	}
	return runner.Exec(ctx, "blockdev", runner.Options{}, "--rereadpt", devicePath)
}

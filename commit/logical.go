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
	"github.com/distinst-go/distinst/internal/distinsterr"
	"github.com/distinst-go/distinst/internal/runner"
)

// commitLogical realizes LUKS-format/open, pvcreate, vgcreate, lvcreate
// and lvremove for every LvmDevice (spec §4.5 step 10), after every
// physical disk has committed and formatted.
func (e *Engine) commitLogical(ctx context.Context, disks *disk.Disks) error {
	if err := e.commitDirectEncryption(ctx, disks); err != nil {
		return err
	}

	for _, lv := range disks.Logical {
		if lv.Remove {
			if err := runner.Exec(ctx, "vgremove", runner.Options{}, "-f", lv.VolumeGroup); err != nil {
				return distinsterr.Wrap(distinsterr.VolumeGroupCreate, "commit.logical", err)
			}
			continue
		}
		if lv.IsSource {
			if err := e.commitLogicalVolumes(ctx, lv); err != nil {
				return err
			}
			continue
		}

		pv := lv.DevicePath
		if lv.Encryption != nil {
			parent := ""
			if lv.LuksParent != nil {
				parent = *lv.LuksParent
			}
			if parent == "" {
				return distinsterr.New(distinsterr.Encryption, "commit.logical")
			}
			if err := luksFormat(ctx, parent, lv.Encryption); err != nil {
				return distinsterr.Wrap(distinsterr.Encryption, "commit.logical", err)
			}
			mapperName := lv.Encryption.PhysicalVolume
			if err := luksOpen(ctx, parent, lv.Encryption, mapperName); err != nil {
				return distinsterr.Wrap(distinsterr.EncryptionOpen, "commit.logical", err)
			}
			pv = "/dev/mapper/" + mapperName
		}

		if err := runner.Exec(ctx, "pvcreate", runner.Options{}, pv); err != nil {
			return distinsterr.Wrap(distinsterr.PhysicalVolumeCreate, "commit.logical", err)
		}
		if err := runner.Exec(ctx, "vgcreate", runner.Options{}, lv.VolumeGroup, pv); err != nil {
			return distinsterr.Wrap(distinsterr.VolumeGroupCreate, "commit.logical", err)
		}
		if err := e.commitLogicalVolumes(ctx, lv); err != nil {
			return err
		}
	}
	return nil
}

// commitDirectEncryption formats/opens a LUKS container on a physical
// partition that is not itself the parent of an LvmDevice — i.e. the
// opened mapper carries a filesystem directly rather than an LVM PV.
// Partitions whose path already backs an LvmDevice are handled in the
// volume-group loop below instead.
func (e *Engine) commitDirectEncryption(ctx context.Context, disks *disk.Disks) error {
	for _, d := range disks.Physical {
		for _, p := range d.Partitions {
			if p.Encryption == nil || p.IsSource() || p.IsRemove() {
				continue
			}
			if disks.GetLogicalDeviceWithinPV(p.DevicePath) != nil {
				continue
			}
			if err := luksFormat(ctx, p.DevicePath, p.Encryption); err != nil {
				return distinsterr.Wrap(distinsterr.Encryption, "commit.direct_encryption", err)
			}
			mapperName := p.Encryption.PhysicalVolume
			if err := luksOpen(ctx, p.DevicePath, p.Encryption, mapperName); err != nil {
				return distinsterr.Wrap(distinsterr.EncryptionOpen, "commit.direct_encryption", err)
			}
			p.DevicePath = "/dev/mapper/" + mapperName
			if err := e.formatPartition(ctx, p); err != nil {
				return distinsterr.Wrap(distinsterr.PartitionFormat, "commit.direct_encryption", err)
			}
		}
	}
	return nil
}

func (e *Engine) commitLogicalVolumes(ctx context.Context, lv *disk.LvmDevice) error {
	for i, p := range lv.Partitions {
		if p.IsRemove() {
			if p.Name == nil {
				continue
			}
			if err := runner.Exec(ctx, "lvremove", runner.Options{}, "-f", lv.VolumeGroup+"/"+*p.Name); err != nil {
				return distinsterr.Wrap(distinsterr.LogicalVolumeCreate, "commit.logical_volume", err)
			}
			continue
		}
		if p.IsSource() {
			continue
		}
		if p.Name == nil {
			return distinsterr.New(distinsterr.LogicalVolumeCreate, "commit.logical_volume")
		}

		args := []string{"-n", *p.Name}
		if i == len(lv.Partitions)-1 {
			args = append(args, "-l", "100%FREE")
		} else {
			mib := p.SizeBytes(lv.SectorSize) / (1024 * 1024)
			args = append(args, "-L", fmt.Sprintf("%dM", mib))
		}
		args = append(args, lv.VolumeGroup)
		if err := runner.Exec(ctx, "lvcreate", runner.Options{}, args...); err != nil {
			return distinsterr.Wrap(distinsterr.LogicalVolumeCreate, "commit.logical_volume", err)
		}

		p.DevicePath = "/dev/mapper/" + lv.VolumeGroup + "-" + *p.Name
		if err := e.formatPartition(ctx, p); err != nil {
			return distinsterr.Wrap(distinsterr.PartitionFormat, "commit.logical_volume", err)
		}
	}
	return nil
}

func luksFormat(ctx context.Context, devicePath string, desc *disk.LuksDesc) error {
	args := []string{"luksFormat", "--type", "luks2", "-s", "512", devicePath}
	var stdin []byte
	if desc.Password != nil {
		stdin = []byte(*desc.Password + "\n")
	}
	return runner.Exec(ctx, "cryptsetup", runner.Options{Stdin: stdin}, args...)
}

func luksOpen(ctx context.Context, devicePath string, desc *disk.LuksDesc, mapperName string) error {
	var stdin []byte
	var args []string
	switch {
	case desc.Password != nil:
		stdin = []byte(*desc.Password + "\n")
		args = []string{"open", devicePath, mapperName}
	case desc.Keydata != nil && desc.Keydata.Key != nil:
		args = []string{"open", devicePath, mapperName, "--key-file", desc.Keydata.Key.MountPath}
	default:
		return distinsterr.New(distinsterr.Encryption, "commit.luks_open")
	}
	return runner.Exec(ctx, "cryptsetup", runner.Options{Stdin: stdin}, args...)
}

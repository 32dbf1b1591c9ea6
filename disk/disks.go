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

package disk

import (
	"github.com/distinst-go/distinst/internal/distinsterr"
)

// Disks is the full aggregate a probe produces and a caller mutates
// before commit (spec §3). Each partition is exclusively owned by its
// Disk; each logical volume by its LvmDevice. Cross-references (a
// physical partition naming an LVM VG, a logical device naming a LUKS
// parent path) are by string/path lookup, never by pointer.
type Disks struct {
	Physical []*Disk
	Logical  []*LvmDevice
}

// Add appends a probed or synthesized physical disk.
func (d *Disks) Add(disk *Disk) { d.Physical = append(d.Physical, disk) }

// GetPartitionByPath finds a partition across all physical disks by its
// device path.
func (d *Disks) GetPartitionByPath(path string) *Partition {
	for _, disk := range d.Physical {
		for _, p := range disk.Partitions {
			if p.DevicePath == path {
				return p
			}
		}
	}
	return nil
}

// GetPartitionByUUID finds a partition by filesystem UUID. UUID
// resolution itself lives in the probe package; here it is keyed by
// whatever identifier the probe recorded against the partition's mount
// key — callers pass the already-resolved device path/UUID mapping.
func (d *Disks) GetPartitionByUUID(uuids map[string]string, uuid string) *Partition {
	path, ok := uuids[uuid]
	if !ok {
		return nil
	}
	return d.GetPartitionByPath(path)
}

// GetPartitionWithTarget finds the partition (physical or logical)
// targeted at the given mount point.
func (d *Disks) GetPartitionWithTarget(mount string) *Partition {
	for _, disk := range d.Physical {
		for _, p := range disk.Partitions {
			if p.MountTarget != nil && *p.MountTarget == mount {
				return p
			}
		}
	}
	for _, lv := range d.Logical {
		for _, p := range lv.Partitions {
			if p.MountTarget != nil && *p.MountTarget == mount {
				return p
			}
		}
	}
	return nil
}

// GetLogicalDevice looks up an LvmDevice by volume group name.
func (d *Disks) GetLogicalDevice(vg string) *LvmDevice {
	for _, lv := range d.Logical {
		if lv.VolumeGroup == vg {
			return lv
		}
	}
	return nil
}

// GetLogicalDeviceWithinPV finds the LvmDevice whose LUKS parent (or
// whose own device path, for an unencrypted PV) equals pvPath.
func (d *Disks) GetLogicalDeviceWithinPV(pvPath string) *LvmDevice {
	for _, lv := range d.Logical {
		if lv.LuksParent != nil && *lv.LuksParent == pvPath {
			return lv
		}
		if lv.LuksParent == nil && lv.DevicePath == pvPath {
			return lv
		}
	}
	return nil
}

// InitializeVolumeGroups ensures an LvmDevice exists for every physical
// partition whose effective filesystem is Lvm, aggregating sector sums
// from constituent partitions (spec §4.4).
func (d *Disks) InitializeVolumeGroups() error {
	for _, disk := range d.Physical {
		for _, p := range disk.Partitions {
			if p.LvmVG == nil {
				continue
			}
			fs := p.EffectiveFileSystem()
			if fs == nil || *fs != Lvm {
				continue
			}
			lv := d.GetLogicalDevice(*p.LvmVG)
			if lv == nil {
				lv = NewLvmDevice(*p.LvmVG)
				d.Logical = append(d.Logical, lv)
			}
			lv.Sectors += p.SizeBytes(disk.LogicalBlockSize) / lv.SectorSize
		}
	}
	return nil
}

// DecryptPartition opens the LUKS container at path via cryptsetup
// (performed by the caller/commit engine; this method only updates the
// in-memory model once opened) and synthesizes a consumable LvmDevice or
// plain partition depending on what the opened mapper hosts.
//
// mapperHostsVG tells DecryptPartition whether the opened mapper device
// carries an LVM physical volume (hostsVG=true) or is itself a
// consumable filesystem partition.
func (d *Disks) DecryptPartition(path string, desc LuksDesc, mapperName string, hostsVG bool, vg string) error {
	const op = "Disks.decrypt_partition"
	src := d.GetPartitionByPath(path)
	if src == nil {
		return distinsterr.New(distinsterr.LuksNotFound, op)
	}
	src.Encryption = &desc

	mapperPath := "/dev/mapper/" + mapperName
	if hostsVG {
		lv := d.GetLogicalDevice(vg)
		if lv == nil {
			lv = NewLvmDevice(vg)
			d.Logical = append(d.Logical, lv)
		}
		lv.LuksParent = &mapperPath
		lv.IsSource = true
		return nil
	}
	if vg != "" {
		return distinsterr.New(distinsterr.DecryptedLacksVG, op)
	}
	return nil
}

// VerifyKeyfilePaths checks the keyfile-reference invariant (spec §4.4,
// §8 invariant 4): every partition with KeyID set must reference exactly
// one other partition carrying matching Keydata with a mount target.
func (d *Disks) VerifyKeyfilePaths() error {
	const op = "Disks.verify_keyfile_paths"

	keyTargets := map[string]*Partition{}
	visit := func(p *Partition) error {
		if p.Encryption == nil || p.Encryption.Keydata == nil {
			return nil
		}
		kd := p.Encryption.Keydata
		if kd.Key == nil {
			return distinsterr.New(distinsterr.KeyWithoutPath, op)
		}
		if kd.Key.MountPath == "" {
			return distinsterr.New(distinsterr.KeyFileWithoutPath, op)
		}
		if kd.Key.MountPath == "/" {
			return distinsterr.New(distinsterr.KeyContainsRoot, op)
		}
		if _, dup := keyTargets[kd.ID]; dup {
			return distinsterr.New(distinsterr.KeyPathAlreadySet, op)
		}
		keyTargets[kd.ID] = p
		return nil
	}

	for _, disk := range d.Physical {
		for _, p := range disk.Partitions {
			if err := visit(p); err != nil {
				return err
			}
		}
	}
	for _, lv := range d.Logical {
		for _, p := range lv.Partitions {
			if err := visit(p); err != nil {
				return err
			}
		}
	}

	checkKeyID := func(p *Partition) error {
		if p.KeyID == nil {
			return nil
		}
		if _, ok := keyTargets[*p.KeyID]; !ok {
			return distinsterr.New(distinsterr.KeyWithoutPath, op)
		}
		return nil
	}
	for _, disk := range d.Physical {
		for _, p := range disk.Partitions {
			if err := checkKeyID(p); err != nil {
				return err
			}
		}
	}
	for _, lv := range d.Logical {
		for _, p := range lv.Partitions {
			if err := checkKeyID(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// MountExclusive reports whether any two partitions (physical or
// logical) share a non-nil MountTarget (spec §8 invariant 5).
func (d *Disks) MountExclusive() bool {
	seen := map[string]bool{}
	check := func(p *Partition) bool {
		if p.MountTarget == nil {
			return true
		}
		if seen[*p.MountTarget] {
			return false
		}
		seen[*p.MountTarget] = true
		return true
	}
	for _, disk := range d.Physical {
		for _, p := range disk.Partitions {
			if !check(p) {
				return false
			}
		}
	}
	for _, lv := range d.Logical {
		for _, p := range lv.Partitions {
			if !check(p) {
				return false
			}
		}
	}
	return true
}

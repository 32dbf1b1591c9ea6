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

// LvmDevice is a logical aggregate device: an LVM volume group, whose
// Partitions field holds its logical volumes (spec §3). A consumer never
// holds a pointer from a physical Partition into an LvmDevice; the link
// is the VolumeGroup name.
type LvmDevice struct {
	VolumeGroup string
	// DevicePath is conventionally /dev/mapper/<VolumeGroup>.
	DevicePath string
	Sectors    uint64
	// SectorSize is fixed at 4096 for LVM logical devices (spec §3).
	SectorSize uint64
	Partitions []*Partition // logical volumes; each must carry a Name

	Encryption *LuksDesc
	// LuksParent is the device path of the LUKS container this VG sits
	// on top of, if any — a string reference, not a pointer, per the
	// "flat vectors + name lookup" design note (spec §9).
	LuksParent *string

	IsSource bool
	Remove   bool
}

const defaultLVSectorSize = 4096

// NewLvmDevice constructs an empty LvmDevice for volume group vg.
func NewLvmDevice(vg string) *LvmDevice {
	return &LvmDevice{
		VolumeGroup: vg,
		DevicePath:  "/dev/mapper/" + vg,
		SectorSize:  defaultLVSectorSize,
	}
}

func (d *LvmDevice) findPartition(name string) (*Partition, int) {
	for i, p := range d.Partitions {
		if p.Name != nil && *p.Name == name {
			return p, i
		}
	}
	return nil, -1
}

// GetLogicalVolume looks up a logical volume by name.
func (d *LvmDevice) GetLogicalVolume(name string) *Partition {
	p, _ := d.findPartition(name)
	return p
}

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

import "github.com/distinst-go/distinst/sector"

// PartitionBuilder stages a partition-to-be before it's checked and
// appended to a Disk by add_partition (spec §3). Start/End are the §3
// Sector grammar, resolved against the target Disk's geometry at
// AddPartition time.
type PartitionBuilder struct {
	start, end sector.Sector
	partType   PartitionType
	fs         *FileSystem
	flags      []PartitionFlag
	name       *string
	mount      *string
	vg         *string
	encryption *LuksDesc
	keyID      *string
	subvolumes map[string]string
}

// NewPartitionBuilder starts a builder spanning [start,end].
func NewPartitionBuilder(start, end sector.Sector) *PartitionBuilder {
	return &PartitionBuilder{start: start, end: end, partType: Primary}
}

func (b *PartitionBuilder) PartitionType(t PartitionType) *PartitionBuilder {
	b.partType = t
	return b
}

func (b *PartitionBuilder) FileSystem(fs FileSystem) *PartitionBuilder {
	b.fs = &fs
	return b
}

func (b *PartitionBuilder) Flag(f PartitionFlag) *PartitionBuilder {
	b.flags = append(b.flags, f)
	return b
}

func (b *PartitionBuilder) Name(name string) *PartitionBuilder {
	b.name = &name
	return b
}

func (b *PartitionBuilder) MountTarget(path string) *PartitionBuilder {
	b.mount = &path
	return b
}

func (b *PartitionBuilder) VolumeGroup(vg string) *PartitionBuilder {
	b.vg = &vg
	return b
}

func (b *PartitionBuilder) Encrypt(desc LuksDesc) *PartitionBuilder {
	b.encryption = &desc
	return b
}

func (b *PartitionBuilder) KeyID(id string) *PartitionBuilder {
	b.keyID = &id
	return b
}

func (b *PartitionBuilder) Subvolume(mount, name string) *PartitionBuilder {
	if b.subvolumes == nil {
		b.subvolumes = map[string]string{}
	}
	b.subvolumes[mount] = name
	return b
}

// build resolves Start/End against total/lbs and yields a Partition with
// bits={FORMAT} and Number=-1, unattached to any Disk. Disk.AddPartition
// is what validates and appends it.
func (b *PartitionBuilder) build(total, lbs uint64) (*Partition, error) {
	start, err := b.start.Resolve(total, lbs)
	if err != nil {
		return nil, err
	}
	end, err := b.end.Resolve(total, lbs)
	if err != nil {
		return nil, err
	}
	return &Partition{
		Number:      -1,
		StartSector: start,
		EndSector:   end,
		PartType:    b.partType,
		FileSystem:  b.fs,
		Flags:       b.flags,
		Name:        b.name,
		MountTarget: b.mount,
		LvmVG:       b.vg,
		Encryption:  b.encryption,
		KeyID:       b.keyID,
		Subvolumes:  b.subvolumes,
		bits:        FORMAT,
	}, nil
}

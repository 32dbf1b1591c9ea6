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

package auto

import (
	"testing"

	"github.com/distinst-go/distinst/disk"
	"github.com/distinst-go/distinst/sector"
)

func sec(s string) sector.Sector {
	v, err := sector.Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestFreeRegionAfterDetectsTrailingSpace(t *testing.T) {
	table := disk.Gpt
	d := &disk.Disk{DevicePath: "/dev/sda", LogicalBlockSize: 512, TotalSectors: 1_000_000, Table: &table}
	ext4 := disk.Ext4
	p, err := d.AddPartition(disk.NewPartitionBuilder(sec("0"), sec("500000")).FileSystem(ext4))
	if err != nil {
		t.Fatal(err)
	}

	end, ok := freeRegionAfter(d, p)
	if !ok {
		t.Fatal("expected free region after partition")
	}
	if end != d.TotalSectors-1 {
		t.Errorf("end = %d, want %d", end, d.TotalSectors-1)
	}
}

func TestFreeRegionAfterNoneWhenDiskFull(t *testing.T) {
	table := disk.Gpt
	d := &disk.Disk{DevicePath: "/dev/sda", LogicalBlockSize: 512, TotalSectors: 1_000_000, Table: &table}
	ext4 := disk.Ext4
	p, err := d.AddPartition(disk.NewPartitionBuilder(sec("0"), sector.Sector{Kind: sector.Unit, Value: d.TotalSectors - 1}).FileSystem(ext4))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := freeRegionAfter(d, p); ok {
		t.Error("expected no free region when partition spans the whole disk")
	}
}

func TestFindPartitionByFlag(t *testing.T) {
	table := disk.Gpt
	d := &disk.Disk{DevicePath: "/dev/sda", LogicalBlockSize: 512, TotalSectors: 1_000_000, Table: &table}
	fat32 := disk.Fat32
	esp, err := d.AddPartition(disk.NewPartitionBuilder(sec("0"), sec("200000")).FileSystem(fat32).Flag(disk.FlagESP))
	if err != nil {
		t.Fatal(err)
	}
	if got := findPartitionByFlag(d, disk.FlagESP); got != esp {
		t.Errorf("expected to find esp partition, got %v", got)
	}
	if got := findPartitionByFlag(d, disk.FlagRAID); got != nil {
		t.Errorf("expected no raid partition, got %v", got)
	}
}

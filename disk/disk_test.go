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
	"testing"

	"github.com/distinst-go/distinst/sector"
)

func newTestDisk() *Disk {
	table := Gpt
	return &Disk{
		DevicePath:       "/dev/sda",
		LogicalBlockSize: 512,
		TotalSectors:     976_562_500, // 500 GiB @ 512B
		Table:            &table,
	}
}

func sec(s string) sector.Sector {
	v, err := sector.Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestGPTCleanInstall(t *testing.T) {
	d := newTestDisk()
	d.MkLabel(Gpt)

	esp, err := d.AddPartition(NewPartitionBuilder(sec("start"), sec("538M")).
		FileSystem(Fat32).Flag(FlagESP).MountTarget("/boot/efi"))
	if err != nil {
		t.Fatalf("add esp: %v", err)
	}
	root, err := d.AddPartition(NewPartitionBuilder(sector.Sector{Kind: sector.Unit, Value: esp.EndSector + 1}, sec("end")).
		FileSystem(Ext4).MountTarget("/"))
	if err != nil {
		t.Fatalf("add root: %v", err)
	}

	if len(d.Partitions) != 2 {
		t.Fatalf("want 2 partitions, got %d", len(d.Partitions))
	}
	if esp.StartSector != 2*1024*1024/512 {
		t.Errorf("esp start = %d", esp.StartSector)
	}
	wantEnd := d.TotalSectors - 2*1024*1024/512
	if root.EndSector != wantEnd {
		t.Errorf("root end = %d, want %d", root.EndSector, wantEnd)
	}
	if esp.EndSector >= root.StartSector {
		t.Errorf("esp/root overlap: esp end %d >= root start %d", esp.EndSector, root.StartSector)
	}
}

func TestAddPartitionOOB(t *testing.T) {
	d := newTestDisk()
	_, err := d.AddPartition(NewPartitionBuilder(sec("start"), sector.Sector{Kind: sector.Unit, Value: d.TotalSectors + 1}))
	if err == nil {
		t.Fatal("expected PartitionOOB error")
	}
}

func TestAddPartitionAtExactEnd(t *testing.T) {
	d := newTestDisk()
	_, err := d.AddPartition(NewPartitionBuilder(sec("start"), sector.Sector{Kind: sector.Unit, Value: d.TotalSectors}))
	if err != nil {
		t.Fatalf("end==total_sectors should succeed: %v", err)
	}
}

func TestOverlapRejected(t *testing.T) {
	d := newTestDisk()
	if _, err := d.AddPartition(NewPartitionBuilder(sec("0"), sec("1000000")).FileSystem(Ext4)); err != nil {
		t.Fatalf("first add: %v", err)
	}
	_, err := d.AddPartition(NewPartitionBuilder(sec("500000"), sec("1500000")).FileSystem(Ext4))
	if err == nil {
		t.Fatal("expected SectorOverlaps error")
	}
}

func TestMsdosPrimaryLimit(t *testing.T) {
	d := newTestDisk()
	d.MkLabel(Msdos)
	step := d.TotalSectors / 5
	for i := 0; i < 4; i++ {
		start := sector.Sector{Kind: sector.Unit, Value: uint64(i) * step}
		end := sector.Sector{Kind: sector.Unit, Value: uint64(i+1)*step - 1}
		if _, err := d.AddPartition(NewPartitionBuilder(start, end).FileSystem(Ext4)); err != nil {
			t.Fatalf("primary %d: %v", i, err)
		}
	}
	start := sector.Sector{Kind: sector.Unit, Value: 4 * step}
	end := sector.Sector{Kind: sector.Unit, Value: 5*step - 1}
	if _, err := d.AddPartition(NewPartitionBuilder(start, end).FileSystem(Ext4)); err == nil {
		t.Fatal("expected PrimaryPartitionsExceeded")
	}
}

func TestMkLabelDiscardsAllPartitions(t *testing.T) {
	d := newTestDisk()
	p, err := d.AddPartition(NewPartitionBuilder(sec("0"), sec("1000000")).FileSystem(Ext4))
	if err != nil {
		t.Fatal(err)
	}
	p.MarkSource()

	d.MkLabel(Gpt)
	for _, p := range d.Partitions {
		if !p.WillRemove() {
			t.Errorf("partition %v should be marked for removal after mklabel", p)
		}
		if p.WillCreate() {
			t.Errorf("a SOURCE partition must not also show as Create")
		}
	}
}

func TestResizeThenMove(t *testing.T) {
	d := newTestDisk()
	p, err := d.AddPartition(NewPartitionBuilder(sec("2048"), sec("100000000")).FileSystem(Ext4))
	if err != nil {
		t.Fatal(err)
	}
	p.Number = 1
	p.MarkSource()

	if err := d.ResizePartition(1, sector.Sector{Kind: sector.Unit, Value: 50000000}); err != nil {
		t.Fatalf("resize: %v", err)
	}
	if !p.WillResize() {
		t.Error("expected WillResize after shrink")
	}

	if err := d.MovePartition(1, sector.Sector{Kind: sector.Unit, Value: 1048576}); err != nil {
		t.Fatalf("move: %v", err)
	}
	if !p.WillMove() {
		t.Error("expected WillMove after move")
	}
	if p.IsFormat() {
		t.Error("move/resize alone should not set FORMAT")
	}

	if _, err := d.AddPartition(NewPartitionBuilder(sector.Sector{Kind: sector.Unit, Value: 51048576}, sec("end")).FileSystem(Ext4)); err != nil {
		t.Fatalf("add new partition after resize+move: %v", err)
	}
}

func TestVerifyKeyfilePaths(t *testing.T) {
	disks := &Disks{}
	d := newTestDisk()
	disks.Add(d)

	keyDisk, err := d.AddPartition(NewPartitionBuilder(sec("0"), sec("100000")).FileSystem(Fat32).MountTarget("/mnt/key"))
	if err != nil {
		t.Fatal(err)
	}
	keyDisk.Encryption = &LuksDesc{
		PhysicalVolume: "keyvol",
		Keydata: &KeyData{ID: "k1", Key: &KeyLocation{SourcePath: "/key1.bin", MountPath: "/mnt/key"}},
	}

	target, err := d.AddPartition(NewPartitionBuilder(sec("100001"), sec("200000")).FileSystem(Ext4))
	if err != nil {
		t.Fatal(err)
	}
	id := "k1"
	target.KeyID = &id

	if err := disks.VerifyKeyfilePaths(); err != nil {
		t.Fatalf("verify_keyfile_paths: %v", err)
	}
}

func TestVerifyKeyfilePathsRejectsRootMount(t *testing.T) {
	disks := &Disks{}
	d := newTestDisk()
	disks.Add(d)

	keyDisk, err := d.AddPartition(NewPartitionBuilder(sec("0"), sec("100000")).FileSystem(Fat32).MountTarget("/"))
	if err != nil {
		t.Fatal(err)
	}
	keyDisk.Encryption = &LuksDesc{
		PhysicalVolume: "keyvol",
		Keydata: &KeyData{ID: "k1", Key: &KeyLocation{SourcePath: "/key1.bin", MountPath: "/"}},
	}

	if err := disks.VerifyKeyfilePaths(); err == nil {
		t.Fatal("expected KeyContainsRoot error for a keyfile mounted at root")
	}
}

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

func newTestDisk() *disk.Disk {
	table := disk.Gpt
	return &disk.Disk{
		DevicePath:       "/dev/sda",
		LogicalBlockSize: 512,
		TotalSectors:     976_562_500,
		Table:            &table,
	}
}

func TestRemovePartitionMarksSourcePartitionsForRemoval(t *testing.T) {
	d := newTestDisk()
	p1, _ := d.AddPartition(disk.NewPartitionBuilder(sec("0"), sec("1000000")).FileSystem(disk.Ext4))
	p1.Number = 1
	p1.MarkSource()
	p2, _ := d.AddPartition(disk.NewPartitionBuilder(sec("1000001"), sec("2000000")).FileSystem(disk.Ext4))
	p2.Number = 2
	p2.MarkSource()

	if err := d.RemovePartition(1); err != nil {
		t.Fatal(err)
	}
	if err := d.RemovePartition(2); err != nil {
		t.Fatal(err)
	}

	var removed []*disk.Partition
	for _, p := range d.Partitions {
		if p.WillRemove() {
			removed = append(removed, p)
		}
	}
	if len(removed) != 2 {
		t.Fatalf("want 2 removed partitions, got %d", len(removed))
	}
}

func TestFormatAllSkipsContainers(t *testing.T) {
	e := New()
	d := newTestDisk()
	lv := "data"
	p, _ := d.AddPartition(disk.NewPartitionBuilder(sec("0"), sec("1000000")))
	p.LvmVG = &lv
	disks := &disk.Disks{Physical: []*disk.Disk{d}}

	if p.WillFormat() {
		t.Fatal("an lvm-hosting partition must never be formatted directly")
	}

	// formatAll must not attempt to run mkfs against an LVM container;
	// with no targets queued this should return immediately without
	// touching the subprocess layer.
	if err := e.formatAll(nil, disks); err != nil {
		t.Fatalf("formatAll on empty target set: %v", err)
	}
}

func TestEngineDefaultsWorkerCount(t *testing.T) {
	e := New()
	if e.FormatWorkers != 0 {
		t.Fatalf("expected zero-value FormatWorkers to mean \"auto\", got %d", e.FormatWorkers)
	}
}

func TestIsShrinkingDistinguishesGrowFromShrink(t *testing.T) {
	d := newTestDisk()
	p, err := d.AddPartition(disk.NewPartitionBuilder(sec("0"), sec("1000000")).FileSystem(disk.Ext4))
	if err != nil {
		t.Fatal(err)
	}
	p.Number = 1
	p.MarkSource()

	if err := d.ResizePartition(1, sector.Sector{Kind: sector.Unit, Value: 2000000}); err != nil {
		t.Fatalf("grow resize: %v", err)
	}
	if isShrinking(p) {
		t.Fatal("growing a partition must not report isShrinking")
	}

	if err := d.ResizePartition(1, sector.Sector{Kind: sector.Unit, Value: 500000}); err != nil {
		t.Fatalf("shrink resize: %v", err)
	}
	if !isShrinking(p) {
		t.Fatal("shrinking a partition below its original length must report isShrinking")
	}
}

func TestFsckAfterResizeSkipsFilesystemsWithoutFsck(t *testing.T) {
	e := New()
	// xfs has no fsckArgs entry; fsckAfterResize must short-circuit
	// before ever invoking the subprocess layer.
	if err := e.fsckAfterResize(nil, disk.Xfs, "/dev/sda1"); err != nil {
		t.Fatalf("expected no-op for a filesystem with no fsck tool, got %v", err)
	}
}

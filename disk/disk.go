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
	"github.com/distinst-go/distinst/sector"
)

// MoveOp describes a queued sector-level byte copy for a partition move,
// consumed by the commit engine's move phase (spec §4.5 step 4).
type MoveOp struct {
	PartitionDevicePath string
	// Skip, Offset and Length are all in sectors; Offset may be negative
	// (move toward sector 0) or positive (move away from it), which
	// determines copy direction in the commit engine.
	Skip, Length uint64
	Offset       int64
}

// Disk is a physical block device and its partitions (spec §3).
type Disk struct {
	DevicePath         string
	Serial             string
	Model              string
	LogicalBlockSize   uint64
	PhysicalBlockSize  uint64
	TotalSectors       uint64
	Table              *PartitionTable
	Partitions         []*Partition
	Mklabel            bool

	// Rotational/Removable mirror the matching sysfs attributes (spec
	// §4.10's Erase option flags); populated by the probe layer.
	Rotational bool
	Removable  bool

	moves []MoveOp
}

// Moves returns the queued partition moves, consumed (not mutated) by the
// commit engine.
func (d *Disk) Moves() []MoveOp { return d.moves }

// MkLabel marks every existing partition REMOVE, sets Mklabel and
// replaces Table. Diffing against the pre-image after this yields only
// Create ops (spec §8).
func (d *Disk) MkLabel(table PartitionTable) {
	for _, p := range d.Partitions {
		p.setBit(REMOVE)
	}
	d.Mklabel = true
	d.Table = &table
}

func (d *Disk) primaryAndExtendedCount() int {
	n := 0
	for _, p := range d.Partitions {
		if p.IsRemove() {
			continue
		}
		if p.PartType == Primary || p.PartType == Extended {
			n++
		}
	}
	return n
}

func (d *Disk) overlapsAny(start, end uint64, except *Partition) *Partition {
	for _, p := range d.Partitions {
		if p == except || p.IsRemove() {
			continue
		}
		if overlaps(start, end, p.StartSector, p.EndSector) {
			return p
		}
	}
	return nil
}

// AddPartition resolves the builder's sectors against this disk's
// geometry, validates table/size/overlap invariants, and appends the new
// partition (spec §4.4).
func (d *Disk) AddPartition(b *PartitionBuilder) (*Partition, error) {
	const op = "Disk.add_partition"

	p, err := b.build(d.TotalSectors, d.LogicalBlockSize)
	if err != nil {
		return nil, distinsterr.Wrap(distinsterr.InvalidSector, op, err)
	}

	// build resolves through Sector.Resolve, which clamps an over-total
	// end down to TotalSectors; re-resolve the raw requested end here so
	// an actually out-of-bounds request is rejected instead of silently
	// truncated (spec §8).
	rawEnd, err := b.end.ResolveUnclamped(d.TotalSectors, d.LogicalBlockSize)
	if err != nil {
		return nil, distinsterr.Wrap(distinsterr.InvalidSector, op, err)
	}
	if rawEnd > d.TotalSectors {
		return nil, distinsterr.New(distinsterr.PartitionOOB, op)
	}

	if p.StartSector >= p.EndSector {
		return nil, distinsterr.New(distinsterr.PartitionOOB, op)
	}
	if p.EndSector > d.TotalSectors {
		return nil, distinsterr.New(distinsterr.PartitionOOB, op)
	}
	if other := d.overlapsAny(p.StartSector, p.EndSector, nil); other != nil {
		return nil, distinsterr.New(distinsterr.SectorOverlaps, op)
	}

	table := Gpt
	if d.Table != nil {
		table = *d.Table
	}
	if table == Msdos && (p.PartType == Primary || p.PartType == Extended) {
		if d.primaryAndExtendedCount()+1 > maxPrimaries {
			return nil, distinsterr.New(distinsterr.PrimaryPartitionsExceeded, op)
		}
	}
	if table == Msdos && p.PartType == Logical {
		hasExtended := false
		for _, q := range d.Partitions {
			if !q.IsRemove() && q.PartType == Extended {
				hasExtended = true
			}
		}
		if !hasExtended {
			return nil, distinsterr.New(distinsterr.PrimaryPartitionsExceeded, op)
		}
	}

	if fs := p.EffectiveFileSystem(); fs != nil && !fs.IsContainer() {
		size := p.SizeBytes(d.LogicalBlockSize)
		if !fs.ValidSize(size) {
			if size < 250*mib {
				return nil, distinsterr.New(distinsterr.PartitionTooSmall, op)
			}
			return nil, distinsterr.New(distinsterr.PartitionTooLarge, op)
		}
	}

	d.Partitions = append(d.Partitions, p)
	return p, nil
}

func (d *Disk) findPartition(number int32) (*Partition, int) {
	for i, p := range d.Partitions {
		if p.Number == number {
			return p, i
		}
	}
	return nil, -1
}

// RemovePartition marks a SOURCE partition REMOVE, or drops a
// not-yet-committed (non-SOURCE) partition outright (spec §4.4).
func (d *Disk) RemovePartition(number int32) error {
	const op = "Disk.remove_partition"
	p, i := d.findPartition(number)
	if p == nil {
		return distinsterr.New(distinsterr.PartitionRemove, op)
	}
	if p.IsSource() {
		p.setBit(REMOVE)
		return nil
	}
	d.Partitions = append(d.Partitions[:i], d.Partitions[i+1:]...)
	return nil
}

// MovePartition repositions a partition to newStart, preserving its
// length, clears FORMAT (a move alone doesn't imply reformat), and queues
// a sector-move op for the commit engine.
func (d *Disk) MovePartition(number int32, newStart sector.Sector) error {
	const op = "Disk.move_partition"
	p, _ := d.findPartition(number)
	if p == nil {
		return distinsterr.New(distinsterr.PartitionMove, op)
	}
	start, err := newStart.Resolve(d.TotalSectors, d.LogicalBlockSize)
	if err != nil {
		return distinsterr.Wrap(distinsterr.InvalidSector, op, err)
	}
	length := p.Sectors()
	if other := d.overlapsAny(start, start+length-1, p); other != nil {
		return distinsterr.New(distinsterr.SectorOverlaps, op)
	}

	oldStart := p.StartSector
	p.StartSector = start
	p.EndSector = start + length - 1
	p.clearBit(FORMAT)

	offset := int64(start) - int64(oldStart)
	d.moves = append(d.moves, MoveOp{
		PartitionDevicePath: p.DevicePath,
		Skip:                oldStart,
		Length:              length,
		Offset:              offset,
	})
	return nil
}

// ResizePartition adjusts a partition's end sector. FORMAT is cleared
// unless the current filesystem would no longer be size-valid (spec
// §4.4), in which case the partition is left marked for reformat.
func (d *Disk) ResizePartition(number int32, newEnd sector.Sector) error {
	const op = "Disk.resize_partition"
	p, _ := d.findPartition(number)
	if p == nil {
		return distinsterr.New(distinsterr.PartitionResize, op)
	}
	rawEnd, err := newEnd.ResolveUnclamped(d.TotalSectors, d.LogicalBlockSize)
	if err != nil {
		return distinsterr.Wrap(distinsterr.InvalidSector, op, err)
	}
	if rawEnd > d.TotalSectors {
		return distinsterr.New(distinsterr.PartitionOOB, op)
	}
	end := rawEnd
	if end <= p.StartSector {
		return distinsterr.New(distinsterr.PartitionOOB, op)
	}
	if other := d.overlapsAny(p.StartSector, end, p); other != nil {
		return distinsterr.New(distinsterr.SectorOverlaps, op)
	}

	p.EndSector = end
	if fs := p.EffectiveFileSystem(); fs != nil && !fs.IsContainer() {
		if fs.ValidSize(p.SizeBytes(d.LogicalBlockSize)) {
			p.clearBit(FORMAT)
		} else {
			p.setBit(FORMAT)
		}
	} else {
		p.clearBit(FORMAT)
	}
	return nil
}

// FormatPartition sets the filesystem and marks the partition FORMAT.
func (d *Disk) FormatPartition(number int32, fs FileSystem) error {
	const op = "Disk.format_partition"
	p, _ := d.findPartition(number)
	if p == nil {
		return distinsterr.New(distinsterr.PartitionFormat, op)
	}
	p.FileSystem = &fs
	p.setBit(FORMAT)
	return nil
}

// Diff classifications consumed by the commit engine (spec §4.4 "Diff
// semantics").

func (p *Partition) WillCreate() bool { return !p.IsSource() }
func (p *Partition) WillRemove() bool { return p.IsRemove() }
func (p *Partition) WillFormat() bool {
	if !p.IsFormat() {
		return false
	}
	fs := p.EffectiveFileSystem()
	return fs != nil && !fs.IsContainer()
}

// WillMove reports whether a SOURCE partition's start sector changed
// since it was probed.
func (p *Partition) WillMove() bool { return p.IsSource() && p.StartSector != p.origStart }

// WillResize reports whether a SOURCE partition's length changed since it
// was probed.
func (p *Partition) WillResize() bool {
	return p.IsSource() && (p.EndSector-p.StartSector) != (p.origEnd-p.origStart)
}

// MarkSource snapshots the current geometry as the on-disk baseline and
// sets SOURCE, called by the probe layer when loading an existing
// partition table.
func (p *Partition) MarkSource() {
	p.setBit(SOURCE)
	p.origStart, p.origEnd = p.StartSector, p.EndSector
}

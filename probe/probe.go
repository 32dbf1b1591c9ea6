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

// Package probe reads /sys/class/block, /proc/mounts and /proc/swaps to
// discover the disks, partitions and running mount/swap state on the
// host (spec §4.3).
package probe

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/distinst-go/distinst/disk"
	"github.com/distinst-go/distinst/internal/distinsterr"
)

const sysClassBlock = "/sys/class/block"

// BlockDevice is the raw sysfs-derived view of one /sys/class/block node,
// before it's classified as a whole disk or a partition.
type BlockDevice struct {
	Name              string
	Path              string // /dev/<name>
	Size              uint64 // in 512-byte units, per sysfs convention
	LogicalBlockSize  uint64
	PhysicalBlockSize uint64
	Removable         bool
	ReadOnly          bool
	Rotational        bool
	IsPartition       bool
	ParentName        string // for partitions, the owning disk's name
}

func readUint(path string) (uint64, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimSpace(string(b)), 10, 64)
}

func readBool(path string) (bool, error) {
	v, err := readUint(path)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// EnumerateBlockDevices walks sysfs and returns every block device and
// partition node found under /sys/class/block (spec §4.3).
func EnumerateBlockDevices() ([]BlockDevice, error) {
	entries, err := os.ReadDir(sysClassBlock)
	if err != nil {
		return nil, errors.Wrap(err, "reading /sys/class/block")
	}

	var out []BlockDevice
	for _, e := range entries {
		name := e.Name()
		base := filepath.Join(sysClassBlock, name)

		bd := BlockDevice{Name: name, Path: "/dev/" + name}
		if _, err := os.Stat(filepath.Join(base, "partition")); err == nil {
			bd.IsPartition = true
			if target, err := os.Readlink(base); err == nil {
				bd.ParentName = filepath.Base(filepath.Dir(target))
			}
		}

		bd.Size, _ = readUint(filepath.Join(base, "size"))
		bd.LogicalBlockSize, _ = readUint(filepath.Join(base, "queue", "logical_block_size"))
		bd.PhysicalBlockSize, _ = readUint(filepath.Join(base, "queue", "physical_block_size"))
		bd.Removable, _ = readBool(filepath.Join(base, "removable"))
		bd.ReadOnly, _ = readBool(filepath.Join(base, "ro"))
		bd.Rotational, _ = readBool(filepath.Join(base, "queue", "rotational"))

		out = append(out, bd)
	}
	return out, nil
}

// LoadDisks enumerates sysfs and builds a disk.Disks aggregate of whole
// disks with their partitions marked SOURCE, ready for a caller to
// mutate and commit.
func LoadDisks() (*disk.Disks, error) {
	const op = "probe.LoadDisks"
	devices, err := EnumerateBlockDevices()
	if err != nil {
		return nil, distinsterr.Wrap(distinsterr.DeviceProbe, op, err)
	}

	disks := &disk.Disks{}
	byName := map[string]*disk.Disk{}
	for _, d := range devices {
		if d.IsPartition {
			continue
		}
		lbs := d.LogicalBlockSize
		if lbs == 0 {
			lbs = 512
		}
		pbs := d.PhysicalBlockSize
		if pbs == 0 {
			pbs = lbs
		}
		pd := &disk.Disk{
			DevicePath:        d.Path,
			LogicalBlockSize:  lbs,
			PhysicalBlockSize: pbs,
			TotalSectors:      d.Size * 512 / lbs,
			Rotational:        d.Rotational,
			Removable:         d.Removable,
		}
		serial, err := Serial(d.Name)
		if err == nil {
			pd.Serial = serial
		}
		byName[d.Name] = pd
		disks.Add(pd)
	}

	for _, d := range devices {
		if !d.IsPartition {
			continue
		}
		parent, ok := byName[d.ParentName]
		if !ok {
			continue
		}
		number := partitionNumber(d.Name, d.ParentName)
		lbs := parent.LogicalBlockSize
		start, err := readUint(filepath.Join(sysClassBlock, d.Name, "start"))
		if err != nil {
			return nil, distinsterr.Wrap(distinsterr.DeviceProbe, op, err)
		}
		startSector := start * 512 / lbs
		p := &disk.Partition{
			Number:      number,
			DevicePath:  d.Path,
			StartSector: startSector,
			EndSector:   startSector + d.Size*512/lbs - 1,
		}
		p.MarkSource()
		parent.Partitions = append(parent.Partitions, p)
	}

	return disks, nil
}

// partitionNumber extracts the trailing digits of a partition device
// name, e.g. "sda1" under parent "sda" -> 1, "nvme0n1p3" under
// "nvme0n1" -> 3.
func partitionNumber(name, parent string) int32 {
	suffix := strings.TrimPrefix(name, parent)
	suffix = strings.TrimPrefix(suffix, "p")
	n, err := strconv.ParseInt(suffix, 10, 32)
	if err != nil {
		return -1
	}
	return int32(n)
}

// Serial reads the disk serial via /sys/class/block/<name>/device/serial,
// falling back to an error the caller may choose to ignore — not every
// device (loop, dm) exposes one (supplemented from distinst's
// crates/disks/src/serial.rs: the original shells out to udevadm; sysfs
// is the kernel-native equivalent path udevadm itself reads).
func Serial(name string) (string, error) {
	const op = "probe.Serial"
	path := filepath.Join(sysClassBlock, name, "device", "serial")
	b, err := os.ReadFile(path)
	if err != nil {
		return "", distinsterr.Wrap(distinsterr.SerialGet, op, err)
	}
	return strings.TrimSpace(string(b)), nil
}

// MountEntry is one decoded /proc/mounts row.
type MountEntry struct {
	Device     string
	MountPoint string
	FSType     string
	Options    string
}

// SwapEntry is one decoded /proc/swaps row.
type SwapEntry struct {
	Device string
	Type   string
	Size   uint64
	Used   uint64
	Priority int
}

// unescapeOctal decodes the \040 (space) \011 (tab) \012 (newline) \134
// (backslash) escapes /proc/mounts uses for device/mountpoint fields.
func unescapeOctal(s string) string {
	if !strings.Contains(s, "\\") {
		return s
	}
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+3 < len(s) {
			if n, err := strconv.ParseUint(s[i+1:i+4], 8, 32); err == nil {
				b.WriteByte(byte(n))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

// ReadMounts parses /proc/mounts.
func ReadMounts() ([]MountEntry, error) {
	return readMountsFile("/proc/mounts")
}

func readMountsFile(path string) ([]MountEntry, error) {
	const op = "probe.ReadMounts"
	f, err := os.Open(path)
	if err != nil {
		return nil, distinsterr.Wrap(distinsterr.MountsObtain, op, err)
	}
	defer f.Close()

	var out []MountEntry
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		out = append(out, MountEntry{
			Device:     unescapeOctal(fields[0]),
			MountPoint: unescapeOctal(fields[1]),
			FSType:     fields[2],
			Options:    fields[3],
		})
	}
	return out, scanner.Err()
}

// ReadSwaps parses /proc/swaps.
func ReadSwaps() ([]SwapEntry, error) {
	const op = "probe.ReadSwaps"
	f, err := os.Open("/proc/swaps")
	if err != nil {
		return nil, distinsterr.Wrap(distinsterr.MountsObtain, op, err)
	}
	defer f.Close()

	var out []SwapEntry
	scanner := bufio.NewScanner(f)
	first := true
	for scanner.Scan() {
		if first {
			first = false // header line
			continue
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) < 5 {
			continue
		}
		size, _ := strconv.ParseUint(fields[2], 10, 64)
		used, _ := strconv.ParseUint(fields[3], 10, 64)
		prio, _ := strconv.Atoi(fields[4])
		out = append(out, SwapEntry{
			Device:   unescapeOctal(fields[0]),
			Type:     fields[1],
			Size:     size,
			Used:     used,
			Priority: prio,
		})
	}
	return out, scanner.Err()
}

// ErrNoOSFound is returned by DetectOS when no recognizable install marker
// is present at root.
var ErrNoOSFound = fmt.Errorf("no installed OS detected")

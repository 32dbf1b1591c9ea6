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

// Package auto enumerates the installer's erase/refresh/alongside disk
// options from a probed layout (spec §4.10).
package auto

import (
	"context"

	"github.com/coreos/pkg/capnslog"

	"github.com/distinst-go/distinst/disk"
	"github.com/distinst-go/distinst/internal/envfile"
	"github.com/distinst-go/distinst/probe"
)

var plog = capnslog.NewPackageLogger("github.com/distinst-go/distinst", "auto")

// shrinkHeadroomBytes is added on top of a filesystem's in-use bytes when
// computing how much of an existing partition an alongside-install may
// safely claim (spec §4.10).
const shrinkHeadroomBytes = 5 * 1024 * 1024 * 1024

// EraseOption offers a whole physical disk for a clean install.
type EraseOption struct {
	DevicePath        string
	Sectors           uint64
	Rotational        bool
	Removable         bool
	MeetsRequirements bool
}

// RefreshOption offers reusing an existing Linux install's partitions,
// preserving home.
type RefreshOption struct {
	OS                 probe.InstalledOS
	RootDevicePath     string
	HomeDevicePath     string
	EFIDevicePath      string
	RecoveryDevicePath string
}

// Shrink describes shrinking an existing partition to make room for an
// alongside install.
type Shrink struct {
	PartitionDevicePath string
	SectorsFree         uint64
}

// AlongsideOption offers installing next to a detected OS, either into
// free space following it or by shrinking one of its partitions.
type AlongsideOption struct {
	OS               probe.InstalledOS
	FreeRegionStart  *uint64
	FreeRegionEnd    *uint64
	ShrinkPartition  *Shrink
}

// Options is the full plan returned by Plan.
type Options struct {
	Erase     []EraseOption
	Refresh   []RefreshOption
	Alongside []AlongsideOption
}

// recoveryConfigPath is where a live medium's recovery marker lives, read
// by Plan to decide whether the exclusion rule below still applies.
const recoveryConfigPath = "/cdrom/recovery.conf"

// recoveryConfigPresent reports whether the recovery config at
// recoveryConfigPath loads and carries a HOSTNAME key.
func recoveryConfigPresent() (bool, error) {
	f, err := envfile.Load(recoveryConfigPath)
	if err != nil {
		return false, err
	}
	_, ok := f.Get("HOSTNAME")
	return ok, nil
}

// Plan builds the erase/refresh/alongside option lists for disks, given
// the sector count a fresh install needs (spec §4.10).
func Plan(ctx context.Context, disks *disk.Disks, requiredSpaceSectors uint64) (*Options, error) {
	excluded, err := excludeSet()
	if err != nil {
		return nil, err
	}

	opts := &Options{}
	for _, d := range disks.Physical {
		if excluded[d.DevicePath] {
			plog.Infof("auto: excluding live-system disk %s from erase", d.DevicePath)
			continue
		}
		opts.Erase = append(opts.Erase, EraseOption{
			DevicePath:        d.DevicePath,
			Sectors:           d.TotalSectors,
			Rotational:        d.Rotational,
			Removable:         d.Removable,
			MeetsRequirements: d.TotalSectors >= requiredSpaceSectors,
		})

		if err := planDiskRefreshAndAlongside(ctx, d, opts); err != nil {
			plog.Warningf("auto: scanning %s for refresh/alongside candidates: %v", d.DevicePath, err)
		}
	}
	return opts, nil
}

// excludeSet returns the device paths backing the live system's "/" and
// "/cdrom" mounts, which erase must never offer — unless a recovery
// config is present, signaling a dedicated recovery partition scheme
// where the live medium's own disk is also a valid erase target (spec
// §4.10).
func excludeSet() (map[string]bool, error) {
	present, err := recoveryConfigPresent()
	if err != nil {
		present = false
	}
	if present {
		return map[string]bool{}, nil
	}
	return excludedLiveMounts()
}

func excludedLiveMounts() (map[string]bool, error) {
	mounts, err := probe.ReadMounts()
	if err != nil {
		return nil, err
	}
	excluded := map[string]bool{}
	for _, m := range mounts {
		if m.MountPoint == "/" || m.MountPoint == "/cdrom" {
			excluded[m.Device] = true
		}
	}
	return excluded, nil
}

func planDiskRefreshAndAlongside(ctx context.Context, d *disk.Disk, opts *Options) error {
	for i, p := range d.Partitions {
		fs := p.EffectiveFileSystem()
		if fs == nil || fs.IsContainer() {
			continue
		}
		detected, err := probe.MountReadOnlyAndDetect(ctx, p.DevicePath, fs.MountFSType())
		if err != nil {
			continue
		}

		if detected.Kind == "linux" {
			refresh := RefreshOption{OS: *detected, RootDevicePath: p.DevicePath}
			if home := findSiblingMount(d, "/home", i); home != nil {
				refresh.HomeDevicePath = home.DevicePath
			}
			if efi := findPartitionByFlag(d, disk.FlagESP); efi != nil {
				refresh.EFIDevicePath = efi.DevicePath
			}
			opts.Refresh = append(opts.Refresh, refresh)
		}

		alongside := AlongsideOption{OS: *detected}
		if end, ok := freeRegionAfter(d, p); ok {
			start := p.EndSector + 1
			alongside.FreeRegionStart = &start
			alongside.FreeRegionEnd = &end
		} else if used, err := probe.SectorsUsed(ctx, p.DevicePath, fs.MountFSType()); err == nil {
			usedSectors := (used + shrinkHeadroomBytes) / d.LogicalBlockSize
			if usedSectors < p.Sectors() {
				alongside.ShrinkPartition = &Shrink{
					PartitionDevicePath: p.DevicePath,
					SectorsFree:         p.Sectors() - usedSectors,
				}
			}
		}
		opts.Alongside = append(opts.Alongside, alongside)
	}
	return nil
}

// findSiblingMount is a placeholder for locating another partition on the
// same disk with the given conventional mount target; in a live refresh
// scan this is informed by an fstab read on the detected root, which is
// out of this package's scope (§4.3 handles the per-OS fstab read).
func findSiblingMount(d *disk.Disk, target string, exceptIndex int) *disk.Partition {
	for i, p := range d.Partitions {
		if i == exceptIndex {
			continue
		}
		if p.MountTarget != nil && *p.MountTarget == target {
			return p
		}
	}
	return nil
}

func findPartitionByFlag(d *disk.Disk, flag disk.PartitionFlag) *disk.Partition {
	for _, p := range d.Partitions {
		for _, f := range p.Flags {
			if f == flag {
				return p
			}
		}
	}
	return nil
}

// freeRegionAfter reports the end sector of unused space immediately
// following p on the same disk, if any.
func freeRegionAfter(d *disk.Disk, p *disk.Partition) (uint64, bool) {
	nextStart := d.TotalSectors
	found := false
	for _, q := range d.Partitions {
		if q == p || q.StartSector <= p.EndSector {
			continue
		}
		if q.StartSector < nextStart {
			nextStart = q.StartSector
			found = true
		}
	}
	if !found {
		nextStart = d.TotalSectors
	}
	if nextStart <= p.EndSector+1 {
		return 0, false
	}
	return nextStart - 1, true
}

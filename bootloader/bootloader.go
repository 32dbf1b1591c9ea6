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

// Package bootloader installs the boot record described by spec §4.8's
// "Bootloader" step: BIOS grub, EFI grub, or Pop!_OS-style bootctl-only,
// branching on detected or forced firmware.
package bootloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/coreos/pkg/capnslog"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/distinst-go/distinst/internal/distinsterr"
	"github.com/distinst-go/distinst/internal/environ"
	"github.com/distinst-go/distinst/internal/envfile"
	"github.com/distinst-go/distinst/mount"
)

var plog = capnslog.NewPackageLogger("github.com/distinst-go/distinst", "bootloader")

// Firmware names the detected or forced boot firmware kind.
type Firmware int

const (
	BIOS Firmware = iota
	EFI
)

// efiFirmwareDir is checked on the host (bind-mounted into the chroot by
// the install orchestrator's Configure step when present) to auto-detect
// firmware (spec §4.8).
const efiFirmwareDir = "/sys/firmware/efi"

// Detect reports the firmware kind, honoring env's FORCE_BOOTLOADER
// override before falling back to the /sys/firmware/efi probe.
func Detect(env *environ.Environment) Firmware {
	switch env.ForceBootloader() {
	case environ.BootloaderBIOS:
		return BIOS
	case environ.BootloaderEFI:
		return EFI
	}
	if _, err := os.Stat(efiFirmwareDir); err == nil {
		return EFI
	}
	return BIOS
}

// Config names everything the Bootloader step needs beyond firmware
// detection (spec §4.8).
type Config struct {
	// DiskDevicePath is the whole-disk device the boot record targets,
	// e.g. /dev/sda.
	DiskDevicePath string
	// ESPPartitionNumber is the EFI System Partition's number, used by
	// efibootmgr --part.
	ESPPartitionNumber int32
	// DistributionName names the /boot/efi/EFI/<name> directory and the
	// --bootloader argument for a non-Pop!_OS EFI/grub install.
	DistributionName string
	// PrettyLabel is the efibootmgr --label value.
	PrettyLabel string
	// UseBootctlOnly selects the Pop!_OS-style `bootctl install` path
	// instead of grub-install+grub-mkconfig on EFI.
	UseBootctlOnly bool
}

// Install runs the bootloader step inside chroot, branching on Detect(env)
// (spec §4.8).
func Install(ctx context.Context, chroot *mount.Chroot, env *environ.Environment, cfg Config) error {
	const op = "bootloader.Install"

	switch Detect(env) {
	case BIOS:
		plog.Infof("bootloader: BIOS install to %s", cfg.DiskDevicePath)
		if err := run(ctx, chroot, "grub-install", "--target=i386-pc", "--recheck", cfg.DiskDevicePath); err != nil {
			return distinsterr.Wrap(distinsterr.DiskCommit, op, err)
		}
		return nil

	case EFI:
		if cfg.UseBootctlOnly {
			plog.Info("bootloader: EFI install via bootctl")
			if err := run(ctx, chroot, "bootctl", "install", "--path=/boot/efi", "--no-variables"); err != nil {
				return distinsterr.Wrap(distinsterr.DiskCommit, op, err)
			}
			return markInstalled(chroot.Root, cfg.DistributionName)
		}

		plog.Infof("bootloader: EFI/grub install for %s", cfg.DistributionName)
		if marked, id := checkInstalled(chroot.Root, cfg.DistributionName); marked {
			plog.Infof("bootloader: EFI/grub already installed (install id %s), reconfiguring only", id)
		}

		defaultGrub := filepath.Join(chroot.Root, "etc", "default", "grub")
		ef, err := envfile.Load(defaultGrub)
		if err != nil {
			return distinsterr.Wrap(distinsterr.DiskCommit, op, err)
		}
		ef.Set("GRUB_ENABLE_CRYPTODISK", "y")
		if err := ef.Write(); err != nil {
			return distinsterr.Wrap(distinsterr.DiskCommit, op, err)
		}

		bootDir := "/boot/efi/EFI/" + cfg.DistributionName
		if err := run(ctx, chroot,
			"grub-install",
			"--target=x86_64-efi",
			"--efi-directory=/boot/efi",
			"--boot-directory="+bootDir,
			"--bootloader="+cfg.DistributionName,
		); err != nil {
			return distinsterr.Wrap(distinsterr.DiskCommit, op, err)
		}
		if err := run(ctx, chroot, "grub-mkconfig", "-o", bootDir+"/grub/grub.cfg"); err != nil {
			return distinsterr.Wrap(distinsterr.DiskCommit, op, err)
		}
		if err := run(ctx, chroot, "update-initramfs", "-c", "-k", "all"); err != nil {
			return distinsterr.Wrap(distinsterr.DiskCommit, op, err)
		}

		if env.ModifyBootOrder {
			loader := fmt.Sprintf("\\EFI\\%s\\grubx64.efi", cfg.DistributionName)
			if err := run(ctx, chroot,
				"efibootmgr", "--create",
				"--disk", cfg.DiskDevicePath,
				"--part", fmt.Sprintf("%d", cfg.ESPPartitionNumber),
				"--write-signature",
				"--label", cfg.PrettyLabel,
				"--loader", loader,
			); err != nil {
				return distinsterr.Wrap(distinsterr.DiskCommit, op, err)
			}
		}

		return markInstalled(chroot.Root, cfg.DistributionName)
	}

	return distinsterr.New(distinsterr.DiskCommit, op)
}

func run(ctx context.Context, chroot *mount.Chroot, name string, args ...string) error {
	cmd := chroot.Command(ctx, name, args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "%s: %s", name, string(out))
	}
	return nil
}

// markInstalled and checkInstalled implement an idempotent-reinstall
// marker not present in the original's primitive string matching: a
// uuid-tagged record under the target's EFI directory lets a second
// install run recognize that grub-install already ran for this
// distribution name, without needing to parse NVRAM state.
func markerPath(root, distributionName string) string {
	return filepath.Join(root, "boot", "efi", "EFI", distributionName, ".install-id")
}

func markInstalled(root, distributionName string) error {
	path := markerPath(root, distributionName)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "creating %s", filepath.Dir(path))
	}
	id := uuid.New().String()
	if err := os.WriteFile(path, []byte(id+"\n"), 0o644); err != nil {
		return errors.Wrapf(err, "writing %s", path)
	}
	return nil
}

func checkInstalled(root, distributionName string) (bool, string) {
	data, err := os.ReadFile(markerPath(root, distributionName))
	if err != nil {
		return false, ""
	}
	id := string(data)
	if len(id) > 0 && id[len(id)-1] == '\n' {
		id = id[:len(id)-1]
	}
	if _, err := uuid.Parse(id); err != nil {
		return false, ""
	}
	return true, id
}

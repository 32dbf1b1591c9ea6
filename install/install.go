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

// Package install drives the fixed Init → Partition → Extract → Configure
// → Bootloader orchestration (spec §4.8): a monotonically non-decreasing
// step state machine that syncs and checks for cancellation at every
// boundary, reports Status to the embedder, and unwinds its mounts
// regardless of how a step exits.
package install

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/coreos/pkg/capnslog"
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/distinst-go/distinst/bootloader"
	"github.com/distinst-go/distinst/commit"
	"github.com/distinst-go/distinst/disk"
	"github.com/distinst-go/distinst/fstab"
	"github.com/distinst-go/distinst/internal/distinsterr"
	"github.com/distinst-go/distinst/internal/environ"
	"github.com/distinst-go/distinst/internal/runner"
	"github.com/distinst-go/distinst/mount"
	"github.com/distinst-go/distinst/probe"
	"github.com/distinst-go/distinst/squashfs"
)

var plog = capnslog.NewPackageLogger("github.com/distinst-go/distinst", "install")

// Step names a stage of the install state machine, strictly
// non-decreasing across a single run.
type Step int

const (
	StepInit Step = iota
	StepPartition
	StepExtract
	StepConfigure
	StepBootloader
	StepDone
)

func (s Step) String() string {
	switch s {
	case StepInit:
		return "init"
	case StepPartition:
		return "partition"
	case StepExtract:
		return "extract"
	case StepConfigure:
		return "configure"
	case StepBootloader:
		return "bootloader"
	case StepDone:
		return "done"
	default:
		return "unknown"
	}
}

// Status is emitted at step boundaries and on component progress ticks.
type Status struct {
	Step    Step
	Percent int
}

// Config names everything a single install run needs (spec §4.8).
type Config struct {
	SquashfsPath            string
	RemovePackagesManifest  string // newline-delimited package names, may be empty
	TargetRoot              string // scratch mount point for the new root
	Hostname                string
	LocaleConf              string // full contents of /etc/locale.conf
	HardwarePackages        []string
	CdromPath               string // bind-mounted into target if non-empty and present
	Bootloader              bootloader.Config
}

// Orchestrator drives one install run against disks, reporting through
// OnStatus/OnError (spec §6 callbacks).
type Orchestrator struct {
	Env    *environ.Environment
	Disks  *disk.Disks
	Engine *commit.Engine

	OnStatus func(Status)
	OnError  func(Step, error)
}

// New builds an Orchestrator with a fresh commit.Engine.
func New(env *environ.Environment, disks *disk.Disks) *Orchestrator {
	return &Orchestrator{Env: env, Disks: disks, Engine: commit.New()}
}

func (o *Orchestrator) status(step Step, percent int) {
	daemon.SdNotify(false, fmt.Sprintf("STATUS=%s %d%%", step, percent))
	if o.OnStatus != nil {
		o.OnStatus(Status{Step: step, Percent: percent})
	}
}

// apply checks cancellation and issues sync() before running a step's
// work, per spec §4.8/§5 ("sync() is issued before each orchestrator
// step").
func (o *Orchestrator) apply(step Step, work func() error) error {
	if o.Env.Cancelled() {
		return distinsterr.New(distinsterr.Interrupted, "install."+step.String())
	}
	unix.Sync()
	o.status(step, 0)
	if err := work(); err != nil {
		if o.OnError != nil {
			o.OnError(step, err)
		}
		return err
	}
	o.status(step, 100)
	return nil
}

// Run executes every step in order, stopping at the first error or at a
// cancellation boundary.
func (o *Orchestrator) Run(ctx context.Context, cfg Config) error {
	if err := o.apply(StepInit, func() error { return o.stepInit(cfg) }); err != nil {
		return err
	}
	if err := o.apply(StepPartition, func() error { return o.stepPartition(ctx) }); err != nil {
		return err
	}

	var chroot *mount.Chroot
	var rootMounts []*mount.Mount
	defer func() {
		if chroot != nil {
			chroot.Close()
		}
		for i := len(rootMounts) - 1; i >= 0; i-- {
			rootMounts[i].Close()
		}
	}()

	if err := o.apply(StepExtract, func() error {
		var err error
		rootMounts, err = o.stepExtract(ctx, cfg)
		return err
	}); err != nil {
		return err
	}
	if err := o.apply(StepConfigure, func() error {
		var err error
		chroot, err = o.stepConfigure(ctx, cfg)
		return err
	}); err != nil {
		return err
	}
	if err := o.apply(StepBootloader, func() error {
		return bootloader.Install(ctx, chroot, o.Env, cfg.Bootloader)
	}); err != nil {
		return err
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)
	return nil
}

// stepInit verifies preconditions and tears down any pre-existing mount
// on a device the plan will touch, preserving whatever is mounted at "/"
// (spec §4.8 "Init").
func (o *Orchestrator) stepInit(cfg Config) error {
	const op = "install.init"
	if _, err := os.Stat(cfg.SquashfsPath); err != nil {
		return distinsterr.Wrap(distinsterr.DeviceProbe, op, errors.Wrapf(err, "squashfs image %s", cfg.SquashfsPath))
	}

	if cfg.RemovePackagesManifest != "" {
		if _, err := readManifest(cfg.RemovePackagesManifest); err != nil {
			return distinsterr.Wrap(distinsterr.DeviceProbe, op, err)
		}
	}

	if err := o.Disks.VerifyKeyfilePaths(); err != nil {
		return err
	}

	touched := map[string]bool{}
	for _, d := range o.Disks.Physical {
		for _, p := range d.Partitions {
			if p.WillRemove() || p.WillFormat() || p.WillMove() || d.Mklabel {
				touched[p.DevicePath] = true
			}
		}
	}

	mounts, err := probe.ReadMounts()
	if err != nil {
		return distinsterr.Wrap(distinsterr.MountsObtain, op, err)
	}
	for _, m := range mounts {
		if m.MountPoint == "/" || !touched[m.Device] {
			continue
		}
		if err := mount.UnmountPath(m.MountPoint, true); err != nil {
			plog.Warningf("install: init: unmounting pre-existing %s: %v", m.MountPoint, err)
		}
	}
	return nil
}

func readManifest(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading remove-packages manifest %s", path)
	}
	defer f.Close()

	var packages []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line != "" {
			packages = append(packages, line)
		}
	}
	return packages, scanner.Err()
}

// stepPartition invokes the commit engine and maps its per-phase progress
// reports onto the partition step's percentage: "deactivate" reports 25,
// "format" 75, "logical" 90 and "done" 100. The engine reports no phase
// of its own for the parted commit, the blockdev re-read or volume-group
// reactivation, so those produce no separate ticks.
func (o *Orchestrator) stepPartition(ctx context.Context) error {
	o.Engine.OnProgress = func(step string, current, total int) {
		pct := 25
		switch step {
		case "deactivate":
			pct = 25
		case "format":
			pct = 75
		case "logical":
			pct = 90
		case "done":
			pct = 100
		}
		o.status(StepPartition, pct)
	}
	defer func() { o.Engine.OnProgress = nil }()
	return o.Engine.Commit(ctx, o.Disks)
}

// stepExtract mounts the committed layout at cfg.TargetRoot (shallowest
// mount target first), extracts the squashfs image into it, and removes
// any packages named in the manifest via dpkg's --root mode, which
// operates against an unmounted tree without needing chroot-bound
// /dev,/proc,/sys (those come later, in Configure).
func (o *Orchestrator) stepExtract(ctx context.Context, cfg Config) ([]*mount.Mount, error) {
	const op = "install.extract"

	type target struct {
		devicePath, fstype, mountTarget string
	}
	var targets []target
	collect := func(p *disk.Partition) {
		if p.IsRemove() || p.MountTarget == nil {
			return
		}
		fs := p.EffectiveFileSystem()
		if fs == nil || fs.IsContainer() {
			return
		}
		targets = append(targets, target{p.DevicePath, fs.MountFSType(), *p.MountTarget})
	}
	for _, d := range o.Disks.Physical {
		for _, p := range d.Partitions {
			collect(p)
		}
	}
	for _, lv := range o.Disks.Logical {
		for _, p := range lv.Partitions {
			collect(p)
		}
	}
	depth := func(mountTarget string) int {
		if mountTarget == "/" {
			return 0
		}
		return strings.Count(mountTarget, "/")
	}
	sort.Slice(targets, func(i, j int) bool {
		return depth(targets[i].mountTarget) < depth(targets[j].mountTarget)
	})

	var mounts []*mount.Mount
	for _, t := range targets {
		full := filepath.Join(cfg.TargetRoot, t.mountTarget)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return mounts, distinsterr.Wrap(distinsterr.MountsObtain, op, err)
		}
		m, err := mount.New(t.devicePath, full, t.fstype, "")
		if err != nil {
			return mounts, err
		}
		mounts = append(mounts, m)
	}

	onProgress := func(pct int) { o.status(StepExtract, pct) }
	if err := squashfs.Extract(ctx, cfg.SquashfsPath, cfg.TargetRoot, onProgress); err != nil {
		return mounts, err
	}

	if cfg.RemovePackagesManifest != "" {
		packages, err := readManifest(cfg.RemovePackagesManifest)
		if err != nil {
			return mounts, distinsterr.Wrap(distinsterr.DeviceProbe, op, err)
		}
		for _, pkg := range packages {
			args := []string{"--root=" + cfg.TargetRoot, "--force-remove-reinstreq", "--purge", pkg}
			if err := runner.Exec(ctx, "dpkg", runner.Options{AllowedExit: []int{1}}, args...); err != nil {
				plog.Warningf("install: extract: removing package %s: %v", pkg, err)
			}
		}
	}

	return mounts, nil
}

// stepConfigure binds kernel interfaces into the target, writes
// fstab/crypttab/hostname/locale, and regenerates the initramfs (spec
// §4.8 "Configure").
func (o *Orchestrator) stepConfigure(ctx context.Context, cfg Config) (*mount.Chroot, error) {
	const op = "install.configure"

	if err := validateHostname(cfg.Hostname); err != nil {
		return nil, distinsterr.Wrap(distinsterr.DeviceProbe, op, err)
	}

	chroot, err := mount.NewChroot(cfg.TargetRoot)
	if err != nil {
		return nil, err
	}

	if _, statErr := os.Stat("/sys/firmware/efi"); statErr == nil && !o.Env.NoEFIVariables() {
		if err := chroot.BindExtra("/sys/firmware/efi/efivars", "sys/firmware/efi/efivars"); err != nil {
			plog.Warningf("install: configure: binding efivars: %v", err)
		}
	}
	if cfg.CdromPath != "" {
		if _, statErr := os.Stat(cfg.CdromPath); statErr == nil {
			if err := chroot.BindExtra(cfg.CdromPath, "cdrom"); err != nil {
				plog.Warningf("install: configure: binding /cdrom: %v", err)
			}
		}
	}

	ident := func(p *disk.Partition) (string, string) {
		ids, _ := probe.ResolveIdentifiers(p.DevicePath)
		fs := p.EffectiveFileSystem()
		fatLike := fs != nil && (*fs == disk.Fat16 || *fs == disk.Fat32)
		if pick := probe.PreferredIdentifier(ids, fatLike); pick != nil {
			return strings.ToUpper(pick.Kind), filepath.Base(pick.Path)
		}
		return "PATH", p.DevicePath
	}
	mapperNames := func() map[string]bool {
		entries, _ := os.ReadDir("/dev/mapper")
		names := map[string]bool{}
		for _, e := range entries {
			names[e.Name()] = true
		}
		return names
	}

	fstabBytes, crypttabBytes := fstab.Render(o.Disks, ident, mapperNames)
	if err := os.WriteFile(filepath.Join(cfg.TargetRoot, "etc", "fstab"), fstabBytes, 0o644); err != nil {
		return chroot, distinsterr.Wrap(distinsterr.DiskSync, op, err)
	}
	if err := os.WriteFile(filepath.Join(cfg.TargetRoot, "etc", "crypttab"), crypttabBytes, 0o644); err != nil {
		return chroot, distinsterr.Wrap(distinsterr.DiskSync, op, err)
	}
	if err := os.WriteFile(filepath.Join(cfg.TargetRoot, "etc", "hostname"), []byte(cfg.Hostname+"\n"), 0o644); err != nil {
		return chroot, distinsterr.Wrap(distinsterr.DiskSync, op, err)
	}
	if cfg.LocaleConf != "" {
		if err := os.WriteFile(filepath.Join(cfg.TargetRoot, "etc", "locale.conf"), []byte(cfg.LocaleConf), 0o644); err != nil {
			return chroot, distinsterr.Wrap(distinsterr.DiskSync, op, err)
		}
	}

	if o.Env.InstallHardwareSupport && len(cfg.HardwarePackages) > 0 {
		args := append([]string{"install", "-y"}, cfg.HardwarePackages...)
		cmd := chroot.Command(ctx, "apt-get", args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			plog.Warningf("install: configure: hardware packages: %v: %s", err, out)
		}
	}

	cmd := chroot.Command(ctx, "update-initramfs", "-c", "-k", "all")
	if out, err := cmd.CombinedOutput(); err != nil {
		return chroot, distinsterr.Wrap(distinsterr.DiskSync, op, errors.Wrapf(err, "%s", out))
	}

	plog.Infof("install: configure: wrote %s of fstab, %s of crypttab", humanize.Bytes(uint64(len(fstabBytes))), humanize.Bytes(uint64(len(crypttabBytes))))
	return chroot, nil
}

// validateHostname enforces the RFC 1123 subset spec §4.8 names: only
// [A-Za-z0-9-], non-empty, no leading or trailing hyphen.
func validateHostname(name string) error {
	if name == "" {
		return fmt.Errorf("hostname must not be empty")
	}
	if name[0] == '-' || name[len(name)-1] == '-' {
		return fmt.Errorf("hostname must not start or end with '-': %q", name)
	}
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-') {
			return fmt.Errorf("hostname contains invalid character %q", r)
		}
	}
	return nil
}

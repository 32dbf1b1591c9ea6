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

// Package mount implements the scoped mount primitive and chroot
// bind-mount manager (spec §4.6). A Mount holds exclusive logical
// ownership of its target until Close; a Chroot owns five bind mounts
// created in a fixed order and released in reverse, the same discipline
// mantle's system/exec and chroot-driving callers use for PTY/command
// lifecycles, generalized here to bind mounts.
package mount

import (
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/distinst-go/distinst/internal/distinsterr"
)

// flagNames maps the mount(8) option vocabulary splitFlags needs to
// recognize, generalizing mantle/system/mount_linux_test.go's
// splitFlags (kept there as a stdlib-syscall-level helper; this table
// widens it to the full MS_* flag word for every option this engine's
// bind mounts use).
var flagNames = map[string]uintptr{
	"ro":         unix.MS_RDONLY,
	"nosuid":     unix.MS_NOSUID,
	"nodev":      unix.MS_NODEV,
	"noexec":     unix.MS_NOEXEC,
	"sync":       unix.MS_SYNCHRONOUS,
	"remount":    unix.MS_REMOUNT,
	"mand":       unix.MS_MANDLOCK,
	"dirsync":    unix.MS_DIRSYNC,
	"noatime":    unix.MS_NOATIME,
	"nodiratime": unix.MS_NODIRATIME,
	"bind":       unix.MS_BIND,
	"rbind":      unix.MS_BIND | unix.MS_REC,
	"move":       unix.MS_MOVE,
	"silent":     unix.MS_SILENT,
	"private":    unix.MS_PRIVATE,
	"slave":      unix.MS_SLAVE,
	"shared":     unix.MS_SHARED,
	"relatime":   unix.MS_RELATIME,
	"strictatime": unix.MS_STRICTATIME,
}

// splitFlags turns a comma-separated mount(8) option string into an MS_*
// flag word plus whatever options don't map to a flag (passed through as
// the filesystem-specific data string), mirroring the teacher's
// splitFlags test fixture.
func splitFlags(opts string) (uintptr, string) {
	var flags uintptr
	var extra []string
	if opts == "" {
		return 0, ""
	}
	for _, o := range strings.Split(opts, ",") {
		if f, ok := flagNames[o]; ok {
			flags |= f
		} else {
			extra = append(extra, o)
		}
	}
	return flags, strings.Join(extra, ",")
}

// Mount is a single active mountpoint. It must be released exactly once
// via Close; no two Mounts may exist for the same Target at once (spec
// §5 "Locking discipline").
type Mount struct {
	Source, Target, FSType, Options string
	lazy                            bool
	closed                          bool
}

// New mounts source at target with the given filesystem type and
// mount(8)-style comma-separated options.
func New(source, target, fstype, options string) (*Mount, error) {
	const op = "mount.New"
	flags, data := splitFlags(options)
	if err := unix.Mount(source, target, fstype, flags, data); err != nil {
		return nil, distinsterr.Wrap(distinsterr.MountsObtain, op, errors.Wrapf(err, "mount %s on %s", source, target))
	}
	return &Mount{Source: source, Target: target, FSType: fstype, Options: options}, nil
}

// Bind bind-mounts source onto target (used for /dev, /proc, /sys, /run,
// /dev/pts and /cdrom inside a chroot tree).
func Bind(source, target string) (*Mount, error) {
	return New(source, target, "", "bind")
}

// SetLazy records a lazy-unmount preference on m. Close does not consult
// it: Close always performs a lazy (detach) unmount, matching "guaranteed
// unmount on drop" in spec §4.6.
func (m *Mount) SetLazy(lazy bool) { m.lazy = lazy }

// Close unmounts the target. It is safe to call multiple times; after
// the first call it is a no-op, matching a scoped-release-on-drop
// discipline where double-release must never propagate an error (spec
// §7: "Mount/chroot drops never propagate; they log and swallow").
func (m *Mount) Close() error {
	if m.closed {
		return nil
	}
	m.closed = true
	return m.Unmount(true)
}

// Unmount performs an explicit unmount, lazy (MNT_DETACH) or immediate.
func (m *Mount) Unmount(lazy bool) error {
	return UnmountPath(m.Target, lazy)
}

// UnmountPath unmounts whatever is mounted at target without requiring a
// live Mount handle, used by the commit engine's deactivate phase to
// release mountpoints discovered via the probe layer rather than created
// in-process (spec §4.5 step 1).
func UnmountPath(target string, lazy bool) error {
	const op = "mount.Unmount"
	flags := 0
	if lazy {
		flags = unix.MNT_DETACH
	}
	if err := unix.Unmount(target, flags); err != nil {
		return distinsterr.Wrap(distinsterr.Unmount, op, errors.Wrapf(err, "unmount %s", target))
	}
	return nil
}

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

package mount

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/distinst-go/distinst/internal/distinsterr"
)

// chrootBindOrder is the fixed creation order from spec §4.6; release
// happens in reverse.
var chrootBindOrder = []string{"dev", "dev/pts", "proc", "run", "sys"}

// Chroot owns five bind mounts under root (/dev, /dev/pts, /proc, /run,
// /sys), created in order and released in reverse. It holds exclusive
// ownership of root's bind points until Close (spec §5).
type Chroot struct {
	Root   string
	mounts []*Mount
}

// NewChroot bind-mounts /dev, /dev/pts, /proc, /run, /sys from the host
// into root, in that order. On any failure it unwinds what it already
// mounted before returning the error.
func NewChroot(root string) (*Chroot, error) {
	const op = "mount.NewChroot"
	c := &Chroot{Root: root}
	for _, rel := range chrootBindOrder {
		target := filepath.Join(root, rel)
		if err := os.MkdirAll(target, 0o755); err != nil {
			c.Close()
			return nil, distinsterr.Wrap(distinsterr.MountsObtain, op, err)
		}
		m, err := Bind(filepath.Join("/", rel), target)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.mounts = append(c.mounts, m)
	}
	return c, nil
}

// BindExtra mounts an additional host path into the chroot tree (e.g.
// /sys/firmware/efi/efivars, /cdrom), tracked for release alongside the
// fixed five.
func (c *Chroot) BindExtra(hostPath, relTarget string) error {
	target := filepath.Join(c.Root, relTarget)
	if err := os.MkdirAll(target, 0o755); err != nil {
		return err
	}
	m, err := Bind(hostPath, target)
	if err != nil {
		return err
	}
	c.mounts = append(c.mounts, m)
	return nil
}

// Close releases every bind mount in reverse order, swallowing individual
// unmount errors (spec §7) but returning the first one encountered for
// callers that want to log it.
func (c *Chroot) Close() error {
	var first error
	for i := len(c.mounts) - 1; i >= 0; i-- {
		if err := c.mounts[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	c.mounts = nil
	return first
}

// Command returns a `chroot <root> <cmd> <args...>` invocation with
// captured stdio, the shape spec §4.6 names for running tools inside the
// target.
func (c *Chroot) Command(ctx context.Context, cmd string, args ...string) *exec.Cmd {
	full := append([]string{c.Root, cmd}, args...)
	command := exec.CommandContext(ctx, "chroot", full...)
	command.Env = filteredEnv()
	return command
}

// filteredEnv carries a minimal safe environment into the chroot,
// dropping host-specific variables (HOME, PWD, ...) that don't make
// sense across the chroot boundary.
func filteredEnv() []string {
	keep := map[string]bool{"PATH": true, "TERM": true, "LANG": true}
	var out []string
	for _, kv := range os.Environ() {
		for k := range keep {
			if len(kv) > len(k) && kv[:len(k)+1] == k+"=" {
				out = append(out, kv)
			}
		}
	}
	return out
}

// NspawnChroot is the systemd-nspawn-backed alternative named in spec
// §4.6, offering cgroup/device isolation beyond a bare chroot. Nothing in
// the engine selects it automatically; the install orchestrator uses
// Chroot.
type NspawnChroot struct {
	Root    string
	Binds   []string // host:target pairs, "src:dst"
	Devices []string // DeviceAllow= entries
}

// Command returns a `systemd-nspawn -D <root> --bind=... --property=...`
// invocation equivalent to Chroot.Command.
func (n *NspawnChroot) Command(ctx context.Context, cmd string, args ...string) *exec.Cmd {
	nargs := []string{"-D", n.Root}
	for _, b := range n.Binds {
		nargs = append(nargs, "--bind="+b)
	}
	for _, d := range n.Devices {
		nargs = append(nargs, "--property=DeviceAllow="+d)
	}
	nargs = append(nargs, cmd)
	nargs = append(nargs, args...)
	command := exec.CommandContext(ctx, "systemd-nspawn", nargs...)
	command.Env = filteredEnv()
	return command
}

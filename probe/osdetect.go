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

package probe

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/distinst-go/distinst/internal/distinsterr"
	"github.com/distinst-go/distinst/internal/runner"
)

// InstalledOS describes an OS found on a mounted partition (spec §4.3,
// used by the auto-options planner for "refresh"/"alongside").
type InstalledOS struct {
	Name    string
	Kind    string // "linux", "windows", "macos"
	Version string
}

// DetectOS inspects an already-mounted filesystem root for os-release,
// a Windows install, or a macOS install, in that order.
func DetectOS(root string) (*InstalledOS, error) {
	if osRelease, err := parseOSRelease(filepath.Join(root, "etc", "os-release")); err == nil {
		return osRelease, nil
	}
	if _, err := os.Stat(filepath.Join(root, "Windows", "System32", "ntoskrnl.exe")); err == nil {
		return &InstalledOS{Name: "Windows", Kind: "windows"}, nil
	}
	if plist, err := os.Stat(filepath.Join(root, "System", "Library", "CoreServices", "SystemVersion.plist")); err == nil && !plist.IsDir() {
		return &InstalledOS{Name: "macOS", Kind: "macos"}, nil
	}
	return nil, ErrNoOSFound
}

func parseOSRelease(path string) (*InstalledOS, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fields := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[k] = strings.Trim(v, `"`)
	}
	name := fields["PRETTY_NAME"]
	if name == "" {
		name = fields["NAME"]
	}
	return &InstalledOS{Name: name, Kind: "linux", Version: fields["VERSION_ID"]}, nil
}

// MountReadOnlyAndDetect mounts devicePath read-only at a fresh temp dir,
// runs DetectOS, and always unmounts, per spec §4.3.
func MountReadOnlyAndDetect(ctx context.Context, devicePath, fstype string) (*InstalledOS, error) {
	dir, err := os.MkdirTemp("", "distinst-osprobe-")
	if err != nil {
		return nil, err
	}
	defer os.RemoveAll(dir)

	if err := runner.Exec(ctx, "mount", runner.Options{}, "-o", "ro", "-t", fstype, devicePath, dir); err != nil {
		return nil, err
	}
	defer runner.Exec(ctx, "umount", runner.Options{}, dir)

	return DetectOS(dir)
}

// SectorsUsed invokes a filesystem dump tool to learn how many bytes of a
// filesystem are actually in use, for the alongside-shrink planner (spec
// §4.3, §4.10). Only ext2/3/4 are supported, via dumpe2fs; any other
// filesystem returns an error of kind DeviceProbe.
func SectorsUsed(ctx context.Context, devicePath, mountFSType string) (uint64, error) {
	switch mountFSType {
	case "ext2", "ext3", "ext4":
		return sectorsUsedExt(ctx, devicePath)
	default:
		return 0, distinsterr.New(distinsterr.DeviceProbe, "probe.SectorsUsed")
	}
}

func sectorsUsedExt(ctx context.Context, devicePath string) (uint64, error) {
	out, err := runner.ExecWithStdout(ctx, "dumpe2fs", runner.Options{}, "-h", devicePath)
	if err != nil {
		return 0, err
	}
	var blockCount, freeBlocks, blockSize uint64
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		v = strings.TrimSpace(v)
		switch strings.TrimSpace(k) {
		case "Block count":
			blockCount = parseUintOrZero(v)
		case "Free blocks":
			freeBlocks = parseUintOrZero(v)
		case "Block size":
			blockSize = parseUintOrZero(v)
		}
	}
	if blockSize == 0 {
		blockSize = 4096
	}
	return (blockCount - freeBlocks) * blockSize, nil
}

func parseUintOrZero(s string) uint64 {
	var n uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + uint64(c-'0')
	}
	return n
}

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

//go:build linux

package probe

import (
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

// blkGetSize64 and blkSSZGet ioctl request numbers, from linux/fs.h.
const (
	blkGetSize64 = 0x80081272
	blkSSZGet    = 0x1268
)

// IoctlDeviceSize reads the device size in bytes via BLKGETSIZE64,
// needed for devices (loopback, test fixtures) that don't expose a
// sysfs size attribute (spec §4.3).
func IoctlDeviceSize(devicePath string) (uint64, error) {
	f, err := os.Open(devicePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var size uint64
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, f.Fd(), blkGetSize64, uintptr(unsafe.Pointer(&size)))
	if errno != 0 {
		return 0, errno
	}
	return size, nil
}

// IoctlLogicalBlockSize reads the logical sector size via BLKSSZGET.
func IoctlLogicalBlockSize(devicePath string) (uint64, error) {
	f, err := os.Open(devicePath)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	size, err := unix.IoctlGetInt(int(f.Fd()), blkSSZGet)
	if err != nil {
		return 0, err
	}
	return uint64(size), nil
}

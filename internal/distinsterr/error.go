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

// Package distinsterr defines the typed error taxonomy raised across the
// engine (spec §7), wrapping underlying causes (subprocess failures, I/O
// errors) the way callers shell out via internal/runner.
package distinsterr

import "fmt"

// Kind identifies a class of engine failure independent of its cause.
type Kind string

const (
	InvalidSector             Kind = "invalid_sector"
	PartitionOOB              Kind = "partition_oob"
	SectorOverlaps            Kind = "sector_overlaps"
	PrimaryPartitionsExceeded Kind = "primary_partitions_exceeded"
	PartitionTooSmall         Kind = "partition_too_small"
	PartitionTooLarge         Kind = "partition_too_large"
	LayoutChanged             Kind = "layout_changed"
	DiskCommit                Kind = "disk_commit"
	DiskFresh                 Kind = "disk_fresh"
	DiskSync                  Kind = "disk_sync"
	PartitionRemove           Kind = "partition_remove"
	PartitionMove             Kind = "partition_move"
	PartitionResize           Kind = "partition_resize"
	PartitionCreate           Kind = "partition_create"
	PartitionFormat           Kind = "partition_format"
	Encryption                Kind = "encryption"
	EncryptionOpen            Kind = "encryption_open"
	PhysicalVolumeCreate      Kind = "physical_volume_create"
	VolumeGroupCreate         Kind = "volume_group_create"
	LogicalVolumeCreate       Kind = "logical_volume_create"
	DecryptionOpen            Kind = "decryption_open"
	DecryptedLacksVG          Kind = "decrypted_lacks_vg"
	LuksNotFound              Kind = "luks_not_found"
	KeyContainsRoot           Kind = "key_contains_root"
	KeyPathAlreadySet         Kind = "key_path_already_set"
	KeyWithoutPath            Kind = "key_without_path"
	KeyFileWithoutPath        Kind = "key_file_without_path"
	MountsObtain              Kind = "mounts_obtain"
	Unmount                   Kind = "unmount"
	SerialGet                 Kind = "serial_get"
	DeviceProbe               Kind = "device_probe"
	DeviceGet                 Kind = "device_get"
	Interrupted               Kind = "interrupted"
)

// Error is the concrete error type raised by every package in the engine.
// Op names the operation that failed (e.g. "Disk.add_partition"); Err, if
// set, is the wrapped underlying cause (a subprocess failure, a syscall
// error, ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(kind Kind, op string) *Error {
	return &Error{Kind: kind, Op: op}
}

// Wrap builds an Error around an existing cause.
func Wrap(kind Kind, op string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if de, ok := err.(*Error); ok {
			e = de
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}

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

// PartitionTable is the kind of partition table written to a physical
// disk.
type PartitionTable int

const (
	Gpt PartitionTable = iota
	Msdos
)

func (t PartitionTable) String() string {
	if t == Gpt {
		return "gpt"
	}
	return "msdos"
}

// PartitionType is meaningful only on Msdos; Gpt treats every partition
// as Primary.
type PartitionType int

const (
	Primary PartitionType = iota
	Logical
	Extended
)

func (t PartitionType) String() string {
	switch t {
	case Primary:
		return "primary"
	case Logical:
		return "logical"
	default:
		return "extended"
	}
}

// PartitionFlag names a parted partition flag.
type PartitionFlag string

const (
	FlagBoot        PartitionFlag = "boot"
	FlagESP         PartitionFlag = "esp"
	FlagLVM         PartitionFlag = "lvm"
	FlagRAID        PartitionFlag = "raid"
	FlagLegacyBoot  PartitionFlag = "legacy_boot"
	FlagBiosGrub    PartitionFlag = "bios_grub"
	FlagSwap        PartitionFlag = "swap"
	FlagHidden      PartitionFlag = "hidden"
	FlagLinuxHome   PartitionFlag = "linux-home"
	FlagPaloOSAware PartitionFlag = "palo"
)

// maxPrimaries is the Msdos primary+extended ceiling (spec §3).
const maxPrimaries = 4

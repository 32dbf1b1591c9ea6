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

package commit

import (
	"testing"

	"github.com/distinst-go/distinst/disk"
)

func TestMkfsArgsLabeled(t *testing.T) {
	label := "root"
	tool, args, ok := mkfsArgs(disk.Ext4, &label, "/dev/sda2")
	if !ok {
		t.Fatal("expected ok")
	}
	if tool != "mkfs.ext4" {
		t.Errorf("tool = %q", tool)
	}
	if args[len(args)-1] != "/dev/sda2" {
		t.Errorf("expected device path last, got %v", args)
	}
	found := false
	for i, a := range args {
		if a == "-L" && i+1 < len(args) && args[i+1] == "root" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected -L root in args, got %v", args)
	}
}

func TestMkfsArgsUnsupportedContainer(t *testing.T) {
	if _, _, ok := mkfsArgs(disk.Luks, nil, "/dev/sda3"); ok {
		t.Error("luks should have no mkfs tool")
	}
}

func TestShrinkArgsOnlySupportedFS(t *testing.T) {
	if _, _, ok := shrinkArgs(disk.Xfs, "/dev/sda1", 1024); ok {
		t.Error("xfs should not support shrink")
	}
	if _, args, ok := shrinkArgs(disk.Ext4, "/dev/sda1", 1024*1024); !ok || args[1] != "1024K" {
		t.Errorf("ext4 shrink args = %v ok=%v", args, ok)
	}
}

func TestGrowArgsXfsOnlyGrows(t *testing.T) {
	if _, _, ok := growArgs(disk.Xfs, "/dev/sda1"); !ok {
		t.Error("xfs should support grow")
	}
}

func TestPartedFSNameContainersEmpty(t *testing.T) {
	if partedFSName(disk.Luks) != "" {
		t.Error("luks should pass no fs name to mkpart")
	}
	if partedFSName(disk.Fat32) != "fat32" {
		t.Errorf("fat32 name = %q", partedFSName(disk.Fat32))
	}
}

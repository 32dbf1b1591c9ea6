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

package bootloader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/distinst-go/distinst/internal/environ"
)

func TestDetectForceOverride(t *testing.T) {
	env := environ.New()
	env.SetForceBootloader(environ.BootloaderBIOS)
	if Detect(env) != BIOS {
		t.Error("expected forced BIOS")
	}
	env.SetForceBootloader(environ.BootloaderEFI)
	if Detect(env) != EFI {
		t.Error("expected forced EFI")
	}
}

func TestMarkAndCheckInstalled(t *testing.T) {
	root := t.TempDir()
	if marked, _ := checkInstalled(root, "pop_os"); marked {
		t.Fatal("fresh root should not be marked installed")
	}
	if err := markInstalled(root, "pop_os"); err != nil {
		t.Fatalf("markInstalled: %v", err)
	}
	marked, id := checkInstalled(root, "pop_os")
	if !marked {
		t.Fatal("expected marked after markInstalled")
	}
	if id == "" {
		t.Error("expected non-empty install id")
	}

	path := markerPath(root, "pop_os")
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected EFI dir created: %v", err)
	}
}

func TestCheckInstalledRejectsGarbage(t *testing.T) {
	root := t.TempDir()
	path := markerPath(root, "pop_os")
	os.MkdirAll(filepath.Dir(path), 0o755)
	os.WriteFile(path, []byte("not-a-uuid\n"), 0o644)
	if marked, _ := checkInstalled(root, "pop_os"); marked {
		t.Error("garbage marker should not count as installed")
	}
}

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

package install

import (
	"os"
	"testing"

	"github.com/distinst-go/distinst/disk"
	"github.com/distinst-go/distinst/internal/distinsterr"
	"github.com/distinst-go/distinst/internal/environ"
)

func TestValidateHostname(t *testing.T) {
	cases := []struct {
		name string
		ok   bool
	}{
		{"pop-os", true},
		{"host1", true},
		{"", false},
		{"-bad", false},
		{"bad-", false},
		{"bad_host", false},
		{"bad.host", false},
	}
	for _, c := range cases {
		err := validateHostname(c.name)
		if (err == nil) != c.ok {
			t.Errorf("validateHostname(%q) error = %v, want ok=%v", c.name, err, c.ok)
		}
	}
}

func TestStepBoundaryHonorsCancellation(t *testing.T) {
	env := environ.New()
	env.Cancel()
	o := &Orchestrator{Env: env, Disks: &disk.Disks{}}

	called := false
	err := o.apply(StepInit, func() error { called = true; return nil })
	if err == nil {
		t.Fatal("expected an error after cancellation")
	}
	if !distinsterr.Is(err, distinsterr.Interrupted) {
		t.Errorf("expected Interrupted kind, got %v", err)
	}
	if called {
		t.Error("step work must not run once cancelled")
	}
}

func TestStatusReportsStepAndPercent(t *testing.T) {
	var got []Status
	o := &Orchestrator{Env: environ.New(), Disks: &disk.Disks{}, OnStatus: func(s Status) { got = append(got, s) }}

	if err := o.apply(StepInit, func() error { return nil }); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 status ticks (0%% and 100%%), got %d", len(got))
	}
	if got[0].Percent != 0 || got[1].Percent != 100 {
		t.Errorf("got percents %d, %d; want 0, 100", got[0].Percent, got[1].Percent)
	}
	if got[0].Step != StepInit || got[1].Step != StepInit {
		t.Errorf("expected both ticks tagged StepInit, got %v, %v", got[0].Step, got[1].Step)
	}
}

func TestReadManifestSkipsBlankLines(t *testing.T) {
	path := t.TempDir() + "/remove.list"
	content := "pkg-a\n\npkg-b\n  \npkg-c\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	packages, err := readManifest(path)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"pkg-a", "pkg-b", "pkg-c"}
	if len(packages) != len(want) {
		t.Fatalf("got %v, want %v", packages, want)
	}
	for i := range want {
		if packages[i] != want[i] {
			t.Errorf("packages[%d] = %q, want %q", i, packages[i], want[i])
		}
	}
}

func TestStepInitRejectsMissingSquashfs(t *testing.T) {
	o := &Orchestrator{Env: environ.New(), Disks: &disk.Disks{}}
	err := o.stepInit(Config{SquashfsPath: "/nonexistent/path/image.squashfs"})
	if err == nil {
		t.Fatal("expected an error for a missing squashfs image")
	}
}

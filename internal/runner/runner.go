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

// Package runner is the uniform external-tool driver (spec §4.2): every
// subprocess the engine depends on — parted, cryptsetup, lvcreate, mkfs.*,
// grub-install, ... — is invoked through it rather than ad hoc os/exec
// calls, so exit-code whitelisting and output capture stay in one place.
// Retry policy is layered on top by package internal/retry.
//
// The Cmd wrapper generalizes github.com/coreos/mantle's system/exec
// package: a context-cancellable *exec.Cmd with a Kill that tolerates an
// already-dead child.
package runner

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"unicode/utf8"

	perrors "github.com/pkg/errors"
)

// NotFoundExitCode is the conventional shell exit status for "command not
// found". Exec and ExecWithStdout report it like any other exit code not
// listed in Options.AllowedExit.
const NotFoundExitCode = 127

// Cmd wraps exec.Cmd with context cancellation and idempotent Wait/Kill,
// mirroring mantle/system/exec.ExecCmd.
type Cmd struct {
	*exec.Cmd
	cancel context.CancelFunc
	wait   sync.Once
	waitOk error
}

// Command builds a Cmd bound to ctx; killing ctx kills the child.
func Command(ctx context.Context, name string, args ...string) *Cmd {
	ctx, cancel := context.WithCancel(ctx)
	return &Cmd{Cmd: exec.CommandContext(ctx, name, args...), cancel: cancel}
}

func (c *Cmd) Wait() error {
	c.wait.Do(func() { c.waitOk = c.Cmd.Wait() })
	return c.waitOk
}

// Kill cancels the command's context and waits for exit, swallowing the
// resulting "killed" error.
func (c *Cmd) Kill() error {
	c.cancel()
	err := c.Wait()
	if err == nil {
		return nil
	}
	if _, ok := err.(*exec.ExitError); ok {
		return nil
	}
	return err
}

// Options configures a single invocation.
type Options struct {
	Stdin       []byte
	AllowedExit []int // exit codes, in addition to 0, that count as success
}

func allowed(code int, opts Options) bool {
	if code == 0 {
		return true
	}
	for _, c := range opts.AllowedExit {
		if c == code {
			return true
		}
	}
	return false
}

func exitCode(err error) (int, bool) {
	if err == nil {
		return 0, true
	}
	if ee, ok := err.(*exec.ExitError); ok {
		return ee.ExitCode(), true
	}
	return 0, false
}

// Exec runs name with args to completion, piping opts.Stdin if set.
// Success is exit 0 or a code in opts.AllowedExit; anything else, or a
// spawn failure, is returned as an error.
func Exec(ctx context.Context, name string, opts Options, args ...string) error {
	cmd := Command(ctx, name, args...)
	if len(opts.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	err := cmd.Run()
	if code, ok := exitCode(err); ok {
		if allowed(code, opts) {
			return nil
		}
		return perrors.Wrapf(err, "%s: exit %d: %s", name, code, stderr.String())
	}
	if err == exec.ErrNotFound {
		return perrors.Wrapf(err, "%s: not found", name)
	}
	return perrors.Wrapf(err, "%s", name)
}

// ExecWithStdout runs name with args and returns captured stdout decoded
// as UTF-8; invalid UTF-8 is reported as an error rather than silently
// replaced.
func ExecWithStdout(ctx context.Context, name string, opts Options, args ...string) (string, error) {
	cmd := Command(ctx, name, args...)
	if len(opts.Stdin) > 0 {
		cmd.Stdin = bytes.NewReader(opts.Stdin)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	if code, ok := exitCode(err); ok && allowed(code, opts) {
		out := stdout.Bytes()
		if !utf8.Valid(out) {
			return "", fmt.Errorf("%s: stdout is not valid UTF-8", name)
		}
		return string(out), nil
	}
	if err == exec.ErrNotFound {
		return "", perrors.Wrapf(err, "%s: not found", name)
	}
	return "", perrors.Wrapf(err, "%s: %s", name, stderr.String())
}

// LineCallback receives one line of subprocess output, stripped of its
// trailing newline.
type LineCallback func(line string)

// ExecWithCallbacks streams stdout lines to info and stderr lines to warn
// concurrently with waiting for the child, the pattern used by the
// squashfs extractor and any long-running tool whose progress should be
// surfaced incrementally rather than buffered until exit.
func ExecWithCallbacks(ctx context.Context, name string, info, warn LineCallback, args ...string) error {
	cmd := Command(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return perrors.Wrapf(err, "%s: stdout pipe", name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return perrors.Wrapf(err, "%s: stderr pipe", name)
	}
	if err := cmd.Start(); err != nil {
		return perrors.Wrapf(err, "%s: start", name)
	}

	var wg sync.WaitGroup
	stream := func(r io.Reader, cb LineCallback) {
		defer wg.Done()
		if cb == nil {
			io.Copy(io.Discard, r)
			return
		}
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			cb(scanner.Text())
		}
	}
	wg.Add(2)
	go stream(stdout, info)
	go stream(stderr, warn)
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return perrors.Wrapf(err, "%s", name)
	}
	return nil
}

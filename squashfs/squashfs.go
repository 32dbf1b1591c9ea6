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

// Package squashfs extracts a squashfs (or tar) archive into a target
// directory, surfacing unsquashfs/tar's percent-complete progress output
// by reading it off a PTY (spec §4.9): terminal programs like unsquashfs
// only emit carriage-return progress updates when they believe they're
// attached to a tty.
package squashfs

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"syscall"

	"github.com/coreos/pkg/capnslog"
	"github.com/creack/pty"
	"github.com/pkg/errors"

	"github.com/distinst-go/distinst/internal/distinsterr"
)

var plog = capnslog.NewPackageLogger("github.com/distinst-go/distinst", "squashfs")

// progressLine matches a trailing "NN%" (1-3 digits) on an unsquashfs
// progress-bar line, e.g. "[=====  ] 1234/5678  42%".
var progressLine = regexp.MustCompile(`\[.*\s(\d{1,3})%$`)

// ProgressFunc receives de-duplicated percent-complete ticks in [0,100].
type ProgressFunc func(percent int)

// Extract unpacks archivePath into destDir: unsquashfs for a ".squashfs"
// suffix, `tar --overwrite -xf` otherwise (spec §4.9).
func Extract(ctx context.Context, archivePath, destDir string, onProgress ProgressFunc) error {
	const op = "squashfs.Extract"

	var cmd *exec.Cmd
	if strings.HasSuffix(archivePath, ".squashfs") {
		cmd = exec.CommandContext(ctx, "unsquashfs", "-f", "-d", destDir, archivePath)
	} else {
		cmd = exec.CommandContext(ctx, "tar", "--overwrite", "-xf", archivePath, "-C", destDir)
	}

	master, err := pty.Start(cmd)
	if err != nil {
		return distinsterr.Wrap(distinsterr.DiskCommit, op, errors.Wrap(err, "allocating extraction pty"))
	}
	defer master.Close()

	if err := pty.Setsize(master, &pty.Winsize{Rows: 30, Cols: 80}); err != nil {
		plog.Warningf("squashfs: setting pty size: %v", err)
	}

	readProgress(master, onProgress)

	if err := cmd.Wait(); err != nil {
		return distinsterr.Wrap(distinsterr.DiskCommit, op, errors.Wrapf(err, "%s", cmd.Path))
	}
	return nil
}

// readProgress scans master for progress lines until EOF or EIO (a PTY
// read returns EIO once the slave side has no more writers — the
// equivalent of EOF for a pseudo-terminal, per spec §4.9), reporting only
// strictly-new percent values.
func readProgress(master io.Reader, onProgress ProgressFunc) {
	scanner := bufio.NewScanner(master)
	scanner.Split(scanLinesOrCR)

	last := -1
	for scanner.Scan() {
		line := scanner.Text()
		m := progressLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		pct, err := strconv.Atoi(m[1])
		if err != nil || pct == last {
			continue
		}
		last = pct
		if onProgress != nil {
			onProgress(pct)
		}
	}
	if err := scanner.Err(); err != nil && !isEIO(err) {
		plog.Warningf("squashfs: reading extraction progress: %v", err)
	}
}

// scanLinesOrCR is a bufio.SplitFunc treating '\r' the same as '\n',
// since progress bars overwrite their line with carriage returns rather
// than emitting a newline per tick.
func scanLinesOrCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	for i, b := range data {
		if b == '\n' || b == '\r' {
			return i + 1, data[0:i], nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// isEIO reports whether err is the EIO a PTY read returns once its slave
// has closed, which readProgress treats as a clean EOF rather than a
// failure worth logging.
func isEIO(err error) bool {
	return errors.Is(err, syscall.EIO)
}

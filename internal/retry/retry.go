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

// Package retry provides bounded retry helpers for operations that fail
// transiently against device nodes and filesystem tools.
package retry

import "time"

// Retry calls f until it succeeds or has been called attempts times,
// sleeping delay between attempts. The error from the final call is
// returned if f never succeeds.
func Retry(attempts int, delay time.Duration, f func() error) error {
	return Conditional(attempts, delay, func(error) bool { return true }, f)
}

// Conditional is like Retry but stops immediately, without exhausting
// attempts, when shouldRetry returns false for the error f produced.
func Conditional(attempts int, delay time.Duration, shouldRetry func(err error) bool, f func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		err = f()
		if err == nil || !shouldRetry(err) {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
		}
	}
	return err
}

// Fsck is the retry policy spec'd for post-resize filesystem checks:
// 3 attempts, 1s apart.
func Fsck(f func() error) error {
	return Retry(3, time.Second, f)
}

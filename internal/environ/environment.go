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

// Package environ holds the engine's process-wide controls (spec §6, §9)
// as an explicitly-constructed value threaded through long-running calls,
// rather than package-level globals: FORCE_BOOTLOADER, NO_EFI_VARIABLES,
// KILL_SWITCH and the boot-order/hardware-support config bits.
package environ

import "sync/atomic"

// Bootloader names a firmware override for FORCE_BOOTLOADER.
type Bootloader int32

const (
	BootloaderAuto Bootloader = iota
	BootloaderBIOS
	BootloaderEFI
)

// Environment is safe for concurrent use; every field is either an atomic
// or set once before any goroutine reads it.
type Environment struct {
	forceBootloader atomic.Int32
	noEFIVariables  atomic.Bool
	killSwitch      atomic.Bool

	ModifyBootOrder        bool
	InstallHardwareSupport bool
}

// New builds an Environment with every control at its zero/auto value.
func New() *Environment {
	return &Environment{}
}

func (e *Environment) ForceBootloader() Bootloader {
	return Bootloader(e.forceBootloader.Load())
}

func (e *Environment) SetForceBootloader(b Bootloader) {
	e.forceBootloader.Store(int32(b))
}

func (e *Environment) NoEFIVariables() bool { return e.noEFIVariables.Load() }

func (e *Environment) SetNoEFIVariables(v bool) { e.noEFIVariables.Store(v) }

// Cancelled reports whether KILL_SWITCH has been raised.
func (e *Environment) Cancelled() bool { return e.killSwitch.Load() }

// Cancel raises KILL_SWITCH; observed at the next apply(step) boundary.
func (e *Environment) Cancel() { e.killSwitch.Store(true) }

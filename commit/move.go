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
	"os"

	"github.com/pkg/errors"

	"github.com/distinst-go/distinst/disk"
)

// moveBufferSectors bounds the multi-MiB copy buffer used by
// copySectorsForMove; 2048 sectors at 512B is 1MiB, scaled by the
// device's own logical block size below. This is the widening the spec
// §9 open question calls for ("a correct reimplementation should use a
// large buffer (multi-MiB)") over the literal one-sector-at-a-time loop
// in the original.
const moveBufferSectors = 2048

// copySectorsForMove performs the byte-level relocation of a partition's
// data from op.Skip to op.Skip+op.Offset, both in sectors, over a device
// with sector size lbs. Copy direction follows spec §4.5 step 4 exactly:
// forward when moving toward sector 0 (Offset<0), reversed when moving
// away from it (Offset>0), so that source and destination ranges never
// clobber each other as the copy progresses through an overlapping
// region.
func copySectorsForMove(devicePath string, op disk.MoveOp, lbs uint64) error {
	f, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return errors.Wrapf(err, "opening %s for partition move", devicePath)
	}
	defer f.Close()

	bufSectors := uint64(moveBufferSectors)
	if bufSectors > op.Length {
		bufSectors = op.Length
	}
	if bufSectors == 0 {
		bufSectors = 1
	}
	buf := make([]byte, bufSectors*lbs)

	forward := op.Offset < 0

	copyChunk := func(startSector, nSectors uint64) error {
		chunk := buf[:nSectors*lbs]
		srcOff := int64(op.Skip+startSector) * int64(lbs)
		dstOff := srcOff + op.Offset*int64(lbs)
		if _, err := f.ReadAt(chunk, srcOff); err != nil {
			return errors.Wrap(err, "reading source sectors")
		}
		if _, err := f.WriteAt(chunk, dstOff); err != nil {
			return errors.Wrap(err, "writing destination sectors")
		}
		return nil
	}

	if forward {
		for i := uint64(0); i < op.Length; i += bufSectors {
			n := bufSectors
			if i+n > op.Length {
				n = op.Length - i
			}
			if err := copyChunk(i, n); err != nil {
				return err
			}
		}
	} else {
		for i := op.Length; i > 0; {
			n := bufSectors
			if n > i {
				n = i
			}
			i -= n
			if err := copyChunk(i, n); err != nil {
				return err
			}
		}
	}

	return f.Sync()
}

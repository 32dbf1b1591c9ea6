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

// Package fstab generates /etc/fstab and /etc/crypttab from a committed
// disk.Disks layout (spec §4.7).
package fstab

import (
	"crypto/rand"
	"math/big"
	"sort"
	"strings"

	"github.com/distinst-go/distinst/disk"
)

// Identity resolves the on-disk identifier (UUID=.../PARTUUID=...) for a
// partition. The probe package owns the actual kernel-exposed symlink
// scan (spec §4.3); the generator only needs a lookup function so it
// stays independent of how identifiers were obtained.
type Identity func(p *disk.Partition) (kind string, value string)

// ExistingMapperNames lets the generator collision-check synthesized
// cryptswap names against the live /dev/mapper namespace (spec §4.7,
// §8).
type ExistingMapperNames func() map[string]bool

// Entry is one produced fstab line's fields, kept structured until the
// final render so tests can assert on fields rather than formatted text.
type Entry struct {
	Identifier string
	Mount      string
	FSType     string
	Options    string
}

func (e Entry) render() string {
	opts := e.Options
	if opts == "" {
		opts = "defaults"
	}
	return strings.Join([]string{e.Identifier, e.Mount, e.FSType, opts, "0", "0"}, "  ")
}

// CrypttabEntry is one produced crypttab line.
type CrypttabEntry struct {
	Name    string
	Device  string
	Key     string
	Options string
}

func (e CrypttabEntry) render() string {
	return strings.Join([]string{e.Name, e.Device, e.Key, e.Options}, " ")
}

func defaultOptions(fs disk.FileSystem) string {
	switch fs {
	case disk.Swap:
		return "defaults"
	default:
		return "defaults"
	}
}

// cryptswapName generates a collision-free "cryptswap-XXXXX" mapper
// name; per spec §8, five consecutive collisions fall back to the
// literal "cryptswap".
func cryptswapName(existing map[string]bool) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	for attempt := 0; attempt < 5; attempt++ {
		suffix := make([]byte, 5)
		for i := range suffix {
			n, err := rand.Int(rand.Reader, big.NewInt(int64(len(alphabet))))
			if err != nil {
				suffix[i] = alphabet[0]
				continue
			}
			suffix[i] = alphabet[n.Int64()]
		}
		name := "cryptswap-" + string(suffix)
		if existing == nil || !existing[name] {
			return name
		}
	}
	return "cryptswap"
}

// Generate produces fstab and crypttab contents for the committed layout
// in disks, iterating physical partitions then logical volumes, sorted
// lexicographically by mountpoint within each section (spec §4.7,
// determinism; §8 idempotence).
func Generate(disks *disk.Disks, ident Identity, mapperNames ExistingMapperNames) (fstabOut, crypttabOut string) {
	var fstabEntries []Entry
	var crypttabEntries []CrypttabEntry

	var existing map[string]bool
	if mapperNames != nil {
		existing = mapperNames()
	} else {
		existing = map[string]bool{}
	}

	handle := func(p *disk.Partition, encryptedAbove *disk.LuksDesc) {
		fs := p.EffectiveFileSystem()
		if fs == nil {
			return
		}

		if *fs == disk.Swap {
			if encryptedAbove == nil {
				kind, value := ident(p)
				fstabEntries = append(fstabEntries, Entry{
					Identifier: kind + "=" + value,
					Mount:      "none",
					FSType:     "swap",
					Options:    "defaults",
				})
				return
			}

			name := cryptswapName(existing)
			existing[name] = true
			kind, value := ident(p)
			crypttabEntries = append(crypttabEntries, CrypttabEntry{
				Name:    name,
				Device:  kind + "=" + value,
				Key:     "/dev/urandom",
				Options: "swap,plain,offset=1024,cipher=aes-xts-plain64,size=512",
			})
			fstabEntries = append(fstabEntries, Entry{
				Identifier: "/dev/mapper/" + name,
				Mount:      "none",
				FSType:     "swap",
				Options:    "defaults",
			})
			return
		}

		if p.MountTarget == nil {
			return
		}
		kind, value := ident(p)
		identifier := kind + "=" + value
		if *fs == disk.Fat16 || *fs == disk.Fat32 {
			// FAT volume "UUIDs" collide easily; prefer PARTUUID (spec
			// §4.3, §4.7).
			identifier = "PARTUUID=" + value
		}
		fstabEntries = append(fstabEntries, Entry{
			Identifier: identifier,
			Mount:      *p.MountTarget,
			FSType:     fs.MountFSType(),
			Options:    defaultOptions(*fs),
		})
	}

	for _, d := range disks.Physical {
		for _, p := range d.Partitions {
			if p.IsRemove() {
				continue
			}
			handle(p, p.Encryption)
		}
	}
	for _, lv := range disks.Logical {
		if lv.Remove {
			continue
		}
		if lv.Encryption != nil {
			crypttabEntries = append(crypttabEntries, CrypttabEntry{
				Name:    lv.VolumeGroup,
				Device:  luksDeviceIdentifier(disks, lv, ident),
				Key:     crypttabKey(lv.Encryption),
				Options: "luks",
			})
		}
		for _, p := range lv.Partitions {
			if p.IsRemove() {
				continue
			}
			handle(p, nil)
		}
	}

	sort.SliceStable(fstabEntries, func(i, j int) bool { return fstabEntries[i].Mount < fstabEntries[j].Mount })
	sort.SliceStable(crypttabEntries, func(i, j int) bool { return crypttabEntries[i].Name < crypttabEntries[j].Name })

	var fb, cb strings.Builder
	for _, e := range fstabEntries {
		fb.WriteString(e.render())
		fb.WriteByte('\n')
	}
	for _, e := range crypttabEntries {
		cb.WriteString(e.render())
		cb.WriteByte('\n')
	}
	return fb.String(), cb.String()
}

// Render is the byte-string form of Generate's output, named to match
// spec §4.7's "Output: two byte-strings".
func Render(disks *disk.Disks, ident Identity, mapperNames ExistingMapperNames) (fstab, crypttab []byte) {
	f, c := Generate(disks, ident, mapperNames)
	return []byte(f), []byte(c)
}

func luksDeviceIdentifier(disks *disk.Disks, lv *disk.LvmDevice, ident Identity) string {
	if lv.LuksParent == nil {
		return ""
	}
	// The LUKS parent is a physical partition; when it is found among
	// disks, its identifier (the PV's on-disk UUID) comes from ident.
	// Otherwise LuksParent is used as the UUID value as it stands.
	if p := disks.GetPartitionByPath(*lv.LuksParent); p != nil {
		kind, value := ident(p)
		return kind + "=" + value
	}
	return "UUID=" + *lv.LuksParent
}

func crypttabKey(desc *disk.LuksDesc) string {
	switch {
	case desc.Password != nil:
		return "none"
	case desc.Keydata != nil && desc.Keydata.Key != nil:
		return desc.Keydata.Key.MountPath
	default:
		return "/dev/urandom"
	}
}

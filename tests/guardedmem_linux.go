// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

//go:build linux && amd64

package tests

import (
	"syscall"

	"github.com/SnellerInc/iguana/ints"
)

const guardPageSize = 4 << 10

// GuardedMemory is a buffer placed immediately before an unmapped guard
// page, so that any write or read past its declared capacity faults
// instead of silently corrupting adjacent memory.
type GuardedMemory struct {
	mapped []byte
	Data   []byte
}

// GuardMemory copies userdata into a fresh buffer whose capacity equals
// len(userdata) and which ends exactly at a page boundary followed by
// an unmapped page.
func GuardMemory(userdata []byte) (*GuardedMemory, error) {
	size := uint64(len(userdata))
	rounded := ints.AlignUp64(size, guardPageSize)

	mapped, err := syscall.Mmap(0, 0, int(rounded+guardPageSize),
		syscall.PROT_READ|syscall.PROT_WRITE, syscall.MAP_ANON|syscall.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	if err := syscall.Mprotect(mapped[rounded:], syscall.PROT_NONE); err != nil {
		syscall.Munmap(mapped)
		return nil, err
	}

	gm := &GuardedMemory{mapped: mapped}
	gm.Data = mapped[rounded-size : rounded : rounded]
	copy(gm.Data, userdata)
	return gm, nil
}

// Free unmaps the pages backing gm. Using gm.Data after Free is invalid.
func (gm *GuardedMemory) Free() error {
	if gm.mapped == nil {
		return nil
	}
	err := syscall.Munmap(gm.mapped)
	gm.mapped = nil
	gm.Data = nil
	return err
}

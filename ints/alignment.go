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

package ints

// AlignDown rounds v down to the nearest multiple of alignment, by
// masking off whatever remainder pushes it past that multiple.
func AlignDown(v, alignment uint) uint {
	return v - v%alignment
}

// AlignDown32 rounds v down to the nearest multiple of alignment.
func AlignDown32(v, alignment uint32) uint32 {
	return v - v%alignment
}

// AlignUp32 rounds v up to the nearest multiple of alignment.
func AlignUp32(v, alignment uint32) uint32 {
	if r := v % alignment; r != 0 {
		return v + (alignment - r)
	}
	return v
}

// AlignUp64 rounds v up to the nearest multiple of alignment.
func AlignUp64(v, alignment uint64) uint64 {
	if r := v % alignment; r != 0 {
		return v + (alignment - r)
	}
	return v
}

// Copyright (C) 2023 Sneller, Inc.
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

// Package matchhash computes the bucket index for the encoder's match
// chains: a siphash-keyed hash of a short byte prefix, rather than a raw
// multiply-shift, so that an adversarial input built from repeated
// prefixes can't collapse every chain into a single bucket.
package matchhash

import (
	"github.com/SnellerInc/iguana/ints"
	"github.com/dchest/siphash"
)

// Keyer holds the per-instance siphash key used to compute bucket
// indices. The zero value is usable but unkeyed (k0 == k1 == 0); call
// Randomize once per encoder lifetime to key it.
type Keyer struct {
	k0, k1 uint64
}

// Randomize draws a fresh random key from a cryptographic source. It is
// idempotent in spirit but not safe to call concurrently with Bucket3;
// callers key a Keyer once, before it is used.
func (k *Keyer) Randomize() error {
	var seed [2]uint64
	if err := ints.RandomFillSlice(seed[:]); err != nil {
		return err
	}
	k.k0, k.k1 = seed[0], seed[1]
	return nil
}

// Bucket3 returns the low bits bucket index for a table with 2^bits
// buckets, derived from a siphash of the 3-byte prefix (c0, c1, c2).
func (k Keyer) Bucket3(c0, c1, c2 byte, bits uint) uint {
	prefix := [3]byte{c0, c1, c2}
	h := siphash.Hash(k.k0, k.k1, prefix[:])
	return uint(h) & ((1 << bits) - 1)
}

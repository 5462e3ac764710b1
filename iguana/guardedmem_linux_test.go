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

//go:build linux && amd64

package iguana

import (
	"bytes"
	"testing"

	"github.com/SnellerInc/iguana/tests"
)

// TestDecompressToGuardedBuffer decodes into a destination buffer whose
// capacity is placed right at the end of a mapped page, with the
// following page unmapped. Any decode path that writes past len(dst)'s
// declared capacity faults the test process instead of silently
// clobbering unrelated memory.
func TestDecompressToGuardedBuffer(t *testing.T) {
	for name, src := range corpus() {
		name, src := name, src
		t.Run(name, func(t *testing.T) {
			var enc Encoder
			compressed, err := enc.Compress(src, nil, DefaultRejectionThreshold)
			if err != nil {
				t.Fatalf("compress: %s", err)
			}

			gm, err := tests.GuardMemory(make([]byte, len(src)))
			if err != nil {
				t.Fatalf("GuardMemory: %s", err)
			}
			defer gm.Free()

			var dec Decoder
			out, err := dec.DecompressTo(gm.Data[:0], compressed)
			if err != nil {
				t.Fatalf("decompress: %s", err)
			}
			if !bytes.Equal(out, src) {
				t.Fatalf("roundtrip mismatch for %q", name)
			}
		})
	}
}

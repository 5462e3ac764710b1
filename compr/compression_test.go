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

package compr

import (
	"bytes"
	"testing"
)

func TestS2RoundtripSeparateBuffers(t *testing.T) {
	comp := Compression("s2")
	if _, ok := comp.(s2Compressor); !ok {
		t.Fatalf("bad compressor for s2: %T", comp)
	} else if n := comp.Name(); n != "s2" {
		t.Fatalf("bad compressor name %q", n)
	}
	dec := Decompression("s2")
	if _, ok := dec.(s2Compressor); !ok {
		t.Fatalf("bad decompressor for s2: %T", dec)
	} else if n := dec.Name(); n != "s2" {
		t.Fatalf("bad decompressor name %q", n)
	}

	want := bytes.Repeat([]byte("foo"), 1000)
	src := append([]byte(nil), want...)
	cmp := comp.Compress(src, nil)
	got := make([]byte, len(src))
	if err := dec.Decompress(cmp, got); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want, got) {
		t.Fatal("roundtrip mismatch")
	}
}

func TestS2RoundtripOverlappingBuffers(t *testing.T) {
	comp := Compression("s2")
	dec := Decompression("s2")

	want := bytes.Repeat([]byte("foo"), 1000)
	src := append([]byte(nil), want...)
	got := make([]byte, len(src))

	// Compress spills into src[:8]'s spare capacity (aliasing the
	// source it's compressing); Decompress writes into got[10:]. Both
	// must still round-trip correctly despite the overlap.
	cmp := comp.Compress(src[10:], src[:8])
	if err := dec.Decompress(cmp[8:], got[10:]); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(want[10:], got[10:]) {
		t.Fatal("overlapping roundtrip mismatch")
	}
}

type overlapCase struct {
	name     string
	a, b     []byte
	overlaps bool
}

func TestOverlaps(t *testing.T) {
	adjacent := make([]byte, 10, 30)
	shared5 := make([]byte, 10, 30)
	shared1 := make([]byte, 10, 30)

	cases := []overlapCase{
		{"disjoint", make([]byte, 10), make([]byte, 20), false},
		{"adjacent", adjacent, adjacent[10:], false},
		{"overlap-by-5", shared5, shared5[5:], true},
		{"overlap-by-1", shared1, shared1[9:], true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := overlaps(c.a, c.b); got != c.overlaps {
				t.Errorf("overlaps(a, b) = %v, want %v", got, c.overlaps)
			}
			if got := overlaps(c.b, c.a); got != c.overlaps {
				t.Errorf("overlaps(b, a) = %v, want %v", got, c.overlaps)
			}
		})
	}
}

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

package iguana

import (
	"bytes"
	"encoding/hex"
	"math/rand"
	"testing"

	"github.com/SnellerInc/iguana/tests"
)

func corpus() map[string][]byte {
	lorem := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 400)
	rng := rand.New(rand.NewSource(1))
	random := make([]byte, 64*1024)
	rng.Read(random)
	repeated := bytes.Repeat([]byte{0x42}, 16*1024)
	return map[string][]byte{
		"lorem":    lorem,
		"random":   random,
		"repeated": repeated,
	}
}

func TestRoundtrip(t *testing.T) {
	for name, buf := range corpus() {
		buf := buf
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			testRoundtrip(t, buf)
		})
	}

	// try a bunch of short-length strings
	buf := []byte(`this is a short string that we will re-slice for small test-cases`)
	for len(buf) < minOffset*3 {
		buf = append(buf, buf...)
	}
	t.Run("short-strings", func(t *testing.T) {
		for i := range buf {
			testRoundtrip(t, buf[i:])
		}
	})
	buf = bytes.Repeat([]byte{'a'}, 3*minOffset)
	t.Run("short-repeats", func(t *testing.T) {
		for i := range buf {
			testRoundtrip(t, buf[i:])
		}
	})
}

func testRoundtrip(t *testing.T, src []byte) {
	srcLen := len(src)
	t.Logf("srcLen = %d\n", srcLen)

	var dec Decoder
	var enc Encoder
	dst, err := enc.Compress(src, nil, DefaultRejectionThreshold)
	if err != nil {
		t.Fatal(err)
	}

	// test that encoder state is reset correctly
	dst2, err := enc.Compress(src, nil, DefaultRejectionThreshold)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(dst, dst2) {
		t.Fatal("second Compress not equivalent?")
	}

	dstLen := len(dst)
	t.Logf("comprLen = %d\n", dstLen)
	compressionRatio := 100.0 * (1.0 - float64(dstLen)/float64(srcLen))
	t.Logf("compressed by = %f%%\n", compressionRatio)

	// provide a buffer that is perfectly-sized
	// so we can see if there are any oob writes
	out := make([]byte, len(src), len(src)+minLength)
	ret, err := dec.DecompressTo(out[:0:len(src)], dst)
	if err != nil {
		t.Fatal(err)
	}
	tail := out[len(out):cap(out)]
	for i := range tail {
		if tail[i] != 0 {
			t.Logf("%x", tail)
			t.Fatal("wrote garbage to the end of the buffer?")
		}
	}
	if !bytes.Equal(src, ret) {
		// print the diff of the hexdumps
		delta, ok := tests.Diff(hex.Dump(src), hex.Dump(ret))
		if ok {
			t.Log(delta)
		}
		t.Fatal("round-trip encoding+decoding failed")
	}
}

func TestRoundtripEntropyModes(t *testing.T) {
	src := bytes.Repeat([]byte("abcdefgh01234567"), 4096)
	modes := []EntropyMode{EntropyNone, EntropyANS32, EntropyANS1, EntropyANSNibble}
	for _, mode := range modes {
		mode := mode
		t.Run(entropyModeName(mode), func(t *testing.T) {
			var enc Encoder
			dst, err := enc.CompressComposite(nil, []EncodingRequest{{
				Src:                src,
				Structural:         StructuralIguana,
				Entropy:            mode,
				RejectionThreshold: DefaultRejectionThreshold,
			}})
			if err != nil {
				t.Fatal(err)
			}
			var dec Decoder
			ret, err := dec.Decompress(dst)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(src, ret) {
				t.Fatal("round-trip failed")
			}
		})
	}
}

func entropyModeName(mode EntropyMode) string {
	switch mode {
	case EntropyNone:
		return "none"
	case EntropyANS32:
		return "ans32"
	case EntropyANS1:
		return "ans1"
	case EntropyANSNibble:
		return "ansnibble"
	default:
		return "unknown"
	}
}

func TestCompressComposite(t *testing.T) {
	parts := []EncodingRequest{
		{Src: []byte("raw part, stored verbatim"), Structural: StructuralRaw, Entropy: EntropyNone},
		{Src: bytes.Repeat([]byte("aaaa"), 1024), Structural: StructuralRaw, Entropy: EntropyANS1, RejectionThreshold: DefaultRejectionThreshold},
		{Src: bytes.Repeat([]byte("the quick brown fox "), 512), Structural: StructuralIguana, Entropy: EntropyANS32, RejectionThreshold: DefaultRejectionThreshold},
	}
	var enc Encoder
	dst, err := enc.CompressComposite(nil, parts)
	if err != nil {
		t.Fatal(err)
	}
	var dec Decoder
	ret, err := dec.Decompress(dst)
	if err != nil {
		t.Fatal(err)
	}
	var want []byte
	for _, p := range parts {
		want = append(want, p.Src...)
	}
	if !bytes.Equal(want, ret) {
		t.Fatal("composite round-trip failed")
	}
}

func FuzzRoundTrip(f *testing.F) {
	for _, buf := range corpus() {
		f.Add(buf)
	}
	f.Fuzz(func(t *testing.T, ref []byte) {
		var dec Decoder
		var enc Encoder
		compressed, err := enc.Compress(ref, nil, DefaultRejectionThreshold)
		if err != nil {
			return // when would this fail?
		}
		decompressed, err := dec.Decompress(compressed)
		if err != nil {
			t.Fatalf("round-trip failed: %s", err)
		}
		if !bytes.Equal(ref, decompressed) {
			t.Fatal("round trip result is not equal to the input")
		}
		if len(ref) == 0 {
			return
		}
		ref = ref[:len(ref)-1]
		compressed, err = enc.Compress(ref, nil, DefaultRejectionThreshold)
		if err != nil {
			return // when would this fail?
		}
		decompressed, err = dec.Decompress(compressed)
		if err != nil {
			t.Fatalf("round-trip failed: %s", err)
		}
		if !bytes.Equal(ref, decompressed) {
			t.Fatal("round trip result is not equal to the input")
		}
	})
}

func BenchmarkRoundtrip(b *testing.B) {
	for name, src := range corpus() {
		src := src
		b.Run(name, func(b *testing.B) {
			var enc Encoder
			dst, err := enc.Compress(src, nil, DefaultRejectionThreshold)
			if err != nil {
				b.Fatal(err)
			}
			var dec Decoder
			b.ReportAllocs()
			b.SetBytes(int64(len(src)))
			b.ResetTimer()
			tmp := make([]byte, 0, len(src))
			for i := 0; i < b.N; i++ {
				tmp, err = dec.DecompressTo(tmp[:0], dst)
				if err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

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

// Package compr wraps third-party compression libraries behind a
// common Compressor/Decompressor pair, so the iguana CLI's -compare
// report can run the same src/dst buffers through several backends
// without caring which one it's holding.
package compr

import (
	"fmt"
	"runtime"
	"unsafe"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
)

// Compressor is a one-shot append-style compressor.
type Compressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Compress appends the compressed contents of src to dst and
	// returns the result.
	Compress(src, dst []byte) []byte
}

// Decompressor decompresses into a pre-sized destination buffer.
type Decompressor interface {
	// Name is the name of the compression algorithm.
	Name() string
	// Decompress decompresses src into dst, erroring if dst isn't
	// exactly large enough for the decoded result. Safe to call
	// concurrently from multiple goroutines.
	Decompress(src, dst []byte) error
}

type s2Compressor struct{}

func (s2Compressor) Name() string { return "s2" }

func (s2Compressor) Compress(src, dst []byte) []byte {
	tail := dst[len(dst):cap(dst)]
	if overlaps(src, tail) {
		// s2 requires non-overlapping src/dst; fall back to a fresh
		// allocation when the caller's spare capacity aliases src.
		tail = nil
	}
	got := s2.Encode(tail, src)
	if len(dst) == 0 {
		return got
	}
	if len(tail) > 0 && len(got) > 0 && &tail[0] == &got[0] {
		return dst[:len(dst)+len(got)]
	}
	return append(dst, got...)
}

func (s2Compressor) Decompress(src, dst []byte) error {
	return decompressExact(dst, "s2", func() ([]byte, error) {
		return s2.Decode(dst[:0:len(dst)], src)
	})
}

type zstdCompressor struct {
	enc   *zstd.Encoder
	level zstd.EncoderLevel
}

func newZstdCompressor(level zstd.EncoderLevel, concurrency int) zstdCompressor {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(concurrency))
	if err != nil {
		panic(err)
	}
	return zstdCompressor{enc: enc, level: level}
}

func (z zstdCompressor) Name() string {
	if z.level == zstd.SpeedBetterCompression {
		return "zstd-better"
	}
	return "zstd"
}

func (z zstdCompressor) Compress(src, dst []byte) []byte {
	return z.enc.EncodeAll(src, dst)
}

type zstdDecompressor struct {
	dec  *zstd.Decoder
	name string
}

func newZstdDecoder(name string, ignoreChecksum bool) zstdDecompressor {
	dec, err := zstd.NewReader(nil,
		zstd.WithDecoderConcurrency(runtime.GOMAXPROCS(0)),
		zstd.IgnoreChecksum(ignoreChecksum))
	if err != nil {
		panic(err)
	}
	return zstdDecompressor{dec: dec, name: name}
}

func (z zstdDecompressor) Name() string { return z.name }

func (z zstdDecompressor) Decompress(src, dst []byte) error {
	return decompressExact(dst, z.name, func() ([]byte, error) {
		return z.dec.DecodeAll(src, dst[:0:len(dst)])
	})
}

// DecodeZstd calls DecodeAll on the shared checksum-verifying zstd
// decoder.
func DecodeZstd(src, dst []byte) ([]byte, error) {
	return sharedZstdDecoder.dec.DecodeAll(src, dst)
}

var (
	sharedZstdDecoder      = newZstdDecoder("zstd", false)
	sharedZstdNoCRCDecoder = newZstdDecoder("zstd", true)
)

// decompressExact runs fn (a backend's DecodeAll-shaped call) and
// checks the two invariants every Decompressor here must uphold: the
// result is exactly len(dst) bytes, and the backend decoded in place
// rather than reallocating.
func decompressExact(dst []byte, name string, fn func() ([]byte, error)) error {
	ret, err := fn()
	if err != nil {
		return err
	}
	if len(ret) != len(dst) {
		return fmt.Errorf("%s: expected %d bytes decompressed, got %d", name, len(dst), len(ret))
	}
	if len(dst) > 0 && &ret[0] != &dst[0] {
		return fmt.Errorf("%s decompress: output buffer realloc'd", name)
	}
	return nil
}

// Compression selects a compression algorithm by name. The returned
// Compressor reports the same name back from Compressor.Name.
func Compression(name string) Compressor {
	switch name {
	case "zstd":
		return newZstdCompressor(zstd.SpeedDefault, 1)
	case "zstd-better":
		return newZstdCompressor(zstd.SpeedBetterCompression, 1)
	case "s2":
		return s2Compressor{}
	default:
		return nil
	}
}

// Decompression selects a decompression algorithm by name.
func Decompression(name string) Decompressor {
	switch name {
	case "zstd":
		return sharedZstdDecoder
	case "zstd-nocrc":
		return sharedZstdNoCRCDecoder
	case "s2":
		return s2Compressor{}
	default:
		return nil
	}
}

// overlaps reports whether byte slices a and b share any underlying
// memory.
func overlaps(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	a0 := uintptr(unsafe.Pointer(&a[0]))
	a1 := a0 + uintptr(len(a))
	b0 := uintptr(unsafe.Pointer(&b[0]))
	b1 := b0 + uintptr(len(b))
	return a0 < b1 && b0 < a1
}

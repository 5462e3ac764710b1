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

// Command iguanabench measures sustained decode throughput: it chops a
// file into fixed-size windows, compresses each as its own Iguana part,
// then repeatedly decodes the whole sequence back to back until a
// wall-clock deadline passes, reporting the fastest pass observed.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/SnellerInc/iguana/iguana"
)

func fatalf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

const (
	windowSize    = 256 * 1024
	frameLenBytes = 3
	benchDuration = 3 * time.Second
)

// putFrameLen writes a 3-byte little-endian length prefix, matching
// what readFrameLen expects.
func putFrameLen(buf []byte, at int, n int) {
	buf[at+0] = byte(n)
	buf[at+1] = byte(n >> 8)
	buf[at+2] = byte(n >> 16)
}

func readFrameLen(buf []byte) int {
	return int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16
}

// encodeFrames splits src into windowSize chunks and compresses each as
// an independent part, prefixed with its compressed length so the
// decoder can walk the sequence without re-parsing the container.
func encodeFrames(src []byte, threshold float32) []byte {
	var enc iguana.Encoder
	var out []byte
	for len(src) > 0 {
		window := src
		if len(window) > windowSize {
			window = window[:windowSize]
		}
		src = src[len(window):]

		lenAt := len(out)
		out = append(out, 0, 0, 0)
		var err error
		out, err = enc.Compress(window, out, threshold)
		if err != nil {
			panic(err)
		}
		putFrameLen(out[lenAt:], 0, len(out)-lenAt-frameLenBytes)
	}
	return out
}

// decodeFrames walks a frame sequence produced by encodeFrames,
// appending every window's decoded bytes to dst[:0].
func decodeFrames(dec *iguana.Decoder, dst, src []byte) ([]byte, error) {
	dst = dst[:0]
	for len(src) >= frameLenBytes {
		n := readFrameLen(src)
		src = src[frameLenBytes:]
		if len(src) < n {
			return dst, fmt.Errorf("truncated frame: want %d bytes, have %d", n, len(src))
		}
		frame := src[:n]
		src = src[n:]

		var err error
		dst, err = dec.DecompressTo(dst, frame)
		if err != nil {
			return dst, err
		}
	}
	return dst, nil
}

// fastestPass repeatedly decodes compressed until deadline passes,
// returning the minimum observed duration.
func fastestPass(dec *iguana.Decoder, compressed []byte, deadline time.Time) (time.Duration, error) {
	var scratch []byte
	var best time.Duration
	for time.Now().Before(deadline) {
		start := time.Now()
		var err error
		scratch, err = decodeFrames(dec, scratch, compressed)
		if err != nil {
			return 0, err
		}
		if dur := time.Since(start); best == 0 || dur < best {
			best = dur
		}
	}
	return best, nil
}

func main() {
	var threshold float64
	flag.Float64Var(&threshold, "t", float64(iguana.DefaultRejectionThreshold), "entropy coding rejection threshold")
	flag.Parse()

	args := flag.Args()
	if len(args) != 1 {
		fatalf("usage: %s [-t threshold] <file>", os.Args[0])
	}

	src, err := os.ReadFile(args[0])
	if err != nil {
		fatalf("reading file: %s", err)
	}

	compressed := encodeFrames(src, float32(threshold))

	var dec iguana.Decoder
	best, err := fastestPass(&dec, compressed, time.Now().Add(benchDuration))
	if err != nil {
		fatalf("decompression error: %s", err)
	}

	gibps := float64(len(src)) / best.Seconds() / (1 << 30)
	fmt.Printf("%dB -> %dB (%.3gx) %.3g GiB/s\n",
		len(src), len(compressed), float64(len(src))/float64(len(compressed)), gibps)
}

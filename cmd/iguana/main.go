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

// Command iguana is a compress/decompress front end for the iguana
// package, with an optional comparison report against klauspost/compress's
// s2 and zstd, and a -manifest mode for batch multi-part encoding.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/SnellerInc/iguana/batch"
	"github.com/SnellerInc/iguana/compr"
	"github.com/SnellerInc/iguana/iguana"
	"github.com/SnellerInc/iguana/internal/ansdebug"
)

func fatalf(f string, args ...any) {
	fmt.Fprintf(os.Stderr, f+"\n", args...)
	os.Exit(1)
}

func parseStructural(s string) iguana.StructuralMode {
	switch s {
	case "", "iguana":
		return iguana.StructuralIguana
	case "raw":
		return iguana.StructuralRaw
	default:
		fatalf("unrecognized -x value %q (want \"raw\" or \"iguana\")", s)
		panic("unreachable")
	}
}

func parseEntropy(s string) iguana.EntropyMode {
	switch s {
	case "", "ans32":
		return iguana.EntropyANS32
	case "ans1":
		return iguana.EntropyANS1
	case "ansnibble":
		return iguana.EntropyANSNibble
	case "none":
		return iguana.EntropyNone
	default:
		fatalf("unrecognized -e value %q (want \"none\", \"ans32\", \"ans1\", or \"ansnibble\")", s)
		panic("unreachable")
	}
}

func main() {
	var (
		output     string
		decompress bool
		threshold  float64
		entropy    string
		structural string
		compare    bool
		manifest   string
	)
	flag.StringVar(&output, "o", "", "output file (default: stdout)")
	flag.BoolVar(&decompress, "d", false, "decompress instead of compress")
	flag.Float64Var(&threshold, "t", float64(iguana.DefaultRejectionThreshold), "entropy rejection threshold")
	flag.StringVar(&entropy, "e", "ans32", "entropy mode: none, ans32, ans1, ansnibble")
	flag.StringVar(&structural, "x", "iguana", "structural mode: raw, iguana")
	flag.BoolVar(&compare, "compare", false, "also report s2/zstd ratios for the same input")
	flag.StringVar(&manifest, "manifest", "", "YAML manifest describing a batch multi-part encode")
	flag.Parse()

	if decompress && manifest != "" {
		fatalf("-manifest is only valid when compressing")
	}

	var out *os.File
	if output == "" {
		out = os.Stdout
	} else {
		var err error
		out, err = os.Create(output)
		if err != nil {
			fatalf("creating %s: %s", output, err)
		}
		defer out.Close()
	}

	if decompress {
		runDecompress(out)
		return
	}
	if manifest != "" {
		runManifest(out, manifest)
		return
	}
	runCompress(out, parseStructural(structural), parseEntropy(entropy), float32(threshold), compare)
}

func inputPath() string {
	args := flag.Args()
	if len(args) != 1 {
		fatalf("usage: %s [flags] <file>", os.Args[0])
	}
	return args[0]
}

func runCompress(out *os.File, structural iguana.StructuralMode, entropy iguana.EntropyMode, threshold float32, compare bool) {
	path := inputPath()
	inv := ansdebug.New("compress")
	start := time.Now()

	src, err := os.ReadFile(path)
	if err != nil {
		fatalf("reading %s: %s", path, err)
	}
	inv.Input = path
	inv.InputBytes = len(src)

	var enc iguana.Encoder
	dst, err := enc.CompressComposite(nil, []iguana.EncodingRequest{{
		Src:                src,
		Structural:         structural,
		Entropy:            entropy,
		RejectionThreshold: threshold,
	}})
	if err != nil {
		fatalf("compressing %s: %s", path, err)
	}
	if _, err := out.Write(dst); err != nil {
		fatalf("writing output: %s", err)
	}

	inv.Output = output2(out)
	inv.OutputBytes = len(dst)
	inv.PartCount = 1
	if len(src) > 0 {
		inv.Ratio = float64(len(dst)) / float64(len(src))
	}
	inv.Duration = time.Since(start)
	inv.Log()

	if compare {
		report(src, dst)
	}
}

func runManifest(out *os.File, path string) {
	inv := ansdebug.New("manifest")
	start := time.Now()

	m, err := batch.Load(path)
	if err != nil {
		fatalf("%s", err)
	}
	reqs, err := m.Requests()
	if err != nil {
		fatalf("%s", err)
	}

	var totalIn int
	for _, r := range reqs {
		totalIn += len(r.Src)
	}

	var enc iguana.Encoder
	dst, err := enc.CompressComposite(nil, reqs)
	if err != nil {
		fatalf("compressing manifest %s: %s", path, err)
	}
	if _, err := out.Write(dst); err != nil {
		fatalf("writing output: %s", err)
	}

	inv.Input = path
	inv.Output = output2(out)
	inv.PartCount = len(reqs)
	inv.InputBytes = totalIn
	inv.OutputBytes = len(dst)
	if totalIn > 0 {
		inv.Ratio = float64(len(dst)) / float64(totalIn)
	}
	inv.Duration = time.Since(start)
	inv.Log()
}

func runDecompress(out *os.File) {
	path := inputPath()
	inv := ansdebug.New("decompress")
	start := time.Now()

	src, err := os.ReadFile(path)
	if err != nil {
		fatalf("reading %s: %s", path, err)
	}

	var dec iguana.Decoder
	dst, err := dec.Decompress(src)
	if err != nil {
		fatalf("decompressing %s: %s", path, err)
	}
	if _, err := out.Write(dst); err != nil {
		fatalf("writing output: %s", err)
	}

	inv.Input = path
	inv.Output = output2(out)
	inv.InputBytes = len(src)
	inv.OutputBytes = len(dst)
	inv.Duration = time.Since(start)
	inv.Log()
}

// report prints a comparison table of iguana's own ratio against
// klauspost/compress's s2 and zstd backends, wrapped behind the same
// Compressor interface compr.Compression already exposes.
func report(src, igz []byte) {
	fmt.Fprintf(os.Stderr, "%-12s %10d -> %10d  (%.3gx)\n", "iguana", len(src), len(igz), float64(len(src))/float64(len(igz)))
	for _, name := range []string{"s2", "zstd", "zstd-better"} {
		c := compr.Compression(name)
		if c == nil {
			continue
		}
		out := c.Compress(src, nil)
		fmt.Fprintf(os.Stderr, "%-12s %10d -> %10d  (%.3gx)\n", c.Name(), len(src), len(out), float64(len(src))/float64(len(out)))
	}
}

func output2(f *os.File) string {
	if f == os.Stdout {
		return "-"
	}
	return f.Name()
}

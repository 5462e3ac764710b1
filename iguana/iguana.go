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

// Package iguana implements the Iguana lossless compression format: an
// LZ-style structural layer with an optional rANS entropy-coding layer
// (scalar 8-bit, 32-lane interleaved 8-bit, or scalar 4-bit).
package iguana

// StructuralMode selects how a part's bytes are laid out before any
// entropy coding is applied.
type StructuralMode byte

const (
	StructuralRaw    StructuralMode = iota // bytes are copied verbatim
	StructuralIguana                       // bytes are split into the six LZ sub-streams
)

// EntropyMode selects the rANS variant, if any, applied to a part or to a
// single Iguana sub-stream. The numeric values match the wire encoding
// used in the per-sub-stream header nibble.
type EntropyMode byte

const (
	EntropyNone      EntropyMode = iota // no entropy coding, bytes stored raw
	EntropyANS32                        // 32-lane interleaved rANS
	EntropyANS1                         // scalar rANS
	EntropyANSNibble                    // scalar 4-bit rANS
)

// DefaultRejectionThreshold is the ratio (compressed/uncompressed) at or
// above which entropy coding of a segment is rejected in favor of raw
// storage.
const DefaultRejectionThreshold = 1.0

// EncodingRequest describes one input part to be appended to a composite
// Iguana container. CompressComposite accepts a list of these so that a
// single container can carry several independently encoded parts;
// Compress builds a single one from its arguments.
type EncodingRequest struct {
	Src                []byte
	Structural         StructuralMode
	Entropy            EntropyMode
	RejectionThreshold float32
}

// header word: six sub-streams, streamHeaderBits bits of entropy mode each,
// packed LSB-first starting at sub-stream 0 (stridTokens)
const (
	streamHeaderBits = 4
	streamHeaderMask = (1 << streamHeaderBits) - 1
)

const (
	matchLenBits     = 4
	literalLenBits   = 3
	mmLongOffsets    = 16
	initLastOffset   = 0
	maxShortLitLen   = 7
	maxShortMatchLen = 15
	lastLongOffset   = 31
)

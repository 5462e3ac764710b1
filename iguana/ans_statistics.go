// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package iguana

import (
	"slices"

	"github.com/SnellerInc/iguana/ints"
)

// The rANS state machine (range, renormalization bounds, Duda recursion)
// implemented here follows Fabian Giesen's rANS reference
// (https://github.com/rygorous/ryg_rans, CC0) and Jaroslaw Duda's rANS
// paper (https://arxiv.org/pdf/1311.2540.pdf). This file holds the parts
// shared by the 8-bit alphabet codecs (ans1, ans32): the normalized
// frequency model, its dense decode table, and the serialization of both.

const (
	ansWordLBits = 16
	ansWordL     = uint32(1) << ansWordLBits
	ansWordMBits = 12
	ansWordM     = uint32(1) << ansWordMBits
)

// entropyInitialBufferSize is the initial capacity reserved for an
// encoder's output buffer, sized generously enough that typical
// sub-stream sizes never force a reallocation mid-encode.
const entropyInitialBufferSize = 256 * 1024

// ansOptimizeStatistics gates the partial (compact, dominant-symbol-only)
// table encoding. Kept off by default: see DESIGN.md for why.
const ansOptimizeStatistics = false

const (
	ansStatisticsFrequencyBits           = ansWordMBits
	ansStatisticsFrequencyMask           = (1 << ansStatisticsFrequencyBits) - 1
	ansStatisticsCumulativeFrequencyBits = ansWordMBits
	ansStatisticsCumulativeFrequencyMask = (1 << ansStatisticsCumulativeFrequencyBits) - 1
)

// ansRawStatistics is a 256-symbol histogram in the process of being
// normalized to sum to ansWordM, before it is packed into an
// ANSStatistics table.
type ansRawStatistics struct {
	freqs          [256]uint32
	cumFreqs       [256 + 1]uint32
	partialContent []ansStatisticsEntry
}

// ANSStatistics is a normalized frequency model ready for encoding: one
// packed (cumFreq<<ansStatisticsCumulativeFrequencyBits)|freq word per
// symbol, plus scratch bit-streams used only while serializing it.
type ANSStatistics struct {
	table          [256]uint32
	ctrl, data     ansBitStream
	partialContent []ansStatisticsEntry
}

// rescanCumFreqSlice rebuilds the cumulative-frequency prefix sums from
// freqs into cumFreqs (which must have one more slot than freqs). Shared
// by every alphabet size this package normalizes (256 symbols here, 16
// symbols in the nibble codec).
func rescanCumFreqSlice(freqs, cumFreqs []uint32) {
	var running uint32
	for i, f := range freqs {
		cumFreqs[i] = running
		running += f
	}
	cumFreqs[len(freqs)] = running
}

// normalizeFreqSlice rescales an arbitrary histogram so its total is
// exactly target (required so the decoder can divide/mask by a power of
// two), then repairs any symbol the rescale rounded down to zero by
// taking one unit of frequency from whichever other symbol can best
// spare it. cumFreqs must already hold freqs' prefix sums, e.g. via
// rescanCumFreqSlice.
func normalizeFreqSlice(freqs, cumFreqs []uint32, target uint32) {
	n := len(freqs)
	total := cumFreqs[n]

	for i := 1; i <= n; i++ {
		cumFreqs[i] = uint32((uint64(target) * uint64(cumFreqs[i])) / uint64(total))
	}

	for sym := 0; sym < n; sym++ {
		if freqs[sym] == 0 || cumFreqs[sym+1] != cumFreqs[sym] {
			continue
		}
		// sym's frequency rescaled to zero; find a donor with freq > 1,
		// preferring the smallest such frequency so the distortion is
		// spread as thinly as possible.
		donor := -1
		donorFreq := ^uint32(0)
		for j := 0; j < n; j++ {
			f := cumFreqs[j+1] - cumFreqs[j]
			if f > 1 && f < donorFreq {
				donorFreq = f
				donor = j
			}
		}
		lo, hi, delta := sym+1, donor, 1
		if donor < sym {
			lo, hi, delta = donor+1, sym, -1
		}
		for j := lo; j <= hi; j++ {
			cumFreqs[j] += uint32(delta)
		}
	}

	for sym := 0; sym < n; sym++ {
		freqs[sym] = cumFreqs[sym+1] - cumFreqs[sym]
	}
}

// rescanCumFreqs rebuilds the cumulative-frequency prefix sums from
// s.freqs. Cheap enough to call after any edit to freqs; callers don't
// need to track which entries changed.
func (s *ansRawStatistics) rescanCumFreqs() {
	rescanCumFreqSlice(s.freqs[:], s.cumFreqs[:])
}

// normalizeFreqs rescales the histogram so its total is exactly ansWordM.
// See normalizeFreqSlice.
func (s *ansRawStatistics) normalizeFreqs() {
	s.rescanCumFreqs()
	normalizeFreqSlice(s.freqs[:], s.cumFreqs[:], ansWordM)
}

func (s *ANSStatistics) set(raw *ansRawStatistics) {
	for i := 0; i < 256; i++ {
		s.table[i] = (raw.cumFreqs[i] << ansStatisticsCumulativeFrequencyBits) | raw.freqs[i]
	}
	s.partialContent = raw.partialContent
}

// ansStatisticsEntry is one (symbol, frequency) pair in the partial
// table encoding.
type ansStatisticsEntry struct {
	freq uint16
	idx  uint8
}

// optimize replaces the histogram with a compact approximation when a
// handful of symbols already dominate the distribution: if the top six
// (by frequency) cover at least 80% of the mass, every other symbol is
// flattened to the minimum encodable frequency (1) and the dominant set
// is rescaled to make up the rest of ansWordM. This lets the table be
// serialized as a short list of (freq, symbol) pairs instead of all 256
// entries; see EncodePartial.
func (s *ansRawStatistics) optimize() {
	const (
		dominantCoverageNum = 80
		dominantCoverageDen = 100
		maxDominantSymbols  = 6
	)

	ranked := make([]ansStatisticsEntry, 256)
	for i, f := range s.freqs {
		ranked[i] = ansStatisticsEntry{freq: uint16(f), idx: uint8(i)}
	}
	slices.SortFunc(ranked, func(a, b ansStatisticsEntry) int { return int(b.freq) - int(a.freq) })

	var massSoFar uint32
	threshold := (ansWordM * dominantCoverageNum) / dominantCoverageDen
	dominant := 0
	for i, e := range ranked {
		massSoFar += uint32(e.freq)
		if massSoFar >= threshold {
			dominant = i + 1
			break
		}
	}
	if dominant == 0 || dominant > maxDominantSymbols {
		return
	}
	ranked = ranked[:dominant]

	flattened := uint32(256 - dominant) // every non-dominant symbol gets frequency 1
	budget := ansWordM - flattened

	rescaled := flattened
	for i := range ranked {
		f := (uint32(ranked[i].freq) * budget) / massSoFar
		rescaled += f
		ranked[i].freq = uint16(f)
	}
	// distribute whatever rounding left short, round-robin over the
	// dominant set, until the total hits ansWordM exactly.
	for i := 0; rescaled < ansWordM; rescaled++ {
		ranked[i%dominant].freq++
	}

	for i := range s.freqs {
		s.freqs[i] = 1
	}
	for _, e := range ranked {
		s.freqs[e.idx] = uint32(e.freq)
	}

	s.partialContent = ranked
	s.rescanCumFreqs()
}

const (
	ansCtrlBlockSize        = 96
	ansNibbleBlockMaxLength = 384 // 256 3-nibble groups
	ansDenseTableMaxLength  = ansCtrlBlockSize + ansNibbleBlockMaxLength
)

// ANSDenseTable is the decoder's lookup form of a normalized frequency
// model: ansWordM slots, one per rANS "state sub-range", each holding
// (symbol<<24)|(bias<<ansWordMBits)|freq for O(1) symbol decode.
type ANSDenseTable [ansWordM]uint32

// frequency control codes: a 3-bit control nibble per symbol selects how
// many extra payload bits (if any) follow in the data stream.
const (
	freqCodeBias0 = 0 // codes 0..4 encode frequencies 0..4 directly
	freqCode1Nib  = 5 // one nibble payload, value = freq-5,  range [5,21)
	freqCode2Nib  = 6 // two nibbles,        value = freq-21, range [21,277)
	freqCode3Nib  = 7 // three nibbles,      value = freq-277

	freqDirectMax = 5
	freqBias1Nib  = freqDirectMax
	freqBias2Nib  = 21
	freqBias3Nib  = 277
)

// classifyFreq picks the control code and, for the non-direct codes, the
// payload value and bit width needed to encode frequency f.
func classifyFreq(f uint32) (code uint32, payload uint32, bits uint32) {
	switch {
	case f < freqBias1Nib:
		return f, 0, 0
	case f < freqBias2Nib:
		return freqCode1Nib, f - freqBias1Nib, 4
	case f < freqBias3Nib:
		return freqCode2Nib, f - freqBias2Nib, 8
	default:
		return freqCode3Nib, f - freqBias3Nib, 12
	}
}

func (s *ANSStatistics) encodeVarNibble(v uint32) {
	for {
		digit := v & 0b0111
		v >>= 3
		if v == 0 {
			s.data.add(digit|0b1000, 4)
			return
		}
		s.data.add(digit, 4)
	}
}

// ansFetchVarNibble reads a self-terminating little-endian base-8 run of
// nibbles (high bit of each nibble marks the last one), consumed backward
// from nibidx, mirroring encodeVarNibble.
func ansFetchVarNibble(src []byte, nibidx int) (uint32, int, errorCode) {
	var v uint32
	for shift := uint(0); ; shift += 3 {
		nib, next, ec := ansFetchNibble(src, nibidx)
		if ec != ecOK {
			return 0, 0, ec
		}
		nibidx = next
		v |= (nib & 0b0111) << shift
		if nib&0b1000 != 0 {
			return v, nibidx, ecOK
		}
	}
}

// Encode appends the serialized representation of s to dst: either the
// full 256-entry table or, when s.partialContent is set, the compact
// dominant-symbol form, followed by a trailing byte recording which one
// (0 = full, N = partial with N entries) a decoder should expect.
func (s *ANSStatistics) Encode(dst []byte) []byte {
	if n := len(s.partialContent); n != 0 {
		return append(s.EncodePartial(dst), byte(n))
	}
	return append(s.EncodeFull(dst), 0)
}

// EncodeFull appends the full serialized representation of s: a 3-bit
// control nibble per symbol (256 symbols = 96 bytes) plus a variable-width
// payload section for any frequency that doesn't fit in 3 bits directly.
// The payload section is written in reverse so a decoder, which only ever
// sees the tail of a buffer, can walk it backward from the control block.
func (s *ANSStatistics) EncodeFull(dst []byte) []byte {
	s.ctrl.reset()
	s.data.reset()

	for sym := 0; sym < 256; sym++ {
		f := s.table[sym] & ansStatisticsFrequencyMask
		code, payload, bits := classifyFreq(f)
		s.ctrl.add(code, 3)
		if bits != 0 {
			s.data.add(payload, bits)
		}
	}
	s.ctrl.flush()
	s.data.flush()

	base := len(dst)
	lenData, lenCtrl := len(s.data.buf), len(s.ctrl.buf)
	out := slices.Grow(dst, lenData+lenCtrl)[:base+lenData+lenCtrl]
	for i, b := range s.data.buf {
		out[base+lenData-1-i] = b
	}
	copy(out[base+lenData:], s.ctrl.buf)
	return out
}

// EncodePartial appends the compact form: a var-nibble (freq, symbol)
// pair per dominant entry, written in reverse like EncodeFull's payload.
func (s *ANSStatistics) EncodePartial(dst []byte) []byte {
	s.data.reset()
	for _, e := range s.partialContent {
		s.encodeVarNibble(uint32(e.freq))
		s.encodeVarNibble(uint32(e.idx))
	}
	s.data.flush()
	for i := len(s.data.buf) - 1; i >= 0; i-- {
		dst = append(dst, s.data.buf[i])
	}
	return dst
}

// NewANSStatistics computes a normalized ANS frequency table for src.
func NewANSStatistics(src []byte) *ANSStatistics {
	stats := &ANSStatistics{}
	stats.observe(src)
	return stats
}

// observe builds the normalized model for src, handling the two
// degenerate cases the power-of-two total can't otherwise represent:
// empty input and a single repeated byte value.
func (s *ANSStatistics) observe(src []byte) {
	var raw ansRawStatistics

	if len(src) == 0 {
		// No symbols to model at all: split the mass arbitrarily between
		// the last two byte values so the table is still well-formed.
		raw.freqs[254] = ansWordM / 2
		raw.freqs[255] = ansWordM / 2
		raw.cumFreqs[255] = ansWordM / 2
		raw.cumFreqs[256] = ansWordM
		s.set(&raw)
		return
	}

	anchor := ansHistogram(&raw.freqs, src)
	if raw.freqs[anchor] == uint32(len(src)) {
		// A single byte value repeated throughout: its frequency would
		// normalize to exactly ansWordM, which can't be distinguished
		// from "no information" by the decoder's shift/mask arithmetic
		// (it needs N+1 bits to represent, not N). Reserve one unit of
		// probability mass for an unused 257th symbol instead, so the
		// real symbol's frequency is ansWordM-1 and the cumulative sums
		// stay representable in N bits. The reserved symbol can never
		// appear in 8-bit source data, so it is never mistakenly decoded.
		raw.freqs[anchor] = ansWordM - 1
		for i := anchor + 1; i < 257; i++ {
			raw.cumFreqs[i] = ansWordM - 1
		}
		s.set(&raw)
		return
	}

	raw.normalizeFreqs()
	if ansOptimizeStatistics {
		raw.optimize()
	}
	s.set(&raw)
}

// ansHistogram tallies byte frequencies using four interleaved counter
// banks (rather than one) so consecutive increments rarely target the
// same bank, avoiding the store-to-load forwarding stalls described in
// https://fastcompression.blogspot.com/2014/09/counting-bytes-fast-little-trick-from.html.
// It returns the index of some symbol with nonzero frequency, letting the
// caller cheaply test for the single-repeated-byte degenerate case.
func ansHistogram(freqs *[256]uint32, src []byte) int {
	var banks [4][256]uint32
	n := uint(len(src))
	aligned := ints.AlignDown(n, 4)
	for i := uint(0); i < aligned; i += 4 {
		banks[0][src[i]]++
		banks[1][src[i+1]]++
		banks[2][src[i+2]]++
		banks[3][src[i+3]]++
	}
	for i := aligned; i < n; i++ {
		banks[0][src[i]]++
	}

	firstNonZero := -1
	for sym := 0; sym < 256; sym++ {
		total := banks[0][sym] + banks[1][sym] + banks[2][sym] + banks[3][sym]
		freqs[sym] = total
		if total != 0 && firstNonZero < 0 {
			firstNonZero = sym
		}
	}
	return firstNonZero // -1 is unreachable given len(src) > 0
}

// ansBitStream is a little-endian bit accumulator used to build both the
// fixed-width control stream and the variable-width payload stream.
type ansBitStream struct {
	acc uint64
	cnt int
	buf []byte
}

func (s *ansBitStream) reset() {
	s.acc, s.cnt, s.buf = 0, 0, s.buf[:0]
}

func (s *ansBitStream) add(v uint32, bits uint32) {
	mask := ^(^uint32(0) << bits)
	s.acc |= uint64(v&mask) << s.cnt
	s.cnt += int(bits)
	for s.cnt >= 8 {
		s.buf = append(s.buf, byte(s.acc))
		s.acc >>= 8
		s.cnt -= 8
	}
}

func (s *ansBitStream) flush() {
	for s.cnt > 0 {
		s.buf = append(s.buf, byte(s.acc))
		s.acc >>= 8
		s.cnt -= 8
	}
}

// ansFetchNibble reads the nibble at nibidx (nibble 0 is the high nibble
// of byte 0) and returns the next lower index, so callers walk a buffer
// backward one nibble at a time.
func ansFetchNibble(src []byte, nibidx int) (uint32, int, errorCode) {
	if nibidx < 0 {
		return 0, nibidx, ecOutOfInputData
	}
	b := src[nibidx>>1]
	if nibidx&1 == 1 {
		return uint32(b & 0x0f), nibidx - 1, ecOK
	}
	return uint32(b >> 4), nibidx - 1, ecOK
}

// fillDenseSlots expands a normalized frequency table into its dense
// decode form: freq consecutive slots per symbol, each slot carrying the
// symbol, its bias (offset within the symbol's own sub-range), and the
// frequency itself. Shared by the 256-symbol (ans1/ans32) and 16-symbol
// (nibble) dense tables, which differ only in alphabet size and the
// mask-bits width of the packed word.
func fillDenseSlots(tab []uint32, freqs []uint32, maskBits uint32) {
	start := uint32(0)
	for sym, freq := range freqs {
		for bias := uint32(0); bias < freq; bias++ {
			tab[start+bias] = (uint32(sym) << 24) | (bias << maskBits) | freq
		}
		start += freq
	}
}

// ansDecodeTable deserializes whichever of the two Encode forms src
// carries (selected by its trailing byte) and returns the prefix of src
// that precedes the serialized table.
func ansDecodeTable(tab *ANSDenseTable, src []byte) ([]byte, errorCode) {
	if len(src) < 1 {
		return nil, ecOutOfInputData
	}
	compressionLevel := src[len(src)-1]
	src = src[:len(src)-1]

	if compressionLevel == 0 {
		return ansDecodeFullTable(tab, src)
	}
	return ansDecodePartialTable(tab, src, int(compressionLevel))
}

func ansDecodePartialTable(tab *ANSDenseTable, src []byte, nEntries int) ([]byte, errorCode) {
	var freqs [256]uint32
	for i := range freqs {
		freqs[i] = 1
	}

	nibidx := (len(src)-1)*2 + 1
	for i := 0; i < nEntries; i++ {
		f, next, ec := ansFetchVarNibble(src, nibidx)
		if ec != ecOK {
			return nil, ec
		}
		nibidx = next
		idx, next, ec := ansFetchVarNibble(src, nibidx)
		if ec != ecOK {
			return nil, ec
		}
		nibidx = next
		freqs[idx] = f
	}

	fillDenseSlots(tab[:], freqs[:], ansWordMBits)
	return src[:(nibidx+1)>>1], ecOK
}

func ansDecodeFullTableReference(tab *ANSDenseTable, src []byte) ([]byte, errorCode) {
	if len(src) < ansCtrlBlockSize {
		return nil, ecWrongSourceSize
	}
	ctrl := src[len(src)-ansCtrlBlockSize:]
	nibidx := (len(src)-ansCtrlBlockSize-1)*2 + 1

	var freqs [256]uint32
	sym := 0
	// eight 3-bit control codes pack into each 24-bit (3-byte) ctrl chunk
	for i := 0; i < ansCtrlBlockSize; i += 3 {
		chunk := uint32(ctrl[i]) | uint32(ctrl[i+1])<<8 | uint32(ctrl[i+2])<<16
		for j := 0; j < 8; j++ {
			code := chunk & 0x7
			chunk >>= 3

			var bits, bias uint32
			switch code {
			case freqCode3Nib:
				bits, bias = 12, freqBias3Nib
			case freqCode2Nib:
				bits, bias = 8, freqBias2Nib
			case freqCode1Nib:
				bits, bias = 4, freqBias1Nib
			}
			if bits == 0 {
				freqs[sym] = code
			} else {
				var payload uint32
				for shift := uint32(0); shift < bits; shift += 4 {
					nib, next, ec := ansFetchNibble(src, nibidx)
					if ec != ecOK {
						return nil, ec
					}
					nibidx = next
					payload |= nib << shift
				}
				freqs[sym] = payload + bias
			}
			sym++
		}
	}

	fillDenseSlots(tab[:], freqs[:], ansWordMBits)
	return src[:(nibidx+1)>>1], ecOK
}

// Decode deserializes the probability distribution table into *tab and
// returns the prefix that precedes the serialized data.
func (tab *ANSDenseTable) Decode(src []byte) ([]byte, error) {
	r, ec := ansDecodeTable(tab, src)
	if ec != ecOK {
		return nil, errs[ec]
	}
	return r, nil
}

func (tab *ANSDenseTable) decode(src []byte) ([]byte, errorCode) {
	return ansDecodeTable(tab, src)
}

var ansDecodeFullTable func(tab *ANSDenseTable, src []byte) ([]byte, errorCode) = ansDecodeFullTableReference

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
	"encoding/binary"
	"slices"

	"github.com/SnellerInc/iguana/ints"
)

// ansNibble is the same scalar rANS machine as ans1, narrowed to a
// 4-bit alphabet: each source byte is folded in as two symbols, high
// nibble then low nibble, so a decoder recovering two nibbles in
// reverse order reassembles the original byte. The renormalization
// bounds (ansWordL, ansWordM) are shared verbatim with the 8-bit
// codecs in ans_statistics.go; only the alphabet size and dense-table
// width differ.

const (
	ansNibbleAlphabetSize = 16
)

const (
	ansNibbleStatisticsFrequencyBits           = ansWordMBits
	ansNibbleStatisticsFrequencyMask           = (1 << ansNibbleStatisticsFrequencyBits) - 1
	ansNibbleStatisticsCumulativeFrequencyBits = ansWordMBits
	ansNibbleStatisticsCumulativeFrequencyMask = (1 << ansNibbleStatisticsCumulativeFrequencyBits) - 1
)

// ansNibbleRawStatistics is a 16-symbol histogram being normalized to
// sum to ansWordM, mirroring ansRawStatistics at a quarter the width.
type ansNibbleRawStatistics struct {
	freqs    [ansNibbleAlphabetSize]uint32
	cumFreqs [ansNibbleAlphabetSize + 1]uint32
}

// ANSNibbleStatistics is a normalized 16-symbol frequency model, packed
// one (cumFreq, freq) word per nibble value.
type ANSNibbleStatistics struct {
	table      [ansNibbleAlphabetSize]uint32
	ctrl, data ansBitStream
}

func (s *ansNibbleRawStatistics) normalizeFreqs() {
	rescanCumFreqSlice(s.freqs[:], s.cumFreqs[:])
	normalizeFreqSlice(s.freqs[:], s.cumFreqs[:], ansWordM)
}

func (s *ANSNibbleStatistics) set(raw *ansNibbleRawStatistics) {
	for i := 0; i < ansNibbleAlphabetSize; i++ {
		s.table[i] = (raw.cumFreqs[i] << ansNibbleStatisticsCumulativeFrequencyBits) | raw.freqs[i]
	}
}

const (
	ansNibbleCtrlBlockSize        = ansNibbleAlphabetSize * 3 / 8 // 16 3-bit codes = 6 bytes
	ansNibbleNibbleBlockMaxLength = ansNibbleAlphabetSize * 3 / 2 // worst case: every symbol needs 3 nibbles
	ansNibbleDenseTableMaxLength  = ansNibbleCtrlBlockSize + ansNibbleNibbleBlockMaxLength
)

// ANSNibbleDenseTable is the decoder's lookup form of a normalized
// 16-symbol frequency model: one entry per rANS state sub-range.
type ANSNibbleDenseTable [ansWordM]uint32

// ANSNibbleEncoder holds one nibble-codec encode in progress.
type ANSNibbleEncoder struct {
	word    uint32
	tail    []byte
	src     []byte
	stats   *ANSNibbleStatistics
	statbuf ANSNibbleStatistics
}

func (e *ANSNibbleEncoder) reset(src []byte, stats *ANSNibbleStatistics) {
	e.src = src
	e.tail = slices.Grow(e.tail[:0], entropyInitialBufferSize)
	e.word = ansWordL
	e.stats = stats
}

// encodeNibble folds one 4-bit value into the running state; see
// ANS1Encoder.encodeByte for the shared Duda-recursion derivation.
func (e *ANSNibbleEncoder) encodeNibble(v byte) {
	entry := e.stats.table[v]
	freq := entry & ansNibbleStatisticsFrequencyMask
	start := (entry >> ansNibbleStatisticsFrequencyBits) & ansNibbleStatisticsCumulativeFrequencyMask

	x := e.word
	if x >= renormBound(freq) {
		e.tail = binary.LittleEndian.AppendUint16(e.tail, uint16(x))
		x >>= ansWordLBits
	}
	e.word = ((x / freq) << ansWordMBits) + (x % freq) + start
}

func (e *ANSNibbleEncoder) finish() {
	e.tail = binary.LittleEndian.AppendUint32(e.tail, e.word)
}

// Encode computes a frequency model for src and returns its nibble-rANS
// encoding followed by the serialized model.
func (e *ANSNibbleEncoder) Encode(src []byte) ([]byte, error) {
	stats := &e.statbuf
	stats.observe(src)
	dst, err := e.EncodeExplicit(src, stats)
	if err != nil {
		return dst, err
	}
	return stats.Encode(dst), nil
}

// EncodeExplicit encodes src against a caller-supplied model, without
// appending the model's own serialization.
func (e *ANSNibbleEncoder) EncodeExplicit(src []byte, stats *ANSNibbleStatistics) ([]byte, error) {
	e.reset(src, stats)
	ansNibbleCompress(e)
	return e.tail, nil
}

// ansNibbleCompress walks src back to front, folding in the high nibble
// of each byte before the low nibble so the decoder (which runs the
// state machine forward) recovers them low-then-high, reassembling the
// original byte as (hi<<4)|lo.
func ansNibbleCompress(e *ANSNibbleEncoder) {
	for i := len(e.src) - 1; i >= 0; i-- {
		b := e.src[i]
		e.encodeNibble(b >> 4)
		e.encodeNibble(b & 0x0f)
	}
	e.finish()
	e.src = e.src[:0]
}

// ANSNibbleDecode deserializes a model from the tail of src, then
// decodes dstLen bytes (2*dstLen nibbles) encoded against it.
func ANSNibbleDecode(src []byte, dstLen int) ([]byte, error) {
	r, ec := ansNibbleDecode(src, dstLen)
	if ec != ecOK {
		return nil, errs[ec]
	}
	return r, nil
}

// ANSNibbleDecodeExplicit decodes dstLen bytes from src against an
// already-deserialized model.
func ANSNibbleDecodeExplicit(src []byte, tab *ANSNibbleDenseTable, dstLen int, dst []byte) ([]byte, error) {
	r, ec := ansNibbleDecodeExplicit(src, tab, dstLen, dst)
	if ec != ecOK {
		return nil, errs[ec]
	}
	return r, nil
}

func ansNibbleDecode(src []byte, dstLen int) ([]byte, errorCode) {
	var tab ANSNibbleDenseTable
	data, ec := ansNibbleDecodeTable(&tab, src)
	if ec != ecOK {
		return nil, ec
	}
	return ansNibbleDecodeExplicit(data, &tab, dstLen, make([]byte, 0, dstLen))
}

func ansNibbleDecodeExplicit(src []byte, tab *ANSNibbleDenseTable, dstLen int, dst []byte) ([]byte, errorCode) {
	return ansNibbleDecompress(dst, dstLen, src, tab)
}

// decodeNibble reads the symbol owning state's current sub-range,
// advances state via D(x), and pulls a renormalization word off the
// tail of src whenever state drops below ansWordL. cursor is passed and
// returned by value since the caller interleaves two calls per byte and
// must thread the updated position through both.
func decodeNibbleSymbol(state uint32, src []byte, cursor int, tab *ANSNibbleDenseTable) (sym byte, newState uint32, newCursor int) {
	slot := state & (ansWordM - 1)
	entry := tab[slot]
	freq := entry & (ansWordM - 1)
	bias := (entry >> ansWordMBits) & (ansWordM - 1)
	sym = byte(entry >> 24)

	state = freq*(state>>ansWordMBits) + bias
	if state < ansWordL {
		state = (state << ansWordLBits) | uint32(binary.LittleEndian.Uint16(src[cursor:]))
		cursor -= 2
	}
	return sym, state, cursor
}

// ansNibbleDecompress runs the nibble rANS state machine forward,
// producing two nibbles per iteration and recombining them into one
// byte of output (the encoder folded high nibble, then low nibble, so
// the decoder — which runs forward — recovers low, then high).
func ansNibbleDecompress(dst []byte, dstLen int, src []byte, tab *ANSNibbleDenseTable) ([]byte, errorCode) {
	if len(src) < 4 {
		return nil, ecWrongSourceSize
	}
	state := binary.LittleEndian.Uint32(src[len(src)-4:])
	cursor := len(src) - 6

	for produced := 0; produced < dstLen; produced++ {
		var lo, hi byte
		lo, state, cursor = decodeNibbleSymbol(state, src, cursor, tab)
		hi, state, cursor = decodeNibbleSymbol(state, src, cursor, tab)
		dst = append(dst, (hi<<4)|lo)
	}
	if state != ansWordL {
		return nil, ecCorruptedBitStream
	}
	return dst, ecOK
}

// Encode appends the serialized representation of s: a 3-bit control
// code per nibble value (16 symbols = 6 bytes) plus a variable-width
// payload for any frequency too large to fit in 3 bits, written in
// reverse like ANSStatistics.EncodeFull.
func (s *ANSNibbleStatistics) Encode(dst []byte) []byte {
	s.ctrl.reset()
	s.data.reset()

	for i := 0; i < ansNibbleAlphabetSize; i++ {
		f := s.table[i] & ansNibbleStatisticsFrequencyMask
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

// NewANSNibbleStatistics computes a normalized nibble frequency table
// for src.
func NewANSNibbleStatistics(src []byte) *ANSNibbleStatistics {
	stats := &ANSNibbleStatistics{}
	stats.observe(src)
	return stats
}

// observe builds the normalized model for src, handling the same two
// degenerate cases as ANSStatistics.observe, scaled to a 16-symbol
// alphabet: empty input and a single repeated nibble value.
func (s *ANSNibbleStatistics) observe(src []byte) {
	var raw ansNibbleRawStatistics

	if len(src) == 0 {
		raw.freqs[14] = ansWordM / 2
		raw.freqs[15] = ansWordM / 2
		raw.cumFreqs[15] = ansWordM / 2
		raw.cumFreqs[16] = ansWordM
		s.set(&raw)
		return
	}

	anchor := ansNibbleHistogram(&raw.freqs, src)
	if raw.freqs[anchor] == uint32(2*len(src)) {
		// A single nibble value repeated throughout both halves of every
		// byte: reserve one unit of mass for an artificial 17th symbol
		// (unreachable from real 4-bit data) so the cumulative sums stay
		// representable in ansWordMBits bits. See ANSStatistics.observe
		// for the byte-alphabet analogue of this trick.
		raw.freqs[anchor] = ansWordM - 1
		for i := anchor + 1; i < ansNibbleAlphabetSize+1; i++ {
			raw.cumFreqs[i] = ansWordM - 1
		}
		s.set(&raw)
		return
	}

	raw.normalizeFreqs()
	s.set(&raw)
}

// ansNibbleHistogram tallies nibble frequencies across both halves of
// every source byte, using four interleaved counter banks for the same
// store-to-load-forwarding reasons as ansHistogram.
func ansNibbleHistogram(freqs *[ansNibbleAlphabetSize]uint32, src []byte) int {
	var banks [4][ansNibbleAlphabetSize]uint32
	n := uint(len(src))
	aligned := ints.AlignDown(n, 2)
	for i := uint(0); i < aligned; i += 2 {
		banks[0][src[i]&0x0f]++
		banks[1][src[i]>>4]++
		banks[2][src[i+1]&0x0f]++
		banks[3][src[i+1]>>4]++
	}
	for i := aligned; i < n; i++ {
		banks[0][src[i]&0x0f]++
		banks[1][src[i]>>4]++
	}

	firstNonZero := -1
	for sym := 0; sym < ansNibbleAlphabetSize; sym++ {
		total := banks[0][sym] + banks[1][sym] + banks[2][sym] + banks[3][sym]
		freqs[sym] = total
		if total != 0 && firstNonZero < 0 {
			firstNonZero = sym
		}
	}
	return firstNonZero // -1 is unreachable given len(src) > 0
}

// Decode deserializes the probability distribution table into *tab and
// returns the prefix that precedes the serialized data.
func (tab *ANSNibbleDenseTable) Decode(src []byte) ([]byte, error) {
	r, ec := ansNibbleDecodeTable(tab, src)
	if ec != ecOK {
		return nil, errs[ec]
	}
	return r, nil
}

func (tab *ANSNibbleDenseTable) decode(src []byte) ([]byte, errorCode) {
	return ansNibbleDecodeTable(tab, src)
}

// ansNibbleDecodeTable mirrors ansDecodeFullTableReference at a
// quarter the alphabet: a reverse-ordered variable-width payload section
// followed by 16 3-bit control codes (6 bytes) at the tail of src.
func ansNibbleDecodeTable(tab *ANSNibbleDenseTable, src []byte) ([]byte, errorCode) {
	if len(src) < ansNibbleCtrlBlockSize {
		return nil, ecWrongSourceSize
	}
	ctrl := src[len(src)-ansNibbleCtrlBlockSize:]
	nibidx := (len(src)-ansNibbleCtrlBlockSize-1)*2 + 1

	var freqs [ansNibbleAlphabetSize]uint32
	sym := 0
	for i := 0; i < ansNibbleCtrlBlockSize; i += 3 {
		chunk := uint32(ctrl[i]) | uint32(ctrl[i+1])<<8 | uint32(ctrl[i+2])<<16
		for j := 0; j < 8 && sym < ansNibbleAlphabetSize; j++ {
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

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
)

// ans1 is the scalar (single-lane) rANS codec over an 8-bit alphabet: one
// 32-bit state word, kept at or above ansWordL (and below 2^32) by
// renormalizing through 16-bit little-endian words. Source bytes are
// folded into the state back to front (the state machine runs most
// significant symbol first), so the state at the end of encoding is the
// state a decoder must start from, reading the stream forward from that
// point to recover symbols in original order.

// ANS1Encoder holds one scalar-codec encode in progress: the live state
// word, the side buffer collecting renormalization words as they're
// emitted, and the frequency model driving the Duda recursion.
type ANS1Encoder struct {
	word    uint32
	tail    []byte
	src     []byte
	stats   *ANSStatistics
	statbuf ANSStatistics
}

func (e *ANS1Encoder) reset(src []byte, stats *ANSStatistics) {
	e.src = src
	e.tail = slices.Grow(e.tail[:0], entropyInitialBufferSize)
	e.word = ansWordL
	e.stats = stats
}

// renormBound is the smallest state value for which encoding a symbol
// with the given frequency would carry the state past 32 bits; at or
// above it the encoder must shed a 16-bit word first.
func renormBound(freq uint32) uint32 {
	return ((ansWordL >> ansWordMBits) << ansWordLBits) * freq
}

// encodeByte folds one source byte into the running state via the Duda
// recursion C(s,x) = M*floor(x/freq) + (x mod freq) + start, after
// renormalizing if necessary.
func (e *ANS1Encoder) encodeByte(sym byte) {
	entry := e.stats.table[sym]
	freq := entry & ansStatisticsFrequencyMask
	start := (entry >> ansStatisticsFrequencyBits) & ansStatisticsCumulativeFrequencyMask

	x := e.word
	if x >= renormBound(freq) {
		e.tail = binary.LittleEndian.AppendUint16(e.tail, uint16(x))
		x >>= ansWordLBits
	}
	e.word = ((x / freq) << ansWordMBits) + (x % freq) + start
}

func (e *ANS1Encoder) finish() {
	e.tail = binary.LittleEndian.AppendUint32(e.tail, e.word)
}

// Encode computes a frequency model for src and returns src's scalar-rANS
// encoding followed by the serialized model.
func (e *ANS1Encoder) Encode(src []byte) ([]byte, error) {
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
func (e *ANS1Encoder) EncodeExplicit(src []byte, stats *ANSStatistics) ([]byte, error) {
	e.reset(src, stats)
	ans1Compress(e)
	return slices.Grow(e.tail, len(e.tail)+ansDenseTableMaxLength), nil
}

func ans1CompressReference(e *ANS1Encoder) {
	for i := len(e.src) - 1; i >= 0; i-- {
		e.encodeByte(e.src[i])
	}
	e.finish()
	e.src = e.src[:0]
}

// ANS1Decode deserializes a model from the tail of src, then decodes
// dstLen bytes encoded against it.
func ANS1Decode(src []byte, dstLen int) ([]byte, error) {
	r, ec := ans1Decode(src, dstLen)
	if ec != ecOK {
		return nil, errs[ec]
	}
	return r, nil
}

// ANS1DecodeExplicit decodes dstLen bytes from src against an
// already-deserialized model.
func ANS1DecodeExplicit(src []byte, tab *ANSDenseTable, dstLen int, dst []byte) ([]byte, error) {
	r, ec := ans1DecodeExplicit(src, tab, dstLen, dst)
	if ec != ecOK {
		return nil, errs[ec]
	}
	return r, nil
}

func ans1Decode(src []byte, dstLen int) ([]byte, errorCode) {
	var tab ANSDenseTable
	data, ec := ansDecodeTable(&tab, src)
	if ec != ecOK {
		return nil, ec
	}
	return ans1DecodeExplicit(data, &tab, dstLen, make([]byte, 0, dstLen))
}

func ans1DecodeExplicit(src []byte, tab *ANSDenseTable, dstLen int, dst []byte) ([]byte, errorCode) {
	return ans1Decompress(dst, dstLen, src, tab)
}

// ans1DecompressReference runs the scalar rANS state machine forward: the
// trailing 4 bytes of src hold the final encode-time state; each step
// decodes the symbol owning the state's current sub-range, updates the
// state via D(x), and pulls a 16-bit renormalization word off the tail of
// src whenever the state drops below ansWordL. After dstLen symbols the
// state must be back at ansWordL, the encoder's starting value; any other
// value means the stream is corrupt.
func ans1DecompressReference(dst []byte, dstLen int, src []byte, tab *ANSDenseTable) ([]byte, errorCode) {
	if len(src) < 4 {
		return nil, ecWrongSourceSize
	}
	cursor := len(src) - 4
	state := binary.LittleEndian.Uint32(src[cursor:])

	for produced := 0; produced < dstLen; produced++ {
		slot := state & (ansWordM - 1)
		entry := tab[slot]
		freq := entry & (ansWordM - 1)
		bias := (entry >> ansWordMBits) & (ansWordM - 1)
		sym := byte(entry >> 24)

		state = freq*(state>>ansWordMBits) + bias
		dst = append(dst, sym)

		if state < ansWordL {
			cursor -= 2
			state = (state << ansWordLBits) | uint32(binary.LittleEndian.Uint16(src[cursor:]))
		}
	}
	if state != ansWordL {
		return nil, ecCorruptedBitStream
	}
	return dst, ecOK
}

func init() {
	if ansWordMBits > 12 {
		panic("the value of ansWordMBits must not exceed 12")
	}
}

var ans1Compress func(e *ANS1Encoder) = ans1CompressReference
var ans1Decompress func(dst []byte, dstLen int, src []byte, tab *ANSDenseTable) ([]byte, errorCode) = ans1DecompressReference

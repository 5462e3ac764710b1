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
	"bytes"
	"testing"
)

// TestPartialStatisticsRoundtrip exercises the "partial" dense-table
// serialization (an entry list covering the dominant symbols, rather
// than a full 256-entry table), gated in production by
// ansOptimizeStatistics but always available for explicit use.
func TestPartialStatisticsRoundtrip(t *testing.T) {
	src := bytes.Repeat([]byte("AAAABBBC"), 2048) // 3 symbols dominate heavily
	var stats ANSStatistics
	raw := &ansRawStatistics{}
	nonZero := ansHistogram(&raw.freqs, src)
	if raw.freqs[nonZero] == uint32(len(src)) {
		t.Fatal("unexpected single-symbol input")
	}
	raw.normalizeFreqs()
	raw.optimize()
	if len(raw.partialContent) == 0 {
		t.Fatal("expected partial encoding to apply to a skewed distribution")
	}
	stats.set(raw)

	encoded := stats.Encode(nil)

	var tab ANSDenseTable
	prefix, err := tab.Decode(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if len(prefix) != 0 {
		t.Fatal("expected no data preceding the table in this isolated test")
	}

	for sym := 0; sym < 256; sym++ {
		wantFreq := raw.freqs[sym]
		wantStart := raw.cumFreqs[sym]
		if wantFreq == 0 {
			continue
		}
		slot := wantStart
		got := tab[slot]
		if byte(got>>24) != byte(sym) {
			t.Fatalf("symbol %d: dense table slot %d decodes to symbol %d", sym, slot, byte(got>>24))
		}
	}
}

func TestFullStatisticsRoundtrip(t *testing.T) {
	src := []byte("the quick brown fox jumps over the lazy dog")
	stats := NewANSStatistics(src)
	if len(stats.partialContent) != 0 {
		t.Fatal("expected full encoding for this input with ansOptimizeStatistics disabled")
	}
	encoded := stats.Encode(nil)

	var tab ANSDenseTable
	if _, err := tab.Decode(encoded); err != nil {
		t.Fatal(err)
	}
}

func TestObserveEdgeCases(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		stats := NewANSStatistics(nil)
		encoded := stats.Encode(nil)
		var tab ANSDenseTable
		if _, err := tab.Decode(encoded); err != nil {
			t.Fatal(err)
		}
	})
	t.Run("single-symbol-repeat", func(t *testing.T) {
		stats := NewANSStatistics(bytes.Repeat([]byte{0x37}, 4096))
		encoded := stats.Encode(nil)
		var tab ANSDenseTable
		if _, err := tab.Decode(encoded); err != nil {
			t.Fatal(err)
		}
	})
}

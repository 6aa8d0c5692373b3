// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package exec

import (
	"fmt"
	"math"

	"github.com/dustin/go-humanize"
)

// Probe records the high and low watermarks of the number of live tensors during an execution.
// The executor records tensors.NumLive() before evaluating each node.
//
// It's used to test for leaks and to measure the memory footprint of an execution.
type Probe struct {
	MaxNumTensors int
	MinNumTensors int

	// NumRecords is the number of times Record was called.
	NumRecords int
}

// NewProbe returns a Probe with no records.
func NewProbe() *Probe {
	return &Probe{MaxNumTensors: math.MinInt, MinNumTensors: math.MaxInt}
}

// Record updates the watermarks with the current number of live tensors.
func (p *Probe) Record(numTensors int) {
	p.NumRecords++
	p.MaxNumTensors = max(p.MaxNumTensors, numTensors)
	p.MinNumTensors = min(p.MinNumTensors, numTensors)
}

// String implements fmt.Stringer.
func (p *Probe) String() string {
	if p.NumRecords == 0 {
		return "Probe(no records)"
	}
	return fmt.Sprintf("Probe(%s records): live tensors in [%s, %s]", humanize.Comma(int64(p.NumRecords)),
		humanize.Comma(int64(p.MinNumTensors)), humanize.Comma(int64(p.MaxNumTensors)))
}

// Copyright 2020 Grail Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package consensus turns a sample's pileup stream into a per-position
// consensus sequence over a fixed reference layout.
package consensus

import (
	"fmt"

	"github.com/grailbio/coresnp/pileup"
)

// Call is the consensus outcome at one (sample, position).  It is one of the
// definite bases 'A', 'C', 'G', 'T', the no-call marker 'N' or the gap marker
// '-'.
type Call byte

const (
	// NoCall marks a position with insufficient coverage, quality or allele
	// frequency.
	NoCall Call = 'N'
	// Gap marks a deleted position, or one absent from a sparse pileup.
	Gap Call = '-'
)

// Definite returns true iff c is one of A, C, G, T.
func (c Call) Definite() bool {
	switch c {
	case 'A', 'C', 'G', 'T':
		return true
	}
	return false
}

// IsCall returns true iff c is a valid Call character.
func IsCall(c byte) bool {
	return Call(c).Definite() || Call(c) == NoCall || Call(c) == Gap
}

// Opts holds the calling thresholds.
type Opts struct {
	// MinCoverage is the minimum number of quality-passing observations.
	MinCoverage int
	// MinFrequency is the minimum fraction of quality-passing observations
	// that must support the called allele.
	MinFrequency float64
	// MinQuality is the minimum Phred base quality of an observation.
	MinQuality int
	// CountDeletions makes deletion placeholders and reference skips a
	// tallied allele; a majority of them yields a Gap call.
	CountDeletions bool
	// MinStrandCount is the minimum number of quality-passing observations
	// of the called allele on each read strand.  0 disables the check.
	MinStrandCount int
}

// DefaultOpts are the thresholds used by the cohort pipeline.
var DefaultOpts = Opts{
	MinCoverage:  5,
	MinFrequency: 0.8,
	MinQuality:   20,
}

// Validate checks that the thresholds are in range.
func (o Opts) Validate() error {
	if o.MinCoverage < 0 {
		return fmt.Errorf("consensus: min coverage must be >= 0, got %d", o.MinCoverage)
	}
	if !(o.MinFrequency >= 0 && o.MinFrequency <= 1) {
		return fmt.Errorf("consensus: min frequency must be in [0, 1], got %v", o.MinFrequency)
	}
	if o.MinStrandCount < 0 {
		return fmt.Errorf("consensus: min strand count must be >= 0, got %d", o.MinStrandCount)
	}
	if o.MinQuality < 0 || o.MinQuality > pileup.MaxQual {
		return fmt.Errorf("consensus: min quality must be in [0, %d], got %d", pileup.MaxQual, o.MinQuality)
	}
	return nil
}

// Caller assigns a Call to each pileup record.  A Caller holds scratch state
// and must not be shared between goroutines.
type Caller struct {
	opts   Opts
	counts pileup.Counts
}

// NewCaller creates a Caller with the given thresholds.
func NewCaller(opts Opts) (*Caller, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Caller{opts: opts}, nil
}

// Call parses rec's base string and returns its consensus call.  The error
// is non-nil iff the base or quality string is malformed.
func (c *Caller) Call(rec *pileup.Record) (Call, error) {
	if err := pileup.ParseBases(rec, byte(c.opts.MinQuality), &c.counts); err != nil {
		return NoCall, err
	}
	return c.decide(&c.counts), nil
}

func (c *Caller) decide(counts *pileup.Counts) Call {
	total := counts.Passing(c.opts.CountDeletions)
	if total == 0 || total < c.opts.MinCoverage {
		return NoCall
	}
	last := pileup.BaseX
	if c.opts.CountDeletions {
		last = pileup.BaseDel
	}
	best, bestN, tie := pileup.BaseX, 0, false
	for base := pileup.BaseA; base <= last; base++ {
		n := counts.Total(base)
		switch {
		case n > bestN:
			best, bestN, tie = base, n, false
		case n == bestN && n > 0:
			tie = true
		}
	}
	// An 'N' majority, or an 'N' tied with the leading base, is ambiguous.
	if tie || best == pileup.BaseX {
		return NoCall
	}
	if float64(bestN)/float64(total) < c.opts.MinFrequency {
		return NoCall
	}
	if n := c.opts.MinStrandCount; n > 0 {
		if counts.Pass[best][pileup.StrandFwd] < n || counts.Pass[best][pileup.StrandRev] < n {
			return NoCall
		}
	}
	return Call(pileup.EnumToASCIITable[best])
}

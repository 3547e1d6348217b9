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
package coresnp

import (
	"errors"

	"github.com/grailbio/base/log"
	"github.com/grailbio/coresnp/pileup/consensus"
)

// ErrEmptyCoreSet is returned by Extract when no position survives.
var ErrEmptyCoreSet = errors.New("coresnp: no core SNP sites")

// Class is the outcome of core-site classification for one row.
type Class int

const (
	// Core rows have a definite call in every sample and at least two
	// distinct calls.
	Core Class = iota
	// Missing rows have a no-call or gap in at least one sample.
	Missing
	// Invariant rows have the same definite call in every sample.
	Invariant
	// Masked rows fall in an excluded region.
	Masked
)

var classNames = [...]string{"core", "missing", "invariant", "masked"}

func (c Class) String() string {
	return classNames[c]
}

// Classify returns Core, Missing or Invariant for a row of calls.
func Classify(calls []byte) Class {
	var first byte
	poly := false
	for _, c := range calls {
		if !consensus.Call(c).Definite() {
			return Missing
		}
		if first == 0 {
			first = c
		} else if c != first {
			poly = true
		}
	}
	if !poly {
		return Invariant
	}
	return Core
}

// Site locates one retained row.
type Site struct {
	Contig string
	Pos    int
	Index  int
	Ref    byte
}

// SiteSet is the core SNP matrix, stored per sample.
type SiteSet struct {
	Samples []string
	// Sites is in matrix order.  It is nil for a SiteSet read back from FASTA.
	Sites []Site
	// Seqs[i] holds sample i's calls at the retained sites.
	Seqs [][]byte
}

// Len returns the number of retained sites.
func (s *SiteSet) Len() int {
	if len(s.Seqs) == 0 {
		return 0
	}
	return len(s.Seqs[0])
}

// Calls appends the calls of every sample at site i to dst.
func (s *SiteSet) Calls(dst []byte, i int) []byte {
	for _, seq := range s.Seqs {
		dst = append(dst, seq[i])
	}
	return dst
}

// Stats counts matrix rows by Class.
type Stats struct {
	Total     int
	Masked    int
	Missing   int
	Invariant int
	Core      int
}

func (s *Stats) add(c Class) {
	s.Total++
	switch c {
	case Core:
		s.Core++
	case Missing:
		s.Missing++
	case Invariant:
		s.Invariant++
	case Masked:
		s.Masked++
	}
}

// Mask reports excluded positions.  *interval.BEDUnion implements it.
type Mask interface {
	Contains(contig string, pos1 int) bool
}

// ExtractOpts configures Extract.
type ExtractOpts struct {
	// Mask, if non-nil, excludes positions before classification.
	Mask Mask
	// OnRow, if non-nil, is called for every row with its class, e.g. to
	// write the full matrix in the same pass.  The row is only valid during
	// the call.
	OnRow func(row *Row, class Class) error
}

// Extract scans m once and returns its core sites in row order.  When no
// site is retained the (empty) SiteSet and stats are returned along with
// ErrEmptyCoreSet.
func Extract(m *Matrix, opts ExtractOpts) (*SiteSet, Stats, error) {
	ss := &SiteSet{
		Samples: m.Samples,
		Seqs:    make([][]byte, len(m.Samples)),
	}
	var stats Stats
	sc := NewScanner(m)
	for sc.Scan() {
		row := sc.Row()
		class := Masked
		if opts.Mask == nil || !opts.Mask.Contains(row.Contig, row.Pos) {
			class = Classify(row.Calls)
		}
		stats.add(class)
		if class == Core {
			ss.Sites = append(ss.Sites, Site{Contig: row.Contig, Pos: row.Pos, Index: row.Index, Ref: row.Ref})
			for i, c := range row.Calls {
				ss.Seqs[i] = append(ss.Seqs[i], c)
			}
		}
		if opts.OnRow != nil {
			if err := opts.OnRow(row, class); err != nil {
				return nil, stats, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, stats, err
	}
	log.Printf("coresnp: %d samples, %d positions: %d core, %d invariant, %d missing, %d masked",
		len(m.Samples), stats.Total, stats.Core, stats.Invariant, stats.Missing, stats.Masked)
	if stats.Core == 0 {
		return ss, stats, ErrEmptyCoreSet
	}
	return ss, stats, nil
}

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

// Package distance computes pairwise SNV distances between consensus
// sequences.  Only positions where both samples have a definite call are
// compared; a pair with no such position has an undefined distance.
package distance

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/coresnp/coresnp"
	"github.com/grailbio/coresnp/pileup/consensus"
)

// ErrUndefined is returned by Matrix.Fraction for a pair of samples with no
// comparable positions.
var ErrUndefined = errors.New("distance: no comparable positions")

// Matrix is a symmetric samples x samples distance matrix.
type Matrix struct {
	Samples []string
	n       int
	// Row-major n*n arrays.
	mismatch   []int
	comparable []int
}

func newMatrix(samples []string) *Matrix {
	n := len(samples)
	return &Matrix{
		Samples:    samples,
		n:          n,
		mismatch:   make([]int, n*n),
		comparable: make([]int, n*n),
	}
}

// Mismatches returns the number of comparable positions at which samples i
// and j differ.
func (m *Matrix) Mismatches(i, j int) int {
	return m.mismatch[i*m.n+j]
}

// Comparable returns the number of positions where both samples i and j
// have a definite call.  Comparable(i, i) counts sample i's definite calls.
func (m *Matrix) Comparable(i, j int) int {
	return m.comparable[i*m.n+j]
}

// Defined returns false iff i != j and the pair has no comparable position.
func (m *Matrix) Defined(i, j int) bool {
	return i == j || m.comparable[i*m.n+j] > 0
}

// Fraction returns Mismatches(i, j) / Comparable(i, j), or ErrUndefined.
// Fraction(i, i) is always 0.
func (m *Matrix) Fraction(i, j int) (float64, error) {
	if i == j {
		return 0, nil
	}
	c := m.comparable[i*m.n+j]
	if c == 0 {
		return 0, ErrUndefined
	}
	return float64(m.mismatch[i*m.n+j]) / float64(c), nil
}

// Undefined returns the pairs (i < j) whose distance is undefined.
func (m *Matrix) Undefined() [][2]int {
	var pairs [][2]int
	for i := 0; i < m.n; i++ {
		for j := i + 1; j < m.n; j++ {
			if !m.Defined(i, j) {
				pairs = append(pairs, [2]int{i, j})
			}
		}
	}
	return pairs
}

// String renders the mismatch counts, with undefined cells as NA.
func (m *Matrix) String() string {
	cell := func(i, j int) string {
		if !m.Defined(i, j) {
			return "NA"
		}
		return strconv.Itoa(m.Mismatches(i, j))
	}
	maxLength := 0
	for i := 0; i < m.n; i++ {
		for j := 0; j < m.n; j++ {
			if l := len(cell(i, j)); l > maxLength {
				maxLength = l
			}
		}
	}
	lines := []string{""}
	for i := 0; i < m.n; i++ {
		var parts []string
		for j := 0; j < m.n; j++ {
			parts = append(parts, fmt.Sprintf("%*s", maxLength, cell(i, j)))
		}
		lines = append(lines, strings.Join(parts, " | "))
	}
	return strings.Join(lines, "\n")
}

var isDefinite [256]bool

func init() {
	for _, c := range "ACGT" {
		isDefinite[c] = consensus.Call(c).Definite()
	}
}

func compare(a, b []byte) (mismatch, comparable int) {
	for k, x := range a {
		y := b[k]
		if !isDefinite[x] || !isDefinite[y] {
			continue
		}
		comparable++
		if x != y {
			mismatch++
		}
	}
	return
}

// Compute returns the distance matrix of seqs, which must have equal
// lengths.  samples[i] names seqs[i].  Pairs are split among parallelism
// jobs; parallelism <= 0 means one job per sample.
func Compute(samples []string, seqs [][]byte, parallelism int) (*Matrix, error) {
	if len(samples) != len(seqs) {
		return nil, fmt.Errorf("distance: %d samples but %d sequences", len(samples), len(seqs))
	}
	for i, s := range seqs {
		if len(s) != len(seqs[0]) {
			return nil, &coresnp.LengthMismatchError{Sample: samples[i], Len: len(s), Want: len(seqs[0])}
		}
	}
	m := newMatrix(samples)
	for i, s := range seqs {
		_, m.comparable[i*m.n+i] = compare(s, s)
	}
	pairs := make([][2]int, 0, m.n*(m.n-1)/2)
	for i := 0; i < m.n; i++ {
		for j := i + 1; j < m.n; j++ {
			pairs = append(pairs, [2]int{i, j})
		}
	}
	if parallelism <= 0 {
		parallelism = m.n
	}
	if parallelism > len(pairs) {
		parallelism = len(pairs)
	}
	nPair := len(pairs)
	err := traverse.Each(parallelism, func(jobIdx int) error {
		startIdx := (jobIdx * nPair) / parallelism
		endIdx := ((jobIdx + 1) * nPair) / parallelism
		for _, p := range pairs[startIdx:endIdx] {
			i, j := p[0], p[1]
			mm, c := compare(seqs[i], seqs[j])
			// Each pair owns cells (i, j) and (j, i).
			m.mismatch[i*m.n+j], m.mismatch[j*m.n+i] = mm, mm
			m.comparable[i*m.n+j], m.comparable[j*m.n+i] = c, c
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, p := range m.Undefined() {
		log.Printf("distance: samples %s and %s share no comparable positions", samples[p[0]], samples[p[1]])
	}
	return m, nil
}

// FromSequences computes distances over full consensus sequences.  Rows and
// columns are ordered by sample ID, matching the genotype matrix.
func FromSequences(seqs []*consensus.Sequence, parallelism int) (*Matrix, error) {
	seqs = append([]*consensus.Sequence(nil), seqs...)
	sort.SliceStable(seqs, func(i, j int) bool { return seqs[i].Sample < seqs[j].Sample })
	samples := make([]string, len(seqs))
	calls := make([][]byte, len(seqs))
	for i, s := range seqs {
		samples[i] = s.Sample
		calls[i] = s.Calls
	}
	return Compute(samples, calls, parallelism)
}

// FromSiteSet computes distances over the core sites only.
func FromSiteSet(ss *coresnp.SiteSet, parallelism int) (*Matrix, error) {
	return Compute(ss.Samples, ss.Seqs, parallelism)
}

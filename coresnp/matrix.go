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

// Package coresnp joins per-sample consensus sequences into a genotype
// matrix and extracts the core SNP sites: positions with a definite call in
// every sample and at least two distinct calls among them.
//
// The matrix is never materialized.  Each sample is a Column that yields one
// call per reference position, and Scanner walks all columns in lockstep, so
// memory is O(samples) per row.
package coresnp

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/grailbio/coresnp/encoding/fasta"
	"github.com/grailbio/coresnp/pileup/consensus"
	"github.com/grailbio/coresnp/util"
)

// Column yields one sample's consensus calls in layout order.
type Column interface {
	// Sample returns the sample identifier.
	Sample() string
	// ReadByte returns the next call, or io.EOF after the last one.
	ReadByte() (byte, error)
}

// sizedColumn is implemented by columns whose length is known up front.
type sizedColumn interface {
	Len() int
}

type sequenceColumn struct {
	seq *consensus.Sequence
	off int
}

// SequenceColumn returns a Column over an in-memory consensus sequence.
func SequenceColumn(seq *consensus.Sequence) Column {
	return &sequenceColumn{seq: seq}
}

func (c *sequenceColumn) Sample() string { return c.seq.Sample }
func (c *sequenceColumn) Len() int       { return len(c.seq.Calls) }

func (c *sequenceColumn) ReadByte() (byte, error) {
	if c.off == len(c.seq.Calls) {
		return 0, io.EOF
	}
	b := c.seq.Calls[c.off]
	c.off++
	return b, nil
}

// FileColumn streams a consensus FASTA file.
type FileColumn struct {
	in     *util.Reader
	sc     *fasta.Scanner
	sample string
}

// OpenColumn opens the consensus file at path.  The sample identifier is the
// name of its first FASTA record.
func OpenColumn(ctx context.Context, path string) (*FileColumn, error) {
	in, err := util.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	sc := fasta.NewScanner(in)
	if !sc.Next() {
		err := sc.Err()
		if err == nil {
			err = fmt.Errorf("coresnp: %s: no consensus record", path)
		}
		_ = in.Close(ctx)
		return nil, err
	}
	return &FileColumn{in: in, sc: sc, sample: sc.Name()}, nil
}

// Sample implements Column.
func (c *FileColumn) Sample() string { return c.sample }

// ReadByte implements Column.
func (c *FileColumn) ReadByte() (byte, error) {
	return c.sc.ReadByte()
}

// Close closes the underlying file.
func (c *FileColumn) Close(ctx context.Context) error {
	return c.in.Close(ctx)
}

// OpenColumns opens every path with OpenColumn.  On error, the columns
// already opened are closed.
func OpenColumns(ctx context.Context, paths []string) ([]*FileColumn, error) {
	cols := make([]*FileColumn, 0, len(paths))
	for _, path := range paths {
		c, err := OpenColumn(ctx, path)
		if err != nil {
			CloseColumns(ctx, cols) // nolint: errcheck
			return nil, err
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// CloseColumns closes cols, returning the first error.
func CloseColumns(ctx context.Context, cols []*FileColumn) (err error) {
	for _, c := range cols {
		if e := c.Close(ctx); e != nil && err == nil {
			err = e
		}
	}
	return
}

// LengthMismatchError reports a consensus sequence whose length differs from
// the shared layout.  It is fatal to the whole cohort.
type LengthMismatchError struct {
	Sample string
	Len    int
	Want   int
}

func (e *LengthMismatchError) Error() string {
	return fmt.Sprintf("coresnp: sample %s: consensus has %d positions, reference layout has %d", e.Sample, e.Len, e.Want)
}

// Matrix is the genotype matrix of a cohort: one Column per sample over a
// shared layout.  Columns are keyed and ordered by sample identifier.
type Matrix struct {
	Layout  consensus.Layout
	Samples []string
	// ref supplies the REF column; nil renders it as 'N'.
	ref  fasta.Fasta
	cols []Column
}

// NewMatrix joins cols over layout.  Sample identifiers must be unique.  Columns
// with a known length are checked against the layout immediately; streamed
// columns are checked as they are scanned.
func NewMatrix(layout consensus.Layout, ref fasta.Fasta, cols []Column) (*Matrix, error) {
	if len(cols) == 0 {
		return nil, fmt.Errorf("coresnp: no samples")
	}
	sorted := append([]Column(nil), cols...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Sample() < sorted[j].Sample() })
	m := &Matrix{
		Layout:  layout,
		Samples: make([]string, len(sorted)),
		ref:     ref,
		cols:    sorted,
	}
	want := layout.Len()
	for i, c := range sorted {
		m.Samples[i] = c.Sample()
		if m.Samples[i] == "" {
			return nil, fmt.Errorf("coresnp: empty sample identifier")
		}
		if i > 0 && m.Samples[i] == m.Samples[i-1] {
			return nil, fmt.Errorf("coresnp: duplicate sample %s", m.Samples[i])
		}
		if sc, ok := c.(sizedColumn); ok && sc.Len() != want {
			return nil, &LengthMismatchError{Sample: c.Sample(), Len: sc.Len(), Want: want}
		}
	}
	return m, nil
}

// NewSequenceMatrix is a convenience wrapper for NewMatrix over in-memory
// sequences.
func NewSequenceMatrix(layout consensus.Layout, ref fasta.Fasta, seqs []*consensus.Sequence) (*Matrix, error) {
	cols := make([]Column, len(seqs))
	for i, s := range seqs {
		cols[i] = SequenceColumn(s)
	}
	return NewMatrix(layout, ref, cols)
}

// Row is one position of the matrix.
type Row struct {
	Contig string
	// Pos is the 1-based position on Contig.
	Pos int
	// Index is the 0-based offset into the consensus sequences.
	Index int
	// Ref is the uppercase reference base, or 'N' if unknown.
	Ref byte
	// Calls holds one call per sample, in Matrix.Samples order.
	Calls []byte
}

// Scanner walks the rows of a Matrix in layout order.  Row storage is reused
// between calls to Scan.
type Scanner struct {
	m      *Matrix
	row    Row
	contig int
	refSeq string
	done   bool
	err    error
}

// NewScanner creates a Scanner positioned before the first row of m.  A
// Matrix may be scanned only once, since its columns are streams.
func NewScanner(m *Matrix) *Scanner {
	return &Scanner{
		m:      m,
		row:    Row{Index: -1, Calls: make([]byte, len(m.cols))},
		contig: -1,
	}
}

// Scan advances to the next row.  It returns false at the end of the matrix
// or on error.
func (s *Scanner) Scan() bool {
	if s.done || s.err != nil {
		return false
	}
	want := s.m.Layout.Len()
	s.row.Index++
	if s.row.Index == want {
		s.done = true
		s.err = s.checkEnd(want)
		return false
	}
	if s.contig < 0 || s.row.Pos == s.m.Layout[s.contig].Len {
		s.contig++
		s.row.Contig = s.m.Layout[s.contig].Name
		s.row.Pos = 0
		s.refSeq = ""
		if s.m.ref != nil {
			seq, err := s.m.ref.Get(s.row.Contig, 0, uint64(s.m.Layout[s.contig].Len))
			if err != nil {
				s.err = err
				return false
			}
			s.refSeq = strings.ToUpper(seq)
		}
	}
	s.row.Pos++
	s.row.Ref = 'N'
	if s.refSeq != "" {
		s.row.Ref = s.refSeq[s.row.Pos-1]
	}
	for i, c := range s.m.cols {
		b, err := c.ReadByte()
		if err == io.EOF {
			s.err = &LengthMismatchError{Sample: c.Sample(), Len: s.row.Index, Want: want}
			return false
		}
		if err != nil {
			s.err = err
			return false
		}
		if !consensus.IsCall(b) {
			s.err = fmt.Errorf("coresnp: sample %s: invalid call %q at %s:%d", c.Sample(), b, s.row.Contig, s.row.Pos)
			return false
		}
		s.row.Calls[i] = b
	}
	return true
}

// checkEnd verifies that no column is longer than the layout.
func (s *Scanner) checkEnd(want int) error {
	for _, c := range s.m.cols {
		n := want
		for {
			_, err := c.ReadByte()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			n++
		}
		if n != want {
			return &LengthMismatchError{Sample: c.Sample(), Len: n, Want: want}
		}
	}
	return nil
}

// Row returns the current row.
func (s *Scanner) Row() *Row {
	return &s.row
}

// Err returns the first error encountered by Scan.
func (s *Scanner) Err() error {
	return s.err
}

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
	"context"
	"fmt"
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/coresnp/encoding/fasta"
	"github.com/grailbio/coresnp/pileup/consensus"
	"github.com/grailbio/coresnp/util"
)

// MatrixWriter writes matrix rows as TSV:
//   #CHROM  POS  REF  <sample>...
type MatrixWriter struct {
	tw *tsv.Writer
}

// NewMatrixWriter writes the header line for samples and returns a writer
// for the rows.
func NewMatrixWriter(w io.Writer, samples []string) (*MatrixWriter, error) {
	tw := tsv.NewWriter(w)
	tw.WriteString("#CHROM")
	tw.WriteString("POS")
	tw.WriteString("REF")
	for _, s := range samples {
		tw.WriteString(s)
	}
	if err := tw.EndLine(); err != nil {
		return nil, err
	}
	return &MatrixWriter{tw: tw}, nil
}

func (mw *MatrixWriter) write(contig string, pos int, ref byte, calls []byte) error {
	mw.tw.WriteString(contig)
	mw.tw.WriteUint32(uint32(pos))
	mw.tw.WriteByte(ref)
	for _, c := range calls {
		mw.tw.WriteByte(c)
	}
	return mw.tw.EndLine()
}

// Write appends one row.
func (mw *MatrixWriter) Write(row *Row) error {
	return mw.write(row.Contig, row.Pos, row.Ref, row.Calls)
}

// Flush writes buffered rows to the underlying writer.
func (mw *MatrixWriter) Flush() error {
	return mw.tw.Flush()
}

// WriteCoreTable writes the retained sites of ss in MatrixWriter format.
func WriteCoreTable(w io.Writer, ss *SiteSet) error {
	mw, err := NewMatrixWriter(w, ss.Samples)
	if err != nil {
		return err
	}
	calls := make([]byte, 0, len(ss.Samples))
	for i, site := range ss.Sites {
		if err := mw.write(site.Contig, site.Pos, site.Ref, ss.Calls(calls[:0], i)); err != nil {
			return err
		}
	}
	return mw.Flush()
}

// WriteFasta writes one record per sample holding its calls at the retained
// sites, in site order.
func WriteFasta(w io.Writer, ss *SiteSet, lineWidth int) error {
	fw := fasta.NewWriter(w, lineWidth)
	for i, sample := range ss.Samples {
		if err := fw.Write(sample, "", ss.Seqs[i]); err != nil {
			return err
		}
	}
	return fw.Flush()
}

// ReadFasta reads a core FASTA written by WriteFasta.  The returned SiteSet
// has no Sites.  Records must have distinct names and equal lengths.
func ReadFasta(r io.Reader) (*SiteSet, error) {
	ss := &SiteSet{}
	seen := map[string]bool{}
	sc := fasta.NewScanner(r)
	for sc.Next() {
		name := sc.Name()
		if seen[name] {
			return nil, fmt.Errorf("coresnp: duplicate sample %s", name)
		}
		seen[name] = true
		seq, err := sc.ReadSeq()
		if err != nil {
			return nil, err
		}
		for i, c := range seq {
			if !consensus.IsCall(c) {
				return nil, fmt.Errorf("coresnp: sample %s: invalid call %q at site %d", name, c, i+1)
			}
		}
		if len(ss.Seqs) > 0 && len(seq) != len(ss.Seqs[0]) {
			return nil, &LengthMismatchError{Sample: name, Len: len(seq), Want: len(ss.Seqs[0])}
		}
		ss.Samples = append(ss.Samples, name)
		ss.Seqs = append(ss.Seqs, seq)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(ss.Samples) == 0 {
		return nil, fmt.Errorf("coresnp: no samples in core FASTA")
	}
	return ss, nil
}

// StatsRow is the TSV form of Stats.
type StatsRow struct {
	Samples   int `tsv:"samples"`
	Total     int `tsv:"positions"`
	Masked    int `tsv:"masked"`
	Missing   int `tsv:"missing"`
	Invariant int `tsv:"invariant"`
	Core      int `tsv:"core"`
}

// WriteStats writes a one-row TSV summary of an extraction.
func WriteStats(w io.Writer, nSamples int, s Stats) error {
	rw := tsv.NewRowWriter(w)
	if err := rw.Write(&StatsRow{
		Samples:   nSamples,
		Total:     s.Total,
		Masked:    s.Masked,
		Missing:   s.Missing,
		Invariant: s.Invariant,
		Core:      s.Core,
	}); err != nil {
		return err
	}
	return rw.Flush()
}

// create opens path with util.Create, runs fn on it and closes it.
func create(ctx context.Context, path string, parallelism int, fn func(w io.Writer) error) (err error) {
	out, err := util.Create(ctx, path, parallelism)
	if err != nil {
		return err
	}
	defer func() {
		if e := out.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return fn(out)
}

// WriteCoreTablePath writes the core table to path; a ".gz" suffix selects
// BGZF compression.
func WriteCoreTablePath(ctx context.Context, path string, ss *SiteSet, parallelism int) error {
	return create(ctx, path, parallelism, func(w io.Writer) error { return WriteCoreTable(w, ss) })
}

// WriteFastaPath writes the core FASTA to path.
func WriteFastaPath(ctx context.Context, path string, ss *SiteSet) error {
	return create(ctx, path, 1, func(w io.Writer) error { return WriteFasta(w, ss, fasta.DefaultLineWidth) })
}

// WriteStatsPath writes the extraction summary to path.
func WriteStatsPath(ctx context.Context, path string, nSamples int, s Stats) error {
	return create(ctx, path, 1, func(w io.Writer) error { return WriteStats(w, nSamples, s) })
}

// ReadFastaPath reads the core FASTA at path.
func ReadFastaPath(ctx context.Context, path string) (ss *SiteSet, err error) {
	in, err := util.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if ss, err = ReadFasta(in); err != nil {
		err = errors.E(errors.Invalid, err, path)
	}
	return
}

// ExtractToPaths runs Extract over m, streaming every row to matrixPath
// (skipped if empty) and writing the core table, core FASTA and stats next
// to prefix.  The extraction error, including ErrEmptyCoreSet, is returned
// after the full matrix and stats are written; core outputs are only written
// when the core set is non-empty.
func ExtractToPaths(ctx context.Context, m *Matrix, mask Mask, matrixPath, prefix string, parallelism int) (*SiteSet, Stats, error) {
	var (
		ss      *SiteSet
		stats   Stats
		extract error
	)
	run := func(onRow func(*Row, Class) error) error {
		ss, stats, extract = Extract(m, ExtractOpts{Mask: mask, OnRow: onRow})
		if extract == ErrEmptyCoreSet {
			return nil
		}
		return extract
	}
	var err error
	if matrixPath != "" {
		err = create(ctx, matrixPath, parallelism, func(w io.Writer) error {
			mw, err := NewMatrixWriter(w, m.Samples)
			if err != nil {
				return err
			}
			if err := run(func(row *Row, _ Class) error { return mw.Write(row) }); err != nil {
				return err
			}
			return mw.Flush()
		})
	} else {
		err = run(nil)
	}
	if err != nil {
		return nil, stats, err
	}
	if err := WriteStatsPath(ctx, prefix+".stats.tsv", len(m.Samples), stats); err != nil {
		return nil, stats, err
	}
	if extract != nil {
		return ss, stats, extract
	}
	if err := WriteCoreTablePath(ctx, prefix+".core.tsv", ss, parallelism); err != nil {
		return nil, stats, err
	}
	if err := WriteFastaPath(ctx, prefix+".core.fasta", ss); err != nil {
		return nil, stats, err
	}
	return ss, stats, nil
}

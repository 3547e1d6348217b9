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
package distance

import (
	"context"
	"io"
	"strconv"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/coresnp/util"
)

const na = "NA"

func (m *Matrix) writeTable(w io.Writer, cell func(i, j int) string) error {
	tw := tsv.NewWriter(w)
	tw.WriteString("sample")
	for _, s := range m.Samples {
		tw.WriteString(s)
	}
	if err := tw.EndLine(); err != nil {
		return err
	}
	for i, s := range m.Samples {
		tw.WriteString(s)
		for j := range m.Samples {
			tw.WriteString(cell(i, j))
		}
		if err := tw.EndLine(); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// WriteCounts writes the mismatch-count matrix as TSV, with sample IDs as
// row and column labels.  Undefined cells are written as NA.
func WriteCounts(w io.Writer, m *Matrix) error {
	return m.writeTable(w, func(i, j int) string {
		if !m.Defined(i, j) {
			return na
		}
		return strconv.Itoa(m.Mismatches(i, j))
	})
}

// WriteFractions writes the mismatch-fraction matrix as TSV.  Undefined cells
// are written as NA.
func WriteFractions(w io.Writer, m *Matrix) error {
	return m.writeTable(w, func(i, j int) string {
		f, err := m.Fraction(i, j)
		if err != nil {
			return na
		}
		return strconv.FormatFloat(f, 'f', 6, 64)
	})
}

// PairRow is one line of the long-format pair table.
type PairRow struct {
	A          string `tsv:"sample_a"`
	B          string `tsv:"sample_b"`
	Mismatches int    `tsv:"mismatches"`
	Comparable int    `tsv:"comparable"`
	// Fraction is NA when undefined.
	Fraction string `tsv:"fraction"`
}

// WritePairs writes one row per unordered pair.
func WritePairs(w io.Writer, m *Matrix) error {
	rw := tsv.NewRowWriter(w)
	for i := range m.Samples {
		for j := i + 1; j < len(m.Samples); j++ {
			row := PairRow{
				A:          m.Samples[i],
				B:          m.Samples[j],
				Mismatches: m.Mismatches(i, j),
				Comparable: m.Comparable(i, j),
				Fraction:   na,
			}
			if f, err := m.Fraction(i, j); err == nil {
				row.Fraction = strconv.FormatFloat(f, 'f', 6, 64)
			}
			if err := rw.Write(&row); err != nil {
				return err
			}
		}
	}
	return rw.Flush()
}

// WritePaths writes <prefix>.distance.counts.tsv,
// <prefix>.distance.fractions.tsv and <prefix>.distance.pairs.tsv.
func WritePaths(ctx context.Context, m *Matrix, prefix string) error {
	for _, out := range []struct {
		suffix string
		write  func(io.Writer, *Matrix) error
	}{
		{".distance.counts.tsv", WriteCounts},
		{".distance.fractions.tsv", WriteFractions},
		{".distance.pairs.tsv", WritePairs},
	} {
		if err := writePath(ctx, prefix+out.suffix, m, out.write); err != nil {
			return err
		}
	}
	return nil
}

func writePath(ctx context.Context, path string, m *Matrix, write func(io.Writer, *Matrix) error) (err error) {
	w, err := util.Create(ctx, path, 1)
	if err != nil {
		return err
	}
	defer func() {
		if e := w.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return write(w, m)
}

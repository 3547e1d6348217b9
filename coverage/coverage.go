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

// Package coverage reduces a per-base depth track to the summary statistics
// used to decide whether a sample is admitted to consensus calling.
package coverage

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/grailbio/coresnp/pileup"
	"github.com/grailbio/coresnp/util"
)

// Summary describes the depth of one sample across the reference.
type Summary struct {
	// AvgDepth is the mean depth over all reference positions, zeros
	// included.
	AvgDepth float64
	// PercentCovered is 100 * (positions with depth >= 1) / Positions.
	PercentCovered float64
	// Positions is the number of reference positions summarized.
	Positions int
}

// Accumulator builds a Summary one depth value at a time.
type Accumulator struct {
	n       int
	covered int
	sum     int64
}

// Add records the depth of the next position.
func (a *Accumulator) Add(depth int) {
	a.n++
	a.sum += int64(depth)
	if depth > 0 {
		a.covered++
	}
}

// Summary returns the summary over refLen positions.  Positions never passed
// to Add count as depth 0.  If refLen is smaller than the number of values
// added (e.g. refLen <= 0 when the reference length is unknown), the number
// of values added is used instead.
func (a *Accumulator) Summary(refLen int) Summary {
	n := a.n
	if refLen > n {
		n = refLen
	}
	if n == 0 {
		return Summary{}
	}
	return Summary{
		AvgDepth:       float64(a.sum) / float64(n),
		PercentCovered: 100 * float64(a.covered) / float64(n),
		Positions:      n,
	}
}

// Summarize reduces an in-memory depth track.
func Summarize(depths []int) Summary {
	var a Accumulator
	for _, d := range depths {
		a.Add(d)
	}
	return a.Summary(0)
}

// ReadDepthTrack summarizes a depth track with one position per line.  Each
// line holds "depth", "pos depth" or "contig pos depth" separated by
// whitespace, as emitted by "samtools depth" and "bedtools genomecov -d".
// refLen is the total reference length, or 0 if unknown.
func ReadDepthTrack(r io.Reader, refLen int) (Summary, error) {
	var (
		a      Accumulator
		tokens [3][]byte
	)
	scanner := bufio.NewScanner(r)
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		line := scanner.Bytes()
		nToken := getTokens(tokens[:], line)
		if nToken == 0 || line[0] == '#' {
			continue
		}
		depth, err := strconv.Atoi(gunsafe.BytesToString(tokens[nToken-1]))
		if err != nil || depth < 0 {
			return Summary{}, fmt.Errorf("coverage.ReadDepthTrack: invalid depth %q on line %d", tokens[nToken-1], lineIdx)
		}
		a.Add(depth)
	}
	if err := scanner.Err(); err != nil {
		return Summary{}, err
	}
	return a.Summary(refLen), nil
}

// ReadDepthTrackPath is a wrapper for ReadDepthTrack that takes a path.
func ReadDepthTrackPath(ctx context.Context, path string, refLen int) (s Summary, err error) {
	in, err := util.Open(ctx, path)
	if err != nil {
		return
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if s, err = ReadDepthTrack(in, refLen); err != nil {
		err = errors.E(errors.Invalid, err, path)
	}
	return
}

// FromPileup summarizes the depth column of a pileup stream.  Positions
// absent from the stream count as depth 0 when refLen is known.
func FromPileup(r *pileup.Reader, refLen int) (Summary, error) {
	var a Accumulator
	for r.Scan() {
		a.Add(r.Record().Depth)
	}
	if err := r.Err(); err != nil {
		return Summary{}, err
	}
	return a.Summary(refLen), nil
}

// getTokens identifies up to the first len(tokens) whitespace-delimited
// tokens of line and returns how many were found.  Lines with more tokens
// than that are truncated, so the depth must be within the first
// len(tokens) columns.
func getTokens(tokens [][]byte, line []byte) int {
	posEnd := 0
	lineLen := len(line)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if line[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if line[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = line[pos:posEnd]
	}
	return len(tokens)
}

// WriteSummary writes the two-column "average depth, percent covered"
// record consumed by downstream tools.
func WriteSummary(w io.Writer, s Summary) error {
	tw := tsv.NewWriter(w)
	tw.WriteString(strconv.FormatFloat(s.AvgDepth, 'f', 4, 64))
	tw.WriteString(strconv.FormatFloat(s.PercentCovered, 'f', 4, 64))
	if err := tw.EndLine(); err != nil {
		return err
	}
	return tw.Flush()
}

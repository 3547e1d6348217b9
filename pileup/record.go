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
package pileup

import (
	"fmt"
	"strconv"

	gunsafe "github.com/grailbio/base/unsafe"
)

// Record is one line of samtools-mpileup text for a single sample:
//   <contig> <1-based pos> <ref base> <depth> <read bases> <base quals>
// Multi-sample pileups repeat the last three columns once per sample.
//
// Bases and Quals alias the reader's line buffer; they are only valid until
// the next call to Reader.Scan.
type Record struct {
	Contig string
	Pos    int
	Ref    byte
	Depth  int
	Bases  []byte
	Quals  []byte
}

// splitTabs identifies up to the first len(tokens) tab-delimited fields of
// line, returning the number of fields saved.  Unlike BED parsing, empty
// fields are legal here (a zero-depth position may have empty base and
// quality strings).
func splitTabs(tokens [][]byte, line []byte) int {
	start := 0
	for tokenIdx := range tokens {
		end := start
		for ; end != len(line); end++ {
			if line[end] == '\t' {
				break
			}
		}
		tokens[tokenIdx] = line[start:end]
		if end == len(line) {
			return tokenIdx + 1
		}
		start = end + 1
	}
	return len(tokens)
}

// parseLine fills rec from line.  rec.Contig is only reassigned when the
// contig name changes, so consecutive records on one contig share a string.
func parseLine(line []byte, sampleIdx int, tokens [][]byte, rec *Record) error {
	nToken := splitTabs(tokens, line)
	need := 6 + 3*sampleIdx
	if nToken < need {
		return fmt.Errorf("expected at least %d tab-separated fields, got %d", need, nToken)
	}
	if contig := tokens[0]; gunsafe.BytesToString(contig) != rec.Contig {
		rec.Contig = string(contig)
	}
	pos, err := strconv.Atoi(gunsafe.BytesToString(tokens[1]))
	if err != nil || pos < 1 {
		rec.Pos = 0
		return fmt.Errorf("invalid position %q", tokens[1])
	}
	rec.Pos = pos
	if len(tokens[2]) != 1 {
		return fmt.Errorf("invalid reference base %q", tokens[2])
	}
	rec.Ref = tokens[2][0]
	col := 3 + 3*sampleIdx
	depth, err := strconv.Atoi(gunsafe.BytesToString(tokens[col]))
	if err != nil || depth < 0 {
		return fmt.Errorf("invalid depth %q", tokens[col])
	}
	rec.Depth = depth
	rec.Bases = tokens[col+1]
	rec.Quals = tokens[col+2]
	return nil
}

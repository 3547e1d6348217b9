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

import "fmt"

// Counts tallies the observations at one pileup position.
type Counts struct {
	// Depth is the number of observations in the base string, including
	// low-quality ones.
	Depth int
	// Pass[base][strand] counts the observations whose base quality reached
	// the threshold given to ParseBases.  Read-strand case is folded into the
	// base index; the strand index only records which case was seen.
	Pass [NBaseEnum][2]int
}

// Total returns the number of quality-passing observations of base on either
// strand.
func (c *Counts) Total(base byte) int {
	return c.Pass[base][StrandFwd] + c.Pass[base][StrandRev]
}

// Passing returns the number of quality-passing observations.  Deletion
// placeholders and reference skips are only included when withDel is true.
func (c *Counts) Passing(withDel bool) (n int) {
	for base := BaseA; base <= BaseX; base++ {
		n += c.Total(base)
	}
	if withDel {
		n += c.Total(BaseDel)
	}
	return
}

// isEmptyField reports whether a base or quality field is one of the
// zero-coverage placeholders emitted by samtools ("" or "*").
func isEmptyField(b []byte) bool {
	return len(b) == 0 || (len(b) == 1 && b[0] == '*')
}

// ParseBases tallies the read-base string of rec into c, which is reset
// first.
//
// Grammar: '.'/',' match the reference on the forward/reverse strand,
// [ACGTN]/[acgtn] are mismatches, '*'/'#' are deletion placeholders and
// '>'/'<' reference skips (both tallied as BaseDel), '^' plus the following
// mapping-quality character marks a read start, '$' a read end, and
// [+-]<n><seq> an indel annotation.  Only the per-read observations consume a
// quality character; their count must equal both rec.Depth and
// len(rec.Quals).
func ParseBases(rec *Record, minQual byte, c *Counts) error {
	*c = Counts{}
	bases, quals := rec.Bases, rec.Quals
	if rec.Depth == 0 && isEmptyField(bases) && isEmptyField(quals) {
		return nil
	}
	refEnum := ASCIIToEnumTable[rec.Ref]
	qualIdx := 0
	for i := 0; i < len(bases); i++ {
		var base byte
		strand := StrandFwd
		switch ch := bases[i]; ch {
		case '^':
			i++
			if i == len(bases) {
				return fmt.Errorf("read-start marker at end of base string")
			}
			continue
		case '$':
			continue
		case '+', '-':
			j, n := i+1, 0
			for ; j < len(bases) && bases[j] >= '0' && bases[j] <= '9'; j++ {
				n = n*10 + int(bases[j]-'0')
			}
			if j == i+1 || j+n > len(bases) {
				return fmt.Errorf("malformed indel annotation at offset %d", i)
			}
			i = j + n - 1
			continue
		case '.':
			base = refEnum
		case ',':
			base = refEnum
			strand = StrandRev
		case '*', '>':
			base = BaseDel
		case '#', '<':
			base = BaseDel
			strand = StrandRev
		default:
			if !IsBaseChar(ch) {
				return fmt.Errorf("unknown base character %q at offset %d", ch, i)
			}
			base = ASCIIToEnumTable[ch]
			if ch >= 'a' {
				strand = StrandRev
			}
		}
		if qualIdx == len(quals) {
			return fmt.Errorf("more observations than quality scores (%d)", len(quals))
		}
		q := quals[qualIdx]
		qualIdx++
		if q < PhredOffset || q > PhredOffset+MaxQual {
			return fmt.Errorf("invalid quality character %q", q)
		}
		c.Depth++
		if q-PhredOffset >= minQual {
			c.Pass[base][strand]++
		}
	}
	if qualIdx != len(quals) {
		return fmt.Errorf("%d observations but %d quality scores", qualIdx, len(quals))
	}
	if c.Depth != rec.Depth {
		return fmt.Errorf("depth field is %d but base string has %d observations", rec.Depth, c.Depth)
	}
	return nil
}

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
package interval

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/fileio"
	"github.com/grailbio/base/log"
	gunsafe "github.com/grailbio/base/unsafe"
	"github.com/klauspost/compress/gzip"
)

// getTokens identifies up to the first len(tokens) tokens from curLine,
// returning the number of tokens saved.  Any (group of) characters <= ' ' is
// treated as a delimiter.
func getTokens(tokens [][]byte, curLine []byte) int {
	posEnd := 0
	lineLen := len(curLine)
	for tokenIdx := range tokens {
		pos := posEnd
		for ; pos != lineLen; pos++ {
			if curLine[pos] > ' ' {
				break
			}
		}
		if pos == lineLen {
			return tokenIdx
		}
		posEnd = pos
		for ; posEnd != lineLen; posEnd++ {
			if curLine[posEnd] <= ' ' {
				break
			}
		}
		tokens[tokenIdx] = curLine[pos:posEnd]
	}
	return len(tokens)
}

// PosType is BEDUnion's coordinate type.
type PosType int32

// PosTypeMax is the maximum value that can be represented by a PosType.
const PosTypeMax = math.MaxInt32

// searchPosType returns the index of x in a[], or the position where x would
// be inserted if x isn't in a (this could be len(a)).
func searchPosType(a []PosType, x PosType) int {
	return sort.Search(len(a), func(i int) bool { return a[i] >= x })
}

// fwdsearchPosType checks a[idx], then a[idx + 1], then a[idx + 3], then
// a[idx + 7], etc., and then uses binary search to finish the job.  It's
// usually a better choice than searchPosType when iterating.
func fwdsearchPosType(a []PosType, x PosType, idx int) int {
	nextIncr := 1
	startIdx := idx
	endIdx := len(a)
	for idx < endIdx {
		if a[idx] >= x {
			endIdx = idx
			break
		}
		startIdx = idx + 1
		idx += nextIncr
		nextIncr *= 2
	}
	for startIdx < endIdx {
		midIdx := int(uint(startIdx+endIdx) >> 1)
		if a[midIdx] >= x {
			endIdx = midIdx
		} else {
			startIdx = midIdx + 1
		}
	}
	return startIdx
}

// BEDUnion is a collection of length-2N sequences, one per chromosome, where
// N is the number of intervals on that chromosome.  The (0-based) start of
// interval #k is in element [2k] and its end in element [2k+1]; intervals are
// disjoint and stored in increasing order.
//
// The zero value is an empty union.  Queries update a search cursor, so a
// BEDUnion must not be queried from multiple goroutines.
type BEDUnion struct {
	// nameMap is a chromosome-keyed map with disjoint-interval-set values.
	nameMap map[string][]PosType
	// nBase is the number of positions covered.
	nBase int

	// lastChrIntervals points to the disjoint-interval-set for the most recently
	// queried chromosome.
	lastChrIntervals []PosType
	// lastChrName is the name of the last queried chromosome.  If it's
	// nonempty, it must be in sync with lastChrIntervals.
	lastChrName string
	// lastPosPlus1 is 1 plus the last spot-queried position.
	lastPosPlus1 PosType
	// lastIdx is searchPosType(lastChrIntervals, lastPosPlus1).  Cached to
	// accelerate sequential queries.
	lastIdx int
	// isSequential is true if all queries since the last chromosome change have
	// been in order of nondecreasing position.
	isSequential bool
}

// ContainsByName checks whether the (0-based) interval [pos, pos+1) is
// contained within the BEDUnion, where chromosome is specified by name.
func (u *BEDUnion) ContainsByName(chrName string, pos PosType) bool {
	posPlus1 := pos + 1
	if chrName != u.lastChrName {
		u.lastChrName = chrName
		u.lastChrIntervals = u.nameMap[chrName]
		// Force use of searchPosType() on the first query for a contig.
		if u.lastChrIntervals == nil {
			return false
		}
		u.lastIdx = searchPosType(u.lastChrIntervals, posPlus1)
		u.lastPosPlus1 = posPlus1
		u.isSequential = true
		return u.lastIdx&1 == 1
	}
	if u.lastChrIntervals == nil {
		return false
	}
	if u.isSequential {
		if posPlus1 >= u.lastPosPlus1 {
			u.lastIdx = fwdsearchPosType(u.lastChrIntervals, posPlus1, u.lastIdx)
			u.lastPosPlus1 = posPlus1
			return u.lastIdx&1 == 1
		}
		u.isSequential = false
	}
	return searchPosType(u.lastChrIntervals, posPlus1)&1 == 1
}

// Contains reports whether the 1-based position pos1 of chrName is in the
// union.
func (u *BEDUnion) Contains(chrName string, pos1 int) bool {
	return u.ContainsByName(chrName, PosType(pos1-1))
}

// NumBases returns the number of positions covered by the union.
func (u *BEDUnion) NumBases() int {
	return u.nBase
}

// Chromosomes returns the sorted names of all chromosomes mentioned in the
// union.
func (u *BEDUnion) Chromosomes() []string {
	names := make([]string, 0, len(u.nameMap))
	for name := range u.nameMap {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func initBEDUnion() (bedUnion BEDUnion) {
	bedUnion.nameMap = make(map[string][]PosType)
	return
}

// unionBuilder merges sorted intervals, one chromosome at a time.
type unionBuilder struct {
	u       BEDUnion
	prevChr string
	// prevStart and prevEnd hold the pending interval; -1 if the current
	// chromosome has none yet.
	prevStart, prevEnd PosType
	chrIntervals       []PosType
}

func newUnionBuilder() *unionBuilder {
	return &unionBuilder{u: initBEDUnion()}
}

// flush saves the current chromosome's intervals.
func (b *unionBuilder) flush() {
	if b.prevChr == "" {
		return
	}
	if b.prevEnd != -1 {
		b.chrIntervals = append(b.chrIntervals, b.prevStart, b.prevEnd)
	}
	for i := 0; i+1 < len(b.chrIntervals); i += 2 {
		b.u.nBase += int(b.chrIntervals[i+1] - b.chrIntervals[i])
	}
	b.u.nameMap[b.prevChr] = b.chrIntervals
}

// add appends [start, end) on chr.  chr must not alias a reused buffer.
func (b *unionBuilder) add(chr string, start, end PosType) error {
	if start < 0 {
		return fmt.Errorf("negative start coordinate %d", start)
	}
	if end < start || end >= PosTypeMax {
		return fmt.Errorf("invalid coordinate pair [%d, %d)", start, end)
	}
	if chr != b.prevChr {
		b.flush()
		if _, found := b.u.nameMap[chr]; found {
			return fmt.Errorf("unsorted input (split chromosome %v)", chr)
		}
		b.prevChr = chr
		b.chrIntervals = []PosType{}
		b.prevStart, b.prevEnd = -1, -1
	}
	if end == start {
		// Distinguish between 'mentioned' chromosomes without any overlapping
		// bases and unmentioned chromosomes.
		return nil
	}
	if b.prevEnd == -1 {
		b.prevStart, b.prevEnd = start, end
		return nil
	}
	if start > b.prevEnd {
		b.chrIntervals = append(b.chrIntervals, b.prevStart, b.prevEnd)
		b.prevStart, b.prevEnd = start, end
		return nil
	}
	if start < b.prevStart {
		return fmt.Errorf("unsorted input")
	}
	// Intervals overlap, merge them.
	if end > b.prevEnd {
		b.prevEnd = end
	}
	return nil
}

func (b *unionBuilder) finish() BEDUnion {
	b.flush()
	return b.u
}

func scanBEDUnion(scanner *bufio.Scanner) (bedUnion BEDUnion, err error) {
	var tokens [3][]byte
	b := newUnionBuilder()
	lineIdx := 0
	for scanner.Scan() {
		lineIdx++
		curLine := scanner.Bytes()
		nToken := getTokens(tokens[:], curLine)
		if nToken == 0 || curLine[0] == '#' || hasPrefix(tokens[0], "track") || hasPrefix(tokens[0], "browser") {
			continue
		}
		if nToken != 3 {
			err = fmt.Errorf("interval.scanBEDUnion: line %d has fewer tokens than expected", lineIdx)
			return
		}
		var parsedStart, parsedEnd int
		if parsedStart, err = strconv.Atoi(gunsafe.BytesToString(tokens[1])); err != nil {
			err = fmt.Errorf("interval.scanBEDUnion: invalid start %q on line %d", tokens[1], lineIdx)
			return
		}
		if parsedEnd, err = strconv.Atoi(gunsafe.BytesToString(tokens[2])); err != nil {
			err = fmt.Errorf("interval.scanBEDUnion: invalid end %q on line %d", tokens[2], lineIdx)
			return
		}
		if parsedStart < 0 || parsedEnd >= PosTypeMax {
			err = fmt.Errorf("interval.scanBEDUnion: coordinate out of range on line %d", lineIdx)
			return
		}
		chr := b.prevChr
		if chr != gunsafe.BytesToString(tokens[0]) {
			// tokens[0] points into a buffer that the scanner will overwrite.
			chr = string(tokens[0])
		}
		if err = b.add(chr, PosType(parsedStart), PosType(parsedEnd)); err != nil {
			err = fmt.Errorf("interval.scanBEDUnion: line %d: %v", lineIdx, err)
			return
		}
	}
	if err = scanner.Err(); err != nil {
		return
	}
	bedUnion = b.finish()
	log.Printf("BED loaded, %d base(s) covered.", bedUnion.nBase)
	return
}

func hasPrefix(b []byte, prefix string) bool {
	return strings.HasPrefix(gunsafe.BytesToString(b), prefix)
}

// NewBEDUnion loads just the intervals from a sorted (by first coordinate)
// interval-BED, merging touching/overlapping intervals and eliminating empty
// ones in the process.  Comment, "track" and "browser" lines are skipped.
func NewBEDUnion(reader io.Reader) (bedUnion BEDUnion, err error) {
	return scanBEDUnion(bufio.NewScanner(reader))
}

// NewBEDUnionFromPath is a wrapper for NewBEDUnion that takes a path instead
// of an io.Reader.  Gzipped BED files are detected from the path suffix.
func NewBEDUnionFromPath(ctx context.Context, path string) (bedUnion BEDUnion, err error) {
	var infile file.File
	if infile, err = file.Open(ctx, path); err != nil {
		return
	}
	defer func() {
		if cerr := infile.Close(ctx); cerr != nil && err == nil {
			err = cerr
		}
	}()
	reader := io.Reader(infile.Reader(ctx))
	switch fileio.DetermineType(path) {
	case fileio.Gzip:
		var gz *gzip.Reader
		if gz, err = gzip.NewReader(reader); err != nil {
			err = errors.E(errors.Invalid, err, path)
			return
		}
		defer gz.Close() // nolint: errcheck
		reader = gz
	}
	if bedUnion, err = NewBEDUnion(reader); err != nil {
		err = errors.E(errors.Invalid, err, path)
	}
	return
}

// Entry represents a single interval, with 0-based coordinates.
type Entry struct {
	ChrName string
	Start0  PosType
	End     PosType
}

// ParseRegionString parses a region string of one of the forms
//   [contig ID]:[1-based first pos]-[last pos]
//   [contig ID]:[1-based pos]
//   [contig ID]
// returning a contig ID and 0-based interval boundaries.  The interval
// [0, PosTypeMax - 1] is returned if there is no positional restriction.
func ParseRegionString(region string) (result Entry, err error) {
	if len(region) == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty region string")
		return
	}
	colonPos := strings.LastIndexByte(region, ':')
	if colonPos == -1 {
		result.ChrName = region
		result.End = PosTypeMax - 1
		return
	}
	if colonPos == 0 {
		err = fmt.Errorf("interval.ParseRegionString: empty contig ID")
		return
	}
	result.ChrName = region[:colonPos]
	rangeStr := strings.Replace(region[colonPos+1:], ",", "", -1)
	dashPos := strings.IndexByte(rangeStr, '-')
	if dashPos == -1 {
		var pos1 int
		if pos1, err = strconv.Atoi(rangeStr); err != nil {
			return
		}
		if pos1 <= 0 || pos1 >= PosTypeMax {
			err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr)
			return
		}
		result.Start0 = PosType(pos1 - 1)
		result.End = PosType(pos1)
		return
	}
	var start1, end int
	if start1, err = strconv.Atoi(rangeStr[:dashPos]); err != nil {
		return
	}
	if start1 <= 0 {
		err = fmt.Errorf("interval.ParseRegionString: position %v in region string out of range", rangeStr[:dashPos])
		return
	}
	if end, err = strconv.Atoi(rangeStr[dashPos+1:]); err != nil {
		return
	}
	if end < start1 || end >= PosTypeMax {
		err = fmt.Errorf("interval.ParseRegionString: invalid range string %v", rangeStr)
		return
	}
	result.Start0 = PosType(start1 - 1)
	result.End = PosType(end)
	return
}

// NewBEDUnionFromEntries initializes a BEDUnion from entries, which must be
// grouped by chromosome and sorted by start within each chromosome.
func NewBEDUnionFromEntries(entries []Entry) (bedUnion BEDUnion, err error) {
	b := newUnionBuilder()
	for _, entry := range entries {
		if entry.ChrName == "" {
			err = fmt.Errorf("interval.NewBEDUnionFromEntries: empty chromosome name")
			return
		}
		if err = b.add(entry.ChrName, entry.Start0, entry.End); err != nil {
			err = fmt.Errorf("interval.NewBEDUnionFromEntries: %v", err)
			return
		}
	}
	return b.finish(), nil
}

// NewBEDUnionFromRegions parses region strings (see ParseRegionString) and
// returns their union.  Regions may be given in any order.
func NewBEDUnionFromRegions(regions []string) (BEDUnion, error) {
	entries := make([]Entry, 0, len(regions))
	for _, r := range regions {
		e, err := ParseRegionString(r)
		if err != nil {
			return BEDUnion{}, err
		}
		entries = append(entries, e)
	}
	order := map[string]int{}
	for _, e := range entries {
		if _, ok := order[e.ChrName]; !ok {
			order[e.ChrName] = len(order)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if oi, oj := order[entries[i].ChrName], order[entries[j].ChrName]; oi != oj {
			return oi < oj
		}
		return entries[i].Start0 < entries[j].Start0
	})
	return NewBEDUnionFromEntries(entries)
}

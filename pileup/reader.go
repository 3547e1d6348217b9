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
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/grailbio/coresnp/util"
)

// maxLineLen bounds a single pileup line.  Deep amplicon data can produce
// lines of several megabytes.
const maxLineLen = 256 << 20

// ReaderOpts controls how a Reader interprets its input.
type ReaderOpts struct {
	// SampleIndex selects the (depth, bases, quals) column triple of a
	// multi-sample pileup.  Zero for single-sample pileups.
	SampleIndex int
}

// Validate checks that o selects an existing sample column triple.
func (o ReaderOpts) Validate() error {
	if o.SampleIndex < 0 {
		return fmt.Errorf("pileup: sample index must be >= 0, got %d", o.SampleIndex)
	}
	return nil
}

// Reader is a lazy, single-pass iterator over the records of one sample's
// pileup stream.  It enforces strictly increasing positions within each
// contig, and that each contig appears in one contiguous block.
//
//   r := pileup.NewReader(in, "sampleA", pileup.ReaderOpts{})
//   for r.Scan() {
//     rec := r.Record()
//     ...
//   }
//   if err := r.Err(); err != nil { ... }
type Reader struct {
	sample  string
	opts    ReaderOpts
	scanner *bufio.Scanner
	tokens  [][]byte
	rec     Record
	lineIdx int
	prevPos int
	seen    map[string]bool
	err     error
	in      *util.Reader
}

// NewReader creates a Reader over r.  sample labels errors.  Invalid opts
// are reported by the first call to Scan.
func NewReader(r io.Reader, sample string, opts ReaderOpts) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), maxLineLen)
	rd := &Reader{
		sample:  sample,
		opts:    opts,
		scanner: scanner,
		seen:    map[string]bool{},
	}
	if rd.err = opts.Validate(); rd.err == nil {
		rd.tokens = make([][]byte, 6+3*opts.SampleIndex)
	}
	return rd
}

// Open opens a (possibly compressed) pileup file.  The caller must Close the
// returned reader.
func Open(ctx context.Context, path, sample string, opts ReaderOpts) (*Reader, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	in, err := util.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	r := NewReader(in, sample, opts)
	r.in = in
	return r, nil
}

// Close releases the underlying file, if the reader was created by Open.
func (r *Reader) Close(ctx context.Context) error {
	if r.in == nil {
		return nil
	}
	return r.in.Close(ctx)
}

// Sample returns the sample identifier the reader was created with.
func (r *Reader) Sample() string {
	return r.sample
}

// Scan advances to the next record.  It returns false at the end of the
// stream or on the first error.
func (r *Reader) Scan() bool {
	if r.err != nil {
		return false
	}
	for r.scanner.Scan() {
		r.lineIdx++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		prevContig := r.rec.Contig
		if err := parseLine(line, r.opts.SampleIndex, r.tokens, &r.rec); err != nil {
			r.err = r.malformed(err.Error())
			return false
		}
		if r.rec.Contig != prevContig {
			if r.seen[r.rec.Contig] {
				r.err = r.malformed(fmt.Sprintf("contig %s is split across the stream", r.rec.Contig))
				return false
			}
			r.seen[r.rec.Contig] = true
			r.prevPos = 0
		}
		if r.rec.Pos <= r.prevPos {
			r.err = r.malformed(fmt.Sprintf("position %d does not follow %d", r.rec.Pos, r.prevPos))
			return false
		}
		r.prevPos = r.rec.Pos
		return true
	}
	r.err = r.scanner.Err()
	return false
}

// Record returns the current record.  It is overwritten by the next Scan.
func (r *Reader) Record() *Record {
	return &r.rec
}

// Err returns the first error encountered, or nil at a clean end of stream.
func (r *Reader) Err() error {
	return r.err
}

// Malformed returns a MalformedRecordError for the current record.
func (r *Reader) Malformed(msg string) *MalformedRecordError {
	return r.malformed(msg)
}

func (r *Reader) malformed(msg string) *MalformedRecordError {
	return &MalformedRecordError{
		Sample: r.sample,
		Line:   r.lineIdx,
		Contig: r.rec.Contig,
		Pos:    r.rec.Pos,
		Msg:    msg,
	}
}

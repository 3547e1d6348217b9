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
package consensus

import (
	"context"
	"fmt"

	"github.com/grailbio/base/log"
	"github.com/grailbio/coresnp/pileup"
)

// Sequence is one sample's consensus over a Layout.
type Sequence struct {
	Sample string
	// Calls holds one Call per layout position, contigs concatenated in
	// layout order.
	Calls []byte
}

// TruncatedError is returned when a pileup stream ends before covering every
// position of the layout.
type TruncatedError struct {
	Sample string
	Contig string
	// Pos is the last position seen on Contig, 0 if none.
	Pos int
	// Want is the length of Contig.
	Want int
}

func (e *TruncatedError) Error() string {
	return fmt.Sprintf("consensus: sample %s: pileup for %s stops at position %d of %d", e.Sample, e.Contig, e.Pos, e.Want)
}

// AssembleOpts controls how gaps in the pileup stream are handled.
type AssembleOpts struct {
	// Sparse accepts pileups that omit zero-depth positions ("samtools
	// mpileup" without -a).  Omitted positions become Gap calls.  When false,
	// every layout position must have a record.
	Sparse bool
}

type assembler struct {
	sample string
	layout Layout
	opts   AssembleOpts
	calls  []byte
	contig int
	// pos is the last filled 1-based position on contig.
	pos int
}

func (a *assembler) fill(n int) {
	for i := 0; i < n; i++ {
		a.calls = append(a.calls, byte(Gap))
	}
	a.pos += n
}

// advanceTo closes the current contig and any contigs before idx.
func (a *assembler) advanceTo(idx int) error {
	for a.contig < idx {
		if a.contig >= 0 {
			c := a.layout[a.contig]
			if missing := c.Len - a.pos; missing > 0 {
				if !a.opts.Sparse {
					return &TruncatedError{Sample: a.sample, Contig: c.Name, Pos: a.pos, Want: c.Len}
				}
				a.fill(missing)
			}
		}
		a.contig++
		a.pos = 0
	}
	return nil
}

// Assemble reads r to the end and returns the consensus of r's sample over
// layout.  A malformed record aborts assembly with a
// *pileup.MalformedRecordError; a stream that stops short of the layout
// returns a *TruncatedError.
func Assemble(r *pileup.Reader, caller *Caller, layout Layout, opts AssembleOpts) (*Sequence, error) {
	a := assembler{
		sample: r.Sample(),
		layout: layout,
		opts:   opts,
		calls:  make([]byte, 0, layout.Len()),
		contig: -1,
	}
	nNoCall := 0
	for r.Scan() {
		rec := r.Record()
		if a.contig < 0 || rec.Contig != layout[a.contig].Name {
			idx := layout.Index(rec.Contig)
			if idx < 0 {
				return nil, r.Malformed(fmt.Sprintf("contig %s is not in the reference", rec.Contig))
			}
			if idx < a.contig {
				return nil, r.Malformed(fmt.Sprintf("contig %s is out of reference order", rec.Contig))
			}
			if err := a.advanceTo(idx); err != nil {
				return nil, err
			}
		}
		if rec.Pos > layout[a.contig].Len {
			return nil, r.Malformed(fmt.Sprintf("position is beyond the contig length %d", layout[a.contig].Len))
		}
		if skipped := rec.Pos - a.pos - 1; skipped > 0 {
			if !opts.Sparse {
				return nil, r.Malformed(fmt.Sprintf("positions %d-%d are missing from a dense pileup", a.pos+1, rec.Pos-1))
			}
			a.fill(skipped)
		}
		call, err := caller.Call(rec)
		if err != nil {
			return nil, r.Malformed(err.Error())
		}
		if call == NoCall {
			nNoCall++
		}
		a.calls = append(a.calls, byte(call))
		a.pos++
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if err := a.advanceTo(len(layout)); err != nil {
		return nil, err
	}
	log.Debug.Printf("consensus: sample %s: %d positions, %d no-calls", a.sample, len(a.calls), nNoCall)
	return &Sequence{Sample: a.sample, Calls: a.calls}, nil
}

// AssemblePath opens the pileup at path and assembles it.
func AssemblePath(ctx context.Context, path, sample string, ropts pileup.ReaderOpts, caller *Caller, layout Layout, opts AssembleOpts) (seq *Sequence, err error) {
	r, err := pileup.Open(ctx, path, sample, ropts)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := r.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return Assemble(r, caller, layout, opts)
}

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
	"io"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/coresnp/encoding/fasta"
	"github.com/grailbio/coresnp/util"
)

// WriteSequence writes s as a single FASTA record named after the sample.
func WriteSequence(w io.Writer, s *Sequence) error {
	fw := fasta.NewWriter(w, fasta.DefaultLineWidth)
	if err := fw.Write(s.Sample, "", s.Calls); err != nil {
		return err
	}
	return fw.Flush()
}

// WriteSequencePath writes s to path.
func WriteSequencePath(ctx context.Context, path string, s *Sequence) (err error) {
	out, err := util.Create(ctx, path, 1)
	if err != nil {
		return err
	}
	if err = WriteSequence(out, s); err != nil {
		_ = out.Close(ctx)
		return errors.E(err, "write", path)
	}
	return out.Close(ctx)
}

// ReadSequence reads a consensus sequence written by WriteSequence.  Only the
// first FASTA record is read.
func ReadSequence(r io.Reader) (*Sequence, error) {
	sc := fasta.NewScanner(r)
	if !sc.Next() {
		if err := sc.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("consensus: no sequence record")
	}
	calls, err := sc.ReadSeq()
	if err != nil {
		return nil, err
	}
	for i, c := range calls {
		if !IsCall(c) {
			return nil, fmt.Errorf("consensus: sample %s: invalid call %q at offset %d", sc.Name(), c, i)
		}
	}
	return &Sequence{Sample: sc.Name(), Calls: calls}, nil
}

// ReadSequencePath reads the consensus sequence at path.
func ReadSequencePath(ctx context.Context, path string) (seq *Sequence, err error) {
	in, err := util.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if seq, err = ReadSequence(in); err != nil {
		err = errors.E(errors.Invalid, err, path)
	}
	return
}

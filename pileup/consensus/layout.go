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

	"github.com/grailbio/base/errors"
	"github.com/grailbio/coresnp/encoding/fasta"
)

// Contig is one named reference sequence.
type Contig struct {
	Name string
	Len  int
}

// Layout is the shared coordinate system of a cohort: the reference contigs
// in FASTA order.  A consensus sequence concatenates one call per position of
// each contig, in layout order.
type Layout []Contig

// LayoutFromFasta returns the layout of a reference.
func LayoutFromFasta(fa fasta.Fasta) (Layout, error) {
	names := fa.SeqNames()
	l := make(Layout, len(names))
	for i, name := range names {
		n, err := fa.Len(name)
		if err != nil {
			return nil, err
		}
		if n == 0 {
			return nil, fmt.Errorf("consensus: reference contig %s is empty", name)
		}
		l[i] = Contig{Name: name, Len: int(n)}
	}
	if len(l) == 0 {
		return nil, fmt.Errorf("consensus: reference has no contigs")
	}
	return l, nil
}

// LoadReference reads a reference FASTA and returns it with its layout.
func LoadReference(ctx context.Context, path string) (fasta.Fasta, Layout, error) {
	fa, err := fasta.Load(ctx, path)
	if err != nil {
		return nil, nil, errors.E(errors.Invalid, err, "reference", path)
	}
	l, err := LayoutFromFasta(fa)
	if err != nil {
		return nil, nil, errors.E(errors.Invalid, err, "reference", path)
	}
	return fa, l, nil
}

// Len returns the total number of positions.
func (l Layout) Len() (n int) {
	for _, c := range l {
		n += c.Len
	}
	return
}

// Index returns the index of the named contig, or -1.
func (l Layout) Index(name string) int {
	for i, c := range l {
		if c.Name == name {
			return i
		}
	}
	return -1
}

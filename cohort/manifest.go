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
package cohort

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/tsv"
	"github.com/grailbio/coresnp/util"
)

// SampleInput is one row of a cohort manifest.  The manifest is a TSV with
// the header columns sample, pileup and, optionally, depth.  When the depth
// column is absent or a row leaves it empty, coverage is derived from the
// pileup depth column.
type SampleInput struct {
	Sample string `tsv:"sample"`
	Pileup string `tsv:"pileup"`
	Depth  string `tsv:"depth"`
}

// pileupRow is a manifest row without a depth column.
type pileupRow struct {
	Sample string `tsv:"sample"`
	Pileup string `tsv:"pileup"`
}

// validateSampleID rejects identifiers that cannot be used in file names or
// FASTA headers.
func validateSampleID(id string) error {
	if id == "" {
		return fmt.Errorf("empty sample identifier")
	}
	if strings.ContainsAny(id, "/\\ \t\r\n>") {
		return fmt.Errorf("sample identifier %q contains whitespace, '/', '\\' or '>'", id)
	}
	return nil
}

// ValidateInputs checks that sample identifiers are well-formed and unique
// and that every sample names a pileup.
func ValidateInputs(inputs []SampleInput) error {
	seen := map[string]bool{}
	for i, in := range inputs {
		if err := validateSampleID(in.Sample); err != nil {
			return fmt.Errorf("cohort: manifest row %d: %v", i+1, err)
		}
		if seen[in.Sample] {
			return fmt.Errorf("cohort: duplicate sample %s", in.Sample)
		}
		seen[in.Sample] = true
		if in.Pileup == "" {
			return fmt.Errorf("cohort: sample %s has no pileup", in.Sample)
		}
	}
	return nil
}

// ReadManifest reads and validates a cohort manifest.
func ReadManifest(r io.Reader) ([]SampleInput, error) {
	br := bufio.NewReader(r)
	header, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, err
	}
	hasDepth := false
	for _, col := range strings.Split(strings.TrimRight(header, "\r\n"), "\t") {
		hasDepth = hasDepth || col == "depth"
	}
	tr := tsv.NewReader(io.MultiReader(strings.NewReader(header), br))
	tr.HasHeaderRow = true
	tr.UseHeaderNames = true
	var inputs []SampleInput
	for {
		var in SampleInput
		if hasDepth {
			err = tr.Read(&in)
		} else {
			var row pileupRow
			err = tr.Read(&row)
			in = SampleInput{Sample: row.Sample, Pileup: row.Pileup}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("cohort: empty manifest")
	}
	if err := ValidateInputs(inputs); err != nil {
		return nil, err
	}
	return inputs, nil
}

// ReadManifestPath is a wrapper for ReadManifest that takes a path.
func ReadManifestPath(ctx context.Context, path string) (inputs []SampleInput, err error) {
	in, err := util.Open(ctx, path)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := in.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	if inputs, err = ReadManifest(in); err != nil {
		err = errors.E(errors.Invalid, err, "manifest", path)
	}
	return
}

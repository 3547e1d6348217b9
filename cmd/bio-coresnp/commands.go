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
package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/coresnp/cohort"
	"github.com/grailbio/coresnp/coresnp"
	"github.com/grailbio/coresnp/coverage"
	"github.com/grailbio/coresnp/distance"
	"github.com/grailbio/coresnp/external"
	"github.com/grailbio/coresnp/pileup"
	"github.com/grailbio/coresnp/pileup/consensus"
	"github.com/grailbio/coresnp/util"
)

// sampleFromPath derives a sample identifier from a pileup path:
// "dir/s1.pileup.gz" becomes "s1".
func sampleFromPath(path string) string {
	base := filepath.Base(path)
	for _, ext := range []string{".gz", ".pileup", ".mpileup", ".txt"} {
		base = strings.TrimSuffix(base, ext)
	}
	return base
}

// referenceLen returns the total length of the reference at path, or 0 if
// path is empty.
func referenceLen(ctx context.Context, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	_, layout, err := consensus.LoadReference(ctx, path)
	if err != nil {
		return 0, err
	}
	return layout.Len(), nil
}

type coverageFlags struct {
	reference  string
	out        string
	fromPileup bool
	pileup     pileup.ReaderOpts
	gate       coverage.GateOpts
}

func pileupSummary(ctx context.Context, path string, ropts pileup.ReaderOpts, refLen int) (s coverage.Summary, err error) {
	r, err := pileup.Open(ctx, path, sampleFromPath(path), ropts)
	if err != nil {
		return
	}
	defer func() {
		if e := r.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return coverage.FromPileup(r, refLen)
}

// runCoverage summarizes input and writes the summary to f.out, or to stdout
// if f.out is empty.  A rejection is reported in the returned decision.
func runCoverage(ctx context.Context, f coverageFlags, input string, stdout io.Writer) (d coverage.Decision, err error) {
	if err = f.gate.Validate(); err != nil {
		return
	}
	refLen, err := referenceLen(ctx, f.reference)
	if err != nil {
		return
	}
	var s coverage.Summary
	if f.fromPileup {
		s, err = pileupSummary(ctx, input, f.pileup, refLen)
	} else {
		s, err = coverage.ReadDepthTrackPath(ctx, input, refLen)
	}
	if err != nil {
		return
	}
	d = f.gate.Admit(s)
	if d.Admitted {
		log.Printf("%s: admitted: average depth %.2f, %.2f%% covered", input, s.AvgDepth, s.PercentCovered)
	} else {
		log.Printf("%s: rejected: %s", input, d.Reason)
	}
	if f.out == "" {
		return d, coverage.WriteSummary(stdout, s)
	}
	w, err := util.Create(ctx, f.out, 1)
	if err != nil {
		return
	}
	defer func() {
		if e := w.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return d, coverage.WriteSummary(w, s)
}

type consensusFlags struct {
	reference string
	out       string
	sample    string
	pileup    pileup.ReaderOpts
	consensus consensus.Opts
	assemble  consensus.AssembleOpts
}

// runConsensus calls the consensus sequence of the pileup at input and
// writes it to f.out.
func runConsensus(ctx context.Context, f consensusFlags, input string) (*consensus.Sequence, error) {
	if f.reference == "" {
		return nil, errors.E(errors.Invalid, "consensus: -reference is required")
	}
	sample := f.sample
	if sample == "" {
		sample = sampleFromPath(input)
	}
	out := f.out
	if out == "" {
		out = sample + ".consensus.fasta"
	}
	caller, err := consensus.NewCaller(f.consensus)
	if err != nil {
		return nil, err
	}
	_, layout, err := consensus.LoadReference(ctx, f.reference)
	if err != nil {
		return nil, err
	}
	seq, err := consensus.AssemblePath(ctx, input, sample, f.pileup, caller, layout, f.assemble)
	if err != nil {
		return nil, err
	}
	if err := consensus.WriteSequencePath(ctx, out, seq); err != nil {
		return nil, err
	}
	log.Printf("consensus: sample %s written to %s", sample, out)
	return seq, nil
}

type coreFlags struct {
	reference   string
	out         string
	maskPath    string
	maskRegions []string
	matrix      bool
	parallelism int
}

// runCore joins the consensus files at inputs and writes the core outputs
// next to f.out.
func runCore(ctx context.Context, f coreFlags, inputs []string) (*coresnp.SiteSet, coresnp.Stats, error) {
	if f.reference == "" {
		return nil, coresnp.Stats{}, errors.E(errors.Invalid, "core: -reference is required")
	}
	ref, layout, err := consensus.LoadReference(ctx, f.reference)
	if err != nil {
		return nil, coresnp.Stats{}, err
	}
	mask, err := cohort.LoadMask(ctx, f.maskPath, f.maskRegions, layout)
	if err != nil {
		return nil, coresnp.Stats{}, err
	}
	var matrixPath string
	if f.matrix {
		matrixPath = f.out + ".matrix.tsv.gz"
	}
	return cohort.ExtractCore(ctx, ref, layout, mask, inputs, matrixPath, f.out, f.parallelism)
}

type distanceFlags struct {
	out         string
	core        string
	parallelism int
}

// runDistance computes the distance matrix over the consensus files at
// inputs, or over the core FASTA f.core, and writes it next to f.out.
func runDistance(ctx context.Context, f distanceFlags, inputs []string) (*distance.Matrix, error) {
	var (
		m   *distance.Matrix
		err error
	)
	switch {
	case f.core != "" && len(inputs) > 0:
		return nil, errors.E(errors.Invalid, "distance: -core and consensus paths are mutually exclusive")
	case f.core != "":
		var ss *coresnp.SiteSet
		if ss, err = coresnp.ReadFastaPath(ctx, f.core); err != nil {
			return nil, err
		}
		m, err = distance.FromSiteSet(ss, f.parallelism)
	case len(inputs) > 0:
		seqs := make([]*consensus.Sequence, len(inputs))
		for i, path := range inputs {
			if seqs[i], err = consensus.ReadSequencePath(ctx, path); err != nil {
				return nil, err
			}
		}
		m, err = distance.FromSequences(seqs, f.parallelism)
	default:
		return nil, errors.E(errors.Invalid, "distance: no input sequences")
	}
	if err != nil {
		return nil, err
	}
	return m, distance.WritePaths(ctx, m, f.out)
}

// runCohort runs the full pipeline over the samples listed in manifest.
func runCohort(ctx context.Context, opts cohort.Opts, manifest string) (*cohort.Result, error) {
	inputs, err := cohort.ReadManifestPath(ctx, manifest)
	if err != nil {
		return nil, err
	}
	result, err := cohort.Run(ctx, opts, inputs)
	if result != nil {
		log.Printf("run: %s; report in %s", result.Outcome, opts.ReportPath())
	}
	return result, err
}

// runTools runs tools in order.  Nothing is run unless every tool is
// installed.
func runTools(ctx context.Context, cmd string, tools ...external.Tool) error {
	for _, tool := range tools {
		if !tool.Available() {
			return fmt.Errorf("%s: %s is not installed", cmd, tool.Name)
		}
	}
	for _, tool := range tools {
		if err := tool.Run(ctx); err != nil {
			return err
		}
	}
	return nil
}

type alignFlags struct {
	reference string
	out       string
}

// runAlign aligns the reads at inputs (one path, or two for paired reads)
// with bwa mem.
func runAlign(ctx context.Context, f alignFlags, inputs []string) (string, error) {
	if f.reference == "" {
		return "", errors.E(errors.Invalid, "align: -reference is required")
	}
	if len(inputs) < 1 || len(inputs) > 2 {
		return "", errors.E(errors.Invalid, fmt.Sprintf("align takes one or two read paths, but got %v", inputs))
	}
	reads2 := ""
	if len(inputs) == 2 {
		reads2 = inputs[1]
	}
	out := f.out
	if out == "" {
		base := strings.TrimSuffix(inputs[0], ".gz")
		out = strings.TrimSuffix(base, filepath.Ext(base)) + ".sam"
	}
	return out, runTools(ctx, "align", external.BWAMem(f.reference, inputs[0], reads2, out))
}

type pileupFlags struct {
	reference string
	out       string
}

// runPileup writes <out>.pileup and <out>.depth for the alignment at input,
// the inputs of one manifest row.
func runPileup(ctx context.Context, f pileupFlags, input string) (cohort.SampleInput, error) {
	if f.reference == "" {
		return cohort.SampleInput{}, errors.E(errors.Invalid, "pileup: -reference is required")
	}
	prefix := f.out
	if prefix == "" {
		prefix = strings.TrimSuffix(input, filepath.Ext(input))
	}
	in := cohort.SampleInput{
		Sample: filepath.Base(prefix),
		Pileup: prefix + ".pileup",
		Depth:  prefix + ".depth",
	}
	err := runTools(ctx, "pileup",
		external.SamtoolsMpileup(f.reference, input, in.Pileup),
		external.SamtoolsDepth(input, in.Depth))
	if err == nil {
		log.Printf("pileup: manifest row: %s\t%s\t%s", in.Sample, in.Pileup, in.Depth)
	}
	return in, err
}

type treeFlags struct {
	out string
}

// runTree builds a tree from the core alignment at input with FastTree.
func runTree(ctx context.Context, f treeFlags, input string) error {
	out := f.out
	if out == "" {
		out = strings.TrimSuffix(input, ".fasta") + ".nwk"
	}
	return runTools(ctx, "tree", external.FastTree(input, out))
}

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

// Package cohort runs the core-SNP pipeline over a set of samples in two
// phases.  The admission phase summarizes each sample's coverage and applies
// the admission gate; the processing phase calls a consensus sequence for
// every admitted sample.  Both phases run samples concurrently and a failure
// only drops the failing sample.  A barrier then joins the consensus
// sequences by sample identifier, extracts the core sites and computes
// pairwise distances.
package cohort

import (
	"context"
	"fmt"

	"github.com/dgryski/go-farm"
	"github.com/grailbio/base/errorreporter"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/traverse"
	"github.com/grailbio/coresnp/coresnp"
	"github.com/grailbio/coresnp/coverage"
	"github.com/grailbio/coresnp/distance"
	"github.com/grailbio/coresnp/encoding/fasta"
	"github.com/grailbio/coresnp/interval"
	"github.com/grailbio/coresnp/pileup"
	"github.com/grailbio/coresnp/pileup/consensus"
	"github.com/grailbio/coresnp/util"
)

// Opts configures Run.
type Opts struct {
	// Reference is the reference FASTA path.  Its contigs define the shared
	// coordinate system.
	Reference string
	// Out is the output path prefix.
	Out string
	// MaskPath is an optional BED of excluded regions.
	MaskPath string
	// MaskRegions are additional excluded regions, "contig[:start[-end]]"
	// with 1-based inclusive coordinates.
	MaskRegions []string

	Gate      coverage.GateOpts
	Consensus consensus.Opts
	Assemble  consensus.AssembleOpts
	Pileup    pileup.ReaderOpts

	// DistanceFromCore computes distances over the core sites instead of the
	// full consensus sequences.
	DistanceFromCore bool
	// CompressConsensus snappy-compresses the per-sample consensus files.
	CompressConsensus bool
	// Parallelism bounds the number of samples processed at once.  0 means
	// one goroutine per sample.
	Parallelism int
}

// DefaultOpts holds the default thresholds.  Reference and Out must be set.
var DefaultOpts = Opts{
	Gate:      coverage.DefaultGateOpts,
	Consensus: consensus.DefaultOpts,
}

// Validate checks o.
func (o Opts) Validate() error {
	if o.Reference == "" {
		return fmt.Errorf("cohort: reference path is required")
	}
	if o.Out == "" {
		return fmt.Errorf("cohort: output prefix is required")
	}
	if o.Parallelism < 0 {
		return fmt.Errorf("cohort: parallelism must be >= 0, got %d", o.Parallelism)
	}
	if len(o.MaskRegions) > 0 {
		if _, err := interval.NewBEDUnionFromRegions(o.MaskRegions); err != nil {
			return errors.E(errors.Invalid, err, "mask regions")
		}
	}
	if err := o.Pileup.Validate(); err != nil {
		return err
	}
	if err := o.Gate.Validate(); err != nil {
		return err
	}
	return o.Consensus.Validate()
}

// ConsensusPath returns the path of sample's consensus FASTA.
func (o Opts) ConsensusPath(sample string) string {
	path := o.Out + "." + sample + ".consensus.fasta"
	if o.CompressConsensus {
		path += util.SnappySuffix
	}
	return path
}

// ReportPath returns the path of the per-sample status report.
func (o Opts) ReportPath() string {
	return o.Out + ".samples.tsv"
}

// MatrixPath returns the path of the full genotype matrix.
func (o Opts) MatrixPath() string {
	return o.Out + ".matrix.tsv.gz"
}

// Status is the fate of one sample.
type Status int

const (
	// Admitted samples passed the gate and have a consensus sequence.
	Admitted Status = iota
	// Rejected samples failed the admission gate.  This is a filtering
	// outcome, not an error.
	Rejected
	// Failed samples could not be processed.
	Failed
)

var statusNames = [...]string{"admitted", "rejected", "failed"}

func (s Status) String() string {
	return statusNames[s]
}

// SampleResult describes the processing of one sample.
type SampleResult struct {
	Sample   string
	Status   Status
	Coverage coverage.Summary
	// Called is the number of definite consensus calls.
	Called int
	// Consensus is the consensus FASTA path, set for admitted samples.
	Consensus string
	// Fingerprint identifies the consensus content.
	Fingerprint uint64
	// Message is the rejection reason or the error text.
	Message string
	Err     error
}

func (r *SampleResult) fail(err error) {
	r.Status = Failed
	r.Err = err
	r.Message = err.Error()
	log.Error.Printf("cohort: sample %s failed: %v", r.Sample, err)
}

// Outcome distinguishes complete success, partial success and total failure.
type Outcome int

const (
	// Complete means no sample failed.  Some may have been rejected.
	Complete Outcome = iota
	// Partial means at least one sample failed and at least one produced a
	// consensus sequence.
	Partial
	// Total means no sample produced a consensus sequence, or the cohort hit
	// a fatal error.
	Total
)

var outcomeNames = [...]string{"complete", "partial", "failed"}

func (o Outcome) String() string {
	return outcomeNames[o]
}

// Result is the outcome of Run.
type Result struct {
	Samples  []SampleResult
	Outcome  Outcome
	Layout   consensus.Layout
	Stats    coresnp.Stats
	Core     *coresnp.SiteSet
	Distance *distance.Matrix
}

// Admitted returns the results of the samples with a consensus sequence.
func (r *Result) Admitted() []*SampleResult {
	var out []*SampleResult
	for i := range r.Samples {
		if r.Samples[i].Status == Admitted {
			out = append(out, &r.Samples[i])
		}
	}
	return out
}

func (r *Result) count(s Status) (n int) {
	for _, res := range r.Samples {
		if res.Status == s {
			n++
		}
	}
	return
}

// each runs fn(i) for i in [0, n) on at most parallelism goroutines.
func each(n, parallelism int, fn func(i int) error) error {
	if n == 0 {
		return nil
	}
	if parallelism <= 0 || parallelism > n {
		parallelism = n
	}
	return traverse.Each(parallelism, func(jobIdx int) error {
		for i := jobIdx; i < n; i += parallelism {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	})
}

type runner struct {
	opts    Opts
	inputs  []SampleInput
	ref     fasta.Fasta
	layout  consensus.Layout
	mask    coresnp.Mask
	results []SampleResult
}

func pileupCoverage(ctx context.Context, in SampleInput, ropts pileup.ReaderOpts, refLen int) (s coverage.Summary, err error) {
	r, err := pileup.Open(ctx, in.Pileup, in.Sample, ropts)
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

// admit runs the admission phase for sample i.
func (r *runner) admit(ctx context.Context, i int) {
	in := r.inputs[i]
	res := &r.results[i]
	var (
		s   coverage.Summary
		err error
	)
	if in.Depth != "" {
		s, err = coverage.ReadDepthTrackPath(ctx, in.Depth, r.layout.Len())
	} else {
		s, err = pileupCoverage(ctx, in, r.opts.Pileup, r.layout.Len())
	}
	if err != nil {
		res.fail(err)
		return
	}
	res.Coverage = s
	d := r.opts.Gate.Admit(s)
	if !d.Admitted {
		res.Status = Rejected
		res.Message = d.Reason
		log.Printf("cohort: sample %s rejected: %s", in.Sample, d.Reason)
		return
	}
	res.Status = Admitted
	log.Debug.Printf("cohort: sample %s admitted (depth %.2f, %.2f%% covered)", in.Sample, s.AvgDepth, s.PercentCovered)
}

// call runs the processing phase for sample i.
func (r *runner) call(ctx context.Context, i int) {
	in := r.inputs[i]
	res := &r.results[i]
	if res.Status != Admitted {
		return
	}
	caller, err := consensus.NewCaller(r.opts.Consensus)
	if err != nil {
		res.fail(err)
		return
	}
	seq, err := consensus.AssemblePath(ctx, in.Pileup, in.Sample, r.opts.Pileup, caller, r.layout, r.opts.Assemble)
	if err != nil {
		res.fail(err)
		return
	}
	path := r.opts.ConsensusPath(in.Sample)
	if err := consensus.WriteSequencePath(ctx, path, seq); err != nil {
		res.fail(err)
		return
	}
	for _, c := range seq.Calls {
		if consensus.Call(c).Definite() {
			res.Called++
		}
	}
	res.Consensus = path
	res.Fingerprint = farm.Fingerprint64(seq.Calls)
	log.Printf("cohort: sample %s: %d of %d positions called", in.Sample, res.Called, len(seq.Calls))
}

// phase runs fn over every sample.  Only cancellation of ctx stops a phase
// early; per-sample errors are recorded in the results.
func (r *runner) phase(ctx context.Context, fn func(ctx context.Context, i int)) error {
	var e errorreporter.T
	err := each(len(r.inputs), r.opts.Parallelism, func(i int) error {
		if err := ctx.Err(); err != nil {
			e.Set(err)
			return err
		}
		fn(ctx, i)
		return nil
	})
	e.Set(err)
	return e.Err()
}

// unionMask excludes a position if any of its masks does.
type unionMask []coresnp.Mask

func (m unionMask) Contains(contig string, pos1 int) bool {
	for _, mask := range m {
		if mask.Contains(contig, pos1) {
			return true
		}
	}
	return false
}

// LoadMask builds the exclusion mask from a BED file and region strings;
// either may be empty.  It returns nil when nothing is masked.  Mask contigs
// missing from layout are logged, since they usually mean mismatched contig
// names.
func LoadMask(ctx context.Context, path string, regions []string, layout consensus.Layout) (coresnp.Mask, error) {
	var unions []*interval.BEDUnion
	if path != "" {
		u, err := interval.NewBEDUnionFromPath(ctx, path)
		if err != nil {
			return nil, err
		}
		unions = append(unions, &u)
	}
	if len(regions) > 0 {
		u, err := interval.NewBEDUnionFromRegions(regions)
		if err != nil {
			return nil, errors.E(errors.Invalid, err, "mask regions")
		}
		unions = append(unions, &u)
	}
	if len(unions) == 0 {
		return nil, nil
	}
	var mask unionMask
	for _, u := range unions {
		for _, contig := range u.Chromosomes() {
			if layout.Index(contig) < 0 {
				log.Printf("cohort: mask contig %s is not in the reference", contig)
			}
		}
		log.Printf("cohort: mask: %d bases", u.NumBases())
		mask = append(mask, u)
	}
	if len(mask) == 1 {
		return mask[0], nil
	}
	return mask, nil
}

// ExtractCore joins the consensus files at paths into a genotype matrix over
// layout and writes the core outputs next to prefix, as
// coresnp.ExtractToPaths does.  mask may be nil.
func ExtractCore(ctx context.Context, ref fasta.Fasta, layout consensus.Layout, mask coresnp.Mask, paths []string, matrixPath, prefix string, parallelism int) (*coresnp.SiteSet, coresnp.Stats, error) {
	fcols, err := coresnp.OpenColumns(ctx, paths)
	if err != nil {
		return nil, coresnp.Stats{}, err
	}
	cols := make([]coresnp.Column, len(fcols))
	for i, c := range fcols {
		cols[i] = c
	}
	m, err := coresnp.NewMatrix(layout, ref, cols)
	if err != nil {
		coresnp.CloseColumns(ctx, fcols) // nolint: errcheck
		return nil, coresnp.Stats{}, err
	}
	ss, stats, err := coresnp.ExtractToPaths(ctx, m, mask, matrixPath, prefix, parallelism)
	if e := coresnp.CloseColumns(ctx, fcols); e != nil && err == nil {
		err = e
	}
	return ss, stats, err
}

// join runs the barrier: core extraction and distances over the admitted
// samples.
func (r *runner) join(ctx context.Context, result *Result) error {
	admitted := result.Admitted()
	paths := make([]string, len(admitted))
	for i, res := range admitted {
		paths[i] = res.Consensus
	}
	ss, stats, extractErr := ExtractCore(ctx, r.ref, r.layout, r.mask, paths, r.opts.MatrixPath(), r.opts.Out, r.opts.Parallelism)
	result.Stats = stats
	if extractErr != nil && extractErr != coresnp.ErrEmptyCoreSet {
		return extractErr
	}
	result.Core = ss

	var (
		dm  *distance.Matrix
		err error
	)
	if r.opts.DistanceFromCore {
		if extractErr != nil {
			return extractErr
		}
		dm, err = distance.FromSiteSet(ss, r.opts.Parallelism)
	} else {
		seqs := make([]*consensus.Sequence, len(admitted))
		for i, res := range admitted {
			if seqs[i], err = consensus.ReadSequencePath(ctx, res.Consensus); err != nil {
				return err
			}
		}
		dm, err = distance.FromSequences(seqs, r.opts.Parallelism)
	}
	if err != nil {
		return err
	}
	result.Distance = dm
	if err := distance.WritePaths(ctx, dm, r.opts.Out); err != nil {
		return err
	}
	return extractErr
}

// Run processes inputs.  Per-sample failures are reported in the result and
// never abort the cohort.  The returned error is non-nil for a fatal cohort
// error (e.g. a consensus length mismatch at the join), when no sample
// produced a consensus sequence, or when the core set is empty
// (coresnp.ErrEmptyCoreSet); the result and its report are still produced
// whenever the inputs were readable.
func Run(ctx context.Context, opts Opts, inputs []SampleInput) (*Result, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateInputs(inputs); err != nil {
		return nil, err
	}
	ref, layout, err := consensus.LoadReference(ctx, opts.Reference)
	if err != nil {
		return nil, err
	}
	r := &runner{
		opts:    opts,
		inputs:  inputs,
		ref:     ref,
		layout:  layout,
		results: make([]SampleResult, len(inputs)),
	}
	if r.mask, err = LoadMask(ctx, opts.MaskPath, opts.MaskRegions, layout); err != nil {
		return nil, err
	}
	for i, in := range inputs {
		r.results[i].Sample = in.Sample
	}
	log.Printf("cohort: %d samples, reference %s: %d contigs, %d positions", len(inputs), opts.Reference, len(layout), layout.Len())

	result := &Result{Samples: r.results, Layout: layout}
	runErr := r.phase(ctx, r.admit)
	if runErr == nil {
		log.Printf("cohort: admission: %d admitted, %d rejected, %d failed",
			result.count(Admitted), result.count(Rejected), result.count(Failed))
		runErr = r.phase(ctx, r.call)
	}
	if runErr == nil {
		if result.count(Admitted) == 0 {
			runErr = fmt.Errorf("cohort: no sample produced a consensus sequence")
		} else {
			runErr = r.join(ctx, result)
		}
	}

	switch {
	case runErr != nil && runErr != coresnp.ErrEmptyCoreSet:
		result.Outcome = Total
	case result.count(Failed) > 0:
		result.Outcome = Partial
	default:
		result.Outcome = Complete
	}
	if err := WriteReportPath(ctx, opts.ReportPath(), result); err != nil && runErr == nil {
		runErr = err
	}
	log.Printf("cohort: %s: %d admitted, %d rejected, %d failed, %d core sites",
		result.Outcome, result.count(Admitted), result.count(Rejected), result.count(Failed), result.Stats.Core)
	return result, runErr
}

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
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/grailbio/base/cmdutil"
	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/coresnp/cohort"
	"github.com/grailbio/coresnp/coverage"
	"github.com/grailbio/coresnp/pileup"
	"github.com/grailbio/coresnp/pileup/consensus"
	"v.io/x/lib/cmdline"
)

// regionsFlag collects the values of a repeatable flag.
type regionsFlag []string

func (f *regionsFlag) String() string { return strings.Join(*f, ",") }

func (f *regionsFlag) Set(v string) error {
	*f = append(*f, v)
	return nil
}

func registerMaskFlags(fs *flag.FlagSet, path *string, regions *[]string) {
	fs.StringVar(path, "mask", "", "BED file of regions to exclude")
	fs.Var((*regionsFlag)(regions), "mask-region", `Region to exclude, "contig[:start[-end]]" with 1-based inclusive coordinates; may be repeated`)
}

func registerPileupFlags(fs *flag.FlagSet, o *pileup.ReaderOpts) {
	fs.IntVar(&o.SampleIndex, "sample-index", 0, "0-based index of the sample columns to read from a multi-sample pileup")
}

func registerGateFlags(fs *flag.FlagSet, o *coverage.GateOpts) {
	*o = coverage.DefaultGateOpts
	fs.Float64Var(&o.MinAvgDepth, "min-avg-depth", o.MinAvgDepth, "Samples with a lower average depth are rejected")
	fs.Float64Var(&o.MinPercentCovered, "min-percent-covered", o.MinPercentCovered, "Samples must cover more than this percentage of the reference")
}

func registerConsensusFlags(fs *flag.FlagSet, o *consensus.Opts, a *consensus.AssembleOpts) {
	*o = consensus.DefaultOpts
	fs.IntVar(&o.MinCoverage, "min-coverage", o.MinCoverage, "Positions with fewer passing observations are no-calls")
	fs.Float64Var(&o.MinFrequency, "min-frequency", o.MinFrequency, "Minimum fraction of passing observations supporting the called base")
	fs.IntVar(&o.MinQuality, "min-quality", o.MinQuality, "Observations with a lower base quality are ignored")
	fs.BoolVar(&o.CountDeletions, "count-deletions", o.CountDeletions, "Count deletions as a gap allele instead of ignoring them")
	fs.IntVar(&o.MinStrandCount, "min-strand-count", o.MinStrandCount, "Minimum passing observations of the called base on each read strand; 0 disables the check")
	fs.BoolVar(&a.Sparse, "sparse", false, "Positions missing from the pileup are gaps; otherwise a missing position is an error")
}

func newCmdCoverage() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "coverage",
		Short:    "Summarize the coverage of one sample and apply the coverage gate",
		ArgsName: "path",
		Long: `
Coverage reads a depth track ("samtools depth -aa" or "bedtools genomecov -d"),
or the depth column of a pileup with -from-pileup, and writes one line holding
the average depth and the percentage of covered positions.`,
	}
	var f coverageFlags
	cmd.Flags.StringVar(&f.reference, "reference", "", "Reference FASTA; positions missing from the input count as depth 0")
	cmd.Flags.StringVar(&f.out, "out", "", "Output path; defaults to stdout")
	cmd.Flags.BoolVar(&f.fromPileup, "from-pileup", false, "Read the depth column of a pileup instead of a depth track")
	registerPileupFlags(&cmd.Flags, &f.pileup)
	registerGateFlags(&cmd.Flags, &f.gate)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("coverage takes one path, but got %v", argv)
		}
		_, err := runCoverage(vcontext.Background(), f, argv[0], env.Stdout)
		return err
	})
	return cmd
}

func newCmdConsensus() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "consensus",
		Short:    "Call the consensus sequence of one sample",
		ArgsName: "pileup",
	}
	var f consensusFlags
	cmd.Flags.StringVar(&f.reference, "reference", "", "Reference FASTA the sample was aligned to (required)")
	cmd.Flags.StringVar(&f.out, "out", "", "Output FASTA path; defaults to <sample>.consensus.fasta")
	cmd.Flags.StringVar(&f.sample, "sample", "", "Sample identifier; defaults to the pileup file name without extensions")
	registerPileupFlags(&cmd.Flags, &f.pileup)
	registerConsensusFlags(&cmd.Flags, &f.consensus, &f.assemble)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("consensus takes one pileup path, but got %v", argv)
		}
		_, err := runConsensus(vcontext.Background(), f, argv[0])
		return err
	})
	return cmd
}

func newCmdCore() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "core",
		Short:    "Extract the core SNP sites from a set of consensus sequences",
		ArgsName: "consensus...",
		Long: `
Core writes <out>.stats.tsv, and when at least one core site exists,
<out>.core.tsv and <out>.core.fasta.`,
	}
	var f coreFlags
	cmd.Flags.StringVar(&f.reference, "reference", "", "Reference FASTA (required)")
	cmd.Flags.StringVar(&f.out, "out", "coresnp", "Output path prefix")
	registerMaskFlags(&cmd.Flags, &f.maskPath, &f.maskRegions)
	cmd.Flags.BoolVar(&f.matrix, "matrix", false, "Also write every position to <out>.matrix.tsv.gz")
	cmd.Flags.IntVar(&f.parallelism, "parallelism", 0, "Compression parallelism; 0 = default")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) == 0 {
			return fmt.Errorf("core takes one or more consensus paths")
		}
		_, _, err := runCore(vcontext.Background(), f, argv)
		return err
	})
	return cmd
}

func newCmdDistance() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "distance",
		Short:    "Compute pairwise SNP distances",
		ArgsName: "consensus...",
	}
	var f distanceFlags
	cmd.Flags.StringVar(&f.out, "out", "coresnp", "Output path prefix")
	cmd.Flags.StringVar(&f.core, "core", "", "Core FASTA to read instead of consensus paths")
	cmd.Flags.IntVar(&f.parallelism, "parallelism", 0, "Maximum number of concurrent workers; 0 = runtime.NumCPU()")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		_, err := runDistance(vcontext.Background(), f, argv)
		return err
	})
	return cmd
}

func newCmdRun() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "run",
		Short:    "Run the whole pipeline over a manifest of samples",
		ArgsName: "manifest",
		Long: `
The manifest is a TSV file with a header row and the columns sample, pileup
and, optionally, depth.  Without a depth track, coverage is computed from the
pileup.  Outputs are written next to -out; <out>.samples.tsv reports the
status of each sample.`,
	}
	opts := cohort.DefaultOpts
	cmd.Flags.StringVar(&opts.Reference, "reference", "", "Reference FASTA (required)")
	cmd.Flags.StringVar(&opts.Out, "out", "coresnp", "Output path prefix")
	registerMaskFlags(&cmd.Flags, &opts.MaskPath, &opts.MaskRegions)
	cmd.Flags.BoolVar(&opts.DistanceFromCore, "distance-from-core", false, "Compute distances over the core sites instead of the full consensus sequences")
	cmd.Flags.BoolVar(&opts.CompressConsensus, "compress-consensus", false, "Snappy-compress the per-sample consensus files")
	cmd.Flags.IntVar(&opts.Parallelism, "parallelism", 0, "Maximum number of samples processed at once; 0 = all")
	registerPileupFlags(&cmd.Flags, &opts.Pileup)
	registerGateFlags(&cmd.Flags, &opts.Gate)
	registerConsensusFlags(&cmd.Flags, &opts.Consensus, &opts.Assemble)
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("run takes one manifest path, but got %v", argv)
		}
		_, err := runCohort(vcontext.Background(), opts, argv[0])
		return err
	})
	return cmd
}

func newCmdAlign() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "align",
		Short:    "Align one sample's reads to the reference with bwa mem",
		ArgsName: "reads1 [reads2]",
		Long: `
Align runs "bwa mem"; the reference must have been indexed with "bwa index".
The SAM output must be sorted and converted to BAM before running pileup.`,
	}
	var f alignFlags
	cmd.Flags.StringVar(&f.reference, "reference", "", "Reference FASTA (required)")
	cmd.Flags.StringVar(&f.out, "out", "", "SAM output path; defaults to the first read file name with a .sam suffix")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		_, err := runAlign(vcontext.Background(), f, argv)
		return err
	})
	return cmd
}

func newCmdPileup() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "pileup",
		Short:    "Generate the pileup and depth track of one sample with samtools",
		ArgsName: "bam",
		Long: `
Pileup runs "samtools mpileup" and "samtools depth" over a sorted, indexed
BAM and writes <out>.pileup and <out>.depth, the inputs of one manifest row.`,
	}
	var f pileupFlags
	cmd.Flags.StringVar(&f.reference, "reference", "", "Reference FASTA (required)")
	cmd.Flags.StringVar(&f.out, "out", "", "Output path prefix; defaults to the BAM path without its extension")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("pileup takes one BAM path, but got %v", argv)
		}
		_, err := runPileup(vcontext.Background(), f, argv[0])
		return err
	})
	return cmd
}

func newCmdTree() *cmdline.Command {
	cmd := &cmdline.Command{
		Name:     "tree",
		Short:    "Build a tree from the core alignment with FastTree",
		ArgsName: "core.fasta",
	}
	var f treeFlags
	cmd.Flags.StringVar(&f.out, "out", "", "Newick output path; defaults to the input with a .nwk suffix")
	cmd.Runner = cmdutil.RunnerFunc(func(env *cmdline.Env, argv []string) error {
		if len(argv) != 1 {
			return fmt.Errorf("tree takes one FASTA path, but got %v", argv)
		}
		return runTree(vcontext.Background(), f, argv[0])
	})
	return cmd
}

func newCmdRoot() *cmdline.Command {
	return &cmdline.Command{
		Name:     "bio-coresnp",
		Short:    "Core-SNP alignments and distances for haploid cohorts",
		LookPath: false,
		Children: []*cmdline.Command{
			newCmdAlign(),
			newCmdPileup(),
			newCmdCoverage(),
			newCmdConsensus(),
			newCmdCore(),
			newCmdDistance(),
			newCmdRun(),
			newCmdTree(),
		},
	}
}

func main() {
	shutdown := grail.Init()
	cmdline.HideGlobalFlagsExcept()
	err := cmdline.ParseAndRun(newCmdRoot(), cmdline.EnvFromOS(), os.Args[1:])
	code := cmdline.ExitCode(err, os.Stderr)
	shutdown()
	os.Exit(code)
}

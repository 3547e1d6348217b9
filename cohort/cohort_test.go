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
package cohort_test

import (
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/coresnp/cohort"
	"github.com/grailbio/coresnp/coresnp"
	"github.com/grailbio/coresnp/pileup"
	"github.com/grailbio/coresnp/pileup/consensus"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

const testRef = "ACGTACGTAC"

// pileupFor renders a pileup whose consensus is calls: each definite call is
// supported by depth reads, and each 'N' by two reference reads.
func pileupFor(calls string, depth int) string {
	var b strings.Builder
	for i := 0; i < len(calls); i++ {
		var bases string
		switch c := calls[i]; {
		case c == 'N':
			bases = ".."
		case c == testRef[i]:
			bases = strings.Repeat(".", depth)
		default:
			bases = strings.Repeat(string(c), depth)
		}
		fmt.Fprintf(&b, "chr\t%d\t%c\t%d\t%s\t%s\n", i+1, testRef[i], len(bases), bases, strings.Repeat("I", len(bases)))
	}
	return b.String()
}

type fixture struct {
	dir  string
	opts cohort.Opts
}

func newFixture(t *testing.T, dir string) *fixture {
	f := &fixture{dir: dir, opts: cohort.DefaultOpts}
	f.opts.Reference = f.write(t, "ref.fasta", ">chr\n"+testRef+"\n")
	f.opts.Out = filepath.Join(dir, "out")
	f.opts.Gate.MinAvgDepth = 5
	f.opts.Gate.MinPercentCovered = 50
	f.opts.Parallelism = 2
	return f
}

func (f *fixture) write(t *testing.T, name, data string) string {
	path := filepath.Join(f.dir, name)
	assert.NoError(t, ioutil.WriteFile(path, []byte(data), 0644))
	return path
}

func (f *fixture) sample(t *testing.T, name, pileupData string) cohort.SampleInput {
	return cohort.SampleInput{Sample: name, Pileup: f.write(t, name+".pileup", pileupData)}
}

func TestRun(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	f := newFixture(t, tmpdir)

	s1 := f.sample(t, "s1", pileupFor("ACGTACGTAC", 8))
	var depth strings.Builder
	for i := range testRef {
		fmt.Fprintf(&depth, "chr\t%d\t8\n", i+1)
	}
	s1.Depth = f.write(t, "s1.depth", depth.String())
	bad := pileupFor("ACGTACGTAC", 8)
	bad = strings.Replace(bad, "chr\t3\tG\t8\t........", "chr\t3\tG\t8\t...X....", 1)
	inputs := []cohort.SampleInput{
		f.sample(t, "s3", pileupFor("ACGTACGAAC", 8)),
		s1,
		f.sample(t, "low", pileupFor("ACGTACGTAC", 1)),
		f.sample(t, "s2", pileupFor("ACGTTCGTNC", 8)),
		f.sample(t, "bad", bad),
	}
	result, err := cohort.Run(ctx, f.opts, inputs)
	assert.NoError(t, err)
	expect.EQ(t, result.Outcome, cohort.Partial)

	var statuses []string
	for _, res := range result.Samples {
		statuses = append(statuses, res.Sample+":"+res.Status.String())
	}
	expect.EQ(t, statuses, []string{"s3:admitted", "s1:admitted", "low:rejected", "s2:admitted", "bad:failed"})
	expect.EQ(t, result.Samples[1].Coverage.AvgDepth, 8.0)
	expect.EQ(t, result.Samples[3].Called, 9)
	expect.HasSubstr(t, result.Samples[2].Message, "average depth")
	_, ok := result.Samples[4].Err.(*pileup.MalformedRecordError)
	expect.True(t, ok, "got %v", result.Samples[4].Err)
	expect.HasSubstr(t, result.Samples[4].Message, "sample bad")

	// Position 5 (A/T/A) and position 8 (T/T/A) are the only core sites.
	expect.EQ(t, result.Core.Samples, []string{"s1", "s2", "s3"})
	expect.EQ(t, len(result.Core.Sites), 2)
	expect.EQ(t, result.Core.Sites[0].Pos, 5)
	expect.EQ(t, result.Core.Sites[1].Pos, 8)
	expect.EQ(t, result.Stats, coresnp.Stats{Total: 10, Invariant: 7, Missing: 1, Core: 2})

	dm := result.Distance
	expect.EQ(t, dm.Samples, []string{"s1", "s2", "s3"})
	expect.EQ(t, dm.Mismatches(0, 1), 1)
	expect.EQ(t, dm.Comparable(0, 1), 9)
	expect.EQ(t, dm.Mismatches(1, 2), 2)

	report, err := ioutil.ReadFile(f.opts.ReportPath())
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(report)), "\n")
	expect.EQ(t, len(lines), 6)
	expect.HasSubstr(t, lines[0], "sample\tstatus")
	expect.HasSubstr(t, lines[3], "low\trejected")
	summary, err := ioutil.ReadFile(f.opts.Out + ".summary.tsv")
	assert.NoError(t, err)
	expect.HasSubstr(t, string(summary), "partial\t5\t3\t1\t1\t2")

	for _, suffix := range []string{
		".s1.consensus.fasta", ".matrix.tsv.gz", ".core.tsv", ".core.fasta", ".stats.tsv",
		".distance.counts.tsv", ".distance.fractions.tsv", ".distance.pairs.tsv",
	} {
		_, err := ioutil.ReadFile(f.opts.Out + suffix)
		expect.NoError(t, err, suffix)
	}
	consensusData, err := ioutil.ReadFile(f.opts.ConsensusPath("s2"))
	assert.NoError(t, err)
	expect.EQ(t, string(consensusData), ">s2\nACGTTCGTNC\n")
}

func TestRunSampleOrder(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	f := newFixture(t, tmpdir)
	inputs := []cohort.SampleInput{
		f.sample(t, "zeta", pileupFor("ACGTACGTAC", 8)),
		f.sample(t, "alpha", pileupFor("ACGAACGTAC", 8)),
	}
	result, err := cohort.Run(ctx, f.opts, inputs)
	assert.NoError(t, err)
	expect.EQ(t, result.Core.Samples, []string{"alpha", "zeta"})
	expect.EQ(t, result.Distance.Samples, result.Core.Samples)

	counts, err := ioutil.ReadFile(f.opts.Out + ".distance.counts.tsv")
	assert.NoError(t, err)
	expect.True(t, strings.HasPrefix(string(counts), "sample\talpha\tzeta\n"), string(counts))
}

func TestRunDistanceFromCore(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	f := newFixture(t, tmpdir)
	f.opts.DistanceFromCore = true
	f.opts.CompressConsensus = true
	inputs := []cohort.SampleInput{
		f.sample(t, "a", pileupFor("ACGTACGTAC", 8)),
		f.sample(t, "b", pileupFor("ACGTTCGTNC", 8)),
	}
	result, err := cohort.Run(ctx, f.opts, inputs)
	assert.NoError(t, err)
	expect.EQ(t, result.Outcome, cohort.Complete)
	expect.EQ(t, result.Distance.Comparable(0, 1), 1)
	expect.EQ(t, result.Distance.Mismatches(0, 1), 1)
	for _, res := range result.Samples {
		expect.True(t, strings.HasSuffix(res.Consensus, ".consensus.fasta.sz"), res.Consensus)
	}
}

func TestRunMaskRegions(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	f := newFixture(t, tmpdir)
	f.opts.MaskRegions = []string{"chr:5"}
	inputs := []cohort.SampleInput{
		f.sample(t, "a", pileupFor("ACGTACGTAC", 8)),
		f.sample(t, "b", pileupFor("ACGTTCGAAC", 8)),
	}
	result, err := cohort.Run(ctx, f.opts, inputs)
	assert.NoError(t, err)
	expect.EQ(t, result.Stats, coresnp.Stats{Total: 10, Masked: 1, Invariant: 8, Core: 1})
	expect.EQ(t, len(result.Core.Sites), 1)
	expect.EQ(t, result.Core.Sites[0].Pos, 8)

	f.opts.MaskRegions = []string{"chr:0"}
	_, err = cohort.Run(ctx, f.opts, inputs)
	expect.HasSubstr(t, err.Error(), "mask regions")
}

func TestLoadMask(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	f := newFixture(t, tmpdir)
	_, layout, err := consensus.LoadReference(ctx, f.opts.Reference)
	assert.NoError(t, err)

	mask, err := cohort.LoadMask(ctx, "", nil, layout)
	assert.NoError(t, err)
	expect.True(t, mask == nil)

	// BED intervals are 0-based half-open; regions are 1-based inclusive.
	bed := f.write(t, "mask.bed", "chr\t0\t3\nother\t0\t100\n")
	mask, err = cohort.LoadMask(ctx, bed, []string{"chr:7-8"}, layout)
	assert.NoError(t, err)
	for pos, want := range map[int]bool{1: true, 2: true, 3: true, 4: false, 6: false, 7: true, 8: true, 9: false} {
		expect.EQ(t, mask.Contains("chr", pos), want, "pos %d", pos)
	}
	expect.True(t, mask.Contains("other", 50))
	expect.False(t, mask.Contains("missing", 1))

	mask, err = cohort.LoadMask(ctx, "", []string{"chr"}, layout)
	assert.NoError(t, err)
	expect.True(t, mask.Contains("chr", 10))

	_, err = cohort.LoadMask(ctx, filepath.Join(tmpdir, "missing.bed"), nil, layout)
	expect.NotNil(t, err)
	_, err = cohort.LoadMask(ctx, "", []string{":1-2"}, layout)
	expect.NotNil(t, err)
}

func TestRunEmptyCore(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	f := newFixture(t, tmpdir)
	inputs := []cohort.SampleInput{
		f.sample(t, "a", pileupFor("ACGTACGTAC", 8)),
		f.sample(t, "b", pileupFor("ACGTACGTAC", 8)),
	}
	result, err := cohort.Run(ctx, f.opts, inputs)
	expect.EQ(t, err, coresnp.ErrEmptyCoreSet)
	expect.EQ(t, result.Outcome, cohort.Complete)
	expect.EQ(t, result.Stats.Invariant, 10)
	expect.NotNil(t, result.Distance)
	_, err = ioutil.ReadFile(f.opts.Out + ".core.fasta")
	expect.NotNil(t, err)
}

func TestRunTotalFailure(t *testing.T) {
	ctx := vcontext.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	f := newFixture(t, tmpdir)
	inputs := []cohort.SampleInput{
		f.sample(t, "a", pileupFor("ACGTACGTAC", 1)),
		{Sample: "b", Pileup: filepath.Join(tmpdir, "missing.pileup")},
	}
	result, err := cohort.Run(ctx, f.opts, inputs)
	expect.HasSubstr(t, err.Error(), "no sample produced")
	expect.EQ(t, result.Outcome, cohort.Total)
	expect.EQ(t, result.Samples[0].Status, cohort.Rejected)
	expect.EQ(t, result.Samples[1].Status, cohort.Failed)
	summary, err := ioutil.ReadFile(f.opts.Out + ".summary.tsv")
	assert.NoError(t, err)
	expect.HasSubstr(t, string(summary), "failed\t2\t0\t1\t1\t0")
}

func TestRunInvalid(t *testing.T) {
	ctx := vcontext.Background()
	_, err := cohort.Run(ctx, cohort.DefaultOpts, nil)
	expect.HasSubstr(t, err.Error(), "reference")

	opts := cohort.DefaultOpts
	opts.Reference = "ref.fasta"
	opts.Out = "out"
	opts.Consensus.MinFrequency = 2
	_, err = cohort.Run(ctx, opts, nil)
	expect.HasSubstr(t, err.Error(), "frequency")

	opts = cohort.DefaultOpts
	opts.Reference = "ref.fasta"
	opts.Out = "out"
	opts.Pileup.SampleIndex = -2
	_, err = cohort.Run(ctx, opts, nil)
	expect.HasSubstr(t, err.Error(), "sample index")
}

func TestReadManifest(t *testing.T) {
	inputs, err := cohort.ReadManifest(strings.NewReader(
		"sample\tpileup\tdepth\n" +
			"s1\ts1.pileup\ts1.depth\n" +
			"s2\ts2.pileup\t\n"))
	assert.NoError(t, err)
	expect.EQ(t, inputs, []cohort.SampleInput{
		{Sample: "s1", Pileup: "s1.pileup", Depth: "s1.depth"},
		{Sample: "s2", Pileup: "s2.pileup"},
	})

	inputs, err = cohort.ReadManifest(strings.NewReader(
		"pileup\tsample\n" +
			"s1.pileup\ts1\n" +
			"s2.pileup.gz\ts2\n"))
	assert.NoError(t, err)
	expect.EQ(t, inputs, []cohort.SampleInput{
		{Sample: "s1", Pileup: "s1.pileup"},
		{Sample: "s2", Pileup: "s2.pileup.gz"},
	})

	for _, data := range []string{
		"",
		"sample\tpileup\tdepth\n",
		"sample\tdepth\ns1\ts1.depth\n",
		"sample\tpileup\tdepth\ns1\ta\t\ns1\tb\t\n",
		"sample\tpileup\tdepth\ns/1\ta\t\n",
		"sample\tpileup\tdepth\ns1\t\t\n",
	} {
		_, err := cohort.ReadManifest(strings.NewReader(data))
		expect.NotNil(t, err, data)
	}
}

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
package distance_test

import (
	"bytes"
	"strings"
	"testing"

	"github.com/antzucaro/matchr"
	"github.com/grailbio/coresnp/coresnp"
	"github.com/grailbio/coresnp/distance"
	"github.com/grailbio/coresnp/pileup/consensus"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
	"github.com/stretchr/testify/require"
)

func compute(t *testing.T, parallelism int, samplesAndCalls ...string) *distance.Matrix {
	var seqs []*consensus.Sequence
	for i := 0; i < len(samplesAndCalls); i += 2 {
		seqs = append(seqs, &consensus.Sequence{Sample: samplesAndCalls[i], Calls: []byte(samplesAndCalls[i+1])})
	}
	m, err := distance.FromSequences(seqs, parallelism)
	assert.NoError(t, err)
	return m
}

func TestOneThird(t *testing.T) {
	m := compute(t, 1, "a", "ACG-", "b", "AGGN")
	expect.EQ(t, m.Mismatches(0, 1), 1)
	expect.EQ(t, m.Comparable(0, 1), 3)
	f, err := m.Fraction(0, 1)
	assert.NoError(t, err)
	expect.True(t, f > 0.3333 && f < 0.3334, "got %v", f)
}

func TestSymmetry(t *testing.T) {
	for _, parallelism := range []int{0, 1, 2, 7, 100} {
		m := compute(t, parallelism,
			"s1", "ACGTACGTNN",
			"s2", "ACGAACGT-A",
			"s3", "TCGTACCTAA",
			"s4", "NNNNACGTAC",
			"s5", "ACGTACGTAC")
		for i := range m.Samples {
			expect.EQ(t, m.Mismatches(i, i), 0)
			f, err := m.Fraction(i, i)
			assert.NoError(t, err)
			expect.EQ(t, f, 0.0)
			for j := range m.Samples {
				expect.EQ(t, m.Mismatches(i, j), m.Mismatches(j, i))
				expect.EQ(t, m.Comparable(i, j), m.Comparable(j, i))
			}
		}
		expect.EQ(t, m.Mismatches(0, 2), 2, "parallelism %d", parallelism)
		expect.EQ(t, m.Comparable(0, 3), 4)
		expect.EQ(t, m.Comparable(3, 3), 6)
	}
}

func TestHammingAgreement(t *testing.T) {
	// Without missing calls the count is the Hamming distance.
	seqs := []string{"ACGTTGCAAC", "ACGTTGCAAA", "TTTTTGCAAC", "ACCATGCAAC"}
	var args []string
	for i, s := range seqs {
		args = append(args, string(rune('a'+i)), s)
	}
	m := compute(t, 2, args...)
	for i := range seqs {
		for j := range seqs {
			h, err := matchr.Hamming(seqs[i], seqs[j])
			require.NoError(t, err)
			require.Equal(t, h, m.Mismatches(i, j))
			require.Equal(t, len(seqs[i]), m.Comparable(i, j))
		}
	}
}

func TestUndefined(t *testing.T) {
	m := compute(t, 0, "a", "ACNN", "b", "NNGT", "c", "ACGT")
	expect.EQ(t, m.Undefined(), [][2]int{{0, 1}})
	_, err := m.Fraction(0, 1)
	expect.EQ(t, err, distance.ErrUndefined)
	expect.False(t, m.Defined(1, 0))
	expect.True(t, m.Defined(0, 2))

	var buf bytes.Buffer
	assert.NoError(t, distance.WriteCounts(&buf, m))
	expect.EQ(t, buf.String(), "sample\ta\tb\tc\n"+
		"a\t0\tNA\t0\n"+
		"b\tNA\t0\t0\n"+
		"c\t0\t0\t0\n")
	expect.HasSubstr(t, m.String(), "NA")
}

func TestWriters(t *testing.T) {
	m := compute(t, 1, "a", "ACGT", "b", "ACGA", "c", "ACG-")
	var buf bytes.Buffer
	assert.NoError(t, distance.WriteFractions(&buf, m))
	expect.EQ(t, buf.String(), "sample\ta\tb\tc\n"+
		"a\t0.000000\t0.250000\t0.000000\n"+
		"b\t0.250000\t0.000000\t0.000000\n"+
		"c\t0.000000\t0.000000\t0.000000\n")

	buf.Reset()
	assert.NoError(t, distance.WritePairs(&buf, m))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 4)
	require.Equal(t, "sample_a\tsample_b\tmismatches\tcomparable\tfraction", lines[0])
	require.Equal(t, "a\tb\t1\t4\t0.250000", lines[1])
}

func TestComputeErrors(t *testing.T) {
	_, err := distance.Compute([]string{"a", "b"}, [][]byte{[]byte("ACGT"), []byte("AC")}, 1)
	_, ok := err.(*coresnp.LengthMismatchError)
	expect.True(t, ok, "got %v", err)
	_, err = distance.Compute([]string{"a"}, nil, 1)
	expect.NotNil(t, err)

	// A single sample has an empty pair set.
	m, err := distance.Compute([]string{"a"}, [][]byte{[]byte("ACGT")}, 4)
	assert.NoError(t, err)
	expect.EQ(t, m.Comparable(0, 0), 4)
}

func TestFromSequencesSortsSamples(t *testing.T) {
	m := compute(t, 1, "zeta", "ACGT", "alpha", "ACGA", "mid", "TCGA")
	expect.EQ(t, m.Samples, []string{"alpha", "mid", "zeta"})
	expect.EQ(t, m.Mismatches(0, 1), 1) // alpha/mid
	expect.EQ(t, m.Mismatches(0, 2), 1) // alpha/zeta
	expect.EQ(t, m.Mismatches(1, 2), 2) // mid/zeta
}

func TestFromSiteSet(t *testing.T) {
	ss := &coresnp.SiteSet{
		Samples: []string{"x", "y"},
		Seqs:    [][]byte{[]byte("AT"), []byte("GT")},
	}
	m, err := distance.FromSiteSet(ss, 1)
	assert.NoError(t, err)
	expect.EQ(t, m.Mismatches(0, 1), 1)
}

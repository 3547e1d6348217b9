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
package fasta_test

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/grailbio/base/file"
	"github.com/grailbio/base/vcontext"
	"github.com/grailbio/coresnp/encoding/fasta"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

var fastaData string

func init() {
	fastaData = ">seq1\n" + "ACGTA\nCGTAC\nGT\n" + ">seq2 A viral sequence\n" + "ACGT\n" + "ACGT\n"
}

func TestGet(t *testing.T) {
	tests := []struct {
		seq   string
		start uint64
		end   uint64
		want  string
		err   error
	}{
		{"seq1", 1, 2, "C", nil},
		{"seq1", 1, 6, "CGTAC", nil},
		{"seq1", 0, 12, "ACGTACGTACGT", nil},
		{"seq1", 10, 12, "GT", nil},
		{"seq2", 0, 8, "ACGTACGT", nil},
		{"seq2", 2, 5, "GTA", nil},
		{"seq0", 0, 1, "", fmt.Errorf("sequence not found: seq0")},
		{"seq1", 10, 13, "", fmt.Errorf("invalid query range")},
		{"seq1", 4, 3, "", fmt.Errorf("start must be less than end")},
	}
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	for _, tt := range tests {
		got, err := fa.Get(tt.seq, tt.start, tt.end)
		if (err == nil && tt.err != nil) || (err != nil && tt.err == nil) {
			t.Errorf("unexpected error: want %v, got %v", tt.err, err)
		}
		if got != tt.want {
			t.Errorf("unexpected sequence: want %s, got %s", tt.want, got)
		}
	}
}

func TestLength(t *testing.T) {
	tests := []struct {
		seq  string
		want uint64
		err  error
	}{
		{"seq1", 12, nil},
		{"seq2", 8, nil},
		{"seq0", 0, fmt.Errorf("sequence not found: seq0")},
	}
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	for _, tt := range tests {
		got, err := fa.Len(tt.seq)
		if (err == nil && tt.err != nil) || (err != nil && tt.err == nil) {
			t.Errorf("unexpected error: want %v, got %v", tt.err, err)
		}
		if got != tt.want {
			t.Errorf("unexpected length: want %v, got %v", tt.want, got)
		}
	}
}

func TestSeqNames(t *testing.T) {
	fa, err := fasta.New(strings.NewReader(fastaData))
	assert.NoError(t, err)
	// Order of appearance is part of the contract.
	if got, want := fa.SeqNames(), []string{"seq1", "seq2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestNewErrors(t *testing.T) {
	for _, data := range []string{
		"",
		"ACGT\n>seq1\nACGT\n",
		">seq1\nAC\n>seq1\nGT\n",
		">\nACGT\n",
	} {
		_, err := fasta.New(strings.NewReader(data))
		expect.NotNil(t, err, "data %q", data)
	}
}

func TestScanner(t *testing.T) {
	s := fasta.NewScanner(strings.NewReader("\n" + fastaData + ">empty\n>crlf x\r\nAC\r\nGT\r\n"))
	type rec struct{ name, seq string }
	var got []rec
	for s.Next() {
		seq, err := s.ReadSeq()
		assert.NoError(t, err)
		got = append(got, rec{s.Name(), string(seq)})
	}
	assert.NoError(t, s.Err())
	expect.EQ(t, got, []rec{
		{"seq1", "ACGTACGTACGT"},
		{"seq2", "ACGTACGT"},
		{"empty", ""},
		{"crlf", "ACGT"},
	})
}

func TestScannerPartialRead(t *testing.T) {
	s := fasta.NewScanner(strings.NewReader(fastaData))
	assert.True(t, s.Next())
	b, err := s.ReadByte()
	assert.NoError(t, err)
	expect.EQ(t, b, byte('A'))
	// Next must skip the rest of seq1.
	assert.True(t, s.Next())
	expect.EQ(t, s.Name(), "seq2")
	seq, err := s.ReadSeq()
	assert.NoError(t, err)
	expect.EQ(t, string(seq), "ACGTACGT")
	_, err = s.ReadByte()
	expect.EQ(t, err, io.EOF)
	assert.False(t, s.Next())
	assert.NoError(t, s.Err())
}

func TestScannerMalformed(t *testing.T) {
	s := fasta.NewScanner(strings.NewReader("ACGT\n"))
	assert.False(t, s.Next())
	assert.NotNil(t, s.Err())
}

func TestWriterRoundTrip(t *testing.T) {
	seqs := map[string]string{
		"s1": "ACGTACGTACG",
		"s2": "NNNN-ACGT",
		"s3": "",
	}
	for _, width := range []int{0, 1, 4, fasta.DefaultLineWidth} {
		var buf bytes.Buffer
		w := fasta.NewWriter(&buf, width)
		for _, name := range []string{"s1", "s2", "s3"} {
			assert.NoError(t, w.Write(name, "sample="+name, []byte(seqs[name])))
		}
		assert.NoError(t, w.Flush())

		s := fasta.NewScanner(bytes.NewReader(buf.Bytes()))
		n := 0
		for s.Next() {
			seq, err := s.ReadSeq()
			assert.NoError(t, err)
			expect.EQ(t, string(seq), seqs[s.Name()], "width %d", width)
			n++
		}
		assert.NoError(t, s.Err())
		expect.EQ(t, n, 3)
	}
}

func TestLoad(t *testing.T) {
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	ctx := vcontext.Background()
	path := filepath.Join(tmpdir, "ref.fa")
	out, err := file.Create(ctx, path)
	assert.NoError(t, err)
	_, err = out.Writer(ctx).Write([]byte(fastaData))
	assert.NoError(t, err)
	assert.NoError(t, out.Close(ctx))

	fa, err := fasta.Load(ctx, path)
	assert.NoError(t, err)
	n, err := fa.Len("seq2")
	assert.NoError(t, err)
	expect.EQ(t, n, uint64(8))
}

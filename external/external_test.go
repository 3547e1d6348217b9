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
package external

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"v.io/x/lib/gosh"
	"v.io/x/lib/lookpath"
)

func TestRunStdout(t *testing.T) {
	sh := gosh.NewShell(t)
	defer sh.Cleanup()
	if _, err := lookpath.Look(sh.Vars, "echo"); err != nil {
		t.Skipf("echo not found, skipping test: %v", err)
	}
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	out := filepath.Join(tmpdir, "out.txt")
	tool := Tool{Name: "echo", Args: []string{"hello", "world"}, Stdout: out, Env: sh.Vars}
	require.True(t, tool.Available())
	require.NoError(t, tool.Run(context.Background()))
	data, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(data))
}

func TestRunFailure(t *testing.T) {
	sh := gosh.NewShell(t)
	defer sh.Cleanup()
	if _, err := lookpath.Look(sh.Vars, "sh"); err != nil {
		t.Skipf("sh not found, skipping test: %v", err)
	}
	tool := Tool{Name: "sh", Args: []string{"-c", "echo broken input >&2; exit 3"}, Env: sh.Vars}
	err := tool.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken input")
}

func TestMissingTool(t *testing.T) {
	tool := Tool{Name: "no-such-tool-coresnp", Env: map[string]string{"PATH": "/nonexistent"}}
	assert.False(t, tool.Available())
	err := tool.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no-such-tool-coresnp")
}

func TestTailBuffer(t *testing.T) {
	var b tailBuffer
	long := strings.Repeat("x", maxStderr) + "tail"
	n, err := b.Write([]byte(long))
	require.NoError(t, err)
	assert.Equal(t, len(long), n)
	assert.Equal(t, maxStderr, b.Len())
	assert.True(t, strings.HasSuffix(b.String(), "tail"))
	b.Write([]byte("more"))
	assert.Equal(t, maxStderr, b.Len())
	assert.True(t, strings.HasSuffix(b.String(), "tailmore"))
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		tool Tool
		want string
	}{
		{SamtoolsMpileup("ref.fa", "s1.bam", "s1.pileup"), "samtools mpileup -aa -B -Q 0 -d 0 -f ref.fa s1.bam > s1.pileup"},
		{SamtoolsDepth("s1.bam", "s1.depth"), "samtools depth -aa s1.bam > s1.depth"},
		{BWAMem("ref.fa", "r1.fq", "r2.fq", "s1.sam"), "bwa mem ref.fa r1.fq r2.fq > s1.sam"},
		{BWAMem("ref.fa", "r1.fq", "", "s1.sam"), "bwa mem ref.fa r1.fq > s1.sam"},
		{FastTree("core.fasta", "core.nwk"), "FastTree -nt -gtr core.fasta > core.nwk"},
	}
	for _, test := range tests {
		assert.Equal(t, test.want, test.tool.String())
	}
}

func TestSamtoolsVersion(t *testing.T) {
	sh := gosh.NewShell(t)
	defer sh.Cleanup()
	if _, err := lookpath.Look(sh.Vars, "samtools"); err != nil {
		t.Skipf("samtools not found, skipping test: %v", err)
	}
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)
	out := filepath.Join(tmpdir, "version")
	tool := Tool{Name: "samtools", Args: []string{"--version"}, Stdout: out, Env: sh.Vars}
	require.NoError(t, tool.Run(context.Background()))
	data, err := ioutil.ReadFile(out)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "samtools"))
}

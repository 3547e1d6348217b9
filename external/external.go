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

// Package external runs the command-line tools that sit around the core
// pipeline: the pileup and depth generators upstream, and alignment and tree
// builders downstream.  Tools communicate only through files.
package external

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"strings"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/base/log"
	"v.io/x/lib/envvar"
	"v.io/x/lib/lookpath"
)

// Tool is one invocation of an external program.
type Tool struct {
	// Name is the executable, resolved on PATH unless it contains a '/'.
	Name string
	Args []string
	// Stdout, if non-empty, is a path that receives the standard output.
	// Otherwise standard output is discarded.
	Stdout string
	// Env is the environment for the tool.  If nil, the current process's
	// environment is used.
	Env map[string]string
}

func (t Tool) env() map[string]string {
	if t.Env != nil {
		return t.Env
	}
	return envvar.SliceToMap(os.Environ())
}

// Path resolves the tool's executable.
func (t Tool) Path() (string, error) {
	if strings.Contains(t.Name, "/") {
		return t.Name, nil
	}
	path, err := lookpath.Look(t.env(), t.Name)
	if err != nil {
		return "", errors.E(errors.NotExist, err, t.Name)
	}
	return path, nil
}

// Available reports whether the tool can be found.
func (t Tool) Available() bool {
	_, err := t.Path()
	return err == nil
}

func (t Tool) String() string {
	s := t.Name
	if len(t.Args) > 0 {
		s += " " + strings.Join(t.Args, " ")
	}
	if t.Stdout != "" {
		s += " > " + t.Stdout
	}
	return s
}

// maxStderr bounds the amount of standard error kept for error messages.
const maxStderr = 4 << 10

// tailBuffer keeps the last maxStderr bytes written to it.
type tailBuffer struct {
	bytes.Buffer
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	n := len(p)
	if len(p) > maxStderr {
		p = p[len(p)-maxStderr:]
	}
	if over := b.Len() + len(p) - maxStderr; over > 0 {
		b.Next(over)
	}
	b.Buffer.Write(p)
	return n, nil
}

// Run runs the tool to completion.  A non-zero exit status is returned as an
// error that includes the tail of the tool's standard error.
func (t Tool) Run(ctx context.Context) (err error) {
	path, err := t.Path()
	if err != nil {
		return err
	}
	cmd := exec.CommandContext(ctx, path, t.Args...)
	cmd.Env = envvar.MapToSlice(t.env())
	var stderr tailBuffer
	cmd.Stderr = &stderr
	if t.Stdout != "" {
		var out file.File
		if out, err = file.Create(ctx, t.Stdout); err != nil {
			return errors.E(err, "create", t.Stdout)
		}
		defer file.CloseAndReport(ctx, out, &err)
		cmd.Stdout = out.Writer(ctx)
	} else {
		cmd.Stdout = ioutil.Discard
	}
	log.Printf("external: running %s", t)
	if runErr := cmd.Run(); runErr != nil {
		msg := strings.TrimSpace(stderr.String())
		return fmt.Errorf("external: %s: %v: %s", t.Name, runErr, msg)
	}
	return nil
}

// SamtoolsMpileup writes a dense single-sample pileup of bam against ref to
// out.  Base-quality filtering is left to the consensus caller.
func SamtoolsMpileup(ref, bam, out string) Tool {
	return Tool{
		Name:   "samtools",
		Args:   []string{"mpileup", "-aa", "-B", "-Q", "0", "-d", "0", "-f", ref, bam},
		Stdout: out,
	}
}

// SamtoolsDepth writes the per-position depth of bam, zeros included, to
// out.
func SamtoolsDepth(bam, out string) Tool {
	return Tool{
		Name:   "samtools",
		Args:   []string{"depth", "-aa", bam},
		Stdout: out,
	}
}

// BWAMem aligns paired reads to ref, writing SAM to out.  ref must have been
// indexed with "bwa index".
func BWAMem(ref, reads1, reads2, out string) Tool {
	args := []string{"mem", ref, reads1}
	if reads2 != "" {
		args = append(args, reads2)
	}
	return Tool{Name: "bwa", Args: args, Stdout: out}
}

// FastTree infers an approximately-maximum-likelihood tree from a nucleotide
// alignment, writing Newick to out.
func FastTree(alignment, out string) Tool {
	return Tool{
		Name:   "FastTree",
		Args:   []string{"-nt", "-gtr", alignment},
		Stdout: out,
	}
}

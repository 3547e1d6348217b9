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
package util_test

import (
	"bytes"
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"
	"testing"

	"github.com/grailbio/coresnp/util"
	"github.com/grailbio/testutil"
	"github.com/grailbio/testutil/assert"
	"github.com/grailbio/testutil/expect"
)

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	tmpdir, cleanup := testutil.TempDir(t, "", "")
	defer testutil.NoCleanupOnError(t, cleanup, tmpdir)

	data := strings.Repeat(">s1\nACGTNNNN--ACGT\n", 1000)
	for _, name := range []string{"plain.fasta", "bgzf.fasta.gz", "snappy.fasta.sz"} {
		path := filepath.Join(tmpdir, name)
		w, err := util.Create(ctx, path, 2)
		assert.NoError(t, err)
		_, err = w.Write([]byte(data))
		assert.NoError(t, err)
		assert.NoError(t, w.Close(ctx))

		raw, err := ioutil.ReadFile(path)
		assert.NoError(t, err)
		expect.EQ(t, name == "plain.fasta", bytes.Equal(raw, []byte(data)), name)

		r, err := util.Open(ctx, path)
		assert.NoError(t, err)
		expect.EQ(t, r.Name(), path)
		got, err := ioutil.ReadAll(r)
		assert.NoError(t, err)
		assert.NoError(t, r.Close(ctx))
		expect.EQ(t, string(got), data, name)
	}
}

func TestOpenMissing(t *testing.T) {
	_, err := util.Open(context.Background(), "/nonexistent/file.fasta")
	expect.NotNil(t, err)
}

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

// Package util contains small path helpers shared by the readers and writers
// in this repository.
package util

import (
	"context"
	"io"
	"io/ioutil"
	"strings"

	"github.com/golang/snappy"
	"github.com/grailbio/base/compress"
	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"github.com/grailbio/hts/bgzf"
)

// Reader is a transparently-decompressing reader over a file.File.
type Reader struct {
	f  file.File
	rc io.ReadCloser
}

// SnappySuffix marks snappy-framed files.
const SnappySuffix = ".sz"

// Open opens path for reading.  gzip, bzip2 and zstd inputs are detected from
// their magic bytes and decompressed on the fly.  Paths ending in
// SnappySuffix are read as snappy-framed streams.
func Open(ctx context.Context, path string) (*Reader, error) {
	f, err := file.Open(ctx, path)
	if err != nil {
		return nil, errors.E(err, "open", path)
	}
	if strings.HasSuffix(path, SnappySuffix) {
		return &Reader{f: f, rc: ioutil.NopCloser(snappy.NewReader(f.Reader(ctx)))}, nil
	}
	rc, _ := compress.NewReader(f.Reader(ctx))
	return &Reader{f: f, rc: rc}, nil
}

// Read implements io.Reader.
func (r *Reader) Read(p []byte) (int, error) {
	return r.rc.Read(p)
}

// Name returns the path the reader was opened with.
func (r *Reader) Name() string {
	return r.f.Name()
}

// Close closes the decompressor and the underlying file.
func (r *Reader) Close(ctx context.Context) (err error) {
	err = r.rc.Close()
	if e := r.f.Close(ctx); e != nil && err == nil {
		err = e
	}
	return
}

// Writer writes to a file.File, BGZF-compressing the stream when the path
// ends in ".gz" and snappy-framing it when the path ends in SnappySuffix.
type Writer struct {
	f      file.File
	bgzf   *bgzf.Writer
	snappy *snappy.Writer
	w      io.Writer
}

// Create creates path for writing.  parallelism bounds the number of BGZF
// compression goroutines; it is ignored for uncompressed output.
func Create(ctx context.Context, path string, parallelism int) (*Writer, error) {
	f, err := file.Create(ctx, path)
	if err != nil {
		return nil, errors.E(err, "create", path)
	}
	w := &Writer{f: f, w: f.Writer(ctx)}
	if strings.HasSuffix(path, ".gz") {
		if parallelism <= 0 {
			parallelism = 1
		}
		w.bgzf = bgzf.NewWriter(w.w, parallelism)
		w.w = w.bgzf
	} else if strings.HasSuffix(path, SnappySuffix) {
		w.snappy = snappy.NewBufferedWriter(w.w)
		w.w = w.snappy
	}
	return w, nil
}

// Write implements io.Writer.
func (w *Writer) Write(p []byte) (int, error) {
	return w.w.Write(p)
}

// Close flushes any compressed output and closes the file.
func (w *Writer) Close(ctx context.Context) (err error) {
	switch {
	case w.bgzf != nil:
		err = w.bgzf.Close()
	case w.snappy != nil:
		err = w.snappy.Close()
	}
	if e := w.f.Close(ctx); e != nil && err == nil {
		err = e
	}
	return
}

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
package fasta

import (
	"bufio"
	"io"
)

// DefaultLineWidth is the sequence line width used by most FASTA producers.
const DefaultLineWidth = 60

// Writer emits FASTA records.
type Writer struct {
	w         *bufio.Writer
	lineWidth int
}

// NewWriter creates a Writer.  Sequences are wrapped every lineWidth bytes;
// lineWidth <= 0 puts each sequence on a single line.
func NewWriter(w io.Writer, lineWidth int) *Writer {
	return &Writer{w: bufio.NewWriterSize(w, 1<<20), lineWidth: lineWidth}
}

// Write appends one record.  desc may be empty.
func (w *Writer) Write(name, desc string, seq []byte) error {
	w.w.WriteByte('>')
	w.w.WriteString(name)
	if desc != "" {
		w.w.WriteByte(' ')
		w.w.WriteString(desc)
	}
	w.w.WriteByte('\n')
	if w.lineWidth <= 0 {
		w.w.Write(seq)
		_, err := w.w.WriteString("\n")
		return err
	}
	for len(seq) > 0 {
		n := w.lineWidth
		if n > len(seq) {
			n = len(seq)
		}
		w.w.Write(seq[:n])
		if err := w.w.WriteByte('\n'); err != nil {
			return err
		}
		seq = seq[n:]
	}
	return nil
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

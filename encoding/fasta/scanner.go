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

	"github.com/pkg/errors"
)

// Scanner streams the records of a FASTA file without holding whole
// sequences in memory.  Sequence bytes are delivered one at a time with line
// breaks removed.
//
//   s := fasta.NewScanner(r)
//   for s.Next() {
//     name := s.Name()
//     for {
//       b, err := s.ReadByte()
//       if err == io.EOF {
//         break // end of this record
//       }
//       ...
//     }
//   }
//   if err := s.Err(); err != nil { ... }
type Scanner struct {
	r           *bufio.Reader
	name        string
	atLineStart bool
	// recordDone is set once the current record's sequence is exhausted.
	recordDone bool
	eof        bool
	err        error
}

// NewScanner creates a Scanner reading from r.
func NewScanner(r io.Reader) *Scanner {
	return &Scanner{
		r:           bufio.NewReaderSize(r, 1<<20),
		atLineStart: true,
		recordDone:  true,
	}
}

// Next advances to the next record, discarding any unread sequence of the
// current one.  It returns false at the end of input or on error.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	for !s.recordDone {
		if _, err := s.ReadByte(); err != nil && err != io.EOF {
			return false
		}
	}
	for {
		c, err := s.r.ReadByte()
		if err == io.EOF {
			s.eof = true
			return false
		}
		if err != nil {
			s.err = errors.Wrap(err, "couldn't read FASTA data")
			return false
		}
		if c == '\n' || c == '\r' {
			continue
		}
		if c != '>' {
			s.err = errors.Errorf("malformed FASTA file: expected '>', got %q", c)
			return false
		}
		break
	}
	line, err := s.r.ReadString('\n')
	if err != nil && err != io.EOF {
		s.err = errors.Wrap(err, "couldn't read FASTA header")
		return false
	}
	s.name, _ = splitHeader(line)
	if s.name == "" {
		s.err = errors.Errorf("malformed FASTA file: empty sequence name")
		return false
	}
	s.atLineStart = true
	s.recordDone = false
	return true
}

// Name returns the name of the current record.
func (s *Scanner) Name() string {
	return s.name
}

// ReadByte returns the next sequence byte of the current record.  It returns
// io.EOF at the end of the record; call Next to move on.
func (s *Scanner) ReadByte() (byte, error) {
	if s.recordDone {
		return 0, io.EOF
	}
	for {
		c, err := s.r.ReadByte()
		if err == io.EOF {
			s.recordDone = true
			return 0, io.EOF
		}
		if err != nil {
			s.err = errors.Wrap(err, "couldn't read FASTA data")
			s.recordDone = true
			return 0, s.err
		}
		switch {
		case c == '\n' || c == '\r':
			s.atLineStart = true
			continue
		case c == '>' && s.atLineStart:
			_ = s.r.UnreadByte()
			s.recordDone = true
			return 0, io.EOF
		}
		s.atLineStart = false
		return c, nil
	}
}

// ReadSeq returns the remainder of the current record's sequence.
func (s *Scanner) ReadSeq() ([]byte, error) {
	var seq []byte
	for {
		c, err := s.ReadByte()
		if err == io.EOF {
			return seq, nil
		}
		if err != nil {
			return nil, err
		}
		seq = append(seq, c)
	}
}

// Err returns the first error encountered.
func (s *Scanner) Err() error {
	return s.err
}

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
package pileup

import "fmt"

// MalformedRecordError is returned when a pileup line fails to parse.  It
// identifies the sample and the position so that the caller can drop that
// sample alone.
type MalformedRecordError struct {
	Sample string
	// Line is the 1-based line number within the pileup stream.
	Line   int
	Contig string
	// Pos is the 1-based reference position, or 0 if it could not be parsed.
	Pos int
	Msg string
}

func (e *MalformedRecordError) Error() string {
	if e.Pos > 0 {
		return fmt.Sprintf("pileup: sample %s: malformed record at %s:%d (line %d): %s", e.Sample, e.Contig, e.Pos, e.Line, e.Msg)
	}
	return fmt.Sprintf("pileup: sample %s: malformed record on line %d: %s", e.Sample, e.Line, e.Msg)
}

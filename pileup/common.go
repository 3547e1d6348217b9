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

// Common pileup components.

// These constants double as row indexes into Counts.Pass and as the natural
// 2-bit values for A/C/G/T.
const (
	// BaseA represents an A base.
	BaseA byte = iota
	// BaseC represents an C base.
	BaseC
	// BaseG represents an G base.
	BaseG
	// BaseT represents an T base.
	BaseT
	// BaseX is a catch-all for N and other non-ACGT reference or read bases.
	BaseX
	// BaseDel represents a deletion placeholder or reference skip.
	BaseDel
)

const (
	// NBase is the number of regular base types.
	NBase = 4
	// NBaseEnum counts BaseX and BaseDel as well as the regular base types.
	NBaseEnum = 6
)

// EnumToASCIITable is the A/C/G/T/X/Del -> ASCII mapping, with X rendered as
// 'N' and Del as '-'.
var EnumToASCIITable = [...]byte{'A', 'C', 'G', 'T', 'N', '-'}

// ASCIIToEnumTable maps an upper- or lowercase base character to its enum
// value.  Characters outside [ACGTNacgtn] map to BaseX; callers that need to
// reject them must check IsBaseChar first.
var ASCIIToEnumTable [256]byte

func init() {
	for i := range ASCIIToEnumTable {
		ASCIIToEnumTable[i] = BaseX
	}
	for enum, c := range EnumToASCIITable[:NBase] {
		ASCIIToEnumTable[c] = byte(enum)
		ASCIIToEnumTable[c+('a'-'A')] = byte(enum)
	}
}

// IsBaseChar returns true iff c is one of [ACGTNacgtn].
func IsBaseChar(c byte) bool {
	switch c {
	case 'A', 'C', 'G', 'T', 'N', 'a', 'c', 'g', 't', 'n':
		return true
	}
	return false
}

// StrandType describes which strand an observation came from.
type StrandType int

const (
	// StrandFwd means the read was aligned to the forward strand; pileup text
	// renders these observations in uppercase (or '.').
	StrandFwd StrandType = iota
	// StrandRev means the read was aligned to the reverse strand; pileup text
	// renders these observations in lowercase (or ',').
	StrandRev
)

// PhredOffset is subtracted from each quality character to get its Phred
// score.
const PhredOffset = 33

// MaxQual is the largest Phred score representable in a printable quality
// string.
const MaxQual = '~' - PhredOffset

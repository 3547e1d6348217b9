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
package coverage

import (
	"fmt"
	"math"
)

// GateOpts are the admission thresholds.  A sample is admitted iff
// AvgDepth >= MinAvgDepth and PercentCovered > MinPercentCovered.
type GateOpts struct {
	MinAvgDepth       float64
	MinPercentCovered float64
}

// DefaultGateOpts admits any sample with at least one covered position.
var DefaultGateOpts = GateOpts{
	MinAvgDepth:       0,
	MinPercentCovered: 0,
}

// Validate checks that the thresholds are in range.
func (o GateOpts) Validate() error {
	if o.MinAvgDepth < 0 || math.IsNaN(o.MinAvgDepth) {
		return fmt.Errorf("coverage: min average depth must be >= 0, got %v", o.MinAvgDepth)
	}
	if o.MinPercentCovered < 0 || o.MinPercentCovered > 100 || math.IsNaN(o.MinPercentCovered) {
		return fmt.Errorf("coverage: min percent covered must be in [0, 100], got %v", o.MinPercentCovered)
	}
	return nil
}

// Decision is the outcome of the admission gate for one sample.  A rejected
// sample is a filtering outcome, not an error.
type Decision struct {
	Admitted bool
	// Reason explains a rejection; empty when admitted.
	Reason string
}

// Admit applies the gate to s.
func (o GateOpts) Admit(s Summary) Decision {
	switch {
	case s.AvgDepth < o.MinAvgDepth:
		return Decision{Reason: fmt.Sprintf("average depth %.2f below minimum %.2f", s.AvgDepth, o.MinAvgDepth)}
	case s.PercentCovered <= o.MinPercentCovered:
		return Decision{Reason: fmt.Sprintf("%.2f%% of genome covered, need more than %.2f%%", s.PercentCovered, o.MinPercentCovered)}
	}
	return Decision{Admitted: true}
}

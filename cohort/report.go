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
package cohort

import (
	"context"
	"io"
	"strconv"

	"github.com/grailbio/base/tsv"
	"github.com/grailbio/coresnp/util"
)

// ReportRow is one line of the per-sample report.
type ReportRow struct {
	Sample         string `tsv:"sample"`
	Status         string `tsv:"status"`
	AvgDepth       string `tsv:"avg_depth"`
	PercentCovered string `tsv:"percent_covered"`
	Called         int    `tsv:"called"`
	Fingerprint    string `tsv:"fingerprint"`
	Message        string `tsv:"message"`
}

// SummaryRow is the single line of the cohort summary.
type SummaryRow struct {
	Outcome  string `tsv:"outcome"`
	Samples  int    `tsv:"samples"`
	Admitted int    `tsv:"admitted"`
	Rejected int    `tsv:"rejected"`
	Failed   int    `tsv:"failed"`
	Core     int    `tsv:"core_sites"`
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', 4, 64)
}

// WriteReport writes one row per sample, in input order.
func WriteReport(w io.Writer, result *Result) error {
	rw := tsv.NewRowWriter(w)
	for _, res := range result.Samples {
		row := ReportRow{
			Sample:         res.Sample,
			Status:         res.Status.String(),
			AvgDepth:       formatFloat(res.Coverage.AvgDepth),
			PercentCovered: formatFloat(res.Coverage.PercentCovered),
			Called:         res.Called,
			Message:        res.Message,
		}
		if res.Consensus != "" {
			row.Fingerprint = strconv.FormatUint(res.Fingerprint, 16)
		}
		if err := rw.Write(&row); err != nil {
			return err
		}
	}
	return rw.Flush()
}

// WriteSummary writes the cohort outcome and sample counts.
func WriteSummary(w io.Writer, result *Result) error {
	rw := tsv.NewRowWriter(w)
	if err := rw.Write(&SummaryRow{
		Outcome:  result.Outcome.String(),
		Samples:  len(result.Samples),
		Admitted: result.count(Admitted),
		Rejected: result.count(Rejected),
		Failed:   result.count(Failed),
		Core:     result.Stats.Core,
	}); err != nil {
		return err
	}
	return rw.Flush()
}

func writePath(ctx context.Context, path string, result *Result, write func(io.Writer, *Result) error) (err error) {
	w, err := util.Create(ctx, path, 1)
	if err != nil {
		return err
	}
	defer func() {
		if e := w.Close(ctx); e != nil && err == nil {
			err = e
		}
	}()
	return write(w, result)
}

// WriteReportPath writes the per-sample report to path and the cohort
// summary next to it, replacing a ".samples.tsv" suffix with ".summary.tsv".
func WriteReportPath(ctx context.Context, path string, result *Result) error {
	if err := writePath(ctx, path, result, WriteReport); err != nil {
		return err
	}
	return writePath(ctx, summaryPath(path), result, WriteSummary)
}

func summaryPath(reportPath string) string {
	const suffix = ".samples.tsv"
	if n := len(reportPath) - len(suffix); n >= 0 && reportPath[n:] == suffix {
		return reportPath[:n] + ".summary.tsv"
	}
	return reportPath + ".summary.tsv"
}

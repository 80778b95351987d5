package store

import (
	"errors"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
)

// SkippedRow is an input row dropped by a lenient load.
type SkippedRow struct {
	Row int   `json:"row"`
	Err error `json:"-"`
}

// LoadReport describes a lenient load: how many records were committed and which input
// rows were skipped.
type LoadReport struct {
	Loaded  int          `json:"loaded"`
	Skipped []SkippedRow `json:"skipped"`
}

// normalizeAll maps every input through parse. In strict mode the first failure aborts
// with a ParseError carrying the row index; in lenient mode failures are reported and
// the remaining rows are kept.
func normalizeAll[In, R any](inputs []In, parse func(In) (R, error), lenient bool) ([]R, LoadReport, error) {
	out := make([]R, 0, len(inputs))
	var report LoadReport

	for i, in := range inputs {
		rec, err := parse(in)
		if err != nil {
			var pe *domain.ParseError
			if errors.As(err, &pe) {
				pe.Row = i
			}
			if !lenient {
				return nil, LoadReport{}, err
			}
			report.Skipped = append(report.Skipped, SkippedRow{Row: i, Err: err})
			continue
		}
		out = append(out, rec)
	}

	report.Loaded = len(out)
	return out, report, nil
}

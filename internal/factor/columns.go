// Package factor reshapes row-oriented weather, socio-economic and incident-linked records
// into column-oriented arrays keyed by factor name, and correlates those columns.
package factor

import (
	"encoding/json"
	"math"
	"slices"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
)

// AllFactors is the factor vocabulary: socio-economic factors first, then weather.
var AllFactors = slices.Concat(domain.SocioFactors, domain.WeatherFactors)

// Columns maps a factor name to its values in record order.
type Columns map[string][]float64

// Value is one factor's contribution from a single record. A record may contribute
// several samples for the same factor; they are appended in order.
type Value struct {
	Name    string
	Samples []float64
}

// Transpose turns rows into columns. Every name in names gets a column even when rows is
// empty. Names produced by values but absent from names are added as they appear.
func Transpose[R any](rows []R, names []string, values func(R) []Value) Columns {
	cols := make(Columns, len(names))
	for _, name := range names {
		cols[name] = []float64{}
	}
	for _, row := range rows {
		for _, v := range values(row) {
			cols[v.Name] = append(cols[v.Name], v.Samples...)
		}
	}
	return cols
}

// WeatherValues yields one sample per weather factor.
func WeatherValues(r domain.WeatherRecord) []Value {
	vals := r.Values()
	out := make([]Value, len(domain.WeatherFactors))
	for i, name := range domain.WeatherFactors {
		out[i] = Value{Name: name, Samples: vals[i : i+1]}
	}
	return out
}

// SocioValues yields every sample of each socio-economic indicator, so array-valued
// periods are flattened into the column in insertion order.
func SocioValues(r domain.SocioRecord) []Value {
	samples := r.Samples()
	out := make([]Value, len(domain.SocioFactors))
	for i, name := range domain.SocioFactors {
		out[i] = Value{Name: name, Samples: samples[i]}
	}
	return out
}

// JoinedValues yields the factor snapshot attached to one incident.
func JoinedValues(j domain.JoinedIncidentFactors) []Value {
	out := make([]Value, 0, len(j.Factors))
	for name, v := range j.Factors {
		out = append(out, Value{Name: name, Samples: []float64{v}})
	}
	return out
}

// Merge returns the union of base and override. On a name collision the override
// column wins.
func Merge(base, override Columns) Columns {
	out := make(Columns, len(base)+len(override))
	for name, col := range base {
		out[name] = col
	}
	for name, col := range override {
		out[name] = col
	}
	return out
}

// Names returns the column names: known factors in vocabulary order, then any others
// sorted.
func (c Columns) Names() []string {
	names := make([]string, 0, len(c))
	for _, name := range AllFactors {
		if _, ok := c[name]; ok {
			names = append(names, name)
		}
	}
	var extra []string
	for name := range c {
		if !slices.Contains(AllFactors, name) {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(names, extra...)
}

// MarshalJSON renders NaN as null, which encoding/json cannot encode.
func (c Columns) MarshalJSON() ([]byte, error) {
	out := make(map[string][]*float64, len(c))
	for name, col := range c {
		vals := make([]*float64, len(col))
		for i := range col {
			if !math.IsNaN(col[i]) {
				vals[i] = &col[i]
			}
		}
		out[name] = vals
	}
	return json.Marshal(out)
}

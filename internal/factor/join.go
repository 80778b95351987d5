package factor

import (
	"math"
	"sort"
	"time"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
)

// Join attaches to every incident the factors of the nearest enclosing period: for each
// series, the record with the greatest Time not after FireTime. weather and socio must
// be sorted by Time. Factors without an enclosing period are NaN; array-valued socio
// indicators contribute the mean of their samples.
func Join(incidents []domain.IncidentRecord, weather []domain.WeatherRecord, socio []domain.SocioRecord) []domain.JoinedIncidentFactors {
	out := make([]domain.JoinedIncidentFactors, len(incidents))
	for i, inc := range incidents {
		factors := make(map[string]float64, len(AllFactors))

		if w, ok := enclosing(weather, inc.FireTime, func(r domain.WeatherRecord) time.Time { return r.Time }); ok {
			for k, v := range w.Values() {
				factors[domain.WeatherFactors[k]] = v
			}
		} else {
			for _, name := range domain.WeatherFactors {
				factors[name] = math.NaN()
			}
		}

		if s, ok := enclosing(socio, inc.FireTime, func(r domain.SocioRecord) time.Time { return r.Time }); ok {
			for k, samples := range s.Samples() {
				factors[domain.SocioFactors[k]] = mean(samples)
			}
		} else {
			for _, name := range domain.SocioFactors {
				factors[name] = math.NaN()
			}
		}

		out[i] = domain.JoinedIncidentFactors{Incident: inc, Factors: factors}
	}
	return out
}

// IncidentLinkedFactorColumns samples every factor once per incident, in incident order.
func IncidentLinkedFactorColumns(joined []domain.JoinedIncidentFactors) Columns {
	return Transpose(joined, AllFactors, JoinedValues)
}

func enclosing[R any](series []R, t time.Time, timeOf func(R) time.Time) (R, bool) {
	i := sort.Search(len(series), func(i int) bool {
		return timeOf(series[i]).After(t)
	})
	if i == 0 {
		var zero R
		return zero, false
	}
	return series[i-1], true
}

func mean(samples []float64) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

package factor

import "math"

// Correlation is the Pearson coefficient between two factor columns over N usable pairs.
type Correlation struct {
	A string  `json:"a"`
	B string  `json:"b"`
	R float64 `json:"r"`
	N int     `json:"n"`
}

// Pearson returns the correlation coefficient of x and y and the number of pairs used.
// Pairs where either side is NaN are skipped. Mismatched lengths, fewer than two pairs
// or a constant side give 0.
func Pearson(x, y []float64) (float64, int) {
	if len(x) != len(y) {
		return 0, 0
	}

	xs := make([]float64, 0, len(x))
	ys := make([]float64, 0, len(y))
	for i := range x {
		if math.IsNaN(x[i]) || math.IsNaN(y[i]) {
			continue
		}
		xs = append(xs, x[i])
		ys = append(ys, y[i])
	}
	n := len(xs)
	if n < 2 {
		return 0, n
	}

	meanX, meanY := mean(xs), mean(ys)
	var sumXY, sumX2, sumY2 float64
	for i := range xs {
		dx := xs[i] - meanX
		dy := ys[i] - meanY
		sumXY += dx * dy
		sumX2 += dx * dx
		sumY2 += dy * dy
	}
	if sumX2 == 0 || sumY2 == 0 {
		return 0, n
	}
	return sumXY / math.Sqrt(sumX2*sumY2), n
}

// Correlations computes Pearson r for every pair of non-empty columns of equal length,
// in Names order. Flattened socio columns whose length differs from the weather
// columns are only paired with each other.
func Correlations(cols Columns) []Correlation {
	names := cols.Names()
	var out []Correlation
	for i, a := range names {
		for _, b := range names[i+1:] {
			x, y := cols[a], cols[b]
			if len(x) == 0 || len(x) != len(y) {
				continue
			}
			r, n := Pearson(x, y)
			out = append(out, Correlation{A: a, B: b, R: r, N: n})
		}
	}
	return out
}

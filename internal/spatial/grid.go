// Package spatial bins incidents into a regular latitude/longitude grid for the density
// and dispatch-distance map layers.
package spatial

import (
	"cmp"
	"errors"
	"math"
	"slices"

	"github.com/golang/geo/s2"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
)

// EarthRadiusKm is the mean Earth radius.
const EarthRadiusKm = 6371.0088

// MinCellDeg is the smallest accepted cell size. Coordinates divided by anything smaller
// no longer fit the integer row and column indexes exactly.
const MinCellDeg = 1e-9

// ErrInvalidCellSize is returned for a cell size below MinCellDeg or non-finite.
var ErrInvalidCellSize = errors.New("cell size must be a finite number of degrees of at least 1e-9")

// Cell aggregates the incidents whose fire location falls inside one grid square.
type Cell struct {
	Row    int     `json:"row"`
	Col    int     `json:"col"`
	MinLat float64 `json:"min_lat"`
	MinLng float64 `json:"min_lng"`
	MaxLat float64 `json:"max_lat"`
	MaxLng float64 `json:"max_lng"`

	// FireCount counts distinct fire_code values.
	FireCount int `json:"fire_count"`
	// IncidentCount counts rows, one per responding unit.
	IncidentCount int `json:"incident_count"`
	// StationCount counts distinct responding stations.
	StationCount int `json:"station_count"`
	// ReinforcementCount is IncidentCount minus FireCount: units beyond the first per fire.
	ReinforcementCount int `json:"reinforcement_count"`
	// TotalDistanceKm sums the great-circle distance from each responding station to its fire.
	TotalDistanceKm float64 `json:"total_distance_km"`
}

// DistanceKm returns the great-circle distance between two points.
func DistanceKm(lat1, lng1, lat2, lng2 float64) float64 {
	p1 := s2.LatLngFromDegrees(lat1, lng1)
	p2 := s2.LatLngFromDegrees(lat2, lng2)
	return p1.Distance(p2).Radians() * EarthRadiusKm
}

// BuildGrid bins incidents by fire location into square cells of cellDeg degrees. Only
// cells holding at least one incident are returned, ordered by row then column.
func BuildGrid(incidents []domain.IncidentRecord, cellDeg float64) ([]Cell, error) {
	if !(cellDeg >= MinCellDeg) || math.IsInf(cellDeg, 0) {
		return nil, ErrInvalidCellSize
	}

	type key struct{ row, col int }
	type acc struct {
		cell     Cell
		fires    map[int64]struct{}
		stations map[string]struct{}
	}
	cells := make(map[key]*acc)

	for _, inc := range incidents {
		k := key{
			row: int(math.Floor(inc.FireLat / cellDeg)),
			col: int(math.Floor(inc.FireLng / cellDeg)),
		}
		a, ok := cells[k]
		if !ok {
			a = &acc{
				cell: Cell{
					Row:    k.row,
					Col:    k.col,
					MinLat: float64(k.row) * cellDeg,
					MinLng: float64(k.col) * cellDeg,
					MaxLat: float64(k.row+1) * cellDeg,
					MaxLng: float64(k.col+1) * cellDeg,
				},
				fires:    make(map[int64]struct{}),
				stations: make(map[string]struct{}),
			}
			cells[k] = a
		}
		a.cell.IncidentCount++
		a.cell.TotalDistanceKm += DistanceKm(inc.StationLat, inc.StationLng, inc.FireLat, inc.FireLng)
		a.fires[inc.FireCode] = struct{}{}
		a.stations[inc.StationCode] = struct{}{}
	}

	out := make([]Cell, 0, len(cells))
	for _, a := range cells {
		a.cell.FireCount = len(a.fires)
		a.cell.StationCount = len(a.stations)
		a.cell.ReinforcementCount = a.cell.IncidentCount - a.cell.FireCount
		out = append(out, a.cell)
	}
	slices.SortFunc(out, func(a, b Cell) int {
		if c := cmp.Compare(a.Row, b.Row); c != 0 {
			return c
		}
		return cmp.Compare(a.Col, b.Col)
	})
	return out, nil
}

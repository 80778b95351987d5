// Command validate performs data integrity checks on a fire, weather and socio-economic
// data set. It loads every source leniently, then verifies that the rows normalize, that
// rows of the same fire agree, and that every derived view is consistent with the
// filtered incidents for each calendar year in the data.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -data-dir data \
//	  -tz Asia/Shanghai
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
	_ "time/tzdata"

	"github.com/couchcryptid/fire-data-etl/internal/adapter/file"
	"github.com/couchcryptid/fire-data-etl/internal/domain"
	"github.com/couchcryptid/fire-data-etl/internal/factor"
	"github.com/couchcryptid/fire-data-etl/internal/spatial"
	"github.com/couchcryptid/fire-data-etl/internal/store"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	dataDir := flag.String("data-dir", "", "directory containing fire_info.csv, weather_info.csv and other_info.json")
	tz := flag.String("tz", "Asia/Shanghai", "time zone for timestamps without an offset")
	flag.Parse()

	if *dataDir == "" {
		flag.Usage()
		os.Exit(1)
	}
	loc, err := time.LoadLocation(*tz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: invalid -tz: %v\n", err)
		os.Exit(1)
	}

	if code := run(*dataDir, loc); code != 0 {
		os.Exit(code)
	}
}

func run(dataDir string, loc *time.Location) int {
	ctx := context.Background()
	normalizer := domain.NewNormalizer(loc)

	fmt.Println("=== Fire Data Integrity Validation ===")
	fmt.Println()

	// ── Load all data sources ──
	incidents := store.NewIncidentStore(normalizer, 0)
	incidentReport, err := incidents.LoadLenient(ctx, file.CSVFile{Path: filepath.Join(dataDir, "fire_info.csv")})
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load incidents: %v\n", err)
		return 1
	}

	aux := store.NewAuxiliaryStore(normalizer)
	auxReport, err := aux.LoadLenient(ctx,
		file.CSVFile{Path: filepath.Join(dataDir, "weather_info.csv")},
		file.JSONFile{Path: filepath.Join(dataDir, "other_info.json")},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: load auxiliary series: %v\n", err)
		return 1
	}

	// ── Run validation phases ──
	phases := []*phase{
		validateSources(incidentReport, auxReport),
		validateIncidents(incidents.Incidents()),
		validateViews(incidents, loc),
		validateFactors(incidents, aux),
	}

	// ── Report results ──
	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Records: %d incident rows, %d weather periods, %d socio periods\n",
		incidents.Len(), len(aux.Weather()), len(aux.Socio()))

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

// ── Phase 1: Source Normalization ──

func validateSources(incidents store.LoadReport, aux store.AuxLoadReport) *phase {
	p := &phase{name: "Phase 1: Source Normalization"}
	reportSkipped(p, "fire_info.csv", incidents)
	reportSkipped(p, "weather_info.csv", aux.Weather)
	reportSkipped(p, "other_info.json", aux.Socio)
	if incidents.Loaded == 0 {
		p.errorf("fire_info.csv: no incident rows loaded")
	}
	return p
}

func reportSkipped(p *phase, source string, r store.LoadReport) {
	for _, s := range r.Skipped {
		p.errorf("%s row %d: %v", source, s.Row, s.Err)
	}
}

// ── Phase 2: Incident Consistency ──
// Rows of one fire must agree on the fire's time, type and coordinates; each station
// must have a single location.

func validateIncidents(all []domain.IncidentRecord) *phase {
	p := &phase{name: "Phase 2: Incident Consistency"}

	ids := map[int64]bool{}
	fires := map[int64]domain.IncidentRecord{}
	stations := map[string]domain.IncidentRecord{}
	for i, rec := range all {
		if i > 0 && rec.FireTime.Before(all[i-1].FireTime) {
			p.errorf("incident %d: not sorted by fire_time", rec.ID)
		}
		if ids[rec.ID] {
			p.errorf("incident %d: duplicate id", rec.ID)
		}
		ids[rec.ID] = true

		if first, ok := fires[rec.FireCode]; ok {
			if !first.FireTime.Equal(rec.FireTime) {
				p.errorf("fire %d: incident %d fire_time %s differs from %s", rec.FireCode, rec.ID,
					rec.FireTime.Format(time.RFC3339), first.FireTime.Format(time.RFC3339))
			}
			if first.FireType != rec.FireType {
				p.errorf("fire %d: incident %d fire_type %q differs from %q", rec.FireCode, rec.ID, rec.FireType, first.FireType)
			}
			if !coordEq(first.FireLat, rec.FireLat) || !coordEq(first.FireLng, rec.FireLng) {
				p.errorf("fire %d: incident %d coordinates differ", rec.FireCode, rec.ID)
			}
		} else {
			fires[rec.FireCode] = rec
		}

		if first, ok := stations[rec.StationCode]; ok {
			if !coordEq(first.StationLat, rec.StationLat) || !coordEq(first.StationLng, rec.StationLng) {
				p.errorf("station %s: incident %d coordinates differ", rec.StationCode, rec.ID)
			}
		} else {
			stations[rec.StationCode] = rec
		}

		if !domain.IsKnownCategory(rec.FireType) {
			fmt.Printf("  Note: incident %d has fire_type %q outside the vocabulary\n", rec.ID, rec.FireType)
		}
	}
	return p
}

// ── Phase 3: Derived Views ──
// For every calendar year holding incidents, the views must add up to the filtered set.

func validateViews(incidents *store.IncidentStore, loc *time.Location) *phase {
	p := &phase{name: "Phase 3: Derived Views (per year)"}

	all := incidents.Incidents()
	if len(all) == 0 {
		return p
	}
	categories := map[string]bool{}
	for _, rec := range all {
		categories[rec.FireType] = true
	}
	labels := make([]string, 0, len(categories))
	for c := range categories {
		labels = append(labels, c)
	}
	incidents.SetActiveCategories(labels)

	for year := all[0].FireTime.In(loc).Year(); year <= all[len(all)-1].FireTime.In(loc).Year(); year++ {
		start := time.Date(year, time.January, 1, 0, 0, 0, 0, loc)
		end := start.AddDate(1, 0, 0).Add(-time.Nanosecond)
		if err := incidents.SetTimeRange(start, end); err != nil {
			p.errorf("%d: set range: %v", year, err)
			continue
		}
		checkViews(p, year, incidents)
	}
	return p
}

func checkViews(p *phase, year int, incidents *store.IncidentStore) {
	filtered := incidents.FilteredIncidents()
	n := len(filtered)

	codes := map[int64]bool{}
	for _, rec := range filtered {
		codes[rec.FireCode] = true
	}
	locations := incidents.UniqueLocations()
	if len(locations) != len(codes) {
		p.errorf("%d: %d locations for %d distinct fire codes", year, len(locations), len(codes))
	}

	if got := sum(incidents.UniqueStations(), func(s domain.DerivedStation) int { return s.TaskCount }); got != n {
		p.errorf("%d: station task counts sum to %d, want %d", year, got, n)
	}
	if got := sum(incidents.CategoryCounts(), func(c domain.CategoryCount) int { return c.Value }); got != n {
		p.errorf("%d: category counts sum to %d, want %d", year, got, n)
	}
	if got := sum(incidents.MonthlyCounts(), func(c domain.PeriodCount) int { return c.Count }); got != n {
		p.errorf("%d: monthly counts sum to %d, want %d", year, got, n)
	}

	cells, err := spatial.BuildGrid(filtered, 0.05)
	if err != nil {
		p.errorf("%d: grid: %v", year, err)
		return
	}
	if got := sum(cells, func(c spatial.Cell) int { return c.IncidentCount }); got != n {
		p.errorf("%d: grid incident counts sum to %d, want %d", year, got, n)
	}
}

// ── Phase 4: Factor Columns ──

func validateFactors(incidents *store.IncidentStore, aux *store.AuxiliaryStore) *phase {
	p := &phase{name: "Phase 4: Factor Columns"}

	weather, socio := aux.Weather(), aux.Socio()
	whole, err := domain.NewTimeRange(time.Time{}, time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC))
	if err != nil {
		p.errorf("range: %v", err)
		return p
	}
	cols := aux.FilteredFactorColumns(whole)

	for _, name := range domain.WeatherFactors {
		if len(cols[name]) != len(weather) {
			p.errorf("weather column %q has %d values for %d periods", name, len(cols[name]), len(weather))
		}
	}
	for k, name := range domain.SocioFactors {
		want := 0
		for _, s := range socio {
			want += len(s.Samples()[k])
		}
		if len(cols[name]) != want {
			p.errorf("socio column %q has %d values, want %d samples", name, len(cols[name]), want)
		}
	}

	joined := factor.Join(incidents.Incidents(), weather, socio)
	linked := factor.IncidentLinkedFactorColumns(joined)
	for _, name := range factor.AllFactors {
		if len(linked[name]) != len(joined) {
			p.errorf("incident column %q has %d values for %d incidents", name, len(linked[name]), len(joined))
		}
	}

	for _, c := range append(factor.Correlations(cols), factor.Correlations(linked)...) {
		if math.IsNaN(c.R) || c.R < -1-1e-9 || c.R > 1+1e-9 {
			p.errorf("correlation %s/%s out of range: %g", c.A, c.B, c.R)
		}
	}
	return p
}

// ── Helpers ──

func sum[T any](items []T, f func(T) int) int {
	n := 0
	for _, it := range items {
		n += f(it)
	}
	return n
}

func coordEq(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

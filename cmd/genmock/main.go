// Command genmock generates deterministic fire, weather and socio-economic fixture
// files. It loads the generated files back through the store package so the output is
// guaranteed to normalize the same way the service will read it.
//
// Usage:
//
//	go run ./cmd/genmock \
//	  -out data \
//	  -fires 500 -stations 12 \
//	  -start 2015-01 -end 2020-12 \
//	  -seed 42
package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/couchcryptid/fire-data-etl/internal/adapter/file"
	"github.com/couchcryptid/fire-data-etl/internal/domain"
	"github.com/couchcryptid/fire-data-etl/internal/store"
	"github.com/jonboulle/clockwork"
)

const (
	fireFile    = "fire_info.csv"
	weatherFile = "weather_info.csv"
	socioFile   = "other_info.json"

	// Generated coordinates scatter around this center.
	centerLat = 30.27
	centerLng = 120.16
)

var incidentHeader = []string{
	domain.FieldID,
	domain.FieldFireCode,
	domain.FieldFireTime,
	domain.FieldFireType,
	domain.FieldStationCode,
	domain.FieldBattleType,
	domain.FieldFireLat,
	domain.FieldFireLng,
	domain.FieldStationLat,
	domain.FieldStationLng,
	domain.FieldStationBuildTime,
}

type options struct {
	out      string
	fires    int
	stations int
	regions  int
	start    time.Time
	end      time.Time
	seed     uint64
}

type station struct {
	code  string
	lat   float64
	lng   float64
	built time.Time
}

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	out := flag.String("out", "data", "output directory for the fixture files")
	fires := flag.Int("fires", 500, "number of distinct fires")
	stations := flag.Int("stations", 12, "number of fire stations")
	regions := flag.Int("regions", 3, "sub-regions per socio-economic period")
	start := flag.String("start", "2015-01", "first month (YYYY-MM)")
	end := flag.String("end", "2020-12", "last month (YYYY-MM)")
	seed := flag.Uint64("seed", 42, "random seed")
	flag.Parse()

	opts := options{out: *out, fires: *fires, stations: *stations, regions: *regions, seed: *seed}
	var err error
	if opts.start, err = time.ParseInLocation("2006-01", *start, time.UTC); err != nil {
		return fmt.Errorf("invalid -start: %w", err)
	}
	if opts.end, err = time.ParseInLocation("2006-01", *end, time.UTC); err != nil {
		return fmt.Errorf("invalid -end: %w", err)
	}
	if opts.end.Before(opts.start) {
		return fmt.Errorf("-end %s is before -start %s", *end, *start)
	}
	if opts.fires <= 0 || opts.stations <= 0 || opts.regions <= 0 {
		flag.Usage()
		return fmt.Errorf("-fires, -stations and -regions must be positive")
	}

	if err := os.MkdirAll(opts.out, 0o755); err != nil {
		return err
	}

	rng := rand.New(rand.NewPCG(opts.seed, opts.seed^0x9e3779b97f4a7c15))
	months := monthsBetween(opts.start, opts.end)
	sts := genStations(rng, opts.stations)

	incidents := genIncidents(rng, opts, sts)
	if err := writeCSV(filepath.Join(opts.out, fireFile), incidentHeader, incidents); err != nil {
		return fmt.Errorf("writing fire fixture: %w", err)
	}
	log.Printf("wrote %s: %d rows", fireFile, len(incidents))

	weather := genWeather(rng, months)
	if err := writeCSV(filepath.Join(opts.out, weatherFile), append([]string{domain.FieldTime}, domain.WeatherFactors...), weather); err != nil {
		return fmt.Errorf("writing weather fixture: %w", err)
	}
	log.Printf("wrote %s: %d rows", weatherFile, len(weather))

	socio := genSocio(rng, months, opts.regions)
	if err := writeJSON(filepath.Join(opts.out, socioFile), socio); err != nil {
		return fmt.Errorf("writing socio fixture: %w", err)
	}
	log.Printf("wrote %s: %d documents", socioFile, len(socio))

	return verify(opts.out)
}

func monthsBetween(start, end time.Time) []time.Time {
	var months []time.Time
	for m := start; !m.After(end); m = m.AddDate(0, 1, 0) {
		months = append(months, m)
	}
	return months
}

func genStations(rng *rand.Rand, n int) []station {
	out := make([]station, n)
	for i := range out {
		out[i] = station{
			code:  fmt.Sprintf("HZ%02d", i+1),
			lat:   jitter(rng, centerLat, 0.15),
			lng:   jitter(rng, centerLng, 0.15),
			built: time.Date(1985+rng.IntN(30), time.Month(1+rng.IntN(12)), 1+rng.IntN(28), 0, 0, 0, 0, time.UTC),
		}
	}
	return out
}

// genIncidents emits one lead row per fire plus up to two reinforcement rows from other
// stations sharing the fire's code, time, type and coordinates.
func genIncidents(rng *rand.Rand, opts options, sts []station) [][]string {
	span := opts.end.AddDate(0, 1, 0).Sub(opts.start)
	rows := make([][]string, 0, opts.fires*2)
	id := 1
	for f := range opts.fires {
		code := 5000 + f + 1
		at := opts.start.Add(time.Duration(rng.Int64N(int64(span)))).Truncate(time.Minute)
		kind := pickCategory(rng)
		lat := jitter(rng, centerLat, 0.2)
		lng := jitter(rng, centerLng, 0.2)

		order := rng.Perm(len(sts))
		responders := 1 + rng.IntN(min(3, len(sts)))
		for r := range responders {
			st := sts[order[r]]
			battle := "增援"
			if r == 0 {
				battle = "主战"
			}
			rows = append(rows, []string{
				strconv.Itoa(id),
				strconv.Itoa(code),
				at.Format("2006-01-02 15:04:05"),
				kind,
				st.code,
				battle,
				formatCoord(lat),
				formatCoord(lng),
				formatCoord(st.lat),
				formatCoord(st.lng),
				st.built.Format("2006-01-02"),
			})
			id++
		}
	}
	return rows
}

// pickCategory favors the head of the vocabulary so category counts are skewed.
func pickCategory(rng *rand.Rand) string {
	n := len(domain.CategoryVocabulary)
	i := int(math.Floor(float64(n) * math.Pow(rng.Float64(), 2.5)))
	return domain.CategoryVocabulary[min(i, n-1)]
}

func genWeather(rng *rand.Rand, months []time.Time) [][]string {
	rows := make([][]string, len(months))
	for i, m := range months {
		seasonal := -math.Cos(2 * math.Pi * float64(m.Month()-1) / 12)
		t := 17 + 12*seasonal + rng.NormFloat64()
		maxAve := t + 4 + rng.Float64()
		minAve := t - 4 - rng.Float64()
		prec := math.Max(0, 110+60*seasonal+25*rng.NormFloat64())
		wetDays := 6 + rng.IntN(10)
		cold := seasonal < -0.5

		snow, frost := 0, 0
		if cold {
			snow = rng.IntN(4)
			frost = 5 + rng.IntN(12)
		}
		rows[i] = []string{
			m.Format("2006-01"),
			formatFloat(t),
			formatFloat(maxAve),
			formatFloat(minAve),
			formatFloat(maxAve + 6 + 2*rng.Float64()),
			formatFloat(minAve - 6 - 2*rng.Float64()),
			formatFloat(prec),
			strconv.Itoa(wetDays),
			strconv.Itoa(wetDays + rng.IntN(5)),
			strconv.Itoa(snow),
			strconv.Itoa(rng.IntN(6)),
			strconv.Itoa(rng.IntN(5)),
			strconv.Itoa(frost),
		}
	}
	return rows
}

// genSocio emits one document per year: population density and enterprise counts per
// sub-region, with registered capital as a single city-wide figure.
func genSocio(rng *rand.Rand, months []time.Time, regions int) []map[string]any {
	var docs []map[string]any
	for i, m := range months {
		if i > 0 && m.Month() != time.January {
			continue
		}
		density := make([]float64, regions)
		enterprises := make([]float64, regions)
		growth := float64(m.Year() - months[0].Year())
		for r := range regions {
			density[r] = round1(900 + 150*float64(r) + 12*growth + 20*rng.NormFloat64())
			enterprises[r] = math.Round(14000 + 800*growth + 500*rng.NormFloat64())
		}
		docs = append(docs, map[string]any{
			domain.FieldTime:                   m.Format("2006-01"),
			domain.FactorPopulationDensity:     density,
			domain.FactorMeanRegisteredCapital: round1(320 + 9*growth + 5*rng.NormFloat64()),
			domain.FactorEnterpriseCount:       enterprises,
		})
	}
	return docs
}

// verify reloads the written files through the stores and prints summary stats.
func verify(dir string) error {
	// Fixed clock for reproducible load timestamps in the summary.
	store.SetClock(clockwork.NewFakeClockAt(time.Date(2024, time.April, 27, 6, 0, 0, 0, time.UTC)))
	defer store.SetClock(nil)

	ctx := context.Background()
	normalizer := domain.NewNormalizer(time.UTC)

	incidents := store.NewIncidentStore(normalizer, 0)
	if err := incidents.Load(ctx, file.CSVFile{Path: filepath.Join(dir, fireFile)}); err != nil {
		return fmt.Errorf("verify %s: %w", fireFile, err)
	}
	aux := store.NewAuxiliaryStore(normalizer)
	if err := aux.Load(ctx,
		file.CSVFile{Path: filepath.Join(dir, weatherFile)},
		file.JSONFile{Path: filepath.Join(dir, socioFile)},
	); err != nil {
		return fmt.Errorf("verify auxiliary: %w", err)
	}

	all := incidents.Incidents()
	first, last := all[0].FireTime, all[len(all)-1].FireTime
	if err := incidents.SetTimeRange(first, last); err != nil {
		return err
	}

	fmt.Println("\n=== Stats for updating test assertions ===")
	fmt.Printf("Loaded at: %s\n", incidents.LoadedAt().Format(time.RFC3339))
	fmt.Printf("Incident rows: %d (%s .. %s)\n", len(all), first.Format(time.DateOnly), last.Format(time.DateOnly))
	fmt.Printf("Distinct fires: %d\n", len(incidents.UniqueLocations()))
	fmt.Printf("Weather periods: %d, socio periods: %d\n", len(aux.Weather()), len(aux.Socio()))

	stations := incidents.UniqueStations()
	sort.Slice(stations, func(i, j int) bool { return stations[i].TaskCount > stations[j].TaskCount })
	fmt.Printf("Stations (%d):", len(stations))
	for _, st := range stations {
		fmt.Printf(" %s=%d", st.StationCode, st.TaskCount)
	}
	fmt.Println()

	fmt.Println("Top categories:")
	counts := incidents.CategoryCounts()
	for _, c := range counts[:min(5, len(counts))] {
		fmt.Printf("  %s=%d\n", c.Name, c.Value)
	}
	return nil
}

func jitter(rng *rand.Rand, center, spread float64) float64 {
	return center + spread*(2*rng.Float64()-1)
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(round1(v), 'f', 1, 64)
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}

func writeCSV(path string, header []string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(header); err != nil {
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.Close()
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o600)
}

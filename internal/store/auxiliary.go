package store

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
	"github.com/couchcryptid/fire-data-etl/internal/factor"
)

// AuxBatch holds both normalized series ready to be committed.
type AuxBatch struct {
	weather []domain.WeatherRecord
	socio   []domain.SocioRecord
}

// WeatherLen returns the number of weather periods in the batch.
func (b AuxBatch) WeatherLen() int { return len(b.weather) }

// SocioLen returns the number of socio-economic periods in the batch.
func (b AuxBatch) SocioLen() int { return len(b.socio) }

// AuxLoadReport is the lenient-load report for both series.
type AuxLoadReport struct {
	Weather LoadReport `json:"weather"`
	Socio   LoadReport `json:"socio"`
}

// AuxiliaryStore owns the weather and socio-economic series. It has no filter of its own;
// callers pass the incident store's time range at read time.
type AuxiliaryStore struct {
	normalizer *domain.Normalizer
	gate       loadGate

	mu                sync.RWMutex
	weather           []domain.WeatherRecord // sorted by Time, unique
	socio             []domain.SocioRecord   // sorted by Time, unique
	highlightedFactor string
	loadedAt          time.Time
}

// NewAuxiliaryStore creates an empty store.
func NewAuxiliaryStore(normalizer *domain.Normalizer) *AuxiliaryStore {
	return &AuxiliaryStore{
		normalizer: normalizer,
		gate:       newLoadGate(),
	}
}

// Load reads and normalizes both series and replaces them together. A failure in either
// leaves both unchanged.
func (s *AuxiliaryStore) Load(ctx context.Context, weather RowSource, socio DocumentSource) error {
	release, err := s.gate.acquire(ctx)
	if err != nil {
		return fmt.Errorf("load auxiliary series: %w", err)
	}
	defer release()

	rows, docs, err := readAux(ctx, weather, socio)
	if err != nil {
		return err
	}
	batch, err := s.Prepare(rows, docs)
	if err != nil {
		return err
	}
	s.commit(batch)
	return nil
}

// LoadLenient skips malformed rows and documents and reports them. Duplicate periods are
// skipped too, keeping the first occurrence.
func (s *AuxiliaryStore) LoadLenient(ctx context.Context, weather RowSource, socio DocumentSource) (AuxLoadReport, error) {
	release, err := s.gate.acquire(ctx)
	if err != nil {
		return AuxLoadReport{}, fmt.Errorf("load auxiliary series: %w", err)
	}
	defer release()

	rows, docs, err := readAux(ctx, weather, socio)
	if err != nil {
		return AuxLoadReport{}, err
	}
	batch, report := s.PrepareLenient(rows, docs)
	s.commit(batch)
	return report, nil
}

func readAux(ctx context.Context, weather RowSource, socio DocumentSource) ([]domain.RawRow, []domain.RawDocument, error) {
	rows, err := weather.Rows(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load weather: read rows: %w", err)
	}
	docs, err := socio.Documents(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("load socio: read documents: %w", err)
	}
	return rows, docs, nil
}

// Prepare normalizes both series without touching the store.
func (s *AuxiliaryStore) Prepare(rows []domain.RawRow, docs []domain.RawDocument) (AuxBatch, error) {
	weather, _, err := normalizeAll(rows, s.normalizer.ParseWeather, false)
	if err != nil {
		return AuxBatch{}, fmt.Errorf("load weather: %w", err)
	}
	socio, _, err := normalizeAll(docs, s.normalizer.ParseSocio, false)
	if err != nil {
		return AuxBatch{}, fmt.Errorf("load socio: %w", err)
	}

	var skipped []SkippedRow
	weather, skipped = sortUnique(weather, func(r domain.WeatherRecord) time.Time { return r.Time })
	if len(skipped) > 0 {
		return AuxBatch{}, fmt.Errorf("load weather: %w", skipped[0].Err)
	}
	socio, skipped = sortUnique(socio, func(r domain.SocioRecord) time.Time { return r.Time })
	if len(skipped) > 0 {
		return AuxBatch{}, fmt.Errorf("load socio: %w", skipped[0].Err)
	}
	return AuxBatch{weather: weather, socio: socio}, nil
}

// PrepareLenient is Prepare with malformed and duplicate entries skipped and reported.
func (s *AuxiliaryStore) PrepareLenient(rows []domain.RawRow, docs []domain.RawDocument) (AuxBatch, AuxLoadReport) {
	weather, wr, _ := normalizeAll(rows, s.normalizer.ParseWeather, true)
	socio, sr, _ := normalizeAll(docs, s.normalizer.ParseSocio, true)

	var dup []SkippedRow
	weather, dup = sortUnique(weather, func(r domain.WeatherRecord) time.Time { return r.Time })
	wr = withDuplicates(wr, dup, len(weather))
	socio, dup = sortUnique(socio, func(r domain.SocioRecord) time.Time { return r.Time })
	sr = withDuplicates(sr, dup, len(socio))

	return AuxBatch{weather: weather, socio: socio}, AuxLoadReport{Weather: wr, Socio: sr}
}

// Commit replaces both series with a prepared batch.
func (s *AuxiliaryStore) Commit(ctx context.Context, batch AuxBatch) error {
	release, err := s.gate.acquire(ctx)
	if err != nil {
		return fmt.Errorf("commit auxiliary series: %w", err)
	}
	defer release()
	s.commit(batch)
	return nil
}

func (s *AuxiliaryStore) commit(batch AuxBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weather = batch.weather
	s.socio = batch.socio
	s.loadedAt = clock.Now()
}

// sortUnique stable-sorts records by time and drops repeated periods. Dropped entries are
// returned with their position in the input and a ParseError wrapping
// domain.ErrDuplicateTimestamp. The position is the index among parsed records; see
// withDuplicates for mapping it back to an input row.
func sortUnique[R any](records []R, timeOf func(R) time.Time) ([]R, []SkippedRow) {
	type indexed struct {
		rec R
		pos int
	}
	items := make([]indexed, len(records))
	for i, r := range records {
		items[i] = indexed{rec: r, pos: i}
	}
	slices.SortStableFunc(items, func(a, b indexed) int {
		return timeOf(a.rec).Compare(timeOf(b.rec))
	})

	out := make([]R, 0, len(items))
	var dup []SkippedRow
	for i, it := range items {
		if i > 0 && timeOf(it.rec).Equal(timeOf(items[i-1].rec)) {
			t := timeOf(it.rec)
			dup = append(dup, SkippedRow{
				Row: it.pos,
				Err: &domain.ParseError{Field: domain.FieldTime, Value: t.Format(time.RFC3339), Row: it.pos, Err: domain.ErrDuplicateTimestamp},
			})
			continue
		}
		out = append(out, it.rec)
	}
	return out, dup
}

// withDuplicates adds duplicate periods to a lenient report. Duplicate positions count
// parsed records only, so each is shifted past the rows that already failed to parse.
func withDuplicates(r LoadReport, dup []SkippedRow, loaded int) LoadReport {
	failed := r.Skipped
	for _, d := range dup {
		row := d.Row
		for _, f := range failed {
			if f.Row <= row {
				row++
			}
		}
		d.Row = row
		if pe, ok := d.Err.(*domain.ParseError); ok {
			pe.Row = row
		}
		r.Skipped = append(r.Skipped, d)
	}
	slices.SortFunc(r.Skipped, func(a, b SkippedRow) int { return a.Row - b.Row })
	r.Loaded = loaded
	return r
}

// Weather returns a copy of the weather series in time order.
func (s *AuxiliaryStore) Weather() []domain.WeatherRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.weather)
}

// Socio returns a copy of the socio-economic series in time order. Sample slices are
// shared and must not be modified.
func (s *AuxiliaryStore) Socio() []domain.SocioRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.socio)
}

// LoadedAt returns when the series were last committed.
func (s *AuxiliaryStore) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// FilteredFactorColumns selects the records of each series inside r (bounds included)
// and transposes them into one column per factor. Socio-economic arrays are flattened.
// When both series carry the same factor name the socio-economic column wins.
func (s *AuxiliaryStore) FilteredFactorColumns(r domain.TimeRange) factor.Columns {
	s.mu.RLock()
	weather, socio := s.weather, s.socio
	s.mu.RUnlock()

	weather = inRange(weather, r, func(w domain.WeatherRecord) time.Time { return w.Time })
	socio = inRange(socio, r, func(x domain.SocioRecord) time.Time { return x.Time })

	return seriesColumns(
		factor.Transpose(weather, domain.WeatherFactors, factor.WeatherValues),
		factor.Transpose(socio, domain.SocioFactors, factor.SocioValues),
	)
}

// seriesColumns combines the per-series columns. Weather is the base and socio-economic
// columns override it on a shared name.
func seriesColumns(weather, socio factor.Columns) factor.Columns {
	return factor.Merge(weather, socio)
}

// inRange returns the sub-slice of a time-sorted series inside r.
func inRange[R any](series []R, r domain.TimeRange, timeOf func(R) time.Time) []R {
	lo := sort.Search(len(series), func(i int) bool { return !timeOf(series[i]).Before(r.Start) })
	hi := sort.Search(len(series), func(i int) bool { return timeOf(series[i]).After(r.End) })
	if lo >= hi {
		return nil
	}
	return series[lo:hi]
}

// SetHighlightedFactor marks a factor for emphasis. An empty name clears it.
func (s *AuxiliaryStore) SetHighlightedFactor(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlightedFactor = name
}

// HighlightedFactor returns the highlighted factor, or "" when none is set.
func (s *AuxiliaryStore) HighlightedFactor() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highlightedFactor
}

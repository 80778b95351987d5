package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
)

// View names used as cache keys.
const (
	viewFiltered         = "filtered"
	viewCategoryFiltered = "category_filtered"
	viewLocations        = "locations"
	viewStations         = "stations"
	viewCategoryCounts   = "category_counts"
	viewMonthlyCounts    = "monthly_counts"
)

// IncidentBatch is a normalized, time-sorted incident set ready to be committed.
type IncidentBatch struct {
	records []domain.IncidentRecord
}

// Len returns the number of records in the batch.
func (b IncidentBatch) Len() int { return len(b.records) }

// IncidentStore owns the canonical incident collection and the session filter. Every
// derived view is recomputed from the current collection and filter on read; the view
// cache only memoizes results for an unchanged state version.
type IncidentStore struct {
	normalizer *domain.Normalizer
	gate       loadGate
	cache      *viewCache

	mu           sync.RWMutex
	incidents    []domain.IncidentRecord // sorted by FireTime, never mutated in place
	filter       domain.FilterState      // Categories replaced wholesale, never mutated
	highlighted  string
	hasHighlight bool
	loadedAt     time.Time
	version      uint64
}

// NewIncidentStore creates an empty store with the default filter: the full data-set
// span and every vocabulary category. cacheSize <= 0 disables view memoization.
func NewIncidentStore(normalizer *domain.Normalizer, cacheSize int) *IncidentStore {
	return &IncidentStore{
		normalizer: normalizer,
		gate:       newLoadGate(),
		cache:      newViewCache(cacheSize),
		filter: domain.FilterState{
			Range:      domain.DefaultTimeRange(normalizer.Location()),
			Categories: domain.DefaultCategories(),
		},
	}
}

// Load reads all rows from src, normalizes and sorts them, and replaces the canonical
// collection. Loads are queued: a concurrent call waits until this one finishes. On any
// error the previous collection stays in place.
func (s *IncidentStore) Load(ctx context.Context, src RowSource) error {
	release, err := s.gate.acquire(ctx)
	if err != nil {
		return fmt.Errorf("load incidents: %w", err)
	}
	defer release()

	rows, err := src.Rows(ctx)
	if err != nil {
		return fmt.Errorf("load incidents: read rows: %w", err)
	}
	batch, err := s.Prepare(rows)
	if err != nil {
		return err
	}
	s.commit(batch)
	return nil
}

// LoadRows is Load over rows already in memory.
func (s *IncidentStore) LoadRows(ctx context.Context, rows []domain.RawRow) error {
	return s.Load(ctx, StaticRows(rows))
}

// LoadLenient is the partial-tolerant load: malformed rows are skipped and listed in the
// report instead of aborting the load. Source read errors still abort.
func (s *IncidentStore) LoadLenient(ctx context.Context, src RowSource) (LoadReport, error) {
	release, err := s.gate.acquire(ctx)
	if err != nil {
		return LoadReport{}, fmt.Errorf("load incidents: %w", err)
	}
	defer release()

	rows, err := src.Rows(ctx)
	if err != nil {
		return LoadReport{}, fmt.Errorf("load incidents: read rows: %w", err)
	}
	batch, report := s.PrepareLenient(rows)
	s.commit(batch)
	return report, nil
}

// Prepare normalizes rows into a sorted batch without touching the store.
func (s *IncidentStore) Prepare(rows []domain.RawRow) (IncidentBatch, error) {
	records, _, err := normalizeAll(rows, s.normalizer.ParseIncident, false)
	if err != nil {
		return IncidentBatch{}, fmt.Errorf("load incidents: %w", err)
	}
	sortIncidents(records)
	return IncidentBatch{records: records}, nil
}

// PrepareLenient is Prepare with malformed rows skipped and reported.
func (s *IncidentStore) PrepareLenient(rows []domain.RawRow) (IncidentBatch, LoadReport) {
	records, report, _ := normalizeAll(rows, s.normalizer.ParseIncident, true)
	sortIncidents(records)
	return IncidentBatch{records: records}, report
}

// Commit replaces the canonical collection with a prepared batch, waiting for any
// in-flight load first.
func (s *IncidentStore) Commit(ctx context.Context, batch IncidentBatch) error {
	release, err := s.gate.acquire(ctx)
	if err != nil {
		return fmt.Errorf("commit incidents: %w", err)
	}
	defer release()
	s.commit(batch)
	return nil
}

func (s *IncidentStore) commit(batch IncidentBatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.incidents = batch.records
	s.loadedAt = clock.Now()
	s.version++
}

// sortIncidents orders by FireTime; equal times keep input row order.
func sortIncidents(records []domain.IncidentRecord) {
	slices.SortStableFunc(records, func(a, b domain.IncidentRecord) int {
		return a.FireTime.Compare(b.FireTime)
	})
}

// SetTimeRange replaces the time bound of the filter. A range starting after it ends is
// rejected with *domain.InvalidRangeError and the previous range is kept.
func (s *IncidentStore) SetTimeRange(start, end time.Time) error {
	r, err := domain.NewTimeRange(start, end)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Range = r
	s.version++
	return nil
}

// SetActiveCategories replaces the category set. Labels outside the vocabulary are kept.
func (s *IncidentStore) SetActiveCategories(labels []string) {
	set := domain.NewCategorySet(labels)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter.Categories = set
	s.version++
}

// SetFilter replaces range and categories together.
func (s *IncidentStore) SetFilter(f domain.FilterState) error {
	r, err := domain.NewTimeRange(f.Range.Start, f.Range.End)
	if err != nil {
		return err
	}
	set := f.Categories.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filter = domain.FilterState{Range: r, Categories: set}
	s.version++
	return nil
}

// UpdateFilter applies update to a copy of the active filter and commits the result
// under the write lock, so concurrent partial updates are not lost. An inverted range is
// rejected and the filter is left unchanged.
func (s *IncidentStore) UpdateFilter(update func(*domain.FilterState)) (domain.FilterState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := domain.FilterState{Range: s.filter.Range, Categories: s.filter.Categories.Clone()}
	update(&next)
	r, err := domain.NewTimeRange(next.Range.Start, next.Range.End)
	if err != nil {
		return domain.FilterState{Range: s.filter.Range, Categories: s.filter.Categories.Clone()}, err
	}
	s.filter = domain.FilterState{Range: r, Categories: next.Categories.Clone()}
	s.version++
	return domain.FilterState{Range: r, Categories: next.Categories.Clone()}, nil
}

// FilterState returns a copy of the active filter.
func (s *IncidentStore) FilterState() domain.FilterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.FilterState{Range: s.filter.Range, Categories: s.filter.Categories.Clone()}
}

// TimeRange returns the active time range.
func (s *IncidentStore) TimeRange() domain.TimeRange {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.filter.Range
}

// SetHighlighted marks a category for emphasis. It has no effect on any view.
func (s *IncidentStore) SetHighlighted(label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlighted = label
	s.hasHighlight = true
}

// ClearHighlighted removes the highlight.
func (s *IncidentStore) ClearHighlighted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlighted = ""
	s.hasHighlight = false
}

// Highlighted returns the highlighted category, if any.
func (s *IncidentStore) Highlighted() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.highlighted, s.hasHighlight
}

// LoadedAt returns when the current collection was committed; zero before the first load.
func (s *IncidentStore) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loadedAt
}

// Len returns the size of the canonical collection.
func (s *IncidentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.incidents)
}

// Incidents returns a copy of the canonical collection in time order.
func (s *IncidentStore) Incidents() []domain.IncidentRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.incidents)
}

// incidentState is a consistent read of the store. The slice and set are shared with the
// store but never mutated after publication.
type incidentState struct {
	incidents []domain.IncidentRecord
	filter    domain.FilterState
	version   uint64
}

func (s *IncidentStore) state() incidentState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return incidentState{incidents: s.incidents, filter: s.filter, version: s.version}
}

// view runs compute against one consistent state, memoized per state version.
func view[T any](s *IncidentStore, name string, compute func(incidentState) []T) []T {
	st := s.state()
	v := s.cache.getOrCompute(viewKey{view: name, version: st.version}, func() any {
		return compute(st)
	})
	return slices.Clone(v.([]T))
}

// FilteredIncidents returns incidents with Start <= FireTime <= End and FireType in the
// active categories, in time order.
func (s *IncidentStore) FilteredIncidents() []domain.IncidentRecord {
	return view(s, viewFiltered, filterIncidents)
}

// CategoryFilteredIncidents applies the category filter only, over the whole time span.
func (s *IncidentStore) CategoryFilteredIncidents() []domain.IncidentRecord {
	return view(s, viewCategoryFiltered, func(st incidentState) []domain.IncidentRecord {
		out := make([]domain.IncidentRecord, 0, len(st.incidents))
		for _, rec := range st.incidents {
			if st.filter.Categories.Has(rec.FireType) {
				out = append(out, rec)
			}
		}
		return out
	})
}

// UniqueLocations returns one location per fire_code among the filtered incidents,
// taken from the earliest row.
func (s *IncidentStore) UniqueLocations() []domain.DerivedLocation {
	return view(s, viewLocations, func(st incidentState) []domain.DerivedLocation {
		return uniqueLocations(filterIncidents(st))
	})
}

// UniqueStations returns one station per station_code among the filtered incidents,
// taken from the earliest row, with TaskCount set to the number of filtered rows
// dispatched from it.
func (s *IncidentStore) UniqueStations() []domain.DerivedStation {
	return view(s, viewStations, func(st incidentState) []domain.DerivedStation {
		return uniqueStations(filterIncidents(st))
	})
}

// CategoryCounts returns the number of filtered incidents per fire_type, largest first.
func (s *IncidentStore) CategoryCounts() []domain.CategoryCount {
	return view(s, viewCategoryCounts, func(st incidentState) []domain.CategoryCount {
		return categoryCounts(filterIncidents(st))
	})
}

// MonthlyCounts returns filtered incidents per calendar month from the first to the last
// month with an incident, including empty months in between.
func (s *IncidentStore) MonthlyCounts() []domain.PeriodCount {
	loc := s.normalizer.Location()
	return view(s, viewMonthlyCounts, func(st incidentState) []domain.PeriodCount {
		return monthlyCounts(filterIncidents(st), loc)
	})
}

// MapViews returns the filter together with the location and station views computed
// against it, from one consistent state.
func (s *IncidentStore) MapViews() (domain.FilterState, []domain.DerivedLocation, []domain.DerivedStation) {
	st := s.state()
	filtered := filterIncidents(st)
	f := domain.FilterState{Range: st.filter.Range, Categories: st.filter.Categories.Clone()}
	return f, uniqueLocations(filtered), uniqueStations(filtered)
}

// filterIncidents narrows to the time window by binary search on the sorted collection,
// then applies the category predicate.
func filterIncidents(st incidentState) []domain.IncidentRecord {
	recs := st.incidents
	lo := sort.Search(len(recs), func(i int) bool {
		return !recs[i].FireTime.Before(st.filter.Range.Start)
	})
	hi := sort.Search(len(recs), func(i int) bool {
		return recs[i].FireTime.After(st.filter.Range.End)
	})

	out := make([]domain.IncidentRecord, 0, max(hi-lo, 0))
	for i := lo; i < hi; i++ {
		if st.filter.Categories.Has(recs[i].FireType) {
			out = append(out, recs[i])
		}
	}
	return out
}

func uniqueLocations(filtered []domain.IncidentRecord) []domain.DerivedLocation {
	seen := make(map[int64]struct{}, len(filtered))
	out := make([]domain.DerivedLocation, 0)
	for _, rec := range filtered {
		if _, ok := seen[rec.FireCode]; ok {
			continue
		}
		seen[rec.FireCode] = struct{}{}
		out = append(out, domain.DerivedLocation{
			FireCode:    rec.FireCode,
			FireLat:     rec.FireLat,
			FireLng:     rec.FireLng,
			StationCode: rec.StationCode,
			BattleType:  rec.BattleType,
			FireType:    rec.FireType,
		})
	}
	return out
}

func uniqueStations(filtered []domain.IncidentRecord) []domain.DerivedStation {
	counts := make(map[string]int)
	for _, rec := range filtered {
		counts[rec.StationCode]++
	}

	out := make([]domain.DerivedStation, 0, len(counts))
	seen := make(map[string]struct{}, len(counts))
	for _, rec := range filtered {
		if _, ok := seen[rec.StationCode]; ok {
			continue
		}
		seen[rec.StationCode] = struct{}{}
		out = append(out, domain.DerivedStation{
			StationCode: rec.StationCode,
			StationLat:  rec.StationLat,
			StationLng:  rec.StationLng,
			TaskCount:   counts[rec.StationCode],
		})
	}
	return out
}

func categoryCounts(filtered []domain.IncidentRecord) []domain.CategoryCount {
	counts := make(map[string]int)
	for _, rec := range filtered {
		counts[rec.FireType]++
	}
	out := make([]domain.CategoryCount, 0, len(counts))
	for name, n := range counts {
		out = append(out, domain.CategoryCount{Name: name, Value: n})
	}
	slices.SortFunc(out, func(a, b domain.CategoryCount) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}

func monthlyCounts(filtered []domain.IncidentRecord, loc *time.Location) []domain.PeriodCount {
	if len(filtered) == 0 {
		return []domain.PeriodCount{}
	}
	monthOf := func(t time.Time) time.Time {
		t = t.In(loc)
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	}

	counts := make(map[time.Time]int)
	for _, rec := range filtered {
		counts[monthOf(rec.FireTime)]++
	}

	first := monthOf(filtered[0].FireTime)
	last := monthOf(filtered[len(filtered)-1].FireTime)
	out := make([]domain.PeriodCount, 0)
	for m := first; !m.After(last); m = m.AddDate(0, 1, 0) {
		out = append(out, domain.PeriodCount{Date: m, Count: counts[m]})
	}
	return out
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
	"github.com/couchcryptid/fire-data-etl/internal/factor"
	"github.com/couchcryptid/fire-data-etl/internal/observability"
	"github.com/couchcryptid/fire-data-etl/internal/spatial"
	"github.com/couchcryptid/fire-data-etl/internal/store"
)

// ViewPublisher delivers derived map views to downstream consumers.
type ViewPublisher interface {
	PublishViews(ctx context.Context, snapshot domain.ViewSnapshot) error
}

// Sources are the three raw inputs of a session.
type Sources struct {
	Incidents store.RowSource
	Weather   store.RowSource
	Socio     store.DocumentSource
}

// Options tune session behaviour. The zero value loads strictly, publishes once and uses
// the real clock.
type Options struct {
	Lenient         bool
	PublishInterval time.Duration
	CacheSize       int
	Clock           clockwork.Clock
}

// Session owns the incident and auxiliary stores for one run of the service. It loads
// all sources, commits both stores together and serves derived views from them.
type Session struct {
	incidents *store.IncidentStore
	aux       *store.AuxiliaryStore
	sources   Sources
	publisher ViewPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	opts      Options
	clock     clockwork.Clock
	loading   chan struct{}
	ready     atomic.Bool
}

// New creates a Session. A nil publisher disables publishing.
func New(normalizer *domain.Normalizer, sources Sources, publisher ViewPublisher, logger *slog.Logger, metrics *observability.Metrics, opts Options) *Session {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		incidents: store.NewIncidentStore(normalizer, opts.CacheSize),
		aux:       store.NewAuxiliaryStore(normalizer),
		sources:   sources,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
		opts:      opts,
		clock:     clock,
		loading:   make(chan struct{}, 1),
	}
}

// Incidents returns the incident store.
func (s *Session) Incidents() *store.IncidentStore { return s.incidents }

// Auxiliary returns the weather and socio-economic store.
func (s *Session) Auxiliary() *store.AuxiliaryStore { return s.aux }

// CheckReadiness returns nil once a load has been committed, or an error describing why
// the service is not yet ready.
func (s *Session) CheckReadiness(_ context.Context) error {
	if !s.ready.Load() {
		return errors.New("session has not loaded its data sets yet")
	}
	return nil
}

// Ready reports whether a load has been committed.
func (s *Session) Ready() bool { return s.ready.Load() }

// Run loads the data sets, retrying I/O failures with exponential backoff, then
// publishes the derived views once or every PublishInterval until the context is
// cancelled. Malformed data is not retried.
func (s *Session) Run(ctx context.Context) error {
	s.logger.Info("session started", "lenient", s.opts.Lenient, "publish_interval", s.opts.PublishInterval)

	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second
	for {
		err := s.Load(ctx)
		if err == nil {
			break
		}
		if ctx.Err() != nil {
			s.logger.Info("session stopping", "reason", ctx.Err())
			return nil
		}
		var pe *domain.ParseError
		if errors.As(err, &pe) {
			return err
		}
		s.logger.Error("load failed", "error", err, "retry_in", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			return nil
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}

	s.publish(ctx)
	if s.opts.PublishInterval <= 0 {
		<-ctx.Done()
		s.logger.Info("session stopping", "reason", ctx.Err())
		return nil
	}

	ticker := s.clock.NewTicker(s.opts.PublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("session stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.publish(ctx)
		}
	}
}

// Load reads the three sources concurrently, normalizes them, and commits both stores.
// Any read or parse failure leaves both stores as they were. Concurrent calls queue.
func (s *Session) Load(ctx context.Context) error {
	select {
	case s.loading <- struct{}{}:
		defer func() { <-s.loading }()
	case <-ctx.Done():
		return fmt.Errorf("load session: %w", ctx.Err())
	}

	start := s.clock.Now()

	var (
		incidentRows []domain.RawRow
		weatherRows  []domain.RawRow
		socioDocs    []domain.RawDocument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := s.sources.Incidents.Rows(gctx)
		if err != nil {
			return fmt.Errorf("read incidents: %w", err)
		}
		incidentRows = rows
		return nil
	})
	g.Go(func() error {
		rows, err := s.sources.Weather.Rows(gctx)
		if err != nil {
			return fmt.Errorf("read weather: %w", err)
		}
		weatherRows = rows
		return nil
	})
	g.Go(func() error {
		docs, err := s.sources.Socio.Documents(gctx)
		if err != nil {
			return fmt.Errorf("read socio: %w", err)
		}
		socioDocs = docs
		return nil
	})
	if err := g.Wait(); err != nil {
		s.recordOutcome(observability.StoreIncidents, err)
		s.recordOutcome(observability.StoreAuxiliary, err)
		return err
	}

	incBatch, auxBatch, err := s.prepare(incidentRows, weatherRows, socioDocs)
	if err != nil {
		return err
	}

	// Commit both stores even if ctx is cancelled in between.
	commitCtx := context.WithoutCancel(ctx)
	if err := s.incidents.Commit(commitCtx, incBatch); err != nil {
		return err
	}
	if err := s.aux.Commit(commitCtx, auxBatch); err != nil {
		return err
	}

	s.recordOutcome(observability.StoreIncidents, nil)
	s.recordOutcome(observability.StoreAuxiliary, nil)
	s.metrics.RecordsLoaded.WithLabelValues(observability.StoreIncidents).Set(float64(incBatch.Len()))
	s.metrics.RecordsLoaded.WithLabelValues(observability.StoreWeather).Set(float64(auxBatch.WeatherLen()))
	s.metrics.RecordsLoaded.WithLabelValues(observability.StoreSocio).Set(float64(auxBatch.SocioLen()))
	elapsed := s.clock.Since(start)
	s.metrics.LoadDuration.Observe(elapsed.Seconds())
	s.ready.Store(true)
	s.metrics.SessionReady.Set(1)

	s.logger.Info("session loaded",
		"incidents", incBatch.Len(),
		"weather", auxBatch.WeatherLen(),
		"socio", auxBatch.SocioLen(),
		"duration", elapsed,
	)
	return nil
}

func (s *Session) prepare(incidentRows, weatherRows []domain.RawRow, socioDocs []domain.RawDocument) (store.IncidentBatch, store.AuxBatch, error) {
	if s.opts.Lenient {
		incBatch, incReport := s.incidents.PrepareLenient(incidentRows)
		auxBatch, auxReport := s.aux.PrepareLenient(weatherRows, socioDocs)
		s.reportSkipped(observability.StoreIncidents, incReport)
		s.reportSkipped(observability.StoreWeather, auxReport.Weather)
		s.reportSkipped(observability.StoreSocio, auxReport.Socio)
		return incBatch, auxBatch, nil
	}

	incBatch, err := s.incidents.Prepare(incidentRows)
	if err != nil {
		s.recordOutcome(observability.StoreIncidents, err)
		return store.IncidentBatch{}, store.AuxBatch{}, err
	}
	auxBatch, err := s.aux.Prepare(weatherRows, socioDocs)
	if err != nil {
		s.recordOutcome(observability.StoreAuxiliary, err)
		return store.IncidentBatch{}, store.AuxBatch{}, err
	}
	return incBatch, auxBatch, nil
}

func (s *Session) recordOutcome(storeName string, err error) {
	if err == nil {
		s.metrics.LoadsTotal.WithLabelValues(storeName, observability.OutcomeSuccess).Inc()
		return
	}
	s.metrics.LoadsTotal.WithLabelValues(storeName, observability.OutcomeError).Inc()
	var pe *domain.ParseError
	if errors.As(err, &pe) {
		s.metrics.ParseErrors.WithLabelValues(storeName).Inc()
	}
}

func (s *Session) reportSkipped(storeName string, report store.LoadReport) {
	if len(report.Skipped) == 0 {
		return
	}
	s.metrics.SkippedRows.WithLabelValues(storeName).Add(float64(len(report.Skipped)))
	for _, row := range report.Skipped {
		s.logger.Warn("skipped malformed row", "store", storeName, "row", row.Row, "error", row.Err)
	}
}

func (s *Session) publish(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.PublishViews(ctx, s.Snapshot()); err != nil {
		if ctx.Err() == nil {
			s.logger.Error("publish views failed", "error", err)
		}
		s.metrics.PublishErrors.Inc()
		return
	}
	s.metrics.ViewsPublished.Inc()
}

// Filter returns the active filter.
func (s *Session) Filter() domain.FilterState { return s.incidents.FilterState() }

// SetFilter replaces the active filter. An inverted range is rejected.
func (s *Session) SetFilter(f domain.FilterState) error { return s.incidents.SetFilter(f) }

// UpdateFilter atomically modifies the active filter and returns the result.
func (s *Session) UpdateFilter(update func(*domain.FilterState)) (domain.FilterState, error) {
	return s.incidents.UpdateFilter(update)
}

// FilteredIncidents returns the incidents passing the active filter.
func (s *Session) FilteredIncidents() []domain.IncidentRecord {
	return s.incidents.FilteredIncidents()
}

// UniqueLocations returns one location per fire among the filtered incidents.
func (s *Session) UniqueLocations() []domain.DerivedLocation { return s.incidents.UniqueLocations() }

// UniqueStations returns the dispatching stations with their filtered task counts.
func (s *Session) UniqueStations() []domain.DerivedStation { return s.incidents.UniqueStations() }

// CategoryCounts returns filtered incident counts per category.
func (s *Session) CategoryCounts() []domain.CategoryCount { return s.incidents.CategoryCounts() }

// MonthlyCounts returns filtered incident counts per month.
func (s *Session) MonthlyCounts() []domain.PeriodCount { return s.incidents.MonthlyCounts() }

// FactorColumns returns weather and socio-economic columns inside the active time range.
func (s *Session) FactorColumns() factor.Columns {
	return s.aux.FilteredFactorColumns(s.incidents.TimeRange())
}

// IncidentFactorColumns samples every factor once per filtered incident.
func (s *Session) IncidentFactorColumns() factor.Columns {
	joined := factor.Join(s.incidents.FilteredIncidents(), s.aux.Weather(), s.aux.Socio())
	return factor.IncidentLinkedFactorColumns(joined)
}

// Correlations returns pairwise factor correlations, either per period over the active
// time range or per filtered incident.
func (s *Session) Correlations(perIncident bool) []factor.Correlation {
	if perIncident {
		return factor.Correlations(s.IncidentFactorColumns())
	}
	return factor.Correlations(s.FactorColumns())
}

// Grid bins the filtered incidents into cells of cellDeg degrees.
func (s *Session) Grid(cellDeg float64) ([]spatial.Cell, error) {
	return spatial.BuildGrid(s.incidents.FilteredIncidents(), cellDeg)
}

// Snapshot captures the published map views under the active filter.
func (s *Session) Snapshot() domain.ViewSnapshot {
	filter, locations, stations := s.incidents.MapViews()
	return domain.ViewSnapshot{
		Filter:      filter,
		Locations:   locations,
		Stations:    stations,
		GeneratedAt: s.clock.Now(),
	}
}

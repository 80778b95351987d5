package pipeline_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/fire-data-etl/internal/adapter/file"
	"github.com/couchcryptid/fire-data-etl/internal/domain"
	"github.com/couchcryptid/fire-data-etl/internal/observability"
	"github.com/couchcryptid/fire-data-etl/internal/pipeline"
	"github.com/couchcryptid/fire-data-etl/internal/store"
)

// --- mocks ---

type mockPublisher struct {
	mu        sync.Mutex
	snapshots []domain.ViewSnapshot
	err       error
}

func (m *mockPublisher) PublishViews(_ context.Context, snap domain.ViewSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.snapshots = append(m.snapshots, snap)
	return nil
}

func (m *mockPublisher) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

// flakyRows fails the first failures calls, then delegates.
type flakyRows struct {
	inner    store.RowSource
	failures int64
	calls    atomic.Int64
}

func (f *flakyRows) Rows(ctx context.Context) ([]domain.RawRow, error) {
	if f.calls.Add(1) <= f.failures {
		return nil, errors.New("source unavailable")
	}
	return f.inner.Rows(ctx)
}

// switchableDocs returns err when set, otherwise delegates.
type switchableDocs struct {
	inner store.DocumentSource
	err   atomic.Pointer[error]
}

func (s *switchableDocs) Documents(ctx context.Context) ([]domain.RawDocument, error) {
	if p := s.err.Load(); p != nil {
		return nil, *p
	}
	return s.inner.Documents(ctx)
}

// gatedRows holds its first call until release is closed; later calls pass through.
// onCall, when set, runs at the start of every call with the 1-based call number.
type gatedRows struct {
	inner   store.RowSource
	started chan struct{}
	release chan struct{}
	onCall  func(n int64)
	calls   atomic.Int64
}

func newGatedRows(inner store.RowSource) *gatedRows {
	return &gatedRows{inner: inner, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedRows) Rows(ctx context.Context) ([]domain.RawRow, error) {
	n := g.calls.Add(1)
	if g.onCall != nil {
		g.onCall(n)
	}
	if n == 1 {
		close(g.started)
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return g.inner.Rows(ctx)
}

// --- helpers ---

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixtureSources() pipeline.Sources {
	return pipeline.Sources{
		Incidents: file.CSVFile{Path: filepath.Join("testdata", "fire_info.csv")},
		Weather:   file.CSVFile{Path: filepath.Join("testdata", "weather_info.csv")},
		Socio:     file.JSONFile{Path: filepath.Join("testdata", "other_info.json")},
	}
}

func newSession(t *testing.T, sources pipeline.Sources, pub pipeline.ViewPublisher, opts pipeline.Options) (*pipeline.Session, *observability.Metrics) {
	t.Helper()
	metrics := observability.NewMetricsForTesting()
	s := pipeline.New(domain.NewNormalizer(time.UTC), sources, pub, discardLogger(), metrics, opts)
	return s, metrics
}

func metricValue(m prometheus.Metric) float64 {
	var out dto.Metric
	if err := m.Write(&out); err != nil {
		return -1
	}
	if out.GetCounter() != nil {
		return out.GetCounter().GetValue()
	}
	return out.GetGauge().GetValue()
}

func mustRange(t *testing.T, start, end time.Time) domain.TimeRange {
	t.Helper()
	r, err := domain.NewTimeRange(start, end)
	require.NoError(t, err)
	return r
}

// --- tests ---

func TestSession_LoadFixtures(t *testing.T) {
	s, metrics := newSession(t, fixtureSources(), nil, pipeline.Options{CacheSize: 16})
	require.Error(t, s.CheckReadiness(context.Background()))

	require.NoError(t, s.Load(context.Background()))
	require.NoError(t, s.CheckReadiness(context.Background()))

	filtered := s.FilteredIncidents()
	require.Len(t, filtered, 8)
	assert.Equal(t, int64(3), filtered[0].ID, "sorted by fire_time")
	assert.Equal(t, int64(8), filtered[7].ID)

	assert.Len(t, s.UniqueLocations(), 6)

	stations := s.UniqueStations()
	require.Len(t, stations, 3)
	assert.Equal(t, "HZ03", stations[0].StationCode)
	assert.Equal(t, 2, stations[0].TaskCount)
	assert.Equal(t, "HZ01", stations[1].StationCode)
	assert.Equal(t, 3, stations[1].TaskCount)
	assert.Equal(t, "HZ02", stations[2].StationCode)
	assert.Equal(t, 3, stations[2].TaskCount)

	assert.Len(t, s.Auxiliary().Weather(), 4)
	assert.Len(t, s.Auxiliary().Socio(), 2)

	assert.InDelta(t, 8, metricValue(metrics.RecordsLoaded.WithLabelValues(observability.StoreIncidents)), 0)
	assert.InDelta(t, 1, metricValue(metrics.LoadsTotal.WithLabelValues(observability.StoreIncidents, observability.OutcomeSuccess)), 0)
	assert.InDelta(t, 1, metricValue(metrics.SessionReady), 0)
}

func TestSession_FilterDrivesEveryView(t *testing.T) {
	s, _ := newSession(t, fixtureSources(), nil, pipeline.Options{CacheSize: 16})
	require.NoError(t, s.Load(context.Background()))

	r := mustRange(t,
		time.Date(2015, 3, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2015, 4, 30, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, s.SetFilter(domain.FilterState{Range: r, Categories: domain.NewCategorySet([]string{"居住场所"})}))

	filtered := s.FilteredIncidents()
	require.Len(t, filtered, 4)
	assert.Len(t, s.UniqueLocations(), 2)
	total := 0
	for _, st := range s.UniqueStations() {
		total += st.TaskCount
	}
	assert.Equal(t, len(filtered), total)
	assert.Equal(t, []domain.CategoryCount{{Name: "居住场所", Value: 4}}, s.CategoryCounts())

	cols := s.FactorColumns()
	assert.Equal(t, []float64{11.0, 16.9}, cols[domain.FactorT])
	assert.Empty(t, cols[domain.FactorPopulationDensity])

	err := s.SetFilter(domain.FilterState{Range: domain.TimeRange{Start: r.End, End: r.Start}})
	var ire *domain.InvalidRangeError
	require.ErrorAs(t, err, &ire)
	assert.Len(t, s.FilteredIncidents(), 4, "previous filter retained")
}

func TestSession_FactorColumnsFlattenSocio(t *testing.T) {
	s, _ := newSession(t, fixtureSources(), nil, pipeline.Options{})
	require.NoError(t, s.Load(context.Background()))

	cols := s.FactorColumns()

	assert.Equal(t, []float64{4.2, 7.1, 11.0, 16.9}, cols[domain.FactorT])
	assert.Equal(t, []float64{1120.5, 980.2, 1135.0, 990.8}, cols[domain.FactorPopulationDensity])
	assert.Equal(t, []float64{325.4, 341.7}, cols[domain.FactorMeanRegisteredCapital])
	assert.Equal(t, s.FactorColumns(), cols, "idempotent")
}

func TestSession_IncidentFactorColumns(t *testing.T) {
	s, _ := newSession(t, fixtureSources(), nil, pipeline.Options{})
	require.NoError(t, s.Load(context.Background()))

	cols := s.IncidentFactorColumns()

	temps := cols[domain.FactorT]
	require.Len(t, temps, 8)
	assert.Equal(t, []float64{4.2, 7.1, 11.0, 11.0, 16.9, 16.9, 16.9, 16.9}, temps)
	density := cols[domain.FactorPopulationDensity]
	require.Len(t, density, 8)
	assert.InDelta(t, (1120.5+980.2)/2, density[0], 1e-9)
	assert.InDelta(t, (1135.0+990.8)/2, density[7], 1e-9)
}

func TestSession_Correlations(t *testing.T) {
	s, _ := newSession(t, fixtureSources(), nil, pipeline.Options{})
	require.NoError(t, s.Load(context.Background()))

	for _, c := range s.Correlations(false) {
		assert.GreaterOrEqual(t, c.R, -1.0)
		assert.LessOrEqual(t, c.R, 1.0)
		if c.A == domain.FactorT && c.B == domain.FactorTMaxAve {
			assert.Equal(t, 4, c.N)
			assert.Greater(t, c.R, 0.9)
		}
	}
	assert.NotEmpty(t, s.Correlations(true))
}

func TestSession_Grid(t *testing.T) {
	s, _ := newSession(t, fixtureSources(), nil, pipeline.Options{})
	require.NoError(t, s.Load(context.Background()))

	cells, err := s.Grid(0.05)
	require.NoError(t, err)
	total := 0
	for _, c := range cells {
		total += c.IncidentCount
	}
	assert.Equal(t, 8, total)

	_, err = s.Grid(0)
	require.Error(t, err)
}

func TestSession_LoadFailureKeepsBothStores(t *testing.T) {
	src := fixtureSources()
	docs := &switchableDocs{inner: src.Socio}
	src.Socio = docs
	s, metrics := newSession(t, src, nil, pipeline.Options{})
	require.NoError(t, s.Load(context.Background()))

	boom := errors.New("socio offline")
	docs.err.Store(&boom)
	err := s.Load(context.Background())

	require.ErrorIs(t, err, boom)
	assert.Len(t, s.FilteredIncidents(), 8)
	assert.Len(t, s.Auxiliary().Socio(), 2)
	assert.InDelta(t, 1, metricValue(metrics.LoadsTotal.WithLabelValues(observability.StoreAuxiliary, observability.OutcomeError)), 0)
}

func TestSession_SecondLoadWaitsForFirstCommit(t *testing.T) {
	src := fixtureSources()
	gated := newGatedRows(src.Incidents)
	src.Incidents = gated
	s, metrics := newSession(t, src, nil, pipeline.Options{})

	// incident and weather counts seen by the second load when it starts reading
	var seenIncidents, seenWeather atomic.Int64
	gated.onCall = func(n int64) {
		if n == 2 {
			seenIncidents.Store(int64(s.Incidents().Len()))
			seenWeather.Store(int64(len(s.Auxiliary().Weather())))
		}
	}

	var wg sync.WaitGroup
	var firstErr, secondErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		firstErr = s.Load(context.Background())
	}()
	<-gated.started

	secondDone := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(secondDone)
		secondErr = s.Load(context.Background())
	}()

	select {
	case <-secondDone:
		t.Fatal("second load completed while the first was in flight")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, int64(1), gated.calls.Load(), "queued load must not read its sources")
	assert.False(t, s.Ready())
	assert.Equal(t, 0, s.Incidents().Len())
	assert.Empty(t, s.Auxiliary().Weather())

	close(gated.release)
	wg.Wait()

	require.NoError(t, firstErr)
	require.NoError(t, secondErr)
	assert.Equal(t, int64(2), gated.calls.Load())
	assert.Equal(t, int64(8), seenIncidents.Load(), "first load committed incidents before the second started")
	assert.Equal(t, int64(4), seenWeather.Load(), "first load committed weather before the second started")
	assert.True(t, s.Ready())
	assert.InDelta(t, 2, metricValue(metrics.LoadsTotal.WithLabelValues(observability.StoreIncidents, observability.OutcomeSuccess)), 0)
	assert.InDelta(t, 2, metricValue(metrics.LoadsTotal.WithLabelValues(observability.StoreAuxiliary, observability.OutcomeSuccess)), 0)
}

func TestSession_QueuedLoadCancelled(t *testing.T) {
	src := fixtureSources()
	gated := newGatedRows(src.Incidents)
	src.Incidents = gated
	s, _ := newSession(t, src, nil, pipeline.Options{})

	firstDone := make(chan error, 1)
	go func() { firstDone <- s.Load(context.Background()) }()
	<-gated.started

	ctx, cancel := context.WithCancel(context.Background())
	queuedDone := make(chan error, 1)
	go func() { queuedDone <- s.Load(ctx) }()

	select {
	case err := <-queuedDone:
		t.Fatalf("queued load returned before cancellation: %v", err)
	case <-time.After(20 * time.Millisecond):
	}
	cancel()

	var err error
	select {
	case err = <-queuedDone:
	case <-time.After(2 * time.Second):
		t.Fatal("queued load ignored cancellation")
	}
	require.ErrorIs(t, err, context.Canceled)
	assert.Contains(t, err.Error(), "load session")
	assert.Equal(t, int64(1), gated.calls.Load(), "cancelled load never read its sources")

	close(gated.release)
	require.NoError(t, <-firstDone)
	assert.True(t, s.Ready())
	assert.Equal(t, 8, s.Incidents().Len())
}

func TestSession_StrictLoadRejectsMalformed(t *testing.T) {
	src := fixtureSources()
	src.Incidents = store.StaticRows{{domain.FieldID: "x"}}
	s, metrics := newSession(t, src, nil, pipeline.Options{})

	err := s.Load(context.Background())

	var pe *domain.ParseError
	require.ErrorAs(t, err, &pe)
	assert.False(t, s.Ready())
	assert.InDelta(t, 1, metricValue(metrics.ParseErrors.WithLabelValues(observability.StoreIncidents)), 0)
}

func TestSession_LenientLoadSkipsMalformed(t *testing.T) {
	src := fixtureSources()
	rows, err := src.Incidents.Rows(context.Background())
	require.NoError(t, err)
	bad := domain.RawRow{}
	for k, v := range rows[0] {
		bad[k] = v
	}
	bad[domain.FieldFireLat] = "n/a"
	src.Incidents = store.StaticRows(append(rows, bad))

	s, metrics := newSession(t, src, nil, pipeline.Options{Lenient: true})
	require.NoError(t, s.Load(context.Background()))

	assert.Len(t, s.Incidents().Incidents(), 8)
	assert.InDelta(t, 1, metricValue(metrics.SkippedRows.WithLabelValues(observability.StoreIncidents)), 0)
}

func TestSession_Run_PublishesOnce(t *testing.T) {
	pub := &mockPublisher{}
	s, metrics := newSession(t, fixtureSources(), pub, pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	snap := pub.snapshots[0]
	assert.Len(t, snap.Locations, 6)
	assert.Len(t, snap.Stations, 3)
	assert.InDelta(t, 1, metricValue(metrics.ViewsPublished), 0)
}

func TestSession_Run_RepublishesOnInterval(t *testing.T) {
	fake := clockwork.NewFakeClockAt(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	pub := &mockPublisher{}
	s, _ := newSession(t, fixtureSources(), pub, pipeline.Options{PublishInterval: time.Minute, Clock: fake})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, fake.BlockUntilContext(ctx, 1))
	fake.Advance(time.Minute)
	require.Eventually(t, func() bool { return pub.count() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	assert.Equal(t, fake.Now().Add(-time.Minute), pub.snapshots[0].GeneratedAt)
}

func TestSession_Run_PublishErrorCounted(t *testing.T) {
	pub := &mockPublisher{err: errors.New("broker down")}
	s, metrics := newSession(t, fixtureSources(), pub, pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		return metricValue(metrics.PublishErrors) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.True(t, s.Ready(), "publish failures do not affect readiness")
}

func TestSession_Run_RetriesSourceErrors(t *testing.T) {
	src := fixtureSources()
	flaky := &flakyRows{inner: src.Incidents, failures: 1}
	src.Incidents = flaky
	s, _ := newSession(t, src, nil, pipeline.Options{})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, s.Ready, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(2), flaky.calls.Load())
	cancel()
	require.NoError(t, <-done)
}

func TestSession_Run_ParseErrorIsFatal(t *testing.T) {
	src := fixtureSources()
	src.Weather = store.StaticRows{{domain.FieldTime: "someday"}}
	s, _ := newSession(t, src, nil, pipeline.Options{})

	err := s.Run(context.Background())

	var pe *domain.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, domain.FieldTime, pe.Field)
}

func TestSession_Run_ContextCancellation(t *testing.T) {
	s, _ := newSession(t, fixtureSources(), nil, pipeline.Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, s.Run(ctx))
	assert.False(t, s.Ready())
}

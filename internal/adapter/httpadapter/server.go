package httpadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/fire-data-etl/internal/domain"
	"github.com/couchcryptid/fire-data-etl/internal/factor"
	"github.com/couchcryptid/fire-data-etl/internal/spatial"
)

const defaultGridCell = 0.05

// Views is the read and filter surface of a session.
type Views interface {
	sharedobs.ReadinessChecker
	Filter() domain.FilterState
	UpdateFilter(update func(*domain.FilterState)) (domain.FilterState, error)
	FilteredIncidents() []domain.IncidentRecord
	UniqueLocations() []domain.DerivedLocation
	UniqueStations() []domain.DerivedStation
	CategoryCounts() []domain.CategoryCount
	MonthlyCounts() []domain.PeriodCount
	FactorColumns() factor.Columns
	IncidentFactorColumns() factor.Columns
	Correlations(perIncident bool) []factor.Correlation
	Grid(cellDeg float64) ([]spatial.Cell, error)
}

// Server exposes health, readiness, metrics, and the derived-view JSON API.
type Server struct {
	httpServer *http.Server
	views      Views
	logger     *slog.Logger
}

// NewServer creates an HTTP server with /healthz, /readyz, /metrics and /api routes.
func NewServer(addr string, views Views, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		views:  views,
		logger: logger,
	}

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(views))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.HandleFunc("GET /api/filter", s.handleGetFilter)
	mux.HandleFunc("PUT /api/filter", s.handlePutFilter)
	mux.HandleFunc("GET /api/incidents", s.handleIncidents)
	mux.HandleFunc("GET /api/locations", s.handleLocations)
	mux.HandleFunc("GET /api/stations", s.handleStations)
	mux.HandleFunc("GET /api/categories", s.handleCategories)
	mux.HandleFunc("GET /api/monthly", s.handleMonthly)
	mux.HandleFunc("GET /api/factors", s.handleFactors)
	mux.HandleFunc("GET /api/incident-factors", s.handleIncidentFactors)
	mux.HandleFunc("GET /api/correlations", s.handleCorrelations)
	mux.HandleFunc("GET /api/grid", s.handleGrid)

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

// filterRequest is the PUT /api/filter body. Omitted fields keep their current value;
// an empty categories list deselects every category.
type filterRequest struct {
	Start      *time.Time `json:"start"`
	End        *time.Time `json:"end"`
	Categories *[]string  `json:"categories"`
}

func (s *Server) handleGetFilter(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.Filter())
}

func (s *Server) handlePutFilter(w http.ResponseWriter, r *http.Request) {
	var req filterRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	f, err := s.views.UpdateFilter(func(f *domain.FilterState) {
		if req.Start != nil {
			f.Range.Start = *req.Start
		}
		if req.End != nil {
			f.Range.End = *req.End
		}
		if req.Categories != nil {
			f.Categories = domain.NewCategorySet(*req.Categories)
		}
	})
	if err != nil {
		var ire *domain.InvalidRangeError
		if errors.As(err, &ire) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("set filter failed", "error", err)
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.logger.Info("filter updated",
		"start", f.Range.Start,
		"end", f.Range.End,
		"categories", len(f.Categories),
	)
	writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleIncidents(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.FilteredIncidents())
}

func (s *Server) handleLocations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.UniqueLocations())
}

func (s *Server) handleStations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.UniqueStations())
}

type categoryResponse struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Color string `json:"color"`
}

func (s *Server) handleCategories(w http.ResponseWriter, _ *http.Request) {
	counts := s.views.CategoryCounts()
	out := make([]categoryResponse, len(counts))
	for i, c := range counts {
		out[i] = categoryResponse{Name: c.Name, Value: c.Value, Color: domain.CategoryColor(c.Name)}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleMonthly(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.MonthlyCounts())
}

func (s *Server) handleFactors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.FactorColumns())
}

func (s *Server) handleIncidentFactors(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.views.IncidentFactorColumns())
}

// handleCorrelations serves per-period correlations, or per-incident ones with
// ?scope=incidents.
func (s *Server) handleCorrelations(w http.ResponseWriter, r *http.Request) {
	switch scope := r.URL.Query().Get("scope"); scope {
	case "", "periods":
		writeJSON(w, http.StatusOK, nonNil(s.views.Correlations(false)))
	case "incidents":
		writeJSON(w, http.StatusOK, nonNil(s.views.Correlations(true)))
	default:
		writeError(w, http.StatusBadRequest, errors.New("scope must be periods or incidents"))
	}
}

func (s *Server) handleGrid(w http.ResponseWriter, r *http.Request) {
	cell := defaultGridCell
	if v := r.URL.Query().Get("cell"); v != "" {
		parsed, err := strconv.ParseFloat(v, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("cell must be a number of degrees"))
			return
		}
		cell = parsed
	}
	cells, err := s.views.Grid(cell)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, cells)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}

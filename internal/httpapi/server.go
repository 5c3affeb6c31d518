package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/datasource"
	"github.com/hamed0406/apimonitor/internal/domain"
	apimw "github.com/hamed0406/apimonitor/internal/httpapi/middleware"
	"github.com/hamed0406/apimonitor/internal/registry"
	"github.com/hamed0406/apimonitor/internal/repo"
	"github.com/hamed0406/apimonitor/internal/scheduler"
)

const defaultMetricsHours = 24

// Monitoring is the scheduler surface exposed over HTTP.
type Monitoring interface {
	StartAll(ctx context.Context) (scheduler.StartReport, error)
	StopAll(ctx context.Context) error
	Active() bool
	Running() []domain.EndpointID
}

type Server struct {
	Logger    *zap.Logger
	Registry  *registry.Registry
	Monitor   Monitoring
	Results   repo.ResultStore
	Summaries repo.SummaryStore
	Grafana   *datasource.Adapter
}

func NewServer(l *zap.Logger, reg *registry.Registry, mon Monitoring, rs repo.ResultStore, ss repo.SummaryStore, ds *datasource.Adapter) *Server {
	if l == nil {
		l = zap.NewNop()
	}
	return &Server{Logger: l, Registry: reg, Monitor: mon, Results: rs, Summaries: ss, Grafana: ds}
}

// Options control the router's cross-cutting middleware.
type Options struct {
	Keys           apimw.Keys
	AllowedOrigins []string
	RateLimitRPM   int
	RateLimitBurst int
}

func (s *Server) Router(o Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.Logger))

	origins := o.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(apimw.RateLimit(o.RateLimitRPM, o.RateLimitBurst))

		// reads: public or admin
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAny(o.Keys))
			r.Get("/api/endpoints", s.handleListEndpoints)
			r.Get("/api/endpoints/{id}", s.handleGetEndpoint)
			r.Get("/api/endpoints/{id}/metrics", s.handleMetrics)
			r.Get("/api/performance_summary", s.handleSummaries)
			r.Get("/api/monitoring", s.handleMonitoringStatus)

			r.Route("/grafana", func(r chi.Router) {
				r.Get("/", s.handleGrafanaTest)
				r.Get("/search", s.handleGrafanaSearch)
				r.Post("/search", s.handleGrafanaSearch)
				r.Post("/query", s.handleGrafanaQuery)
			})
		})

		// mutations: admin only
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAdmin(o.Keys))
			r.Post("/api/endpoints", s.handleRegister)
			r.Patch("/api/endpoints/{id}/active", s.handleSetActive)
			r.Delete("/api/endpoints/{id}", s.handleDelete)
			r.Post("/api/monitoring/start", s.handleStart)
			r.Post("/api/monitoring/stop", s.handleStop)
		})
	})

	return r
}

func requestLogger(l *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			l.Info("http_request",
				zap.String("request_id", chimw.GetReqID(r.Context())),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000.0),
			)
		})
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, domain.ErrInvalidEndpoint), errors.Is(err, domain.ErrDuplicateName):
		status, msg = http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		status, msg = http.StatusNotFound, "not found"
	default:
		s.Logger.Error("request_failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
	respondError(w, r, status, msg)
}

func respondError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	render.Status(r, status)
	render.JSON(w, r, errorBody{Error: msg})
}

func pathID(r *http.Request) (domain.EndpointID, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || n <= 0 {
		return 0, false
	}
	return domain.EndpointID(n), true
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var reg registry.Registration
	if err := render.DecodeJSON(r.Body, &reg); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid JSON body")
		return
	}
	e, err := s.Registry.Register(r.Context(), reg)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]any{
		"message":  "Endpoint registered",
		"endpoint": e,
	})
}

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.Registry.List(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if eps == nil {
		eps = []domain.Endpoint{}
	}
	render.JSON(w, r, eps)
}

func (s *Server) handleGetEndpoint(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid endpoint id")
		return
	}
	e, err := s.Registry.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, e)
}

type activePayload struct {
	Active *bool `json:"active"`
}

func (s *Server) handleSetActive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid endpoint id")
		return
	}
	var p activePayload
	if err := render.DecodeJSON(r.Body, &p); err != nil || p.Active == nil {
		respondError(w, r, http.StatusBadRequest, `body must be {"active": true|false}`)
		return
	}
	e, err := s.Registry.SetActive(r.Context(), id, *p.Active)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, e)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid endpoint id")
		return
	}
	if err := s.Registry.Delete(r.Context(), id); err != nil {
		// a missing endpoint is already gone
		if !errors.Is(err, domain.ErrNotFound) {
			s.writeError(w, r, err)
			return
		}
	}
	render.JSON(w, r, map[string]string{"message": "Endpoint deleted"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		respondError(w, r, http.StatusBadRequest, "invalid endpoint id")
		return
	}
	hours := defaultMetricsHours
	if raw := strings.TrimSpace(r.URL.Query().Get("hours")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, r, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = n
	}
	since := time.Now().Add(-time.Duration(hours) * time.Hour)
	res, err := s.Results.ResultsSince(r.Context(), id, since)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if res == nil {
		res = []domain.CheckResult{}
	}
	render.JSON(w, r, res)
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	sums, err := s.Summaries.ListSummaries(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if sums == nil {
		sums = []domain.PerformanceSummary{}
	}
	render.JSON(w, r, sums)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	rep, err := s.Monitor.StartAll(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if rep.AlreadyActive {
		render.JSON(w, r, map[string]any{
			"message":        "Monitoring already active",
			"already_active": true,
			"started":        0,
		})
		return
	}
	render.JSON(w, r, map[string]any{
		"message": "Monitoring started",
		"started": rep.Started,
	})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if err := s.Monitor.StopAll(r.Context()); err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"message": "Monitoring stopped"})
}

func (s *Server) handleMonitoringStatus(w http.ResponseWriter, r *http.Request) {
	ids := s.Monitor.Running()
	if ids == nil {
		ids = []domain.EndpointID{}
	}
	render.JSON(w, r, map[string]any{
		"active":  s.Monitor.Active(),
		"running": ids,
	})
}

func (s *Server) handleGrafanaTest(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type searchPayload struct {
	Target string `json:"target"`
}

func (s *Server) handleGrafanaSearch(w http.ResponseWriter, r *http.Request) {
	var p searchPayload
	if r.Method == http.MethodPost && r.ContentLength != 0 {
		// an empty or unparsable body means "no filter"
		_ = render.DecodeJSON(r.Body, &p)
	}
	names, err := s.Grafana.Search(r.Context(), p.Target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	render.JSON(w, r, names)
}

func (s *Server) handleGrafanaQuery(w http.ResponseWriter, r *http.Request) {
	var q datasource.QueryRequest
	if err := render.DecodeJSON(r.Body, &q); err != nil {
		respondError(w, r, http.StatusBadRequest, "invalid query body")
		return
	}
	series, err := s.Grafana.Query(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if series == nil {
		series = []datasource.Series{}
	}
	render.JSON(w, r, series)
}

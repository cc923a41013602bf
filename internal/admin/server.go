// Package admin serves the operator HTTP API for the stress harness.
package admin

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"tickstress/internal/harness"
	"tickstress/internal/report"
	"tickstress/internal/sampler"
	"tickstress/internal/scenario"
)

//go:embed templates/index.html
var content embed.FS

const (
	defaultTickCount = 20
	maxTickCount     = 1200
)

// Runner is the part of the harness the admin API drives.
type Runner interface {
	Status() harness.Status
	History() []report.Summary
	Catalog() *scenario.Catalog
	Sampler() *sampler.Sampler
	StartScenario(ctx context.Context, name string, o *scenario.Overrides) (report.RunInfo, error)
	StopScenario(ctx context.Context) (report.Summary, error)
}

// Options configures the admin server.
type Options struct {
	// CommandRate limits start and stop requests per second; zero disables it.
	CommandRate  float64
	CommandBurst int
	// CommandTimeout bounds how long a request waits for the tick thread.
	CommandTimeout time.Duration
	// StreamInterval is the websocket status period.
	StreamInterval time.Duration
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// DefaultOptions returns the stock admin settings.
func DefaultOptions() Options {
	return Options{
		CommandRate:    5,
		CommandBurst:   5,
		CommandTimeout: 5 * time.Second,
		StreamInterval: time.Second,
	}
}

// Server is the admin HTTP API.
type Server struct {
	runner  Runner
	opts    Options
	limiter *rate.Limiter
	hub     *Hub
	tpl     *template.Template
	logger  *zap.Logger
	router  chi.Router
}

// NewServer builds the router. The websocket hub only streams while Run is active.
func NewServer(r Runner, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultOptions().CommandTimeout
	}
	s := &Server{
		runner: r,
		opts:   opts,
		hub:    NewHub(logger.Named("ws")),
		tpl:    template.Must(template.New("index.html").ParseFS(content, "templates/index.html")),
		logger: logger.Named("admin"),
	}
	if opts.CommandRate > 0 {
		burst := opts.CommandBurst
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.CommandRate), burst)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/", s.handleIndex)
	r.Get("/status", s.handleStatus)
	r.Get("/scenarios", s.handleScenarios)
	r.Get("/runs", s.handleRuns)
	r.Get("/tps", s.handleTPS)
	r.Get("/ticks", s.handleTicks)
	r.Get("/ws", s.hub.ServeHTTP)
	if s.opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.Metrics)
	}

	r.Group(func(r chi.Router) {
		r.Use(s.limit)
		r.Post("/scenarios/{name}/start", s.handleStart)
		r.Post("/stop", s.handleStop)
	})
	return r
}

// Handler returns the admin router.
func (s *Server) Handler() http.Handler { return s.router }

// Hub returns the status stream hub.
func (s *Server) Hub() *Hub { return s.hub }

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	hubCtx, stopHub := context.WithCancel(ctx)
	defer stopHub()
	go s.hub.Run(hubCtx, s.opts.StreamInterval, func() any { return s.runner.Status() })

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("admin listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
		)
	})
}

func (s *Server) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "too many commands")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps harness errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, harness.ErrUnknownScenario):
		return http.StatusNotFound
	case errors.Is(err, harness.ErrInvalidScenarioConfig):
		return http.StatusBadRequest
	case errors.Is(err, harness.ErrAlreadyRunning), errors.Is(err, harness.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, harness.ErrQueueFull):
		return http.StatusTooManyRequests
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := struct {
		Status    harness.Status
		Scenarios []scenario.Scenario
		Runs      []report.Summary
	}{
		Status:    s.runner.Status(),
		Scenarios: s.runner.Catalog().List(),
		Runs:      s.runner.History(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tpl.Execute(w, data); err != nil {
		s.logger.Warn("render index", zap.Error(err))
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Status())
}

func (s *Server) handleScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runner.Catalog().List())
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.runner.History()
	if runs == nil {
		runs = []report.Summary{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleTPS(w http.ResponseWriter, r *http.Request) {
	sm := s.runner.Sampler()
	writeJSON(w, http.StatusOK, map[string]any{
		"nominal_tps": sm.NominalTPS(),
		"signal":      sm.Signal(),
		"intervals":   sm.Reports(),
	})
}

func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	count := defaultTickCount
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "count must be a positive integer")
			return
		}
		count = min(n, maxTickCount)
	}
	ticks := s.runner.Sampler().LastTicks(count)
	mspt := make([]float64, len(ticks))
	for i, t := range ticks {
		mspt[i] = t.MSPT()
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(mspt), "mspt": mspt})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var o *scenario.Overrides
	if r.Body != nil {
		var body scenario.Overrides
		err := json.NewDecoder(io.LimitReader(r.Body, 1<<16)).Decode(&body)
		switch {
		case errors.Is(err, io.EOF):
		case err != nil:
			writeError(w, http.StatusBadRequest, "invalid overrides: "+err.Error())
			return
		default:
			o = &body
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CommandTimeout)
	defer cancel()
	info, err := s.runner.StartScenario(ctx, name, o)
	if err != nil {
		s.logger.Info("start rejected", zap.String("scenario", name), zap.Error(err))
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("scenario started", zap.String("scenario", name), zap.String("run_id", info.ID))
	s.hub.BroadcastJSON(s.runner.Status())
	writeJSON(w, http.StatusCreated, info)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.opts.CommandTimeout)
	defer cancel()
	sum, err := s.runner.StopScenario(ctx)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	s.logger.Info("scenario stopped", zap.String("run_id", sum.ID))
	s.hub.BroadcastJSON(s.runner.Status())
	writeJSON(w, http.StatusOK, sum)
}

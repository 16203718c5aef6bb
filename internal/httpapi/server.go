// Package httpapi serves the local operations surface: liveness, Prometheus
// metrics and a JSON status snapshot.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"ixbrbot/internal/pipeline"
	"ixbrbot/internal/storage"
	logx "ixbrbot/pkg/logx"
)

const requestTimeout = 15 * time.Second

// StatusSource is the monitor projection.
type StatusSource interface {
	Status() pipeline.Status
}

// Store is the storage slice the handlers read.
type Store interface {
	Ping(ctx context.Context) error
	Stats(ctx context.Context) (storage.Stats, error)
}

type Options struct {
	Addr         string
	Token        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Pprof        bool
	Monitor      StatusSource
	Store        Store
	Gatherer     prometheus.Gatherer
	Logger       logx.Logger
	Now          func() time.Time
}

type Server struct {
	opt     Options
	log     logx.Logger
	router  chi.Router
	srv     *http.Server
	started time.Time
}

func New(opt Options) *Server {
	if opt.Logger.IsZero() {
		opt.Logger = logx.Nop()
	}
	if opt.Gatherer == nil {
		opt.Gatherer = prometheus.DefaultGatherer
	}
	if opt.Now == nil {
		opt.Now = time.Now
	}
	s := &Server{opt: opt, log: opt.Logger.With(logx.Component("http")), started: opt.Now()}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLog)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/healthz", s.handleHealthz)
	r.Group(func(r chi.Router) {
		r.Use(s.bearer)
		r.Handle("/metrics", promhttp.HandlerFor(s.opt.Gatherer, promhttp.HandlerOpts{}))
		r.Get("/status", s.handleStatus)
		if s.opt.Pprof {
			r.Mount("/debug", middleware.Profiler())
		}
	})
	s.router = r
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler { return s.router }

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opt.Addr)
	if err != nil {
		return err
	}
	s.srv = &http.Server{
		Handler:           s.router,
		ReadTimeout:       s.opt.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.opt.WriteTimeout,
	}
	s.log.Info("http server listening", logx.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.Serve(ln) }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http shutdown", logx.Err(err))
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.opt.Store != nil {
		if err := s.opt.Store.Ping(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusBody struct {
	Uptime  string           `json:"uptime"`
	Monitor *pipeline.Status `json:"monitor,omitempty"`
	Stats   *storage.Stats   `json:"stats,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := statusBody{Uptime: s.opt.Now().Sub(s.started).Truncate(time.Second).String()}
	if s.opt.Monitor != nil {
		st := s.opt.Monitor.Status()
		body.Monitor = &st
	}
	if s.opt.Store != nil {
		st, err := s.opt.Store.Stats(r.Context())
		if err != nil {
			body.Error = err.Error()
		} else {
			body.Stats = &st
		}
	}
	writeJSON(w, http.StatusOK, body)
}

// bearer is a no-op when no token is configured.
func (s *Server) bearer(next http.Handler) http.Handler {
	want := []byte(s.opt.Token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(want) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestID keeps an inbound X-Request-Id or assigns a uuid.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(middleware.RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(middleware.RequestIDHeader, id)
		ctx := context.WithValue(r.Context(), middleware.RequestIDKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			logx.String("method", r.Method),
			logx.String("path", r.URL.Path),
			logx.Int("status", ww.Status()),
			logx.Duration("took", time.Since(start)),
			logx.String("request_id", middleware.GetReqID(r.Context())),
			logx.String("remote", r.RemoteAddr),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

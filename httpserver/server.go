package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/flashbots/go-utils/httplogger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/common"
	"github.com/ruteri/tee-secret-store/metrics"
	"go.uber.org/atomic"
)

// readinessTimeout bounds every readiness check run by /readyz.
const readinessTimeout = 2 * time.Second

// RouteRegistrar mounts the routes of an API handler.
type RouteRegistrar interface {
	RegisterRoutes(r chi.Router)
}

// ReadinessCheck reports whether a dependency of the node can serve requests.
type ReadinessCheck func(ctx context.Context) error

type namedCheck struct {
	name  string
	check ReadinessCheck
}

type Server struct {
	cfg      *api.HTTPServerConfig
	draining atomic.Bool
	log      *slog.Logger

	checksMu sync.RWMutex
	checks   []namedCheck

	srv        *http.Server
	metricsSrv *metrics.MetricsServer
}

func New(cfg *api.HTTPServerConfig, handlers ...RouteRegistrar) (*Server, error) {
	metricsSrv, err := metrics.New(common.PackageName, cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:        cfg,
		log:        cfg.Log,
		metricsSrv: metricsSrv,
	}
	srv.srv = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.router(handlers),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return srv, nil
}

// AddReadinessCheck makes /readyz fail while check fails.
func (srv *Server) AddReadinessCheck(name string, check ReadinessCheck) {
	srv.checksMu.Lock()
	defer srv.checksMu.Unlock()
	srv.checks = append(srv.checks, namedCheck{name: name, check: check})
}

func (srv *Server) router(handlers []RouteRegistrar) http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)

	mux.Group(func(r chi.Router) {
		r.Use(srv.httpLogger)
		for _, h := range handlers {
			h.RegisterRoutes(r)
		}
	})

	// Probes are polled constantly and stay out of the access log.
	mux.Get("/livez", srv.handleLivenessCheck)
	mux.Get("/readyz", srv.handleReadinessCheck)
	mux.Get("/drain", srv.handleDrain)
	mux.Get("/undrain", srv.handleUndrain)

	if srv.cfg.EnablePprof {
		srv.log.Info("pprof API enabled")
		mux.Mount("/debug", middleware.Profiler())
	}
	return mux
}

// Handler returns the router serving the API.
func (srv *Server) Handler() http.Handler {
	return srv.srv.Handler
}

func (srv *Server) httpLogger(next http.Handler) http.Handler {
	return httplogger.LoggingMiddlewareSlog(srv.log, next)
}

type statusResponse struct {
	Status string            `json:"status"`
	Failed map[string]string `json:"failed,omitempty"`
}

func writeStatus(w http.ResponseWriter, code int, resp statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}

func (srv *Server) handleLivenessCheck(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, statusResponse{Status: "alive"})
}

func (srv *Server) handleReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if srv.draining.Load() {
		writeStatus(w, http.StatusServiceUnavailable, statusResponse{Status: "draining"})
		return
	}

	if failed := srv.runChecks(r.Context()); len(failed) > 0 {
		writeStatus(w, http.StatusServiceUnavailable, statusResponse{Status: "not ready", Failed: failed})
		return
	}
	writeStatus(w, http.StatusOK, statusResponse{Status: "ready"})
}

func (srv *Server) runChecks(ctx context.Context) map[string]string {
	srv.checksMu.RLock()
	checks := srv.checks
	srv.checksMu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, readinessTimeout)
	defer cancel()

	var failed map[string]string
	for _, c := range checks {
		if err := c.check(ctx); err != nil {
			if failed == nil {
				failed = make(map[string]string)
			}
			failed[c.name] = err.Error()
		}
	}
	return failed
}

func (srv *Server) handleDrain(w http.ResponseWriter, r *http.Request) {
	if srv.draining.Swap(true) {
		writeStatus(w, http.StatusOK, statusResponse{Status: "already draining"})
		return
	}
	srv.log.Info("Server marked as not ready")
	writeStatus(w, http.StatusOK, statusResponse{Status: "draining"})
}

func (srv *Server) handleUndrain(w http.ResponseWriter, r *http.Request) {
	if !srv.draining.Swap(false) {
		writeStatus(w, http.StatusOK, statusResponse{Status: "already ready"})
		return
	}
	srv.log.Info("Server marked as ready")
	writeStatus(w, http.StatusOK, statusResponse{Status: "ready"})
}

func (srv *Server) RunInBackground() {
	if srv.cfg.MetricsAddr != "" {
		go func() {
			srv.log.Info("Starting metrics server", "metricsAddress", srv.cfg.MetricsAddr)
			if err := srv.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				srv.log.Error("Metrics server failed", "err", err)
			}
		}()
	}

	go func() {
		srv.log.Info("Starting HTTP server", "listenAddress", srv.cfg.ListenAddr)
		if err := srv.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srv.log.Error("HTTP server failed", "err", err)
		}
	}()
}

// Shutdown withdraws readiness, keeps serving for the drain duration unless
// the node was drained already, then stops both listeners.
func (srv *Server) Shutdown() {
	if !srv.draining.Swap(true) && srv.cfg.DrainDuration > 0 {
		srv.log.Info("Draining before shutdown", "duration", srv.cfg.DrainDuration)
		time.Sleep(srv.cfg.DrainDuration)
	}

	ctx, cancel := context.WithTimeout(context.Background(), srv.cfg.GracefulShutdownDuration)
	defer cancel()

	if err := srv.srv.Shutdown(ctx); err != nil {
		srv.log.Error("Graceful HTTP server shutdown failed", "err", err)
	} else {
		srv.log.Info("HTTP server gracefully stopped")
	}

	if srv.cfg.MetricsAddr != "" {
		if err := srv.metricsSrv.Shutdown(ctx); err != nil {
			srv.log.Error("Graceful metrics server shutdown failed", "err", err)
		} else {
			srv.log.Info("Metrics server gracefully stopped")
		}
	}
}

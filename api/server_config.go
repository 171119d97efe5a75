package api

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// HTTPServerConfig configures the node's API listener and its metrics listener.
type HTTPServerConfig struct {
	ListenAddr string

	// MetricsAddr is where /metrics is served. Empty disables the listener.
	MetricsAddr string

	EnablePprof bool

	Log *slog.Logger

	// DrainDuration is how long Shutdown keeps serving after /readyz started
	// failing, so that peers and load balancers stop routing to the node.
	DrainDuration time.Duration

	// GracefulShutdownDuration bounds the wait for in-flight requests.
	GracefulShutdownDuration time.Duration

	ReadTimeout time.Duration

	// WriteTimeout bounds whole requests. Requester calls block until their
	// job sessions end, so it has to exceed the session timeout.
	WriteTimeout time.Duration
}

// Validate checks the configuration against the session timeout of the node.
func (cfg *HTTPServerConfig) Validate(sessionTimeout time.Duration) error {
	if cfg.ListenAddr == "" {
		return errors.New("no listen address configured")
	}
	if cfg.Log == nil {
		return errors.New("no logger configured")
	}
	if cfg.WriteTimeout > 0 && cfg.WriteTimeout <= sessionTimeout {
		return fmt.Errorf("write timeout %s does not exceed session timeout %s", cfg.WriteTimeout, sessionTimeout)
	}
	return nil
}

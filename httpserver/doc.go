/*
Package httpserver runs the HTTP server of a secret store node.

The server mounts the routes of the API handlers it is created with, typically
the cluster message handler and the key server handler, behind the flashbots
slog request logger. It also serves:

  - GET /livez - liveness check
  - GET /readyz - readiness check, 503 while draining
  - GET /drain, GET /undrain - toggle readiness ahead of a restart
  - /debug/pprof when pprof is enabled

Prometheus metrics are served by a separate listener on MetricsAddr.
*/
package httpserver

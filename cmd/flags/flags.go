package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/tee-secret-store/api"
	"github.com/ruteri/tee-secret-store/common"
	"github.com/urfave/cli/v2"
)

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

// LogServiceFlagFn creates the service tag flag of a binary, defaulting to service.
func LogServiceFlagFn(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  logServiceFlagName,
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

const logServiceFlagName = "log-service"

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to keep serving after readiness is withdrawn on shutdown",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics, empty to disable",
}
var ReadTimeoutFlag = &cli.DurationFlag{
	Name:  "http-read-timeout",
	Value: 60 * time.Second,
	Usage: "maximum duration for reading a request",
}
var WriteTimeoutFlag = &cli.DurationFlag{
	Name:  "http-write-timeout",
	Value: 90 * time.Second,
	Usage: "maximum duration of a request, must exceed the session timeout",
}

var NodeKeyFlag = &cli.StringFlag{
	Name:     "node-key",
	Required: true,
	EnvVars:  []string{"SECRET_STORE_NODE_KEY"},
	Usage:    "secp256k1 node key: 64-char hex string or path to a file containing one",
}

var RpcAddrFlag = &cli.StringFlag{
	Name:  "rpc-addr",
	Value: "http://127.0.0.1:8545",
	Usage: "Ethereum RPC endpoint for contract permissions",
}

var LoggingFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var ServerFlags = []cli.Flag{
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
	ReadTimeoutFlag,
	WriteTimeoutFlag,
}

var CommonFlags = append(append([]cli.Flag{}, LoggingFlags...), ServerFlags...)

// SetupLogger creates the process logger from the logging flags. The service
// tag is only set by binaries which define it.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(logServiceFlagName),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		logger = logger.With("uid", uuid.Must(uuid.NewRandom()).String())
	}
	return logger
}

// ConfigureServer builds the HTTP server configuration from the server flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	return &api.HTTPServerConfig{
		ListenAddr:               listenAddr,
		MetricsAddr:              cCtx.String(MetricsAddrFlag.Name),
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              cCtx.Duration(ReadTimeoutFlag.Name),
		WriteTimeout:             cCtx.Duration(WriteTimeoutFlag.Name),
	}
}

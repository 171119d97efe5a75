package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/tee-secret-store/api/clusterhandler"
	"github.com/ruteri/tee-secret-store/api/keyserverhandler"
	"github.com/ruteri/tee-secret-store/cluster"
	"github.com/ruteri/tee-secret-store/cmd/flags"
	"github.com/ruteri/tee-secret-store/cryptoutils"
	"github.com/ruteri/tee-secret-store/httpserver"
	"github.com/ruteri/tee-secret-store/keyserver"
	"github.com/urfave/cli/v2"
)

var KeyServerServiceLogFlag = flags.LogServiceFlagFn("keyserver")

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8082",
	Usage: "address to listen on for cluster and requester API",
}
var NodesFileFlag = &cli.StringFlag{
	Name:     "nodes-file",
	Required: true,
	Usage:    "JSON file listing cluster members: [{\"id\": ..., \"address\": ...}]",
}
var SessionTimeoutFlag = &cli.DurationFlag{
	Name:  "session-timeout",
	Value: cluster.DefaultSessionTimeout,
	Usage: "time after which an unfinished session fails",
}
var DispatcherWorkersFlag = &cli.IntFlag{
	Name:  "dispatcher-workers",
	Value: cluster.DefaultDispatcherConfig.Workers,
	Usage: "number of concurrent outgoing message deliveries",
}
var DispatcherQueueFlag = &cli.IntFlag{
	Name:  "dispatcher-queue",
	Value: cluster.DefaultDispatcherConfig.QueueSize,
	Usage: "outgoing message queue size",
}

func main() {
	app := &cli.App{
		Name:  "keyserver",
		Usage: "Serve a secret store cluster node",
		Flags: append(append(StorageFlags, []cli.Flag{flags.NodeKeyFlag, ListenAddrFlag, NodesFileFlag, SessionTimeoutFlag, DispatcherWorkersFlag, DispatcherQueueFlag, flags.RpcAddrFlag, KeyServerServiceLogFlag}...), flags.CommonFlags...),
		Action: func(cCtx *cli.Context) error {
			listenAddr := cCtx.String(ListenAddrFlag.Name)

			logger := flags.SetupLogger(cCtx)

			key, err := cryptoutils.LoadNodeKey(cCtx.String(flags.NodeKeyFlag.Name))
			if err != nil {
				logger.Error("Failed to load node key", "err", err)
				return err
			}
			self := cryptoutils.NodeID(key)
			logger = logger.With("node", self.Short())

			nodes, err := cluster.LoadNodes(cCtx.String(NodesFileFlag.Name))
			if err != nil {
				logger.Error("Failed to load cluster nodes", "err", err)
				return err
			}

			keyStorage, backend, err := SetupKeyStorage(cCtx, logger, key)
			if err != nil {
				logger.Error("Failed to set up key storage", "err", err)
				return err
			}

			aclStorage, err := SetupACL(cCtx, logger)
			if err != nil {
				logger.Error("Failed to set up permissions", "err", err)
				return err
			}

			dispatcherCfg := cluster.DefaultDispatcherConfig
			dispatcherCfg.Workers = cCtx.Int(DispatcherWorkersFlag.Name)
			dispatcherCfg.QueueSize = cCtx.Int(DispatcherQueueFlag.Name)
			dispatcher := cluster.NewDispatcher(cluster.NewHTTPNetwork(key, nodes, logger), dispatcherCfg, logger)

			c, err := cluster.New(cluster.Config{
				Self:           self,
				Nodes:          cluster.NodeIDs(nodes),
				SessionTimeout: cCtx.Duration(SessionTimeoutFlag.Name),
			}, dispatcher, logger)
			if err != nil {
				logger.Error("Failed to join cluster", "err", err)
				return err
			}

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go func() {
				if err := dispatcher.Run(ctx, c.OnDeliveryFailure); err != nil {
					logger.Error("Dispatcher stopped", "err", err)
				}
			}()

			ks := keyserver.New(c, keyStorage, aclStorage, key, logger)

			serverCfg := flags.ConfigureServer(cCtx, logger, listenAddr)
			if err := serverCfg.Validate(cCtx.Duration(SessionTimeoutFlag.Name)); err != nil {
				logger.Error("Invalid server configuration", "err", err)
				return err
			}

			srv, err := httpserver.New(serverCfg,
				clusterhandler.NewHandler(c, logger),
				keyserverhandler.NewHandler(ks, logger))
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}

			srv.AddReadinessCheck("storage", storageReadiness(backend))
			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

			logger.Info("Node is running, press Ctrl+C to stop", "nodes", len(nodes))
			<-exit
			logger.Info("Shutdown signal received")

			srv.Shutdown()
			c.Shutdown()
			cancel()
			logger.Info("Server shutdown complete")

			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

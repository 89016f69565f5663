package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	httphandler "github.com/hivescan/hivescan/internal/adapters/handler/http"
	redisadapter "github.com/hivescan/hivescan/internal/adapters/queue/redis"
	"github.com/hivescan/hivescan/internal/core/logger"
	"github.com/hivescan/hivescan/internal/core/ports"
	"github.com/hivescan/hivescan/internal/core/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scan orchestration HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info("starting hivescan server", "version", "0.1.0")

		if cfg.EnableTracing {
			shutdownTracing, err := tracing.Init(cfg.ServiceName, cfg.OTLPEndpoint)
			if err != nil {
				logger.Error("initializing tracing failed", "error", err)
			} else {
				logger.Info("tracing initialized", "endpoint", cfg.OTLPEndpoint)
				defer func() {
					if err := shutdownTracing(context.Background()); err != nil {
						logger.Error("shutting down tracing failed", "error", err)
					}
				}()
			}
		}

		var events ports.EventPublisher
		if adapter, err := redisadapter.NewAdapter(cfg.RedisURL); err != nil {
			logger.Warn("redis unavailable, scan events disabled", "error", err)
		} else {
			events = adapter
			defer adapter.Close()
		}

		hub := httphandler.NewHub(events)
		go hub.Run()

		consumerCtx, cancelConsumer := context.WithCancel(context.Background())
		defer cancelConsumer()
		go hub.EventConsumer(consumerCtx)

		server := httphandler.NewServer(func() (ports.Runtime, error) {
			return buildRuntime()
		}, hub)

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		go func() {
			<-sigChan
			logger.Info("shutting down")
			cancelConsumer()
			os.Exit(0)
		}()

		logger.Info("http server starting", "port", cfg.HTTPPort)
		return server.Run(":" + cfg.HTTPPort)
	},
}

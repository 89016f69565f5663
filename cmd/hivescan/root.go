package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hivescan/hivescan/internal/adapters/broker/rabbitmq"
	"github.com/hivescan/hivescan/internal/adapters/cluster/swarm"
	"github.com/hivescan/hivescan/internal/adapters/installer"
	redisadapter "github.com/hivescan/hivescan/internal/adapters/queue/redis"
	"github.com/hivescan/hivescan/internal/adapters/repository/sqlite"
	"github.com/hivescan/hivescan/internal/config"
	"github.com/hivescan/hivescan/internal/core/logger"
	"github.com/hivescan/hivescan/internal/core/ports"
	"github.com/hivescan/hivescan/internal/core/services"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:           "hivescan",
	Short:         "Run security scans on the local container cluster",
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}
		logger.Init(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(scanCmd, serveCmd, installCmd)
}

// buildRuntime wires a local runtime against the live cluster. The event
// publisher is optional: when Redis is unreachable the runtime runs without
// event fan-out.
func buildRuntime() (*services.LocalRuntime, error) {
	cluster, err := swarm.NewManager()
	if err != nil {
		return nil, fmt.Errorf("connecting to cluster: %w", err)
	}
	store, err := sqlite.NewStore(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("opening scan store: %w", err)
	}
	registry := installer.New(cluster.Client())

	var events ports.EventPublisher
	if adapter, err := redisadapter.NewAdapter(cfg.RedisURL); err != nil {
		logger.Warn("redis unavailable, scan events disabled", "error", err)
	} else {
		events = adapter
	}

	return services.NewLocalRuntime(store, cluster, registry, cluster, events,
		rabbitmq.Factory(cluster, cfg.BrokerImage)), nil
}

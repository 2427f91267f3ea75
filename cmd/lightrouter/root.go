package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"lightapi/router/pkg/clock"
	"lightapi/router/pkg/config"
	"lightapi/router/pkg/maintenance"
	"lightapi/router/pkg/proxy"
	"lightapi/router/pkg/ratelimit"
	"lightapi/router/pkg/telemetry/alerting"
	"lightapi/router/pkg/telemetry/logging"
	"lightapi/router/pkg/telemetry/metrics"
	"lightapi/router/pkg/transport"
)

var rootCmd = &cobra.Command{
	Use:   "lightrouter [config-name [port]]",
	Short: "Light API Router - OpenAI-compatible reverse proxy",
	Long: `Light API Router exposes an OpenAI-compatible HTTP surface and forwards
requests to the upstream described by a transformer file, with per-key rate
limiting, upstream connection pooling, and SSE streaming.

config-name is a file stem resolved as transformer/<name>.json unless
API_ROUTER_CONFIG_PATH overrides the path. port overrides the transformer's
configured listen port.`,
	Version: Version,
	Args:    cobra.MaximumNArgs(2),
	RunE:    runServer,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := logging.Init(logging.FromEnv())

	configName := ""
	if len(args) > 0 {
		configName = args[0]
	}

	portOverride := 0
	if len(args) > 1 {
		port, err := strconv.Atoi(args[1])
		if err != nil || port <= 0 || port > 65535 {
			logger.Warn("invalid port argument, using configured port", "arg", args[1])
		} else {
			portOverride = port
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths := config.ResolvePaths(configName)
	cache := config.Shared()
	registry := metrics.NewRegistry()
	sink := &alerting.LogSink{Logger: logger}
	tracker := alerting.NewTracker(clock.System, sink)
	pool := transport.Shared()

	handler := &proxy.Handler{
		Paths:      paths,
		Cache:      cache,
		Limiter:    ratelimit.Shared(),
		Metrics:    registry,
		Exposition: registry,
		Client:     transport.NewClient(pool),
		Tracker:    tracker,
		Sink:       sink,
		Clock:      clock.System,
		Logger:     logger,
	}

	if watcher, err := config.NewWatcher(cache, paths); err != nil {
		logger.Warn("config watcher unavailable, relying on mtime checks", "error", err)
	} else {
		go func() {
			if err := watcher.Watch(ctx); err != nil {
				logger.Warn("config watcher exited", "error", err)
			}
		}()
	}

	scheduler := maintenance.NewScheduler(pool, tracker)
	if err := scheduler.Start(ctx); err != nil {
		logger.Warn("maintenance scheduler unavailable", "error", err)
	}

	server := proxy.NewServer(handler)
	server.PortOverride = portOverride
	return server.Start(ctx)
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// Command canal runs the Slack ↔ assistant-thread bridge.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/slack-canal/internal/canal"
	"github.com/p-blackswan/slack-canal/internal/config"
	"github.com/p-blackswan/slack-canal/internal/engine"
	"github.com/p-blackswan/slack-canal/internal/health"
	"github.com/p-blackswan/slack-canal/internal/metrics"
	"github.com/p-blackswan/slack-canal/internal/project"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:          "canal",
	Short:        "Bridge Slack workspaces to assistant conversation threads",
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bridge: webhook server, socket mode connections, metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve() error {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if cfg.Environment == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("engine_url", cfg.EngineURL).
		Msg("starting slack canal")

	store, err := project.Open(cfg.ProjectsFile, logger)
	if err != nil {
		return fmt.Errorf("opening project store: %w", err)
	}

	engineClient := engine.NewClient(cfg.EngineURL, cfg.EngineAPIKey, logger)
	manager := engine.NewManager(engineClient, logger)

	m := metrics.New()
	c := canal.New(canal.Options{
		Projects: store,
		Bridge:   canal.NewEngineBridge(manager),
		Metrics:  m,
		Logger:   logger,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Socket Mode connections for every fully-configured project.
	c.StartSocketMode(ctx)

	// Webhook server.
	app := c.NewRouter()
	go func() {
		if err := app.Listen(cfg.ListenAddr); err != nil {
			logger.Error().Err(err).Msg("webhook server stopped")
			cancel()
		}
	}()

	// Metrics and probes.
	checker := health.NewChecker(logger)
	checker.Register("engine", func(ctx context.Context) health.Status {
		if err := engineClient.Ping(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	// A dropped socket degrades readiness without failing it: the webhook
	// path keeps serving while the connection reestablishes.
	for _, name := range store.ListProjects() {
		pcfg, ok := store.SlackConfig(name)
		if !ok || !pcfg.SocketModeReady() {
			continue
		}
		projectName := name
		checker.Register("slack-socket-"+projectName, func(ctx context.Context) health.Status {
			if c.SocketConnected(projectName) {
				return health.StatusOK
			}
			return health.StatusDegraded
		})
	}
	probeMux := http.NewServeMux()
	probeMux.HandleFunc("/healthz", health.LivenessHandler())
	probeMux.HandleFunc("/readyz", checker.ReadinessHandler())
	probeMux.Handle("/metrics", m.Handler())
	probeSrv := &http.Server{
		Addr:         cfg.MetricsAddr,
		Handler:      probeMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := probeSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server stopped")
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	c.Shutdown(shutdownCtx)
	manager.Shutdown()
	_ = app.ShutdownWithContext(shutdownCtx)
	_ = probeSrv.Shutdown(shutdownCtx)

	logger.Info().Msg("goodbye")
	return nil
}

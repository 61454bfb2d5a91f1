package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haukened/privacy-redirect/internal/redirect/common/clock"
	"github.com/haukened/privacy-redirect/internal/redirect/common/log"
	"github.com/haukened/privacy-redirect/internal/redirect/config"
	"github.com/haukened/privacy-redirect/internal/redirect/domain"
	"github.com/haukened/privacy-redirect/internal/redirect/gateways/remote"
	"github.com/haukened/privacy-redirect/internal/redirect/gateways/transport"
	"github.com/haukened/privacy-redirect/internal/redirect/repos/allowlist"
	"github.com/haukened/privacy-redirect/internal/redirect/repos/allowlist/bolt"
	"github.com/haukened/privacy-redirect/internal/redirect/repos/loopguard"
	"github.com/haukened/privacy-redirect/internal/redirect/services/interceptor"
	"github.com/haukened/privacy-redirect/internal/redirect/services/policy"
)

const (
	// Version information
	version = "0.1.0-dev"
	appName = "redirectd"

	defaultShutdownTimeout = 10 * time.Second
)

// Application holds all the components of the redirect daemon
type Application struct {
	config      *config.AppConfig
	store       *allowlist.Store
	persister   allowlist.Persister
	refresher   *allowlist.Refresher
	guard       *loopguard.Guard
	interceptor *interceptor.Interceptor
	transport   *transport.HTTPTransport
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running without a subcommand serves.
func newRootCmd(out io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Privacy redirect decision engine",
		Long:          "redirectd decides whether outbound navigations are rerouted through a privacy redirect service and serves those decisions over a local HTTP API. Configuration is read from REDIRECT_* environment variables.",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE:          runServe,
	}
	root.SetOut(out)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the local decision API (default)",
		RunE:  runServe,
	}

	decide := &cobra.Command{
		Use:   "decide <url>",
		Short: "Print the rewrite decision for a single URL",
		Args:  cobra.ExactArgs(1),
		RunE:  runDecide,
	}
	decide.Flags().String("origin", "", "Origin of the page the navigation starts from (empty means no referrer)")
	decide.Flags().Bool("fetch", false, "Fetch the allow list and internal redirect rules first")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s\n", appName, version)
		},
	}

	root.AddCommand(serve, decide, versionCmd)
	return root
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Load configuration from environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	// Configure global logging
	err = log.Configure(log.Options{Env: cfg.Env, Level: cfg.LogLevel, File: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("logging configuration error: %w", err)
	}

	log.Info(map[string]any{
		"version":          version,
		"env":              cfg.Env,
		"log_level":        cfg.LogLevel,
		"server":           cfg.Server,
		"addr":             cfg.Addr(),
		"refresh_interval": cfg.RefreshInterval.String(),
		"loop_window":      cfg.LoopWindow.String(),
		"snapshot_db":      cfg.SnapshotDB,
		"click_checks":     cfg.ClickChecks,
	}, "Starting privacy redirect daemon")

	// Build application with all dependencies
	app, err := buildApplication(cfg)
	if err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Failed to build application")
		return err
	}

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := app.Run(ctx); err != nil {
		log.Error(map[string]any{"error": err.Error()}, "Server failed")
		return err
	}

	log.Info(nil, "Privacy redirect daemon stopped gracefully")
	return nil
}

func runDecide(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	originFlag, _ := cmd.Flags().GetString("origin")
	fetch, _ := cmd.Flags().GetBool("fetch")

	origin := domain.NoOrigin()
	if originFlag != "" {
		origin, err = domain.ParseOrigin(originFlag)
		if err != nil {
			return fmt.Errorf("invalid --origin: %w", err)
		}
	}

	logger := log.NewNoopLogger()
	opts := allowlist.Options{Logger: logger}
	if fetch {
		opts.Fetcher, err = remote.NewFetcher(remote.Options{Server: cfg.Server, Timeout: cfg.FetchTimeout})
		if err != nil {
			return err
		}
	}
	store := allowlist.New(opts)
	if fetch {
		if err := store.Refresh(cmd.Context()); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	target := args[0]
	if fetch && store.IsAllowed(target) {
		fmt.Fprintf(out, "allow-listed\t%s\n", target)
		return nil
	}
	res := policy.New(cfg.Server, store, logger).Decide(target, origin)
	fmt.Fprintf(out, "%s\t%s\n", decisionLabel(res), res.URL(target))
	return nil
}

func decisionLabel(res domain.RewriteResult) string {
	if res.IsRewritten() {
		return "rewritten"
	}
	return "unchanged"
}

// buildApplication constructs all components and wires them together
func buildApplication(cfg *config.AppConfig) (*Application, error) {
	// Create shared clock for consistent time across all components
	clk := clock.RealClock{}

	// Initialize logger (already configured globally)
	logger := log.GetLogger()

	fetcher, err := remote.NewFetcher(remote.Options{Server: cfg.Server, Timeout: cfg.FetchTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to create allow list client: %w", err)
	}

	var persister allowlist.Persister
	if cfg.SnapshotDB != "" {
		persister, err = bolt.New(cfg.SnapshotDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open snapshot db: %w", err)
		}
	}

	store := allowlist.New(allowlist.Options{
		Fetcher:   fetcher,
		Persister: persister,
		Clock:     clk,
		Logger:    logger.With(map[string]any{"component": "allowlist"}),
	})
	if err := store.Restore(); err != nil {
		log.Warn(map[string]any{"error": err.Error(), "path": cfg.SnapshotDB}, "Ignoring unusable allow list snapshot")
	}

	guard, err := loopguard.New(loopguard.Options{
		Capacity: cfg.LoopCacheSize,
		Window:   cfg.LoopWindow,
		Clock:    clk,
		Logger:   logger.With(map[string]any{"component": "loopguard"}),
	})
	if err != nil {
		closePersister(persister)
		return nil, fmt.Errorf("failed to create loop guard: %w", err)
	}

	svc, err := interceptor.New(interceptor.Options{
		Policy:      policy.New(cfg.Server, store, logger.With(map[string]any{"component": "policy"})),
		AllowList:   store,
		LoopGuard:   guard,
		Logger:      logger.With(map[string]any{"component": "interceptor"}),
		Server:      cfg.Server,
		ClickChecks: cfg.ClickChecks,
	})
	if err != nil {
		closePersister(persister)
		return nil, fmt.Errorf("failed to create interceptor: %w", err)
	}

	app := &Application{
		config:      cfg,
		store:       store,
		persister:   persister,
		refresher:   allowlist.NewRefresher(store, clk, cfg.RefreshInterval, logger.With(map[string]any{"component": "refresher"})),
		guard:       guard,
		interceptor: svc,
	}
	app.transport = transport.NewHTTPTransport(transport.Options{
		Addr:      cfg.Addr(),
		Logger:    logger.With(map[string]any{"component": "transport"}),
		AllowList: store,
		Stats:     app.stats,
	})
	return app, nil
}

func (app *Application) stats() map[string]any {
	return map[string]any{
		"allowlist":   app.store.Stats(),
		"loopguard":   app.guard.Stats(),
		"interceptor": app.interceptor.Stats(),
	}
}

// Run starts the background workers and the API and blocks until ctx is cancelled
func (app *Application) Run(ctx context.Context) error {
	defer closePersister(app.persister)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		app.refresher.Run(workerCtx)
	}()
	go func() {
		defer wg.Done()
		app.guard.Run(workerCtx)
	}()

	if err := app.transport.Start(ctx, app.interceptor); err != nil {
		stopWorkers()
		wg.Wait()
		return fmt.Errorf("failed to start HTTP transport: %w", err)
	}

	log.Info(map[string]any{
		"address":   app.transport.Address(),
		"transport": "HTTP",
		"prefix":    policy.Prefix(app.config.Server),
	}, "Decision API started")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info(nil, "Shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := app.transport.Stop(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error during transport shutdown")
	}

	done := make(chan struct{})
	go func() {
		stopWorkers()
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info(nil, "Graceful shutdown completed")
		return nil
	case <-shutdownCtx.Done():
		log.Warn(map[string]any{"timeout": defaultShutdownTimeout.String()}, "Shutdown timeout exceeded")
		return fmt.Errorf("shutdown timeout")
	}
}

func closePersister(p allowlist.Persister) {
	if p == nil {
		return
	}
	if err := p.Close(); err != nil {
		log.Warn(map[string]any{"error": err.Error()}, "Error closing snapshot db")
	}
}

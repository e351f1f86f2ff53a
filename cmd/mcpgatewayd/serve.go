package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mcpgateway/gateway/internal/cancellation"
	"github.com/mcpgateway/gateway/internal/config"
	"github.com/mcpgateway/gateway/internal/dispatcher"
	"github.com/mcpgateway/gateway/internal/discovery"
	"github.com/mcpgateway/gateway/internal/gwlog"
	"github.com/mcpgateway/gateway/internal/metrics"
	"github.com/mcpgateway/gateway/internal/notify"
	"github.com/mcpgateway/gateway/internal/progress"
	"github.com/mcpgateway/gateway/internal/prompts"
	"github.com/mcpgateway/gateway/internal/registry"
	"github.com/mcpgateway/gateway/internal/resources"
	"github.com/mcpgateway/gateway/internal/router"
	"github.com/mcpgateway/gateway/internal/session"
	"github.com/mcpgateway/gateway/internal/toolvalidator"
	"github.com/mcpgateway/gateway/internal/transport"
	"github.com/mcpgateway/gateway/internal/upstream"
)

// forceQuitWindow is how long after the first shutdown signal a second one
// forces an immediate exit, mirroring the teacher's two-signal
// graceful-shutdown pattern. Once the window passes, later signals are no
// longer watched and the graceful shutdown carries on.
const forceQuitWindow = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start the gateway and serve its HTTP transports until signaled to stop",
		RunE:  runServe,
	}
	return cmd
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfigOrWrap()
	if err != nil {
		return err
	}

	logger, level, err := gwlog.New(cfg.Logging.ToGWLog())
	if err != nil {
		return fmt.Errorf("setting up logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gw, err := buildGateway(logger, &level, cfg)
	if err != nil {
		return fmt.Errorf("building gateway: %w", err)
	}

	if err := writePIDFile(cfg.DataDir); err != nil {
		logger.Warn("failed to write pid file", zap.Error(err))
	}
	defer removePIDFile(cfg.DataDir)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	go func() {
		for sig := range sigChan {
			if sig == syscall.SIGHUP {
				logger.Info("received SIGHUP, reloading capabilities")
				if err := gw.reloadCapabilities(cfg); err != nil {
					logger.Error("reload failed", zap.Error(err))
				}
				continue
			}
			logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
			cancel()

			forceQuit := time.NewTimer(forceQuitWindow)
			select {
			case sig2 := <-sigChan:
				logger.Warn("received second signal, forcing immediate exit", zap.String("signal", sig2.String()))
				os.Exit(exitGeneralErr)
			case <-forceQuit.C:
			}
			forceQuit.Stop()
			return
		}
	}()

	gw.upstream.StartAll(ctx)
	gw.healthChecker.Start()

	httpSrv := &http.Server{Addr: cfg.Listen, Handler: gw.transport}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", zap.String("addr", cfg.Listen))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("shutting down gateway")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down http server", zap.Error(err))
	}
	gw.healthChecker.Stop()
	gw.upstream.StopAll()
	return nil
}

// gateway bundles every wired collaborator the serve loop needs a handle to
// after construction (for starting, stopping, and reloading).
type gateway struct {
	logger        *zap.Logger
	registry      *registry.Registry
	discovery     *discovery.Index
	upstream      *upstream.Manager
	dispatcher    *dispatcher.Dispatcher
	transport     *transport.Server
	healthChecker *metrics.Checker
}

func buildGateway(logger *zap.Logger, level *zap.AtomicLevel, cfg *config.Config) (*gateway, error) {
	metricsRegistry := metrics.NewRegistry(logger)
	reg := registry.New(logger)

	idx, err := discovery.New(logger)
	if err != nil {
		return nil, fmt.Errorf("building discovery index: %w", err)
	}
	reg.SetEnhancementCallback(idx.Reindex)

	notifier := notify.New(logger, cfg.Notify.ToCapabilities())
	reg.SetNotificationManager(notifier)

	upstreamMgr := upstream.New(logger, metricsRegistry, notifier)
	for _, sc := range cfg.Servers {
		if err := upstreamMgr.AddServer(sc.ToUpstreamConfig()); err != nil {
			return nil, fmt.Errorf("adding server %q: %w", sc.Name, err)
		}
	}

	rt := router.New(logger, upstreamMgr, idx, reg)
	sessions := session.NewManager(logger, cfg.SessionTimeout.Duration())
	validator := toolvalidator.New(cfg.ToolValidator.ToLimits())
	cancelMgr := cancellation.New(logger)
	progressTracker := progress.New(logger)
	resourceMgr := resources.New(logger)
	promptMgr := prompts.New(logger)

	disp := dispatcher.New(dispatcher.Deps{
		Logger:          logger,
		Sessions:        sessions,
		Registry:        reg,
		Router:          rt,
		Validator:       validator,
		Cancellation:    cancelMgr,
		Progress:        progressTracker,
		Notify:          notifier,
		Resources:       resourceMgr,
		Prompts:         promptMgr,
		Capabilities:    cfg.Notify.ToCapabilities(),
		Level:           level,
		ToolCallTimeout: cfg.CancellationTTL.Duration(),
	})
	upstreamMgr.SetForwarder(disp)

	if cfg.CapabilitiesDir != "" {
		if err := reloadCapabilitiesDir(reg, logger, cfg.CapabilitiesDir); err != nil {
			logger.Warn("no capabilities loaded at startup", zap.Error(err))
		}
	}

	healthChecker := metrics.NewChecker(logger, metricsRegistry, cfg.HealthCheck.ToCheckerConfig())
	upstreamMgr.RegisterHealthChecks(healthChecker)

	transportSrv := transport.NewServer(logger, disp, transport.Config{
		APIKey:         cfg.APIKey,
		ReadOnlyMode:   cfg.ReadOnlyMode,
		MaxBatchSize:   cfg.MaxBatchSize,
		SSEDeprecated:  cfg.SSEDeprecated,
		DisableSSE:     cfg.DisableSSETransport,
		MetricsHandler: metricsRegistry.Handler(),
	})

	return &gateway{
		logger:        logger,
		registry:      reg,
		discovery:     idx,
		upstream:      upstreamMgr,
		dispatcher:    disp,
		transport:     transportSrv,
		healthChecker: healthChecker,
	}, nil
}

func (g *gateway) reloadCapabilities(cfg *config.Config) error {
	if cfg.CapabilitiesDir == "" {
		return nil
	}
	return reloadCapabilitiesDir(g.registry, g.logger, cfg.CapabilitiesDir)
}

func reloadCapabilitiesDir(reg *registry.Registry, logger *zap.Logger, dir string) error {
	tools, err := registry.LoadDir(logger, dir, registry.FirstWins{})
	if err != nil {
		return err
	}
	return reg.Load(tools)
}

func loadConfigOrWrap() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load("")
	}
	if err != nil {
		return nil, &configError{err}
	}
	return cfg, nil
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "mcpgatewayd.pid")
}

func writePIDFile(dataDir string) error {
	if dataDir == "" {
		return nil
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(pidFilePath(dataDir), []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

func removePIDFile(dataDir string) {
	if dataDir == "" {
		return
	}
	_ = os.Remove(pidFilePath(dataDir))
}

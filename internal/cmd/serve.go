package cmd

import (
	"context"
	"net/http"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/meshgate/meshgate/internal/config"
	apperrors "github.com/meshgate/meshgate/internal/errors"
	"github.com/meshgate/meshgate/internal/mesh"
	"github.com/meshgate/meshgate/internal/oauth2"
	"github.com/meshgate/meshgate/internal/observability"
	"github.com/meshgate/meshgate/internal/ratelimit"
	"github.com/meshgate/meshgate/internal/server"
	"github.com/meshgate/meshgate/internal/store"
	"github.com/meshgate/meshgate/internal/token"
)

var (
	serverPort int
	serverHost string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	Long: `Start the gateway with graceful shutdown support.

Signal Handling:
  • Ctrl+C (SIGINT) or SIGTERM: Graceful shutdown
  • Ctrl+C twice within 2s: Force quit

The gateway serves traffic even when the shared store is unreachable: rate
limiting fails open behind a local ceiling and the OAuth2/JWT endpoints
report the store unavailable.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("host") {
			cfg.Server.Host = serverHost
		}
		if cmd.Flags().Changed("port") {
			cfg.Server.Port = serverPort
		}

		observability.InitServerLogger("meshgate", cfg.Logging.Level)
		logger := observability.ServerLogger

		logger.Info("Initializing gateway",
			zap.String("version", versionInfo.Version),
			zap.String("mode", cfg.Runtime.Mode),
			zap.String("host", cfg.Server.Host),
			zap.Int("port", cfg.Server.Port))

		metrics := observability.NewMetrics()

		deps, err := buildDependencies(cmd.Context(), cfg, metrics, logger)
		if err != nil {
			return err
		}

		srv := server.New(cfg, deps, metrics, logger)

		shutdownTimeout := cfg.Server.ShutdownTimeout
		if shutdownTimeout == 0 {
			shutdownTimeout = 10 * time.Second
		}

		// Shutdown handlers run LIFO: server first, logger flush last.
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Flushing logger...")
			_ = logger.Sync()
			return nil
		})
		signals.OnShutdown(func(ctx context.Context) error {
			logger.Info("Shutting down HTTP server...")
			shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				return apperrors.WrapInternal(ctx, err, "server shutdown failed")
			}
			logger.Info("HTTP server stopped gracefully")
			return nil
		})

		if err := signals.EnableDoubleTap(signals.DoubleTapConfig{
			Window:  2 * time.Second,
			Message: "Press Ctrl+C again within 2 seconds to force quit",
		}); err != nil {
			logger.Warn("Failed to enable double-tap force quit", zap.Error(err))
		}

		errChan := make(chan error, 1)
		go func() {
			if err := srv.Start(); err != nil && err != http.ErrServerClosed {
				errChan <- err
			}
		}()

		go func() {
			if err := signals.Listen(cmd.Context()); err != nil {
				logger.Error("Signal handler error", zap.Error(err))
				errChan <- err
			}
		}()

		if err := <-errChan; err != nil {
			ExitWithCode(logger, foundry.ExitFailure, "Gateway server failed",
				apperrors.WrapInternal(cmd.Context(), err, "server error"))
		}
		return nil
	},
}

// buildDependencies wires the shared store and the four gateway components.
func buildDependencies(ctx context.Context, cfg *config.Config, metrics *observability.Metrics, logger *zap.Logger) (server.Dependencies, error) {
	var st store.Store
	if cfg.Store.Enabled {
		redisStore, err := store.NewRedisStoreFromAddr(ctx, cfg.Store.Addr, cfg.Store.Password, cfg.Store.DB)
		if err != nil {
			// Degraded mode: rate limiting fails open, OAuth2/JWT report
			// the store unavailable.
			logger.Error("Shared store unreachable, starting degraded",
				zap.String("addr", cfg.Store.Addr),
				zap.Error(err))
		} else {
			st = redisStore
			logger.Info("Connected to shared store", zap.String("addr", cfg.Store.Addr))
		}
	} else {
		logger.Warn("Shared store disabled, starting degraded")
	}

	limiterOpts := []ratelimit.Option{
		ratelimit.WithMetrics(metrics),
		ratelimit.WithLogger(logger),
	}
	if cfg.RateLimit.FallbackRPS > 0 {
		limiterOpts = append(limiterOpts,
			ratelimit.WithLocalFallback(cfg.RateLimit.FallbackRPS, cfg.RateLimit.FallbackBurst))
	}

	var loadTracker *ratelimit.LoadTracker
	if cfg.RateLimit.LoadCapacity > 0 {
		loadTracker = ratelimit.NewLoadTracker(cfg.RateLimit.LoadCapacity)
		limiterOpts = append(limiterOpts, ratelimit.WithLoadSignal(loadTracker.Load))
	}
	limiter := ratelimit.New(st, ratelimit.Config{
		DefaultLimit:      cfg.RateLimit.DefaultLimit,
		Window:            cfg.RateLimit.Window,
		SensitiveLimit:    cfg.RateLimit.SensitiveLimit,
		SensitivePrefixes: cfg.RateLimit.SensitivePrefixes,
		ElevatedLimit:     cfg.RateLimit.ElevatedLimit,
		ElevatedRoles:     cfg.RateLimit.ElevatedRoles,
		WhitelistIPs:      cfg.RateLimit.WhitelistIPs,
		PenaltyMultiplier: cfg.RateLimit.PenaltyMultiplier,
		PenaltyDuration:   cfg.RateLimit.PenaltyDuration,
		HighLoadThreshold: cfg.RateLimit.HighLoadThreshold,
	}, limiterOpts...)

	tokens := token.NewProvider(st, token.Config{
		Issuer:   cfg.Token.Issuer,
		Audience: cfg.Token.Audience,
		KeyDir:   cfg.Token.KeyDir,
		TTL:      cfg.Token.TTL,
	}, logger)
	if _, _, err := tokens.EnsureKeys(); err != nil {
		return server.Dependencies{}, apperrors.WrapInternal(ctx, err, "signing key setup failed")
	}

	oauthProvider := oauth2.NewProvider(st, oauth2.Config{
		AccessTokenTTL:  cfg.OAuth2.AccessTokenTTL,
		RefreshTokenTTL: cfg.OAuth2.RefreshTokenTTL,
		CodeTTL:         cfg.OAuth2.CodeTTL,
	}, logger)

	meshIntegration := mesh.NewIntegration(mesh.Config{
		Flavor:           mesh.Flavor(cfg.Mesh.Flavor),
		LocalService:     cfg.Mesh.LocalService,
		DiscoveryURL:     cfg.Mesh.DiscoveryURL,
		CallTimeout:      cfg.Mesh.CallTimeout,
		HealthTimeout:    cfg.Mesh.HealthTimeout,
		FailureThreshold: cfg.Mesh.Breaker.FailureThreshold,
		Cooldown:         cfg.Mesh.Breaker.Cooldown,
	}, metrics, logger)

	for _, svc := range cfg.Mesh.Services {
		if err := meshIntegration.RegisterService(mesh.ServiceDescriptor{
			ID:         svc.ID,
			Name:       svc.Name,
			Version:    svc.Version,
			Endpoints:  svc.Endpoints,
			HealthPath: svc.HealthPath,
		}); err != nil {
			return server.Dependencies{}, err
		}
	}

	if cfg.Mesh.DiscoveryURL != "" {
		if err := meshIntegration.DiscoverServices(ctx); err != nil {
			// Proxy routes stay gated on readiness until a retry succeeds.
			logger.Error("Service discovery failed", zap.Error(err))
			go retryDiscovery(ctx, meshIntegration, logger)
		}
	}

	return server.Dependencies{
		Limiter:     limiter,
		Tokens:      tokens,
		OAuth2:      oauthProvider,
		Mesh:        meshIntegration,
		LoadTracker: loadTracker,
	}, nil
}

// retryDiscovery keeps retrying until discovery succeeds or the process
// shuts down.
func retryDiscovery(ctx context.Context, integration *mesh.Integration, logger *zap.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := integration.DiscoverServices(ctx); err != nil {
				logger.Warn("Service discovery retry failed", zap.Error(err))
				continue
			}
			logger.Info("Service discovery succeeded")
			return
		}
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host (overrides config)")
	serveCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "server port (overrides config)")
}

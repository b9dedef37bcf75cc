// Package main provides the entry point for the access gate service.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pantrykit/authgate/internal/audit"
	"github.com/pantrykit/authgate/internal/auth"
	"github.com/pantrykit/authgate/internal/auth/keys"
	"github.com/pantrykit/authgate/internal/config"
	"github.com/pantrykit/authgate/internal/httpapi"
	"github.com/pantrykit/authgate/internal/metrics"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	var (
		logLevel        = flag.String("log-level", "info", "Log level (debug, info, warn, error)")
		logFormat       = flag.String("log-format", "json", "Log format (json, console)")
		showVersion     = flag.Bool("version", false, "Show version information")
		gracefulTimeout = flag.Duration("shutdown-timeout", 30*time.Second, "Graceful shutdown timeout")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("authgate %s\n", Version)
		fmt.Printf("  Build Time: %s\n", BuildTime)
		fmt.Printf("  Git Commit: %s\n", GitCommit)
		os.Exit(0)
	}

	logger, err := initLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	keyURL, err := cfg.KeyEndpointURL()
	if err != nil {
		logger.Fatal("Failed to resolve key endpoint", zap.Error(err))
	}

	logger.Info("Starting access gate",
		zap.String("version", Version),
		zap.String("addr", cfg.ListenAddr),
		zap.String("issuer", cfg.IssuerURL()),
		zap.Bool("legacy_auth", cfg.AllowLegacy),
	)

	gateMetrics := metrics.New("authgate")

	keyProvider, err := keys.NewProvider(keys.Config{
		URL:       keyURL,
		CacheTTL:  cfg.KeyCacheTTL,
		FailOpen:  cfg.KeyFailOpen,
		OnRefresh: gateMetrics.RecordKeyRefresh,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Failed to create key provider", zap.Error(err))
	}

	var revocations *auth.RevocationList
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		revocations = auth.NewRevocationList(client)
		logger.Info("Token deny list enabled", zap.String("redis", cfg.RedisAddr))
	}

	verifier, err := auth.NewVerifier(auth.VerifierConfig{
		Keys:              keyProvider,
		Issuer:            cfg.IssuerURL(),
		Revocations:       revocations,
		OnRevocationError: gateMetrics.RecordRevocationError,
		Logger:            logger,
	})
	if err != nil {
		logger.Fatal("Failed to create verifier", zap.Error(err))
	}

	mapping, err := cfg.BuildRoleMapping()
	if err != nil {
		logger.Fatal("Failed to build role mapping", zap.Error(err))
	}
	holder := config.NewMappingHolder(mapping)
	logger.Info("Role mapping loaded", zap.Int("identifiers", mapping.Len()))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.RoleMappingFile != "" {
		watcher, err := config.NewMappingWatcher(cfg, holder, logger)
		if err != nil {
			logger.Fatal("Failed to create mapping watcher", zap.Error(err))
		}
		if err := watcher.Watch(ctx); err != nil {
			logger.Fatal("Failed to start mapping watcher", zap.Error(err))
		}
		defer watcher.Stop()
	}

	gate, err := auth.NewGate(auth.GateConfig{
		Verifier:    verifier,
		Roles:       holder,
		AllowLegacy: cfg.AllowLegacy,
		Logger:      logger,
	})
	if err != nil {
		logger.Fatal("Failed to create gate", zap.Error(err))
	}

	var trail *audit.Trail
	if cfg.AuditLogFile != "" {
		trail, err = audit.NewTrail(audit.Config{
			FilePath:   cfg.AuditLogFile,
			MaxSizeMB:  100,
			MaxBackups: 5,
			Logger:     logger,
		})
		if err != nil {
			logger.Fatal("Failed to open audit trail", zap.Error(err))
		}
		defer trail.Close()
	}

	mw := httpapi.NewMiddleware(gate, gateMetrics, trail, logger)

	srvConfig := httpapi.DefaultConfig()
	srvConfig.Addr = cfg.ListenAddr
	srvConfig.Version = Version

	srv, err := httpapi.New(srvConfig, mw, gateMetrics, trail, cfg.AllowLegacy, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}

	errChan := make(chan error, 1)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		errChan <- srv.Start()
	}()

	select {
	case err := <-errChan:
		if err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), *gracefulTimeout)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Shutdown error", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}

// initLogger initializes the zap logger.
func initLogger(level, format string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zapLevel)

	return cfg.Build()
}

// Package main is the entrypoint for the canvasd server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/creativecanvas/canvasd/internal/auth"
	"github.com/creativecanvas/canvasd/internal/config"
	"github.com/creativecanvas/canvasd/internal/guest"
	"github.com/creativecanvas/canvasd/internal/permissions"
	"github.com/creativecanvas/canvasd/internal/realtime"
	"github.com/creativecanvas/canvasd/internal/server"
	"github.com/creativecanvas/canvasd/internal/sharing"
	"github.com/creativecanvas/canvasd/internal/store"

	// Register storage drivers
	_ "github.com/creativecanvas/canvasd/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	dbDriver := flag.String("db-driver", "", "Storage driver (overrides config)")
	dataDir := flag.String("data-dir", "", "Data directory (overrides config)")
	authSecret := flag.String("auth-secret", "", "Token signing secret (overrides config)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:     listenAddr,
			DatabaseDriver: dbDriver,
			DataDir:        dataDir,
			AuthSecret:     authSecret,
			LogLevel:       logLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.Logging.Level),
	}))
	slog.SetDefault(logger)

	if err := os.MkdirAll(cfg.Database.DataDir, 0o700); err != nil {
		logger.Error("failed to create data directory", "path", cfg.Database.DataDir, "error", err)
		os.Exit(1)
	}

	st, err := store.New(&store.DriverConfig{
		Driver:  cfg.Database.Driver,
		DataDir: cfg.Database.DataDir,
	})
	if err != nil {
		logger.Error("failed to create store", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	if err := st.Init(context.Background()); err != nil {
		logger.Error("failed to initialize store", "error", err)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("store initialized", "driver", st.Name(), "data_dir", cfg.Database.DataDir)

	issuer, err := auth.NewIssuer(
		cfg.Auth.Secret,
		time.Duration(cfg.Auth.AccessTTLMinutes)*time.Minute,
		time.Duration(cfg.Auth.RefreshTTLDays)*24*time.Hour,
	)
	if err != nil {
		logger.Error("failed to create token issuer", "error", err)
		os.Exit(1)
	}

	resolver := permissions.NewResolver(st)
	sharingSvc := sharing.NewService(st, resolver, time.Duration(cfg.Sharing.InviteTTLDays)*24*time.Hour, logger)
	guests := guest.NewTracker(st, time.Duration(cfg.Guest.RetentionDays)*24*time.Hour, logger)
	hub := realtime.NewHub(resolver, logger)

	srv, err := server.New(cfg, logger, &server.Deps{
		Store:    st,
		Issuer:   issuer,
		Resolver: resolver,
		Sharing:  sharingSvc,
		Guests:   guests,
		Hub:      hub,
	})
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// Package main is the entrypoint for the vitrin-go server.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/vitrin-io/vitrin-go/internal/api"
	"github.com/vitrin-io/vitrin-go/internal/billing"
	"github.com/vitrin-io/vitrin-go/internal/device"
	"github.com/vitrin-io/vitrin-go/internal/gateway"
	"github.com/vitrin-io/vitrin-go/internal/identity"
	"github.com/vitrin-io/vitrin-go/internal/platform/cache"
	"github.com/vitrin-io/vitrin-go/internal/platform/config"
	"github.com/vitrin-io/vitrin-go/internal/realtime"
	"github.com/vitrin-io/vitrin-go/internal/realtime/fanout"
	"github.com/vitrin-io/vitrin-go/internal/screen"
	"github.com/vitrin-io/vitrin-go/internal/store"

	// Register cache drivers
	_ "github.com/vitrin-io/vitrin-go/internal/platform/cache/loader"

	// Register store drivers
	_ "github.com/vitrin-io/vitrin-go/internal/store/loader"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to TOML config file (optional)")
	modeFlag := flag.String("mode", "", "Operating mode: prod or dev (overrides config)")
	listenAddr := flag.String("listen", "", "Listen address (overrides config)")
	cacheDriver := flag.String("cache-driver", "", "Cache driver: memory or redis (overrides config)")
	storeDriver := flag.String("store-driver", "", "Store driver: memory or sqlite (overrides config)")
	storeDataDir := flag.String("store-data-dir", "", "Data directory for file-backed stores (overrides config)")
	fanoutAddr := flag.String("fanout-addr", "", "Redis/Valkey address for cross-process fanout (overrides config)")
	adminUsername := flag.String("admin-username", "", "Bootstrap admin username (overrides config)")
	adminPassword := flag.String("admin-password", "", "Bootstrap admin password (overrides config)")
	loggingLevel := flag.String("logging-level", "", "Log level: debug, info, warn, error (overrides config)")
	flag.Parse()

	// Bootstrap logger for config loading errors (uses default level)
	bootstrapLogger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	// Load config with precedence: mode preset -> TOML file -> CLI flags
	cfg, err := config.Load(config.LoaderOptions{
		ConfigPath: *configPath,
		ModeFlag:   *modeFlag,
		FlagOverrides: config.FlagOverrides{
			ListenAddr:    listenAddr,
			CacheDriver:   cacheDriver,
			StoreDriver:   storeDriver,
			StoreDataDir:  storeDataDir,
			FanoutAddr:    fanoutAddr,
			AdminUsername: adminUsername,
			AdminPassword: adminPassword,
			LoggingLevel:  loggingLevel,
		},
		Logger: bootstrapLogger,
	})
	if err != nil {
		bootstrapLogger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Create logger with configured level
	var level slog.Level
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Log effective config with secrets redacted
	logger.Info("effective configuration", "config", cfg.Redacted())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Registry (device/screen rows)
	if cfg.Store.Driver == "sqlite" && cfg.Store.DataDir != "" {
		if err := os.MkdirAll(cfg.Store.DataDir, 0o700); err != nil {
			logger.Error("failed to create data directory", "path", cfg.Store.DataDir, "error", err)
			os.Exit(1)
		}
	}
	driver, err := store.New(&store.DriverConfig{
		Driver:  cfg.Store.Driver,
		DataDir: cfg.Store.DataDir,
	})
	if err != nil {
		logger.Error("failed to create store", "driver", cfg.Store.Driver, "error", err)
		os.Exit(1)
	}
	if err := driver.Init(ctx); err != nil {
		logger.Error("failed to initialize store", "driver", driver.Name(), "error", err)
		os.Exit(1)
	}
	defer driver.Close()

	registry, ok := driver.(store.Registry)
	if !ok {
		logger.Error("store driver does not implement the full registry", "driver", driver.Name())
		os.Exit(1)
	}

	// Claim cache
	claims, err := cache.New(cfg.Cache.Driver, cfg.Cache.DriverOptions())
	if err != nil {
		logger.Error("failed to create cache", "driver", cfg.Cache.Driver, "error", err)
		os.Exit(1)
	}
	defer claims.Close()

	// Cross-process fanout (optional)
	var fo fanout.Fanout
	if cfg.Fanout.Enabled {
		redisFanout, err := fanout.NewRedis(&fanout.RedisConfig{
			Addr:     cfg.Fanout.Addr,
			Password: cfg.Fanout.Password,
			DB:       cfg.Fanout.DB,
			Channel:  cfg.Fanout.Channel,
		})
		if err != nil {
			logger.Error("failed to connect fanout", "addr", cfg.Fanout.Addr, "error", err)
			os.Exit(1)
		}
		defer redisFanout.Close()
		fo = redisFanout
	}

	// Hub, bus and services. The hub's offline callback needs the
	// device service, which needs the bus, which needs the hub, so the
	// service variable is declared up front.
	var devices *device.Service
	offlineGrace := time.Duration(cfg.Realtime.OfflineGraceMS) * time.Millisecond
	hub := gateway.NewHub(logger, offlineGrace, func(serial string) {
		if devices == nil {
			return
		}
		if err := devices.SetStatus(context.Background(), serial, store.DeviceStatusOffline); err != nil {
			logger.Warn("offline transition failed", "serial", serial, "error", err)
		}
	})

	origin := uuid.NewString()
	bus := realtime.NewBus(origin, hub, fo, logger)
	if err := bus.Start(ctx); err != nil {
		logger.Error("failed to start broadcast bus", "error", err)
		os.Exit(1)
	}
	go hub.Run(ctx)

	devices = device.NewService(claims, registry, registry, bus, logger)
	if cfg.Realtime.ClaimTTLMinutes > 0 {
		devices.SetClaimTTL(time.Duration(cfg.Realtime.ClaimTTLMinutes) * time.Minute)
	}

	subscriptions := billing.NewMemorySubscriptions()
	subscriptions.AddPackage(&billing.Package{
		ID:          "trial",
		Name:        "Trial",
		ScreenCount: 3,
		IsTrial:     true,
	})

	screens := screen.NewService(devices, registry, registry, subscriptions, billing.NopNotifier{}, bus, logger)

	// Identity
	partyRepo := identity.NewMemoryPartyRepo()
	sessionRepo := identity.NewMemorySessionRepo()
	userAuth := identity.NewUserAuth(0) // 0 = bcrypt default cost
	resolver := &identity.Resolver{Sessions: sessionRepo, Users: partyRepo}

	sessionTTL := time.Duration(cfg.Realtime.SessionTTLHours) * time.Hour
	if err := seedAdmin(ctx, cfg, partyRepo, sessionRepo, userAuth, sessionTTL, logger); err != nil {
		logger.Error("failed to seed admin user", "error", err)
		os.Exit(1)
	}

	gw := gateway.New(logger, hub, devices, screens, registry, resolver, bus)
	router := api.NewRouter(devices, gw, logger)

	server := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.ListenAddr, "mode", cfg.Mode, "origin", origin)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	cancel()
}

// seedAdmin provisions the bootstrap admin user when configured. In dev
// mode a session is created so the socket can be exercised immediately;
// the token is only logged when sensitive logging is allowed.
func seedAdmin(ctx context.Context, cfg *config.Config, users *identity.MemoryPartyRepo, sessions *identity.MemorySessionRepo, auth *identity.UserAuth, sessionTTL time.Duration, logger *slog.Logger) error {
	username := cfg.Server.BootstrapAdmin.Username
	password := cfg.Server.BootstrapAdmin.Password
	if username == "" || password == "" {
		return nil
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	admin := &identity.User{
		Username:     username,
		Email:        username + "@localhost",
		PasswordHash: hash,
		Role:         "admin",
		Subscription: "trial",
	}
	if err := users.Create(ctx, admin); err != nil {
		if errors.Is(err, identity.ErrUserExists) {
			return nil
		}
		return err
	}
	logger.Info("seeded admin user", "username", username)

	if cfg.Mode == string(config.ModeDev) {
		session, err := sessions.Create(ctx, admin.ID, sessionTTL)
		if err != nil {
			return err
		}
		if cfg.Logging.AllowSensitive {
			logger.Info("dev admin session", "token", session.Token)
		} else {
			logger.Info("dev admin session created (enable logging.allow_sensitive to print the token)")
		}
	}
	return nil
}

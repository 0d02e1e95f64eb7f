package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/starjar/internal/calendar"
	"github.com/dukerupert/starjar/internal/catalog"
	"github.com/dukerupert/starjar/internal/config"
	"github.com/dukerupert/starjar/internal/database"
	"github.com/dukerupert/starjar/internal/legacy"
	"github.com/dukerupert/starjar/internal/logging"
	"github.com/dukerupert/starjar/internal/server"
)

func main() {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	clock, err := calendar.LoadClock(cfg.Timezone)
	if err != nil {
		slog.Error("invalid timezone", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srvCfg := server.Config{
		Catalog:         catalog.Default(),
		Clock:           clock,
		SessionTTL:      cfg.SessionTTL,
		LoginRateLimit:  cfg.LoginRateLimit,
		PINAttemptLimit: cfg.PINAttemptLimit,
		PINLockout:      cfg.PINLockout,
	}
	if cfg.LegacyPath != "" {
		srvCfg.LegacyKV = legacy.NewFileKV(cfg.LegacyPath)
		slog.Info("legacy import enabled", "path", cfg.LegacyPath)
	}

	srv := server.New(db, srvCfg, logger)

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Background cleanup goroutine
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go srv.WatchSignOuts(bgCtx)
	go func() {
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n, err := srv.Identity().PurgeExpired(); err != nil {
					slog.Error("cleanup expired sessions", "error", err)
				} else if n > 0 {
					slog.Info("cleaned up expired sessions", "count", n)
				}
				srv.RateLimiter().Cleanup()
			case <-bgCtx.Done():
				return
			}
		}
	}()
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.Tracker().EvictIdle(cfg.ChildIdleTimeout)
			case <-bgCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("starjar starting", "addr", httpServer.Addr, "timezone", clock.Location.String())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	// Live streams are hijacked connections that Shutdown does not wait for.
	// Close also flushes queued child writes before the database closes.
	srv.Close()
}

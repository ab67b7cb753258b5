// Package main wires together the verification gateway service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/migrapass/checkgate/internal/api"
	"github.com/migrapass/checkgate/internal/browser"
	memorycache "github.com/migrapass/checkgate/internal/cache/memory"
	rediscache "github.com/migrapass/checkgate/internal/cache/redis"
	"github.com/migrapass/checkgate/internal/captcha"
	"github.com/migrapass/checkgate/internal/checks"
	"github.com/migrapass/checkgate/internal/clock/system"
	"github.com/migrapass/checkgate/internal/config"
	"github.com/migrapass/checkgate/internal/gateway"
	"github.com/migrapass/checkgate/internal/hash/sha256"
	"github.com/migrapass/checkgate/internal/id/uuid"
	"github.com/migrapass/checkgate/internal/logging"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	hasher := sha256.New()
	idGen := uuid.New()

	retention := time.Duration(cfg.Cache.RetentionMs) * time.Millisecond
	var cache gateway.Cache = memorycache.New(retention, clock)
	var redisCache *rediscache.Cache
	if cfg.Cache.Backend == "redis" {
		redisCache, err = rediscache.New(ctx, rediscache.Config{
			URL:       cfg.Cache.RedisURL,
			PoolSize:  cfg.Cache.PoolSize,
			Retention: retention,
		})
		if err != nil {
			logger.Warn("redis cache init failed, falling back to memory", zap.Error(err))
		} else if redisCache != nil {
			cache = redisCache
		}
	}

	pool := browser.New(browser.Config{
		Headless:          cfg.Browser.Headless,
		UserAgent:         cfg.Browser.UserAgent,
		NavigationTimeout: time.Duration(cfg.Browser.NavTimeoutMs) * time.Millisecond,
		SelectorTimeout:   time.Duration(cfg.Browser.SelectorWaitMs) * time.Millisecond,
		SettleDelay:       time.Duration(cfg.Browser.SettleDelayMs) * time.Millisecond,
		MaxParallel:       cfg.Browser.MaxParallel,
		HostQPS:           cfg.Browser.HostQPS,
	}, logger.Named("browser"))

	solver := captcha.New(captcha.Config{
		Enabled:      cfg.Captcha.Enabled,
		APIKey:       cfg.Captcha.APIKey,
		BaseURL:      cfg.Captcha.BaseURL,
		SolveTimeout: time.Duration(cfg.Captcha.TimeoutMs) * time.Millisecond,
		PollInterval: time.Duration(cfg.Captcha.PollIntervalMs) * time.Millisecond,
	}, nil, clock, logger.Named("captcha"))

	registry := checks.NewRegistry(cfg, checks.Deps{
		Pool:      pool,
		Solver:    solver,
		Cache:     cache,
		Clock:     clock,
		Hasher:    hasher,
		Logger:    logger.Named("check"),
		UserAgent: cfg.Browser.UserAgent,
		Locale:    cfg.Browser.AcceptLanguage,
	})

	apiServer := api.NewServer(registry, pool, solver, idGen, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	pool.Close()
	if redisCache != nil {
		if err := redisCache.Close(); err != nil {
			logger.Error("redis close error", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

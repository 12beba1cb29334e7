package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/icexec/icexec/internal/api"
	"github.com/icexec/icexec/internal/authn"
	"github.com/icexec/icexec/internal/config"
	"github.com/icexec/icexec/internal/dockerrt"
	"github.com/icexec/icexec/internal/orchestrator"
	"github.com/icexec/icexec/internal/ratelimit"
	"github.com/icexec/icexec/internal/reaper"
	"github.com/icexec/icexec/internal/sessionstore"
	"github.com/icexec/icexec/internal/whitelist"
	"github.com/icexec/icexec/internal/workspace"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("icexecd", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	cfgPath := fs.String("config", "", "path to icexec.yaml")
	logLevelStr := fs.String("log-level", "", "log level: debug, info, warn, error (default from ICEXEC_LOG or info)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	logLevel := slog.LevelInfo
	if v := *logLevelStr; v != "" {
		logLevel = parseLogLevel(v, logLevel)
	} else if v := os.Getenv("ICEXEC_LOG"); v != "" {
		logLevel = parseLogLevel(v, logLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	path := *cfgPath
	if path == "" {
		for _, p := range []string{"icexec.yaml", "/etc/icexec/icexec.yaml"} {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Error("load config", "error", err)
		return 1
	}
	logger.Debug("config loaded", "config_path", path, "listen_addr", cfg.ListenAddr, "container_image", cfg.ContainerImage)

	if len(cfg.APIKeys) == 0 && cfg.JWTSecret == "" {
		if isListenNonLoopback(cfg.ListenAddr) {
			logger.Error("refusing to start: no api_keys or jwt_secret configured and listen_addr is not loopback")
			return 1
		}
		logger.Warn("no authentication configured — running in open access mode (dev only; do not use in production)")
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Error("redis ping failed", "error", err)
		return 1
	}

	docker, err := dockerrt.New(cfg)
	if err != nil {
		logger.Error("docker client", "error", err)
		return 1
	}
	defer docker.Close()

	if err := docker.Ping(ctx); err != nil {
		logger.Error("docker ping failed", "error", err)
		return 1
	}
	logger.Info("docker runtime OK")

	store := sessionstore.New(redisClient, time.Duration(cfg.SessionTTLSeconds)*time.Second)

	orch := orchestrator.New(dockerrt.OrchestratorRuntime{Client: docker}, store, logger, orchestrator.Options{
		UID:                cfg.Isolation.UID,
		GID:                cfg.Isolation.GID,
		DefaultExecTimeout: time.Duration(cfg.DefaultExecTimeoutSeconds) * time.Second,
		MaxExecTimeout:     time.Duration(cfg.MaxExecTimeoutSeconds) * time.Second,
		ExecPoolSize:       cfg.ExecPoolSize,
	})

	ws := workspace.New(dockerrt.WorkspaceExec{Client: docker}, cfg.Isolation.UID, cfg.Isolation.GID)

	limiter := ratelimit.New(redisClient, cfg.RateLimitRequests, time.Duration(cfg.RateLimitWindowSeconds)*time.Second)

	wl := whitelist.New(cfg.AllowedCommands)

	auth := authn.New(authn.Options{
		APIKeys:      cfg.APIKeys,
		APIKeyHeader: cfg.APIKeyHeader,
		JWTSecret:    cfg.JWTSecret,
		JWTAlgorithm: cfg.JWTAlgorithm,
	})

	rpr := reaper.New(
		dockerrt.ReaperRuntime{Client: docker},
		store,
		time.Duration(cfg.CleanupIntervalSeconds)*time.Second,
		time.Duration(cfg.CleanupMaxContainerAgeSeconds)*time.Second,
		logger,
	)
	go rpr.Run(ctx)

	srv := api.NewServer(cfg, orch, ws, limiter, wl, auth, logger)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      srv.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.ListenAddr)
	fmt.Fprintf(os.Stderr, "\n  icexecd ready\n  API: http://%s\n\n", cfg.ListenAddr)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		return 1
	}

	return 0
}

func parseLogLevel(v string, fallback slog.Level) slog.Level {
	switch v {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return fallback
	}
}

// isListenNonLoopback returns true if addr binds to a non-loopback interface.
func isListenNonLoopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return true
	}
	if host == "" {
		return true
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return true
	}
	return !ip.IsLoopback()
}

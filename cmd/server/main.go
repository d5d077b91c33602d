package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"

	"github.com/Tyrowin/roomchat/internal/chat"
	"github.com/Tyrowin/roomchat/internal/config"
	"github.com/Tyrowin/roomchat/internal/logging"
	"github.com/Tyrowin/roomchat/internal/metrics"
	"github.com/Tyrowin/roomchat/internal/server"
	"github.com/Tyrowin/roomchat/internal/session"
	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", os.Getenv(config.EnvPrefix+"_CONFIG"), "path to a config file (yaml, json or toml)")
	flag.Parse()

	cfg, ignoredOrigins, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "roomchat: build logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	for _, origin := range ignoredOrigins {
		logger.Warn("ignoring invalid origin in configuration", zap.String("origin", origin))
	}
	if cfg.Session.Secret == "" {
		logger.Info("session secret not set; signed session cookies are ignored")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	rooms := chat.NewRegistry(logger.Named("rooms"), m)
	resolver := session.NewResolver(cfg.Session.Secret, logger.Named("session"))
	chatServer := server.New(*cfg, rooms, resolver, logger, m)
	httpServer := server.CreateServer(cfg.Server, server.SetupRoutes(chatServer))

	go func() {
		if err := server.StartServer(httpServer, logger.Named("http")); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server stopped", zap.Error(err))
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"http": func(ctx context.Context) error {
				return server.ShutdownServer(ctx, httpServer, logger.Named("http"))
			},
			"websocket": func(ctx context.Context) error {
				return chatServer.Shutdown(server.ShutdownTimeout(ctx, cfg.Server.ShutdownTimeout))
			},
		},
	)

	exitCode := <-wait
	logger.Info("server exited", zap.Int("code", exitCode))
	_ = logger.Sync()
	os.Exit(exitCode)
}

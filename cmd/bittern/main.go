// Command bittern runs the deception endpoint: the SSH and telnet
// frontends, the emulated shell behind them, and the event pipeline
// fanning captures out to the configured sinks.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tidelock/bittern/internal/api"
	"github.com/tidelock/bittern/internal/bus"
	"github.com/tidelock/bittern/internal/config"
	"github.com/tidelock/bittern/internal/honeypot"
	"github.com/tidelock/bittern/internal/identity"
	"github.com/tidelock/bittern/internal/shell"
	"github.com/tidelock/bittern/internal/sinks"
	"github.com/tidelock/bittern/internal/telnetd"
)

var version = "0.1.0"

func main() {
	configPath := flag.String("config", "", "Configuration file (YAML)")
	showVersion := flag.Bool("version", false, "Print version and exit")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *showVersion {
		fmt.Printf("bittern v%s\n", version)
		return
	}

	godotenv.Load()

	logger, err := buildLogger(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("config load failed", zap.Error(err))
	}
	logger.Info("bittern starting",
		zap.String("version", version),
		zap.String("sensor", cfg.Sensor))

	eventBus := bus.New(bus.Options{
		QueueSize: cfg.Sinks.QueueSize,
		Strict:    cfg.Sinks.Strict,
		Logger:    logger,
	})
	memStore := registerSinks(eventBus, cfg, logger)
	if err := eventBus.Start(); err != nil {
		logger.Fatal("event pipeline start failed", zap.Error(err))
	}

	var apiServer *api.Server
	if cfg.API != nil {
		apiServer = api.NewServer(api.ServerConfig{
			Addr:    cfg.API.Addr,
			Token:   cfg.API.Token,
			Version: version,
			Sensor:  cfg.Sensor,
		}, memStore, logger)
		apiServer.Start()
	}

	resolver := identity.NewResolver(identityProvider(cfg), cfg.Identity.SyntheticRoot)
	emulators := shell.DefaultFactory(cfg.Sensor)

	var g errgroup.Group
	var sshServer *honeypot.Server
	var telnetServer *telnetd.Server

	if cfg.SSH.Enabled {
		sshServer, err = honeypot.NewServer(honeypot.Options{
			Config:    cfg,
			Publisher: eventBus,
			Logger:    logger,
			Resolver:  resolver,
			Emulators: emulators,
		})
		if err != nil {
			logger.Fatal("ssh frontend init failed", zap.Error(err))
		}
		g.Go(sshServer.Start)
	}

	if cfg.Telnet.Enabled {
		telnetServer, err = telnetd.NewServer(telnetd.Options{
			Config:    cfg,
			Publisher: eventBus,
			Logger:    logger,
			Resolver:  resolver,
			Emulators: emulators,
		})
		if err != nil {
			logger.Fatal("telnet frontend init failed", zap.Error(err))
		}
		g.Go(telnetServer.Start)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() { errChan <- g.Wait() }()

	select {
	case sig := <-sigChan:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errChan:
		if err != nil {
			logger.Error("frontend failed", zap.Error(err))
		}
	}

	if sshServer != nil {
		sshServer.Close()
	}
	if telnetServer != nil {
		telnetServer.Close()
	}
	if apiServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		apiServer.Shutdown(ctx)
		cancel()
	}
	eventBus.Stop()
	logger.Info("shutdown complete")
}

func buildLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		if env := os.Getenv("BITTERN_CONFIG"); env != "" {
			path = env
		}
	}
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadFromFile(path)
}

func identityProvider(cfg *config.Config) identity.Provider {
	if len(cfg.Identity.Users) == 0 {
		return nil
	}
	return identity.NewStaticProvider(cfg.Identity.Users)
}

// registerSinks builds one sink per configured backend. Registration
// order is delivery-independent; each sink has its own queue.
func registerSinks(b *bus.Bus, cfg *config.Config, logger *zap.Logger) *sinks.Memory {
	if cfg.Sinks.JSONL != nil {
		b.Register(sinks.NewJSONL(cfg.Sinks.JSONL.Path))
	}
	if cfg.Sinks.SQLite != nil {
		b.Register(sinks.NewSQLite(cfg.Sinks.SQLite.Path))
	}
	if cfg.Sinks.Redis != nil {
		b.Register(sinks.NewRedis(sinks.RedisOptions{
			Addr:     cfg.Sinks.Redis.Addr,
			Username: cfg.Sinks.Redis.Username,
			Password: cfg.Sinks.Redis.Password,
			DB:       cfg.Sinks.Redis.DB,
			Key:      cfg.Sinks.Redis.Key,
		}))
	}
	if cfg.Sinks.Webhook != nil {
		b.Register(sinks.NewWebhook(sinks.WebhookOptions{
			URL:     cfg.Sinks.Webhook.URL,
			Token:   cfg.Sinks.Webhook.Token,
			Timeout: time.Duration(cfg.Sinks.Webhook.TimeoutMS) * time.Millisecond,
			Events:  cfg.Sinks.Webhook.Events,
		}))
	}
	if cfg.Sinks.ThreatFeed != nil {
		b.Register(sinks.NewThreatFeed(sinks.ThreatFeedOptions{
			URL:     cfg.Sinks.ThreatFeed.URL,
			APIKey:  cfg.Sinks.ThreatFeed.APIKey,
			Feed:    cfg.Sinks.ThreatFeed.Feed,
			Timeout: time.Duration(cfg.Sinks.ThreatFeed.TimeoutMS) * time.Millisecond,
		}))
	}
	if cfg.Sinks.Archive != nil {
		b.Register(sinks.NewArchive(cfg.Sinks.Archive.Dir))
	}
	if cfg.Sinks.Feed != nil {
		b.Register(sinks.NewFeed(cfg.Sinks.Feed.Addr, logger))
	}
	if cfg.Sinks.CrashLog != nil {
		b.Register(sinks.NewCrashLog(cfg.Sinks.CrashLog.Path))
	}
	// Always retain a window of recent events in process; the
	// inspection API reads from it.
	mem := sinks.NewMemory(sinks.DefaultMemoryLimit)
	b.Register(mem)
	return mem
}

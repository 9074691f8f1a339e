package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mvnigro/monitor-produtos/backend"
	"github.com/mvnigro/monitor-produtos/config"
	"github.com/mvnigro/monitor-produtos/engine"
	"github.com/mvnigro/monitor-produtos/messaging"
	"github.com/mvnigro/monitor-produtos/protocol"
	"github.com/mvnigro/monitor-produtos/www"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	configPath := flag.String("config", "monitor.yaml", "path to config file")
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	initConfig := flag.Bool("init-config", false, "write the effective config to -config and exit")
	flag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *port > 0 {
		cfg.Web.Port = *port
	}
	if *initConfig {
		if err := cfg.Save(*configPath); err != nil {
			log.Fatalf("write config: %v", err)
		}
		fmt.Printf("wrote %s\n", *configPath)
		return
	}

	logger, err := newLogger(cfg.Log, *debug)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer logger.Sync()

	// Create and start engine
	api := backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout)
	eng := engine.New(engine.Config{
		AppConfig: cfg,
		Backend:   api,
		Logger:    logger.Named("engine"),
	})
	if err := eng.Start(); err != nil {
		logger.Fatal("start engine", zap.Error(err))
	}
	defer eng.Stop()

	opts := www.Options{Logger: logger.Named("www")}

	// Set up messaging
	msgClient, err := messaging.NewClient(cfg.Messaging, cfg.ClientID(), logger.Named("messaging"))
	switch {
	case errors.Is(err, messaging.ErrDisabled):
		logger.Info("messaging disabled")
	case err != nil:
		logger.Fatal("messaging config", zap.Error(err))
	default:
		defer msgClient.Close()
		if err := msgClient.Connect(); err != nil {
			logger.Warn("messaging connect failed, running standalone", zap.Error(err))
			break
		}
		topic := cfg.Messaging.EventsTopic
		logger.Info("messaging connected", zap.String("backend", msgClient.Backend()))

		pub := messaging.NewPublisher(msgClient, cfg.StationID, topic, logger.Named("publisher"))
		pub.Attach(eng.Events)
		defer pub.Detach()

		hb := messaging.NewHeartbeater(msgClient, eng, cfg.StationID, version, topic,
			cfg.Messaging.HeartbeatInterval, logger.Named("heartbeat"))
		hb.Start()
		defer hb.Stop()

		// Protocol ingestor (events from other stations)
		follower := messaging.NewFollower(eng, logger.Named("follower"))
		ingestor := protocol.NewIngestor(follower, protocol.FromOthers(cfg.StationID), logger.Named("ingestor"))
		if err := msgClient.Subscribe(topic, ingestor.HandleRaw); err != nil {
			logger.Warn("protocol ingestor subscribe", zap.Error(err))
		} else {
			logger.Info("following station events", zap.String("topic", topic), zap.String("station", cfg.StationID))
			opts.Peers = follower
		}
	}

	// Set up HTTP server
	router, stopWeb := www.NewRouter(eng, opts)
	defer stopWeb()

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		logger.Info("monitor listening", zap.String("addr", addr), zap.String("backend", api.BaseURL()))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	// Wait for shutdown signal; SIGHUP reloads backend and employee settings
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigCh {
		if sig != syscall.SIGHUP {
			break
		}
		reloadConfig(*configPath, cfg, api, logger)
	}

	logger.Info("shutting down")

	// Stop SSE event hub first so long-lived connections close
	stopWeb()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
}

func reloadConfig(path string, cfg *config.Config, api *backend.Client, logger *zap.Logger) {
	next, err := config.Load(path)
	if err != nil {
		logger.Warn("reload config", zap.Error(err))
		return
	}
	cfg.Lock()
	cfg.Backend = next.Backend
	cfg.Employees = next.Employees
	cfg.Unlock()
	api.Reconfigure(next.Backend.URL, next.Backend.Timeout)
	logger.Info("config reloaded", zap.String("backend", next.Backend.URL), zap.Strings("employees", next.Employees))
}

func newLogger(c config.LogConfig, debug bool) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if debug || c.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if c.Level != "" && !debug {
		lvl, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, err
		}
		zc.Level = lvl
	}
	return zc.Build()
}

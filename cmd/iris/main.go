package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/HyphaGroup/iris/internal/cache"
	"github.com/HyphaGroup/iris/internal/config"
	"github.com/HyphaGroup/iris/internal/logger"
	"github.com/HyphaGroup/iris/internal/mcp"
	"github.com/HyphaGroup/iris/internal/orchestrator"
	"github.com/HyphaGroup/iris/internal/pool"
	"github.com/HyphaGroup/iris/internal/session"
)

// Version is set at build time via -ldflags "-X main.Version=v1.0.0"
var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print version and exit")
	configFlag := flag.String("config", "", "Config file (default: $IRIS_CONFIG_PATH or $IRIS_HOME/config.json)")
	httpFlag := flag.Bool("http", false, "Serve MCP over HTTP regardless of config")
	flag.Parse()

	if *showVersion {
		fmt.Printf("iris %s\n", Version)
		os.Exit(0)
	}

	configPath := *configFlag
	if configPath == "" {
		configPath = config.ConfigPath()
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(config.LogDir(), false); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Close() }()

	logger.Info("iris starting", "version", Version, "config", configPath, "teams", len(cfg.Teams))

	sessions, err := session.NewManager(cfg, config.DatabasePath(), nil)
	if err != nil {
		logger.Error("failed to open session store", "err", err)
		os.Exit(1)
	}
	defer func() { _ = sessions.Close() }()

	caches := cache.NewManager()
	procs := pool.New(cfg, caches, nil)
	if err := procs.Start(); err != nil {
		logger.Error("failed to start process pool", "err", err)
		os.Exit(1)
	}

	orch := orchestrator.New(cfg, sessions, procs, caches, nil)
	orch.Start()

	// Bootstrap missing external sessions so the first tell to any team
	// resumes instead of cold-starting.
	ctx := context.Background()
	if err := sessions.Initialize(ctx); err != nil {
		logger.Warn("session bootstrap incomplete", "err", err)
	}

	server := mcp.NewServer(cfg, orch)

	// The dashboard is an extra read-only HTTP surface next to the stdio
	// transport. The http transport already serves the same endpoints.
	useHTTP := *httpFlag || cfg.Settings.DefaultTransport == "http"
	if cfg.Dashboard != nil && cfg.Dashboard.Enabled && !useHTTP {
		addr := fmt.Sprintf("%s:%d", cfg.Dashboard.Host, cfg.Dashboard.Port)
		go func() {
			logger.Info("dashboard listening", "addr", addr)
			if err := http.ListenAndServe(addr, server.DashboardHandler()); err != nil {
				logger.Error("dashboard failed", "err", err)
			}
		}()
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	serveCtx, cancelServe := context.WithCancel(ctx)
	defer cancelServe()

	serverErr := make(chan error, 1)
	go func() {
		if useHTTP {
			serverErr <- server.ServeHTTP(server.Addr())
		} else {
			serverErr <- server.ServeStdio(serveCtx)
		}
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "err", err)
		}
	case sig := <-shutdownChan:
		logger.Info("shutting down", "signal", sig.String())
	}

	cancelServe()
	orch.Stop()
	procs.TerminateAll()
	_ = sessions.Close()
	logger.Info("shutdown complete")
	_ = logger.Close()
}

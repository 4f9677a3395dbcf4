package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/spf13/pflag"

	"devicemirror/adb"
	"devicemirror/api"
	"devicemirror/config"
	"devicemirror/process"
	"devicemirror/service"
	"devicemirror/store"
)

// setupLogging creates a log file in the log directory with timestamp
// and returns a logger writing to it and to stdout. The caller closes
// the returned file; it is nil when logDir is empty.
func setupLogging(logDir string, level slog.Level) (*slog.Logger, *os.File, error) {
	opts := &slog.HandlerOptions{Level: level}
	if logDir == "" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil, nil
	}

	if err := os.MkdirAll(logDir, 0755); err != nil {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// log/2025-12-08_21-52-35.log
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logPath := filepath.Join(logDir, timestamp+".log")

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return slog.New(slog.NewTextHandler(os.Stdout, opts)), nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// Write to both console and file
	multiWriter := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(multiWriter, opts))
	logger.Info("📝 Logging to file", "path", logPath)
	return logger, logFile, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath string
		addr       string
		dbPath     string
		adbPath    string
		scrcpyPath string
		logDir     string
		logLevel   string
	)

	flagSet := pflag.NewFlagSet("devicemirror", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file (default: $"+config.EnvPath+")")
	flagSet.StringVar(&addr, "addr", config.DefaultHTTPAddr, "HTTP listen address")
	flagSet.StringVar(&dbPath, "db", config.DefaultDatabasePath, "SQLite database path")
	flagSet.StringVar(&adbPath, "adb", config.DefaultADBPath, "adb executable")
	flagSet.StringVar(&scrcpyPath, "scrcpy", config.DefaultScrcpyPath, "scrcpy executable")
	flagSet.StringVar(&logDir, "log-dir", config.DefaultLogDir, "directory for log files (empty disables)")
	flagSet.StringVar(&logLevel, "log-level", config.DefaultLogLevel, "debug, info, warn or error")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	// Flags given on the command line win over the file.
	if flagSet.Changed("addr") {
		cfg.Server.Addr = addr
	}
	if flagSet.Changed("db") {
		cfg.Database.Path = dbPath
	}
	if flagSet.Changed("adb") {
		cfg.ADB.Path = adbPath
	}
	if flagSet.Changed("scrcpy") {
		cfg.Scrcpy.Path = scrcpyPath
	}
	if flagSet.Changed("log-dir") {
		cfg.Log.Dir = logDir
	}
	if flagSet.Changed("log-level") {
		cfg.Log.Level = logLevel
	}

	level, err := config.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logger, logFile, err := setupLogging(cfg.Log.Dir, level)
	if err != nil {
		logger.Warn("Failed to setup file logging", "error", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	logger.Info("Starting devicemirror...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, store.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	logger.Info("💾 Database ready", "path", cfg.Database.Path)

	runner := process.NewRunner(logger)
	adbClient := adb.NewADBClient(cfg.ADB.Path, runner)
	bus := service.NewEventBus(logger)

	deviceManager := service.NewDeviceManager(service.DeviceManagerConfig{
		Bridge:      adbClient,
		Store:       db,
		Events:      bus,
		SettleDelay: cfg.Timing.SettleDelay,
		Logger:      logger,
	})
	sessionManager := service.NewSessionManager(service.SessionManagerConfig{
		ScrcpyPath: cfg.Scrcpy.Path,
		Grace:      cfg.Timing.SpawnGrace,
		Spawner:    service.ProcessSpawner{Runner: runner},
		Settings:   db,
		Devices:    deviceManager,
		Events:     bus,
		Logger:     logger,
	})
	broadcaster := service.NewCommandBroadcaster(deviceManager, logger)

	refresher := service.NewRefresher(deviceManager, db, adbClient, logger)
	deviceManager.OnLifecycle(refresher.Notify)
	go refresher.Run(ctx)

	// Initialize WebSocket hub
	wsHub := api.NewWebSocketHub(logger)
	events, unsubscribe := bus.Subscribe(256)
	defer unsubscribe()
	go wsHub.Run(ctx, events)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	api.SetupRoutes(router, api.Deps{
		Devices:     deviceManager,
		Sessions:    sessionManager,
		Broadcaster: broadcaster,
		Settings:    db,
		Refresher:   refresher,
		Hub:         wsHub,
		Logger:      logger,
	})

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           cors.AllowAll().Handler(router),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("🌐 Server starting", "addr", cfg.Server.Addr)
		logger.Info("WebSocket events on /ws")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("🛑 Shutting down...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", "error", err)
	}

	stopped := sessionManager.StopAllSessions()
	logger.Info("✅ Sessions stopped", "count", len(stopped))
	return nil
}

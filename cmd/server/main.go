// Package main provides the entry point for the crash simulation server.
// It loads historical price data, wires the feature, regime, strategy and
// simulation engines together, and serves them over HTTP and WebSocket.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/quantfold/crashsim/internal/api"
	"github.com/quantfold/crashsim/internal/config"
	"github.com/quantfold/crashsim/internal/data"
	"github.com/quantfold/crashsim/internal/features"
	"github.com/quantfold/crashsim/internal/intensity"
	"github.com/quantfold/crashsim/internal/regime"
	"github.com/quantfold/crashsim/internal/strategy"
	"github.com/quantfold/crashsim/internal/workers"
)

func main() {
	configPath := flag.String("config", "", "Config file path (optional)")
	host := flag.String("host", "", "Server host (overrides config)")
	port := flag.Int("port", 0, "Server port (overrides config)")
	dataDir := flag.String("data", "", "Data directory (overrides config)")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Parse()

	logger := setupLogger(*logLevel)
	defer logger.Sync()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dataDir != "" {
		cfg.Data.Dir = *dataDir
	}

	logger.Info("Starting crash simulation server",
		zap.String("host", cfg.Server.Host),
		zap.Int("port", cfg.Server.Port),
		zap.String("dataDir", cfg.Data.Dir),
	)

	store := data.NewStore(logger)
	if err := loadDataDir(logger, store, cfg.Data.Dir); err != nil {
		logger.Warn("Data directory not loaded", zap.Error(err))
	}

	poolConfig := workers.DefaultPoolConfig("montecarlo")
	if cfg.MonteCarlo.Workers > 0 {
		poolConfig.NumWorkers = cfg.MonteCarlo.Workers
	}
	pool := workers.NewPool(logger, poolConfig)
	pool.Start()

	intensityStrategy, err := intensity.NewStrategy(logger, nil)
	if err != nil {
		logger.Fatal("Failed to initialize intensity strategy", zap.Error(err))
	}

	server := api.NewServer(logger, cfg.Server, api.Dependencies{
		Store:             store,
		Engineer:          features.NewEngineer(logger, nil),
		Detector:          regime.NewDetector(logger, nil),
		Strategy:          strategy.New(logger, nil),
		IntensityStrategy: intensityStrategy,
		Pool:              pool,
		Backtest:          cfg.Backtest,
		MonteCarlo:        cfg.MonteCarlo,
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	}()

	logger.Info("Server started",
		zap.String("http", fmt.Sprintf("http://%s/api/v1", cfg.Server.Addr())),
		zap.String("ws", fmt.Sprintf("ws://%s%s", cfg.Server.Addr(), cfg.Server.WebSocketPath)),
		zap.Int("symbols", len(store.Symbols())),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	if err := pool.Stop(); err != nil {
		logger.Error("Error stopping worker pool", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// loadDataDir loads every CSV in dir into the store. The symbol is the
// file name without extension. Series that fail quality checks are skipped.
func loadDataDir(logger *zap.Logger, store *data.Store, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	loader := data.NewLoader(logger, dir)
	validator := data.NewQualityValidator(logger)

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(name), ".csv") {
			continue
		}
		symbol := strings.ToUpper(strings.TrimSuffix(name, filepath.Ext(name)))

		series, err := loader.LoadInvestingCSV(symbol, name)
		if err != nil {
			logger.Warn("Failed to load series",
				zap.String("file", name),
				zap.Error(err),
			)
			continue
		}
		data.ForwardFill(series)

		report := validator.Validate(series)
		if !report.IsUsable {
			logger.Warn("Skipping unusable series",
				zap.String("symbol", symbol),
				zap.Int("score", report.QualityScore),
				zap.Int("issues", len(report.Issues)),
			)
			continue
		}

		store.Put(series)
		logger.Info("Loaded series",
			zap.String("symbol", symbol),
			zap.Int("bars", len(series.Bars)),
			zap.Int("quality", report.QualityScore),
		)
	}
	return nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := config.Build()
	if err != nil {
		panic(err)
	}

	return logger
}

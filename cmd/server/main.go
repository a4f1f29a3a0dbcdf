// Package main provides the entry point for the rotation strategy backend:
// factor scoring, regime-aware rotation and grid strategies, backtesting,
// and parameter search behind an HTTP/WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quantdesk/rotation-backend/internal/api"
	"github.com/quantdesk/rotation-backend/internal/data"
	"github.com/quantdesk/rotation-backend/internal/strategy"
	"github.com/quantdesk/rotation-backend/pkg/types"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.GetString("log.level"))
	defer logger.Sync()

	dataDir := cfg.GetString("data.dir")
	logger.Info("Starting rotation backend",
		zap.String("host", cfg.GetString("server.host")),
		zap.Int("port", cfg.GetInt("server.port")),
		zap.String("dataDir", dataDir),
	)

	// Load and register the dataset.
	store := data.NewStore(logger)
	loader := data.NewLoader(logger, dataDir)
	dataset, err := loader.LoadAll()
	if err != nil {
		logger.Fatal("Failed to load dataset", zap.Error(err))
	}

	styles := cfg.GetStringMapString("data.styles")
	benchmarkSymbol := cfg.GetString("data.benchmark")
	for symbol, series := range dataset {
		if symbol == benchmarkSymbol {
			store.SetBenchmark(series)
			continue
		}
		if err := store.Register(series, styles[symbol]); err != nil {
			logger.Fatal("Failed to register series",
				zap.String("symbol", symbol),
				zap.Error(err),
			)
		}
	}
	if store.Benchmark() == nil && benchmarkSymbol != "" {
		logger.Warn("Benchmark symbol not found in dataset",
			zap.String("benchmark", benchmarkSymbol),
		)
	}

	registry := strategy.NewRegistry()
	logger.Info("Registered strategies", zap.Strings("strategies", registry.List()))

	serverConfig := &types.ServerConfig{
		Host:           cfg.GetString("server.host"),
		Port:           cfg.GetInt("server.port"),
		WebSocketPath:  "/ws",
		ReadTimeout:    cfg.GetDuration("server.readTimeout"),
		WriteTimeout:   cfg.GetDuration("server.writeTimeout"),
		EnableMetrics:  cfg.GetBool("server.enableMetrics"),
		MaxConnections: cfg.GetInt("server.maxConnections"),
	}

	server := api.NewServer(logger, serverConfig, store, registry)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error("Server error", zap.Error(err))
			sigChan <- syscall.SIGTERM
		}
	}()

	logger.Info("Server started",
		zap.String("http", fmt.Sprintf("http://%s:%d/api/v1", serverConfig.Host, serverConfig.Port)),
		zap.String("ws", fmt.Sprintf("ws://%s:%d/ws", serverConfig.Host, serverConfig.Port)),
	)

	<-sigChan
	logger.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil {
		logger.Error("Error during server shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

// loadConfig reads the optional config file and environment overrides.
// Every key has a default so the server starts with no config at all.
func loadConfig() (*viper.Viper, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 15*time.Second)
	v.SetDefault("server.enableMetrics", true)
	v.SetDefault("server.maxConnections", 100)
	v.SetDefault("data.dir", "./data")
	v.SetDefault("data.benchmark", "")
	v.SetDefault("log.level", "info")

	v.SetEnvPrefix("QUANTDESK")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}
	return v, nil
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

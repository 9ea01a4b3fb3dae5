// Command gateway runs one robot-facing WebSocket gateway process: it
// accepts the master's control connection on commPort, and robot
// connections on extPort, bridging the two per spec §4.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meshbotics/gateway/internal/activity"
	"github.com/meshbotics/gateway/internal/config"
	"github.com/meshbotics/gateway/internal/gateway"
	mw "github.com/meshbotics/gateway/internal/masterlink"
	"github.com/meshbotics/gateway/internal/middleware"
	"github.com/meshbotics/gateway/internal/server"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.Logging.Level)
	defer logger.Sync()

	logger.Info("starting gateway",
		zap.Int("ext_port", cfg.Server.ExtPort),
		zap.Int("comm_port", cfg.Master.CommPort),
	)

	var activityPublisher gateway.ActivityPublisher
	redisActivity, err := activity.New(cfg.Redis.URL, logger)
	if err != nil {
		logger.Warn("activity stream unavailable, lifecycle events will not be recorded", zap.Error(err))
	} else {
		activityPublisher = redisActivity
	}

	client := gateway.New(cfg.Timeouts.ReconnectTimeout(), activityPublisher, logger)

	dispatcher := mw.NewDispatcher(client, cfg.Server.Host, cfg.Server.ExtPort, logger)
	masterListener := mw.NewListener(dispatcher, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sweepInterval := cfg.Timeouts.MsgQueueTimeout() / 4
	if sweepInterval <= 0 {
		sweepInterval = time.Second
	}
	go runSweeper(ctx, client, sweepInterval, cfg.Timeouts.MsgQueueTimeout())

	wsServer := server.New(client, logger)
	rateLimiter := middleware.NewRateLimiter(600, logger)

	extMux := http.NewServeMux()
	extMux.HandleFunc("/ws", wsServer.HandleWebSocket)
	extMux.HandleFunc("/health", healthHandler)
	extMux.HandleFunc("/ready", healthHandler)
	extMux.Handle("/metrics", promhttp.Handler())

	extHTTPServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.ExtPort),
		Handler:      rateLimiter.Middleware(middleware.LoggingMiddleware(logger)(extMux)),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	commMux := http.NewServeMux()
	commMux.HandleFunc("/masterlink", masterListener.HandleMasterLink)
	commHTTPServer := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Master.CommPort),
		Handler:      commMux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("robot-facing server listening", zap.String("addr", extHTTPServer.Addr))
		if err := extHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("robot-facing server failed", zap.Error(err))
		}
	}()
	go func() {
		logger.Info("master-link server listening", zap.String("addr", commHTTPServer.Addr))
		if err := commHTTPServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("master-link server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down gracefully")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	client.Terminate(shutdownCtx)

	if err := extHTTPServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("robot-facing server shutdown error", zap.Error(err))
	}
	if err := commHTTPServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("master-link server shutdown error", zap.Error(err))
	}
	if redisActivity != nil {
		_ = redisActivity.Close()
	}

	logger.Info("gateway stopped")
}

func runSweeper(ctx context.Context, client *gateway.Client, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			client.SweepReassembly(maxAge)
		}
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

func initLogger(level string) *zap.Logger {
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
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}

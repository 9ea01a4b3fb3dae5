// Command masterd is a minimal reference master process: it dials out
// to a configured set of gateways' master-link ports, registers each
// with a placement distributor, and answers "which gateway should the
// next robot use" queries over HTTP. It exists to exercise
// internal/distributor end to end; it does not implement node/container
// orchestration, which stays behind the opaque UserRef the real master
// owns (spec §6).
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/meshbotics/gateway/internal/config"
	"github.com/meshbotics/gateway/internal/distributor"
	"github.com/meshbotics/gateway/internal/masterlink"
)

func main() {
	cfg, err := config.LoadMasterd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := initLogger(cfg.LogLevel)
	defer logger.Sync()

	dist := distributor.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conns, activeCounts := connectGateways(ctx, cfg.GatewayAddrs, dist, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/placement", placementHandler(dist, activeCounts))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: mux,
	}

	go func() {
		logger.Info("masterd listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("masterd http server failed", zap.Error(err))
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutting down")

	cancel()
	for _, c := range conns {
		_ = c.Close()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpServer.Shutdown(shutdownCtx)
}

// connectGateways dials every configured gateway and registers it with
// dist. An unreachable gateway is logged and skipped rather than
// failing the whole process — the distributor simply has fewer
// candidates until that gateway comes up.
func connectGateways(ctx context.Context, addrs []string, dist *distributor.Distributor, logger *zap.Logger) ([]*masterlink.Conn, map[string]*int64) {
	var conns []*masterlink.Conn
	activeCounts := make(map[string]*int64)
	for _, addr := range addrs {
		conn, err := masterlink.Dial(addr, "/masterlink", logger)
		if err != nil {
			logger.Warn("gateway unreachable", zap.String("addr", addr), zap.Error(err))
			continue
		}
		go conn.Serve(ctx)

		active := new(int64)
		ep := distributor.Endpoint{
			ID:      addr,
			Address: addr,
			Active:  func() int { return int(atomic.LoadInt64(active)) },
		}
		if err := dist.Register(ep); err != nil {
			logger.Warn("gateway registration failed", zap.String("addr", addr), zap.Error(err))
			_ = conn.Close()
			continue
		}
		logger.Info("gateway registered", zap.String("addr", addr))
		conns = append(conns, conn)
		activeCounts[addr] = active
	}
	return conns, activeCounts
}

// placementHandler answers with the least-loaded gateway and bumps its
// advisory active count, so repeated calls spread across registered
// gateways rather than always returning the same one.
func placementHandler(dist *distributor.Distributor, activeCounts map[string]*int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ep, err := dist.GetNextLocation()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		if counter, ok := activeCounts[ep.ID]; ok {
			atomic.AddInt64(counter, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"gateway": ep.Address})
	}
}

func initLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}
	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
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

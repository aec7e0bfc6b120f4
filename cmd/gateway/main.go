// Command gateway runs the dynamic gRPC gateway: it accepts JSON invocation
// and registration requests over HTTP and translates them into gRPC unary
// calls against upstreams whose schemas are discovered via server
// reflection at runtime.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/anthony/grpc-gateway/internal/breaker"
	"github.com/anthony/grpc-gateway/internal/clientpool"
	"github.com/anthony/grpc-gateway/internal/config"
	"github.com/anthony/grpc-gateway/internal/gateway"
	"github.com/anthony/grpc-gateway/internal/httpapi"
	"github.com/anthony/grpc-gateway/internal/invoke"
	"github.com/anthony/grpc-gateway/internal/logging"
	"github.com/anthony/grpc-gateway/internal/metrics"
	"github.com/anthony/grpc-gateway/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, closer, err := logging.New(logging.Config{
		Level:      cfg.Log.Level,
		Output:     cfg.Log.Output,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	if closer != nil {
		defer closer.Close()
	}
	logging.SetGlobal(zlog)
	defer zlog.Sync()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	pool := clientpool.New(
		clientpool.WithLogger(zlog),
		clientpool.WithMetrics(m),
		clientpool.WithRefreshInterval(cfg.Reflect.RefreshInterval),
	)
	engine := invoke.New(pool, zlog)

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	}
	reg := registry.New(engine, breakerCfg)

	gw := gateway.New(reg, pool, engine, m, zlog)
	srv := httpapi.New(gw, reg, zlog, cfg.Metrics.Enabled)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		zlog.Info("gateway listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zlog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		zlog.Error("graceful shutdown failed", zap.Error(err))
	}
}

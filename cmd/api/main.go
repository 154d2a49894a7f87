package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bryanwahyu/fp16-analyzer/internal/bootstrap"
	"github.com/bryanwahyu/fp16-analyzer/internal/config"
	"github.com/bryanwahyu/fp16-analyzer/internal/infra/httpserver"
	"github.com/bryanwahyu/fp16-analyzer/internal/logger"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer zl.Sync()

	ctx := context.Background()

	app, err := bootstrap.New(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("pipeline init failed", zap.Error(err))
	}
	defer app.Close()

	handler := httpserver.NewRouter(app.Service, httpserver.Options{
		MaxUploadBytes:    cfg.Server.MaxUploadBytes,
		AllowedExtensions: cfg.Server.AllowedExtensions,
		CORSOrigins:       cfg.Server.CORSOrigins,
		APIKeys:           cfg.Auth.APIKeys,
		RateCapacity:      cfg.RateLimit.Capacity,
		RateRefill:        cfg.RateLimit.RefillPerSecond,
		HealthCheckers:    app.Checkers,
	}, zl)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		zl.Info("server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	zl.Info("shutting down server")

	// in-flight analyses may still be running the tool
	ctx2, cancel := context.WithTimeout(context.Background(), cfg.Tool.Timeout+5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		zl.Warn("shutdown error", zap.Error(err))
	}
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/lehigh-university-libraries/defect-detect/internal/config"
	"github.com/lehigh-university-libraries/defect-detect/internal/handlers"
	"github.com/lehigh-university-libraries/defect-detect/internal/services/detector"
	"github.com/lehigh-university-libraries/defect-detect/internal/storage"
	"github.com/lehigh-university-libraries/defect-detect/internal/utils"
)

func main() {
	err := godotenv.Load()
	if err != nil {
		slog.Warn("Error loading .env file", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		utils.ExitOnError("Invalid configuration", err)
	}
	if cfg.Debug {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Starting", "app", cfg.AppName, "version", cfg.Version, "backend", cfg.Backend)

	det, err := detector.New(cfg)
	if err != nil {
		utils.ExitOnError("Unable to create detector", err)
	}
	if err := det.Load(ctx); err != nil {
		utils.ExitOnError("Unable to load model", err)
	}
	defer det.Close()

	store := storage.New(cfg.UploadDir, cfg.MaxUploadSize)
	if cfg.CleanupInterval > 0 {
		go store.RunJanitor(ctx, cfg.CleanupInterval, cfg.CleanupMaxAge)
	}

	handler := handlers.New(cfg, det, store)
	server := &http.Server{
		Addr:    cfg.Addr(),
		Handler: handler.Router(),
	}

	go func() {
		slog.Info("Defect detection API available", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.ExitOnError("Server failed to start", err)
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "err", err)
	}
	store.Close()
}

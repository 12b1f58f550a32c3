package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"distribution-backend/internal/adapters/web"
	"distribution-backend/internal/logger"
	"distribution-backend/internal/tenant"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	log := logger.New(os.Getenv("APP_ENV"))

	connString := os.Getenv("DATABASE_URL")
	if connString == "" {
		log.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	provider, err := tenant.NewProvider(connString)
	if err != nil {
		log.Error("failed to parse database config", "error", err)
		os.Exit(1)
	}
	defer provider.Shutdown()

	handler := web.NewHandler(provider, log,
		web.WithCORS(os.Getenv("ALLOWED_ORIGINS")),
		web.WithMetrics(os.Getenv("METRICS_ENABLED") != "false"),
	)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", "error", err)
	}
}

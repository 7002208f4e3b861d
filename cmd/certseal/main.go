package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/robcowart/certseal/internal/api"
	"github.com/robcowart/certseal/internal/auth"
	"github.com/robcowart/certseal/internal/config"
	"github.com/robcowart/certseal/internal/database"
	"github.com/robcowart/certseal/internal/document"
	"github.com/robcowart/certseal/internal/logging"
	"github.com/robcowart/certseal/internal/metrics"
	"github.com/robcowart/certseal/internal/service"
)

const version = "0.1.0"

func main() {
	flags, configFile, showVersion := config.ParseFlags()

	if showVersion {
		fmt.Printf("certseal v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	logger.Info("Starting certseal",
		zap.String("version", version),
		zap.String("database", cfg.Database.Type),
		zap.String("storage", cfg.Storage.Type),
	)

	db, err := database.New(cfg)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}

	store, err := document.NewStore(cfg.Storage)
	if err != nil {
		logger.Fatal("Failed to initialize document store", zap.Error(err))
	}

	m := metrics.New()
	svc, err := service.NewServices(cfg, db, store, m, logger)
	if err != nil {
		logger.Fatal("Failed to initialize services", zap.Error(err))
	}

	authn, err := auth.NewAuthenticator(cfg.Operators, cfg.JWT)
	if err != nil {
		logger.Fatal("Failed to initialize operator authentication", zap.Error(err))
	}
	if len(cfg.Operators) == 0 {
		logger.Warn("No operators configured; the operator API only accepts tokens minted with certsealctl")
	}

	router := api.NewRouter(cfg, db, svc, authn, m, logger)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("Starting HTTP server",
			zap.String("address", srv.Addr),
			zap.Bool("tls", cfg.Server.TLSEnabled),
			zap.Strings("gateways", svc.Gateways),
		)

		var err error
		if cfg.Server.TLSEnabled {
			err = srv.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			err = srv.ListenAndServe()
		}

		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}

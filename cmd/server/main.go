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

	"github.com/skylog-io/skylog/internal/api"
	"github.com/skylog-io/skylog/internal/config"
	"github.com/skylog-io/skylog/internal/database"
	"github.com/skylog-io/skylog/internal/jobs"
	"github.com/skylog-io/skylog/internal/oauth"
	"github.com/skylog-io/skylog/internal/session"
	"github.com/skylog-io/skylog/internal/store"
	"github.com/skylog-io/skylog/internal/token"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}

	var log *zap.Logger
	if cfg.Environment == "development" {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	// The system cannot serve a single request without the store; failing
	// to reach it at startup is fatal.
	db, err := database.Connect(cfg.Database)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		log.Fatal("failed to get database connection", zap.Error(err))
	}
	defer sqlDB.Close()

	if err := database.RunMigrations(db); err != nil {
		log.Fatal("failed to run migrations", zap.Error(err))
	}

	st := store.NewGorm(db)
	tokens := token.NewService(st, cfg.Tokens, log)
	bridge := session.NewBridge(st, cfg.Tokens, log)

	providers := make(map[string]*oauth.Client)
	for _, pc := range cfg.Providers {
		client, err := oauth.NewClient(pc)
		if err != nil {
			log.Warn("identity provider disabled", zap.String("provider", pc.Name), zap.Error(err))
			continue
		}
		providers[pc.Name] = client
		log.Info("identity provider configured", zap.String("provider", pc.Name))
	}

	sweeper := jobs.NewSweeper(st, log)
	sweeper.Start()
	defer sweeper.Stop()

	router := api.NewRouter(cfg, st, tokens, bridge, providers, log)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info("server starting", zap.Int("port", cfg.Port))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatal("server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

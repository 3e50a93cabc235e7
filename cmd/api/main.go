package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"distill/api/internal/app"
	"distill/api/internal/config"
	"distill/api/internal/history"
	"distill/api/internal/logger"
	"distill/api/internal/realtime"
	"distill/api/internal/search"
	"distill/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("database connection failed", "error", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
		log.Fatal("migrations failed", "error", err)
	}

	if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
		log.Fatal("failed to create history dir", "dir", cfg.HistoryDir, "error", err)
	}

	var bus realtime.Bus
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisBus, err := realtime.NewRedisBus(ctx, cfg.RedisURL, cfg.RedisChannel, log)
		if err != nil {
			log.Fatal("redis connection failed", "error", err)
		}
		log.Info("using redis for change fan-out", "channel", cfg.RedisChannel)
		bus = redisBus
	} else {
		log.Info("using in-process change fan-out")
		bus = realtime.NewLocalBus()
	}
	defer bus.Close()

	hub := realtime.NewHub(log, cfg.CORSOrigin)
	defer hub.Close()
	go func() {
		if err := hub.Run(ctx, bus); err != nil {
			log.Error("realtime hub stopped", "error", err)
		}
	}()

	pgfts := search.NewPgFTS(db)
	var searchService *search.Service
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, log)
		defer meiliClient.Close()
		searchService = search.NewService(meiliClient, pgfts, log)
		go searchService.ReindexAll(ctx, pgfts)
	} else {
		searchService = search.NewService(nil, pgfts, log)
	}
	defer searchService.Wait()

	dataStore := store.NewPostgresStore(db)
	historyService := history.New(cfg.HistoryDir, log)
	service := app.New(cfg, dataStore, historyService, searchService, bus, log)

	httpServer := app.NewHTTPServer(service, hub, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("distill api listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("shutdown error", "error", err)
	}
}

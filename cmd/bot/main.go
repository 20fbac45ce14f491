package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"momentum-trader-go/internal/bot"
	"momentum-trader-go/internal/broker"
	"momentum-trader-go/internal/config"
	"momentum-trader-go/internal/database"
	"momentum-trader-go/internal/logger"
	"momentum-trader-go/internal/server"
	"momentum-trader-go/internal/store"
	"momentum-trader-go/internal/ws"

	"go.uber.org/zap"
)

func main() {
	// Load application configuration
	cfg, err := config.LoadConfig("./configs")
	if err != nil {
		// We can't use the logger here because it's not initialized yet.
		panic(fmt.Sprintf("could not load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Logger.Level, cfg.Logger.Format)
	if err != nil {
		panic(err)
	}
	defer log.Sync()
	log.Info("Configuration loaded")

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.DSN)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	log.Info("Database connection successful and schema migrated.")
	st := store.New(db)

	// Initialize the gateway client. A failed connect is not fatal: the
	// gateway may come up later and every run attempts a reconnect first.
	client := broker.NewClient(&cfg.Gateway, log)
	if err := client.Connect(); err != nil {
		log.Warn("Gateway not reachable at startup", zap.Error(err))
	} else {
		log.Info("Connected to brokerage gateway.")
	}

	// Setup context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sigchan := make(chan os.Signal, 1)
		signal.Notify(sigchan, syscall.SIGINT, syscall.SIGTERM)
		<-sigchan
		log.Info("Shutdown signal received, gracefully shutting down...")
		cancel()
	}()

	hub := ws.NewHub(log)
	tradeBot := bot.New(log, &cfg, st, client, hub)

	// Scheduler loops: data update, start-of-day and end-of-day execution.
	go tradeBot.RunDataUpdateLoop(ctx)
	go tradeBot.RunSODExecutionLoop(ctx)
	go tradeBot.RunEODExecutionLoop(ctx)
	if err := tradeBot.StartScanner(ctx); err != nil {
		log.Error("Failed to start scanner", zap.Error(err))
	}

	srv := server.New(log, st, tradeBot, hub)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: srv.Router(),
	}

	go func() {
		log.Info("API server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("API server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("API server shutdown failed", zap.Error(err))
	}

	log.Info("Bot has been shut down.")
}

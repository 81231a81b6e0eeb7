package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"webhookchat/internal/util"
	"webhookchat/services/hookstore/internal/config"
	"webhookchat/services/hookstore/internal/server"
	"webhookchat/services/hookstore/internal/store"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var dataStore store.Store
	if cfg.DatabaseURL != "" {
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("failed to init postgres store: %v", err)
		}
	} else {
		logger.Warn("databaseURL not set, conversations are kept in memory")
		dataStore = store.NewMemoryStore()
	}

	httpServer := server.New(server.Config{Store: dataStore})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      util.WithRequestID(util.WithRequestLog("hookstore", nil, httpServer.Router())),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("hookstore listening", "addr", addr)
	if err := util.Serve(ctx, srv, 10*time.Second); err != nil {
		logger.Error("server error", "err", err)
	}
}

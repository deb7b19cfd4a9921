package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"campus-cms/api"
	"campus-cms/config"
	"campus-cms/core/bootstrap"
	"campus-cms/core/store"
	"campus-cms/core/utils"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger := utils.NewLogger()
	db, err := store.NewDB(cfg, logger)
	if err != nil {
		logger.Fatalf("db init: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		logger.Fatalf("migrations: %v", err)
	}

	password, err := bootstrap.EnsureDefaultAdmin(context.Background(), db, cfg, logger)
	if err != nil {
		logger.Fatalf("seed admin: %v", err)
	}
	if password != "" {
		logger.Printf("default admin created: username=admin password=%s (change it at first login)", password)
	}

	srv, err := api.NewServer(cfg, db, logger)
	if err != nil {
		logger.Fatalf("server init: %v", err)
	}
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Errorf("graceful shutdown: %v", err)
	}
}

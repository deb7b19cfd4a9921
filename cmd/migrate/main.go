package main

import (
	"context"
	"log"
	"time"

	"campus-cms/config"
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
		logger.Fatalf("db: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(context.Background(), db, logger); err != nil {
		logger.Fatalf("migrations: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	status, err := store.GetMigrationStatus(ctx, db)
	if err != nil {
		logger.Fatalf("migration status: %v", err)
	}
	logger.Printf("migrations applied version=%d dialect=%s", status.CurrentVersion, status.Dialect)
}

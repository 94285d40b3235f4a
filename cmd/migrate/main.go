package main

import (
	"flag"
	"log"

	"ledger-engine/config"
	"ledger-engine/internal/repository"
	"ledger-engine/pkg/logger"
)

func main() {
	dir := flag.String("dir", "migrations", "directory containing .sql migrations")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	l := logger.New(logger.DevelopmentMode)

	db, err := repository.Connect(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := repository.ApplyMigrations(db, *dir, l); err != nil {
		log.Fatalf("migration failed: %v", err)
	}
	l.Infof("migrations applied")
}

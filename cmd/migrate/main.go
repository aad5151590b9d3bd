// cmd/migrate/main.go
package main

import (
	"flag"

	"payout-ledger/internal/config"
	"payout-ledger/internal/util"
	"payout-ledger/pkg/db"

	"go.uber.org/zap"
)

func main() {
	down := flag.Bool("down", false, "roll back every migration instead of applying them")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		util.GetLogger().Fatal("failed to load configuration", zap.Error(err))
	}
	logger := util.InitLogger(cfg.Log.Level, cfg.Log.Format)
	defer func() { _ = logger.Sync() }()

	database, err := db.NewPostgresDB(cfg.DB)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer database.Close()

	m, err := db.NewMigrator(database.DB, logger)
	if err != nil {
		logger.Fatal("failed to prepare migrations", zap.Error(err))
	}
	if *down {
		err = m.Down()
	} else {
		err = m.Up()
	}
	if err != nil {
		logger.Fatal("migration failed", zap.Error(err))
	}
}

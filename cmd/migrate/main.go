package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/harvestloop/harvestloop/internal/config"
	"github.com/harvestloop/harvestloop/internal/infra"
	"github.com/harvestloop/harvestloop/internal/logging"
	"github.com/harvestloop/harvestloop/internal/migrations"
)

func main() {
	backfill := flag.Bool("backfill-lowercase-emails", false, "lowercase stored identity emails after migrating")
	list := flag.Bool("list", false, "print embedded migrations and exit")
	timeout := flag.Duration("timeout", 2*time.Minute, "overall timeout")
	flag.Parse()

	if *list {
		names, err := migrations.Names()
		if err != nil {
			fmt.Fprintf(os.Stderr, "list migrations: %v\n", err)
			os.Exit(1)
		}
		for _, n := range names {
			fmt.Println(n)
		}
		return
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	db, err := infra.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("connect postgres", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	applied, err := migrations.Apply(ctx, db, logger)
	if err != nil {
		logger.Error("migrate", "error", err)
		os.Exit(1)
	}
	logger.Info("migrations complete", "applied", migrations.Describe(applied))

	if *backfill {
		n, err := migrations.BackfillLowercaseEmails(ctx, db)
		if err != nil {
			logger.Error("backfill emails", "error", err)
			os.Exit(1)
		}
		logger.Info("emails lowercased", "rows", n)
	}
}

package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/splunk/learning-labs-portal/internal/app/migrate"
	"github.com/splunk/learning-labs-portal/internal/repository/postgres"
	"github.com/splunk/learning-labs-portal/pkg/config"
	"github.com/splunk/learning-labs-portal/pkg/logger"
)

func main() {
	command := flag.String("command", "up", "migrate command (up|status|down)")
	timeout := flag.Duration("timeout", time.Minute, "command timeout")
	target := flag.Int64("target", 0, "target version for down command (optional)")
	flag.Parse()

	log := logger.New("migrate", logger.ParseLevel("info"))
	cfg, err := config.LoadPortalConfig()
	if err != nil {
		log.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, log)
	if err != nil {
		log.Error("failed to configure migration runner", "error", err)
		os.Exit(1)
	}
	defer runner.Close()

	switch *command {
	case "up":
		if err := runner.Ensure(ctx); err != nil {
			log.Error("failed to apply migrations", "error", err)
			os.Exit(1)
		}
	case "status":
		status, err := runner.Status(ctx)
		if err != nil {
			log.Error("failed to fetch migration status", "error", err)
			os.Exit(1)
		}
		log.Info("schema status", "current", status.Current, "latest", status.Latest, "pending", status.Pending, "up_to_date", status.UpToDate())
	case "down":
		if err := runner.Down(ctx, *target); err != nil {
			log.Error("failed to roll back migrations", "error", err)
			os.Exit(1)
		}
	default:
		log.Error("unsupported command", "command", *command)
		os.Exit(1)
	}

	log.Info("migration command completed", "command", *command)
}

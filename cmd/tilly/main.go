package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"tilly/api/internal/config"
	"tilly/api/internal/logging"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	var logCloser io.Closer
	app := &cli.Command{
		Name:  "tilly",
		Usage: "Tilly relationship tracker API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Sources:     cli.EnvVars("TILLY_LOG_LEVEL"),
				Usage:       "Log level (debug|info|warn|error)",
				Value:       cfg.LogLevel,
				Destination: &cfg.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-format",
				Sources:     cli.EnvVars("TILLY_LOG_FORMAT"),
				Usage:       "Log format (text|json|logfmt)",
				Value:       cfg.LogFormat,
				Destination: &cfg.LogFormat,
			},
			&cli.StringFlag{
				Name:        "db-url",
				Sources:     cli.EnvVars("DATABASE_URL"),
				Usage:       "PostgreSQL connection URL",
				Value:       cfg.DatabaseURL,
				Destination: &cfg.DatabaseURL,
			},
			&cli.StringFlag{
				Name:        "migrations-dir",
				Sources:     cli.EnvVars("TILLY_MIGRATIONS_DIR"),
				Usage:       "Directory holding *.up.sql migrations",
				Value:       cfg.MigrationsDir,
				Destination: &cfg.MigrationsDir,
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logCloser = logging.Setup(logging.Options{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
			return ctx, nil
		},
		Commands: []*cli.Command{
			serveCommand(&cfg),
			migrateCommand(&cfg),
			cleanupCommand(&cfg),
			notifyCommand(&cfg),
			vapidKeysCommand(),
		},
	}
	err := app.Run(ctx, os.Args)
	if logCloser != nil {
		_ = logCloser.Close()
	}
	if err != nil {
		log.Fatal(err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"tilly/api/internal/cleanup"
	"tilly/api/internal/config"
	"tilly/api/internal/push"
	"tilly/api/internal/store"
)

func migrateCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return err
			}
			log.Info("Migrations complete", "applied", len(applied))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "status",
				Usage: "List migrations and whether they are applied",
				Action: func(ctx context.Context, cmd *cli.Command) error {
					db, err := store.Open(ctx, cfg.DatabaseURL)
					if err != nil {
						return err
					}
					defer db.Close()
					states, err := store.MigrationStatus(ctx, db, cfg.MigrationsDir)
					if err != nil {
						return err
					}
					for _, state := range states {
						mark := "pending"
						if state.Applied {
							mark = "applied"
						}
						fmt.Fprintf(os.Stdout, "%-8s %s\n", mark, state.Version)
					}
					return nil
				},
			},
		},
	}
}

// cleanupCommand runs one cleanup pass over all users, for hosts that prefer
// an external scheduler over the in-process ticker.
func cleanupCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Archive, restore and purge records once",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			var blobs cleanup.BlobRemover
			if bucket, err := newBlobStore(*cfg); err != nil {
				log.Warn("object storage disabled, purges with objects will fail", "err", err)
			} else {
				blobs = bucket
			}
			searchService := newSearchService(*cfg, db)
			defer searchService.Close()

			cleaner := cleanup.New(store.NewPostgresStore(db), blobs, nil, cleanup.Options{
				DeletedRetention: cfg.DeletedRetention,
				InviteRetention:  cfg.InviteRetention,
				Index:            searchService,
			})
			report, err := cleaner.Run(ctx, time.Now().UTC())
			log.Info("Cleanup complete", "archived", report.Archived, "restored", report.Restored,
				"purged", report.Purged, "staleInvites", report.StaleInvites)
			return err
		},
	}
}

func notifyCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "notify",
		Usage: "Run one push notification dispatch",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			db, err := store.Open(ctx, cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer db.Close()
			shared := openCache(*cfg)
			defer shared.Close()

			sender := newPushSender(*cfg)
			if sender == nil {
				return push.ErrNotConfigured
			}
			dispatcher := push.NewDispatcher(store.NewPostgresStore(db), sender, shared, nil, cfg.AppURL)
			summary, err := dispatcher.Run(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			log.Info("Dispatch complete", "users", summary.Users, "delivered", summary.Delivered,
				"skipped", summary.Skipped, "failed", summary.Failed)
			return nil
		},
	}
}

func vapidKeysCommand() *cli.Command {
	return &cli.Command{
		Name:  "vapid-keys",
		Usage: "Generate a VAPID key pair for web push",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			publicKey, privateKey, err := push.GenerateVAPIDKeys()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "VAPID_PUBLIC_KEY=%s\nVAPID_PRIVATE_KEY=%s\n", publicKey, privateKey)
			return nil
		},
	}
}

package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"tilly/api/internal/app"
	"tilly/api/internal/assistant"
	"tilly/api/internal/auth"
	"tilly/api/internal/blob"
	"tilly/api/internal/cache"
	"tilly/api/internal/cleanup"
	"tilly/api/internal/config"
	"tilly/api/internal/email"
	"tilly/api/internal/metrics"
	"tilly/api/internal/push"
	"tilly/api/internal/search"
	"tilly/api/internal/store"
)

// sharedCache is what the API needs from Redis or the in-process fallback.
type sharedCache interface {
	push.Locker
	IncrementUsage(ctx context.Context, userID, day string) (int64, error)
	Usage(ctx context.Context, userID, day string) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

func serveCommand(cfg *config.Config) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP API",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Sources:     cli.EnvVars("API_ADDR"),
				Usage:       "Listen address",
				Value:       cfg.Addr,
				Destination: &cfg.Addr,
			},
			&cli.BoolFlag{
				Name:    "skip-migrations",
				Sources: cli.EnvVars("TILLY_SKIP_MIGRATIONS"),
				Usage:   "Do not apply pending migrations on start",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return serve(ctx, *cfg, !cmd.Bool("skip-migrations"))
		},
	}
}

func openCache(cfg config.Config) sharedCache {
	if strings.TrimSpace(cfg.RedisURL) == "" {
		log.Info("Using in-process cache")
		return cache.NewMemory()
	}
	redisCache, err := cache.NewRedisCache(cfg.RedisURL)
	if err != nil {
		log.Warn("redis unavailable, using in-process cache", "err", err)
		return cache.NewMemory()
	}
	log.Info("Using Redis cache")
	return redisCache
}

func newPushSender(cfg config.Config) push.Sender {
	sender, err := push.NewVAPIDSender(cfg.VAPIDPublicKey, cfg.VAPIDPrivateKey, cfg.VAPIDSubject)
	if err != nil {
		log.Warn("web push disabled", "err", err)
		return nil
	}
	return sender
}

func newBlobStore(cfg config.Config) (*blob.Store, error) {
	return blob.New(blob.Options{
		Endpoint:  cfg.MinioEndpoint,
		AccessKey: cfg.MinioAccessKey,
		SecretKey: cfg.MinioSecretKey,
		Bucket:    cfg.MinioBucket,
		UseSSL:    cfg.MinioUseSSL,
		Region:    cfg.MinioRegion,
	})
}

// newSearchService uses Meilisearch when configured and Postgres full text
// search otherwise.
func newSearchService(cfg config.Config, db *sql.DB) *search.Service {
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	return search.NewService(meiliClient, search.NewPgFTS(db))
}

func serve(ctx context.Context, cfg config.Config, migrate bool) error {
	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if migrate {
		if _, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			return err
		}
	}

	dataStore := store.NewPostgresStore(db)
	m := metrics.New()
	shared := openCache(cfg)
	defer shared.Close()

	deps := app.Deps{
		Store:   dataStore,
		Cache:   shared,
		Metrics: m,
	}

	if strings.TrimSpace(cfg.ClerkIssuer) == "" {
		return errors.New("CLERK_ISSUER is required")
	}
	verifier, err := auth.NewClerkVerifier(ctx, cfg.ClerkIssuer, cfg.ClerkAudience)
	if err != nil {
		return err
	}
	deps.Verifier = verifier

	var blobs cleanup.BlobRemover
	if bucket, err := newBlobStore(cfg); err != nil {
		log.Warn("object storage disabled", "err", err)
	} else {
		// Cleanup keeps the client so purges retry removal once storage is back.
		blobs = bucket
		if err := bucket.EnsureBucket(ctx); err != nil {
			log.Warn("object storage bucket unavailable", "bucket", cfg.MinioBucket, "err", err)
		} else {
			deps.Blobs = bucket
		}
	}

	searchService := newSearchService(cfg, db)
	defer searchService.Close()
	deps.Search = searchService
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		go func() {
			if err := searchService.ReindexAllFromPG(ctx); err != nil {
				log.Warn("search reindex failed", "err", err)
			}
		}()
	}

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mailer.IsConfigured() {
		deps.Mailer = mailer
	} else {
		log.Info("SMTP not configured, invite emails disabled")
	}

	if completer, err := assistant.NewAnthropicCompleter(cfg.AnthropicAPIKey, cfg.AnthropicModel); err != nil {
		log.Info("assistant disabled", "err", err)
	} else {
		deps.Assistant = completer
	}

	deps.Notifier = push.NewDispatcher(dataStore, newPushSender(cfg), shared, m, cfg.AppURL)

	cleaner := cleanup.New(dataStore, blobs, m, cleanup.Options{
		DeletedRetention: cfg.DeletedRetention,
		InviteRetention:  cfg.InviteRetention,
		Interval:         cfg.CleanupInterval,
		Index:            searchService,
	})
	deps.Cleanup = cleaner
	go cleaner.Start(ctx)

	service := app.New(cfg, deps)
	httpServer := app.NewHTTPServer(service, cfg)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      90 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("Tilly API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	return nil
}

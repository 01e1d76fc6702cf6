package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"taskboard/api/internal/app"
	"taskboard/api/internal/archive"
	"taskboard/api/internal/auth"
	"taskboard/api/internal/config"
	"taskboard/api/internal/email"
	"taskboard/api/internal/events"
	"taskboard/api/internal/idempotency"
	"taskboard/api/internal/search"
	"taskboard/api/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	if strings.EqualFold(strings.TrimSpace(cfg.DatabaseDriver), "memory") {
		log.Warn("using the in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	driver, err := store.ParseDriver(cfg.DatabaseDriver)
	if err != nil {
		return nil, nil, err
	}
	db, err := store.Open(ctx, driver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("database connection failed: %w", err)
	}
	files, err := migrationFiles(cfg, driver)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	if err := store.ApplyMigrations(ctx, db, driver, files); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("migrations failed: %w", err)
	}
	return store.NewSQLStore(db, driver), func() { _ = db.Close() }, nil
}

func migrationFiles(cfg config.Config, driver store.Driver) (fs.FS, error) {
	if dir := strings.TrimSpace(cfg.MigrationsDir); dir != "" {
		return os.DirFS(dir), nil
	}
	return store.Migrations(driver)
}

func runServe(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dataStore, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	var (
		broker events.Broker = events.NewLocalBroker()
		idem   idempotency.Store
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using Redis for board events and idempotency keys")
		redisBroker, err := events.NewRedisBroker(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisBroker.Close()
		broker = redisBroker

		redisIdem, err := idempotency.NewRedisStore(cfg.RedisURL, cfg.IdempotencyTTL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer redisIdem.Close()
		idem = redisIdem
	} else {
		idem = idempotency.NewMemoryStore(cfg.IdempotencyTTL)
	}

	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, search.NewStoreSearcher(dataStore))

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if !mailer.IsConfigured() {
		log.Info("SMTP not configured; invitation links are returned but not emailed")
	}

	var uploader archive.Uploader
	if cfg.S3Configured() {
		minioUploader, err := archive.NewMinioUploader(ctx, archive.MinioConfig{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return fmt.Errorf("object storage setup failed: %w", err)
		}
		uploader = minioUploader
	}

	service := app.New(cfg, app.Deps{
		Store:    dataStore,
		Events:   broker,
		Search:   searchService,
		Mailer:   mailer,
		Exporter: archive.NewExporter(uploader, archive.DefaultLinkExpiry),
	})
	verifier := auth.NewVerifier([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience)
	httpServer := app.NewHTTPServer(service, verifier, idem, cfg.CORSOrigin)

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No WriteTimeout: the event stream is long lived.
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(log.Fields{"addr": cfg.Addr, "version": app.Version}).Info("taskboard API listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	return nil
}

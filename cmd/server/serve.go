package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/secura/vault/internal/audit"
	"github.com/secura/vault/internal/blob"
	"github.com/secura/vault/internal/config"
	"github.com/secura/vault/internal/envelope"
	"github.com/secura/vault/internal/handler"
	"github.com/secura/vault/internal/repository"
	"github.com/secura/vault/internal/service"
	"github.com/secura/vault/pkg/database"
	"github.com/secura/vault/pkg/logger"
	"github.com/spf13/cobra"
)

const cleanupInterval = time.Hour

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func openDatabase(ctx context.Context, path string) (*sql.DB, error) {
	db, err := database.Initialize(path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := database.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func newBlobStore(ctx context.Context, cfg *config.Config) (blob.Store, error) {
	switch cfg.Storage.Backend {
	case config.StorageBackendS3:
		s3cfg := cfg.Storage.S3
		store, err := blob.NewS3Store(ctx, blob.S3Options{
			Endpoint:     s3cfg.Endpoint,
			Region:       s3cfg.Region,
			Bucket:       s3cfg.Bucket,
			AccessKey:    s3cfg.AccessKey,
			SecretKey:    s3cfg.SecretKey,
			UsePathStyle: s3cfg.UsePathStyle,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := blob.NewFileStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	}
}

func runServe(ctx context.Context) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("bind_address", cfg.Server.BindAddress).
		Str("port", cfg.Server.Port).
		Str("storage_backend", cfg.Storage.Backend).
		Str("version", version).
		Msg("Starting vault server")

	db, err := openDatabase(ctx, cfg.Database.Path)
	if err != nil {
		return err
	}
	defer func() {
		logger.Info().Msg("Closing database connection...")
		if err := db.Close(); err != nil {
			logger.Error().Err(err).Msg("Error closing database")
		}
	}()
	logger.Info().Str("path", cfg.Database.Path).Msg("Database initialized")

	keys, err := envelope.LoadKeyManager(cfg.Crypto.EncryptionKey)
	if err != nil {
		return fmt.Errorf("failed to load encryption key: %w", err)
	}
	if keys.Ephemeral() {
		logger.Warn().Msg("ENCRYPTION_KEY not set; using an ephemeral key. Files stored now become unreadable after restart")
	}
	cipher, err := envelope.NewCipher(keys, cfg.Crypto.Cipher)
	if err != nil {
		return err
	}
	logger.Info().
		Str("cipher", cipher.Suite()).
		Str("key_fingerprint", keys.Fingerprint()).
		Msg("Encryption initialized")

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	fileRepo := repository.NewFileRepository(db)
	shareRepo := repository.NewShareRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	rateRepo := repository.NewRateLimitRepository(db)

	if keys.Ephemeral() {
		stored, err := fileRepo.Count(ctx)
		if err != nil {
			return err
		}
		if stored > 0 {
			return fmt.Errorf("refusing to start with an ephemeral key: %d stored files would be unreadable; set ENCRYPTION_KEY", stored)
		}
	}

	recorder := audit.NewRecorder(auditRepo, cfg.Audit.QueueSize, cfg.Audit.Workers)

	var counters service.CounterStore = service.NewMemoryCounterStore()
	if cfg.Security.PersistentRateLimits {
		counters = rateRepo
	}
	guard := service.NewLoginGuard(userRepo, counters, cfg.Security.MaxFailedLogins, cfg.Security.LockDuration)

	authSvc, err := service.NewAuthService(userRepo, guard, recorder, service.AuthOptions{
		JWTSecret:     cfg.Auth.JWTSecret,
		TokenTTL:      cfg.Auth.TokenTTL,
		RateWindow:    cfg.Security.RateWindow,
		RegisterLimit: cfg.Security.RegisterLimit,
		LoginLimit:    cfg.Security.LoginLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize auth service: %w", err)
	}
	maxUpload := int64(cfg.Server.MaxUploadMB) * 1024 * 1024
	fileSvc := service.NewFileService(fileRepo, blobs, cipher, recorder, maxUpload)
	shareSvc := service.NewShareService(shareRepo, fileSvc, recorder)
	activitySvc := service.NewActivityService(auditRepo, fileRepo, userRepo)

	metricsToken := ""
	if cfg.IsProduction || cfg.Observability.MetricsToken != "" {
		metricsToken = cfg.Observability.MetricsToken
	}
	app := handler.NewApp(handler.AppOptions{
		MaxUploadBytes:     int(maxUpload),
		AllowOrigins:       cfg.Server.AllowOrigins,
		TrustedProxies:     cfg.Server.TrustedProxies,
		ShareDownloadLimit: cfg.Security.ShareDownloadLimit,
		RateWindow:         cfg.Security.RateWindow,
		MetricsEnabled:     cfg.Observability.MetricsEnabled,
		MetricsToken:       metricsToken,
	}, handler.Services{
		DB:       db,
		Blobs:    blobs,
		Auth:     authSvc,
		Files:    fileSvc,
		Shares:   shareSvc,
		Activity: activitySvc,
		Guard:    guard,
	})

	cleanupDone := make(chan struct{})
	go func() {
		defer close(cleanupDone)
		runCleanup(ctx, shareSvc, rateRepo, guard, fileSvc)
	}()

	serveErr := make(chan error, 1)
	go func() {
		addr := net.JoinHostPort(cfg.Server.BindAddress, cfg.Server.Port)
		logger.Info().
			Str("address", addr).
			Bool("metrics_enabled", cfg.Observability.MetricsEnabled).
			Msg("HTTP server listening")
		serveErr <- app.Listen(addr)
	}()

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("Server stopped")
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info().Msg("Shutting down HTTP server...")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Error during shutdown")
	}

	<-cleanupDone
	// Requests have drained, so the last audit events are already queued.
	recorder.Stop()

	logger.Info().Msg("Server stopped gracefully")
	return nil
}

// runCleanup retires expired share links and drops stale rate-limit and
// login-attempt state until ctx is cancelled.
func runCleanup(ctx context.Context, shares *service.ShareService, rates *repository.RateLimitRepository, guard *service.LoginGuard, files *service.FileService) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		logger.Info().Msg("Running expired data cleanup...")
		if n, err := shares.DeleteExpired(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to clean up expired shares")
		} else if n > 0 {
			logger.Info().Int64("count", n).Msg("Expired share links retired")
		}
		if _, err := rates.DeleteExpired(ctx, time.Now()); err != nil {
			logger.Error().Err(err).Msg("Failed to clean up rate limit counters")
		}
		if err := guard.Sweep(ctx); err != nil {
			logger.Error().Err(err).Msg("Failed to clean up login attempt state")
		}
		if total, err := files.TotalStored(ctx); err == nil {
			handler.UpdateStorageUsed(total)
		}
		logger.Info().Msg("Expired data cleanup completed")
	}
}

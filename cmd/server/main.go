package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/eventflow/eventflow/assets"
	"github.com/eventflow/eventflow/internal"
	"github.com/eventflow/eventflow/internal/auth"
	authdb "github.com/eventflow/eventflow/internal/auth/db"
	"github.com/eventflow/eventflow/internal/db"
	"github.com/eventflow/eventflow/internal/email"
	"github.com/eventflow/eventflow/internal/email/postmark"
	"github.com/eventflow/eventflow/internal/email/view"
	"github.com/eventflow/eventflow/internal/event"
	eventdb "github.com/eventflow/eventflow/internal/event/db"
	"github.com/eventflow/eventflow/internal/migrate"
	"github.com/eventflow/eventflow/internal/tokens"
	"github.com/eventflow/eventflow/internal/web"
	"github.com/eventflow/eventflow/migrations"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, os.Stderr))
}

func run(ctx context.Context, w io.Writer) int {
	logger := slog.New(slog.NewTextHandler(w, nil))

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("failed to get config from environment", "error", err)
		return 1
	}

	sqlDB, err := db.OpenSQLite(cfg.db.file, true)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		return 1
	}
	defer sqlDB.Close()

	if cfg.db.migrate {
		meta := migrate.Metadata{
			AppVersion: internal.BuildRevision,
			Timestamp:  internal.BuildRevisionTime,
		}

		ran, err := migrate.RunFS(ctx, sqlDB, migrations.FS, meta)
		if err != nil {
			logger.Error("failed to run migrations", "error", err)
			return 1
		}

		for _, m := range ran {
			logger.Info("ran migration", "sequence", m.Sequence, "filename", m.Filename)
		}
	}

	tokenSvc, err := tokens.NewService(tokens.Config{
		AccessKey:  cfg.auth.accessKey,
		RefreshKey: cfg.auth.refreshKey,
		AccessTTL:  cfg.auth.accessTTL,
		RefreshTTL: cfg.auth.refreshTTL,
	})
	if err != nil {
		logger.Error("failed to create token service", "error", err)
		return 1
	}

	emailSvc := email.NewService(
		view.NewFSRenderer(assets.EmailFS),
		emailSender(logger, cfg.email),
		cfg.email.from,
	)

	authSvc, err := auth.NewService(
		authdb.New(sqlDB),
		auth.NewCodeCache(cfg.auth.codeTTL, cfg.auth.codeCacheSize),
		tokenSvc,
		emailSvc,
	)
	if err != nil {
		logger.Error("failed to create auth service", "error", err)
		return 1
	}

	eventSvc := event.NewService(eventdb.New(sqlDB), authSvc)

	images, err := web.NewDiskImageStore(cfg.uploadDir)
	if err != nil {
		logger.Error("failed to create image store", "error", err)
		return 1
	}

	handler := web.NewServer(&web.ServerDeps{
		Logger: logger,
		Auth:   authSvc,
		Events: eventSvc,
		Tokens: tokenSvc,
		Images: images,
		DB:     sqlDB,
	}, web.ServerConfig{
		SecureCookie: cfg.http.secureCookie,
	})

	srv := &http.Server{
		Addr:         cfg.http.addr,
		ReadTimeout:  cfg.http.readTimeout,
		WriteTimeout: cfg.http.writeTimeout,
		IdleTimeout:  cfg.http.idleTimeout,
		Handler:      handler,
	}

	// We need to run two tasks concurrently:
	// - Listen and serving of the HTTP server.
	// - Waiting for a signal to stop the server.

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server",
			"addr", cfg.http.addr,
			"buildRevision", internal.BuildRevision,
			"buildRevisionTime", internal.BuildRevisionTime,
			"buildLocalModified", internal.BuildLocalModified,
		)
		// ListenAndServe always returns a non-nil error,
		// g will cancel gCtx when an error is returned, so
		// this will also stop the other goroutine.
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("stopping http server")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.http.shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutCtx)
	})

	err = g.Wait()
	if err != nil && err != http.ErrServerClosed {
		logger.Error("http server stopped with error", "error", err)
		return 1
	}

	logger.Info("http server stopped successfully")

	return 0
}

// emailSender selects the sender for the configured driver.
func emailSender(logger *slog.Logger, cfg emailConfig) email.Sender {
	if cfg.driver == "postmark" {
		client := &http.Client{
			Timeout: 10 * time.Second,
		}
		return postmark.NewSender(client, cfg.postmark)
	}

	return email.NewLogSender(logger)
}

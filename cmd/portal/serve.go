package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"dotproj/api/internal/app"
	"dotproj/api/internal/auth"
	"dotproj/api/internal/cache"
	"dotproj/api/internal/email"
	"dotproj/api/internal/filestore"
	"dotproj/api/internal/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(envFiles *[]string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *envFiles)
		},
	}
}

func serve(ctx context.Context, envFiles []string) error {
	rt, err := open(ctx, envFiles, true)
	if err != nil {
		return err
	}
	defer rt.Close()
	cfg, log := rt.cfg, rt.log

	queue := rt.queue()
	searchService, closeSearch := rt.searchService()
	defer closeSearch()

	opts := app.Options{
		Search:    searchService,
		Summaries: rt.summarizer(queue),
		Mailer: email.NewService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		}),
		InviteTTL: cfg.HTTP.InviteTTL,
		InviteURL: cfg.HTTP.InviteURL,
		Logger:    log.WithField("component", "app"),
	}

	checks := map[string]app.Check{
		"redis": func(ctx context.Context) error { return rt.redis.Ping(ctx).Err() },
	}

	files, err := filestore.New(filestore.Options{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	})
	switch {
	case errors.Is(err, filestore.ErrNotConfigured):
		log.Info("file storage disabled: STORAGE_ENDPOINT not set")
	case err != nil:
		return err
	default:
		if err := files.EnsureBucket(ctx); err != nil {
			return err
		}
		opts.Files = files
		checks["storage"] = files.Ping
	}

	if cfg.Cache.Enabled {
		opts.Cache = rt.invalidator()
	}
	service := app.NewService(rt.store, opts)

	httpOpts := app.HTTPOptions{
		Verifier:    auth.NewVerifier([]byte(cfg.Auth.JWTSecret), cfg.Auth.Issuer),
		CORSOrigins: cfg.HTTP.CORSOrigins,
		Session:     session.NewBinder(rt.db, cfg.Database.RestrictedRole, log.WithField("component", "session")).Middleware,
		Checks:      checks,
		Logger:      log.WithField("component", "http"),
	}
	if cfg.Cache.Enabled {
		validators := cache.NewMiddleware(cache.MustResolver(cache.DefaultTemplates), rt.timestamps(), cfg.Cache.Header, log.WithField("component", "cache"))
		httpOpts.Cache = validators.Handler
	}

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           app.NewHTTPServer(service, httpOpts).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.HTTP.Addr).Info("API listening")
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("shutdown error")
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"portal-conductor/internal/api"
	"portal-conductor/internal/config"
	"portal-conductor/internal/datastore"
	"portal-conductor/internal/directory"
	"portal-conductor/internal/domain"
	"portal-conductor/internal/jobs"
	"portal-conductor/internal/mailer"
	"portal-conductor/internal/maillist"
	"portal-conductor/internal/middleware"
	"portal-conductor/internal/records"
	"portal-conductor/internal/service/accounts"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "portal-conductor: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = config.LoadDotEnv(".env")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)
	for _, warning := range cfg.Warnings {
		logger.Warn(warning)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Auxiliary records database.
	var recs *records.Store
	if cfg.RecordsDBPath != "" {
		db, err := records.OpenSQLite(cfg.RecordsDBPath)
		if err != nil {
			return fmt.Errorf("open records db: %w", err)
		}
		defer db.Close()
		if err := records.RunMigrations(db); err != nil {
			return fmt.Errorf("migrate records db: %w", err)
		}
		recs = records.NewStore(db)
	}

	// Backend adapters.
	dir := directory.NewClient(directory.Config{
		URL:      cfg.Directory.URL,
		BindDN:   cfg.Directory.BindDN,
		Password: cfg.Directory.Password,
		BaseDN:   cfg.Directory.BaseDN,
	}, logger.With("component", "directory"))
	defer dir.Close()

	store := datastore.NewClient(datastore.Config{
		URL:     cfg.Store.URL,
		Timeout: cfg.Store.Timeout,
	}, logger.With("component", "datastore"))

	var lists domain.MailingLists
	if cfg.Mail.Enabled {
		lists = maillist.NewClient(maillist.Config{
			URL:           cfg.Mail.URL,
			AdminPassword: cfg.Mail.Password,
			Timeout:       30 * time.Second,
		}, logger.With("component", "maillist"))
	}

	sender := mailer.New(mailer.Config{
		Host:       cfg.SMTP.Host,
		Port:       cfg.SMTP.Port,
		From:       cfg.SMTP.From,
		User:       cfg.SMTP.User,
		Password:   cfg.SMTP.Password,
		UseSSL:     cfg.SMTP.UseSSL,
		RequireTLS: cfg.SMTP.UseTLS,
	}, logger.With("component", "mailer"))

	var jobSvc domain.JobService
	if cfg.Jobs.Enabled {
		tokens := jobs.NewTokenCache(
			cfg.Jobs.TokenEndpoint(),
			cfg.Jobs.ClientID,
			cfg.Jobs.ClientSecret,
			logger.With("component", "token-cache"),
		)
		jobSvc = jobs.NewClient(cfg.Jobs.URL, tokens, cfg.Jobs.Timeout,
			logger.With("component", "jobs"))
	}

	svc := accounts.NewService(dir, store, jobSvc, accounts.Config{
		EveryoneGroup:     cfg.Directory.EveryoneGroup,
		CommunityGroup:    cfg.Directory.CommunityGroup,
		ServicesPrincipal: cfg.Store.ServicesUser,
		AdminPrincipal:    cfg.Store.AdminUser,
		JobSystemID:       cfg.Jobs.SystemID,
		JobAppName:        cfg.Jobs.AppName,
		JobAppID:          cfg.Jobs.AppID,
	}, logger.With("component", "accounts"))

	handler := api.NewHandler(svc, dir, store, lists, sender, recs,
		logger.With("component", "api"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key", "X-Request-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}
	r.Use(middleware.RateLimiter(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		Burst:             cfg.RateLimitBurst,
	}))
	r.Use(middleware.AdminKeyAuth(cfg.AdminAPIKey))
	handler.Routes(r)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", cfg.ListenAddr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

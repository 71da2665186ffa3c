package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ericfisherdev/keyfetch/internal/adapter/driven/aesgcm"
	"github.com/ericfisherdev/keyfetch/internal/adapter/driven/automation"
	githubadapter "github.com/ericfisherdev/keyfetch/internal/adapter/driven/github"
	"github.com/ericfisherdev/keyfetch/internal/adapter/driven/notify"
	"github.com/ericfisherdev/keyfetch/internal/adapter/driven/proxyprobe"
	sqliteadapter "github.com/ericfisherdev/keyfetch/internal/adapter/driven/sqlite"
	"github.com/ericfisherdev/keyfetch/internal/application"
	"github.com/ericfisherdev/keyfetch/internal/catalog"
	"github.com/ericfisherdev/keyfetch/internal/config"
	"github.com/ericfisherdev/keyfetch/internal/domain/port/driven"
)

// app holds the wired services shared by the subcommands.
type app struct {
	db        *sqliteadapter.DB
	notifier  *notify.Multi
	vault     *application.VaultService
	proxies   *application.ProxyService
	jobs      *application.Orchestrator
	schedules *application.Scheduler
	watches   *application.WatchService
}

// openDB opens the database and brings its schema up to date.
func openDB(ctx context.Context, path string) (*sqliteadapter.DB, error) {
	db, err := sqliteadapter.NewDB(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := sqliteadapter.RunMigrations(db.Writer); err != nil {
		_ = db.Close()
		return nil, err
	}
	logger.Info("database ready", "path", path)
	return db, nil
}

// buildApp wires adapters and services from cfg. The caller owns close.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if !cfg.HasSecretKey() {
		return nil, fmt.Errorf("KEYFETCH_SECRET_KEY is required (generate one with \"keyfetch keygen\"): %w", driven.ErrEncryptionKeyNotSet)
	}
	key, err := aesgcm.ParseKey(cfg.SecretKey)
	if err != nil {
		return nil, fmt.Errorf("KEYFETCH_SECRET_KEY: %w", err)
	}
	cipher, err := aesgcm.New(key)
	if err != nil {
		return nil, err
	}

	cat, err := catalog.Load(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}

	fallback, err := application.ParseFallbackProxy(cfg.FallbackProxy)
	if err != nil {
		return nil, fmt.Errorf("KEYFETCH_FALLBACK_PROXY: %w", err)
	}

	db, err := openDB(ctx, cfg.DBPath)
	if err != nil {
		return nil, err
	}

	var members []driven.Notifier
	members = append(members, notify.NewLog(logger))
	if cfg.AMQPURL != "" {
		members = append(members, notify.NewAMQP(cfg.AMQPURL, ""))
		logger.Info("amqp notifier enabled")
	}
	if cfg.RedisAddr != "" {
		members = append(members, notify.NewRedis(cfg.RedisAddr, cfg.RedisPassword, ""))
		logger.Info("redis notifier enabled", "addr", cfg.RedisAddr)
	}
	notifier := notify.NewMulti(logger, members...)

	var runner driven.ProviderAutomation = automation.Unconfigured{}
	if cfg.AutomationURL != "" {
		runner = automation.NewClient(cfg.AutomationURL, &http.Client{Timeout: cfg.AttemptTimeout + 10*time.Second})
		logger.Info("automation runner configured", "url", cfg.AutomationURL)
	} else {
		logger.Warn("no automation runner configured, fetch attempts will fail until KEYFETCH_AUTOMATION_URL is set")
	}

	verifier := githubadapter.NewVerifier(logger)
	if cfg.GitHubAPIURL != "" {
		verifier, err = githubadapter.NewVerifierWithHTTPClient(&http.Client{Timeout: 15 * time.Second}, cfg.GitHubAPIURL, logger)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("KEYFETCH_GITHUB_API_URL: %w", err)
		}
	}

	credentials := sqliteadapter.NewCredentialRepo(db)
	vault := application.NewVaultService(credentials, cipher, cat, logger)
	proxies := application.NewProxyService(
		sqliteadapter.NewProxyRepo(db),
		proxyprobe.New(cfg.ProbeURL),
		cat,
		fallback,
		cfg.ProxyFailThreshold,
		logger,
	)
	jobs := application.NewOrchestrator(
		sqliteadapter.NewJobRepo(db),
		vault,
		proxies,
		runner,
		[]driven.CredentialVerifier{verifier},
		notifier,
		cat,
		application.OrchestratorConfig{
			MaxAttempts:    cfg.MaxAttempts,
			AttemptTimeout: cfg.AttemptTimeout,
			RetryBackoff:   cfg.RetryBackoff,
			Concurrency:    cfg.JobConcurrency,
			InstanceID:     cfg.InstanceID,
		},
		logger,
	)
	watches := application.NewWatchService(sqliteadapter.NewWatchRepo(db), credentials, notifier, logger)
	schedules := application.NewScheduler(
		sqliteadapter.NewScheduleRepo(db),
		jobs,
		cat,
		notifier,
		cfg.TickInterval,
		logger,
		watches,
	)

	return &app{
		db:        db,
		notifier:  notifier,
		vault:     vault,
		proxies:   proxies,
		jobs:      jobs,
		schedules: schedules,
		watches:   watches,
	}, nil
}

// close stops background work and releases resources, waiting at most
// until ctx expires for running jobs.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.jobs.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop jobs: %w", err))
	} else {
		// Outcome recorders only finish once their jobs have.
		a.schedules.Drain()
	}
	if err := a.notifier.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close notifiers: %w", err))
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

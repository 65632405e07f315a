package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/davidguzman1991/clinical-core/internal/api"
	"github.com/davidguzman1991/clinical-core/internal/bootstrap"
	"github.com/davidguzman1991/clinical-core/internal/config"
	"github.com/davidguzman1991/clinical-core/internal/database"
	"github.com/davidguzman1991/clinical-core/internal/feedback"
	"github.com/davidguzman1991/clinical-core/internal/rank"
	"github.com/davidguzman1991/clinical-core/internal/retrieve"
	"github.com/davidguzman1991/clinical-core/internal/search"
	"github.com/davidguzman1991/clinical-core/internal/searchlog"
	"github.com/davidguzman1991/clinical-core/internal/store"
)

func main() {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.DebugSearch {
		log.SetLevel(logrus.DebugLevel)
	}
	for _, w := range cfg.Warnings {
		log.WithField("warning", w).Warn("configuration value fell back to default")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := database.NewConnectionFromURL(ctx, cfg.DatabaseURL, database.DefaultPoolTuning, log)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to database")
	}
	defer conn.Close()
	pool := conn.Pool

	migrator, err := database.NewMigrationRunner(cfg.DatabaseURL, cfg.MigrationsPath, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize migration runner")
	}
	if err := migrator.Up(ctx); err != nil {
		log.WithError(err).Fatal("failed to apply database migrations")
	}
	if err := migrator.Close(); err != nil {
		log.WithError(err).Warn("failed to close migration runner cleanly")
	}

	trigramsOn := probeTrigramSupport(ctx, pool, log)
	baseStore := store.NewSQLStore(pool, log, trigramsOn)

	var st store.Store = baseStore
	if cfg.RedisURL != "" {
		cached, err := store.NewCachedStore(baseStore, cfg.RedisURL, 10*time.Minute, log)
		if err != nil {
			log.WithError(err).Warn("redis cache unavailable, continuing without it")
		} else {
			defer cached.Close()
			st = cached
		}
	}

	retriever := retrieve.New(st, log)
	engine := rank.New(cfg)
	writer := searchlog.New(st, log)
	orchestrator := search.New(st, retriever, engine, writer, cfg, log)

	bootstrap.New(pool, cfg, log).Run(ctx, orchestrator)

	var corrections feedback.Store
	if pgCorrections, err := feedback.NewPostgresStoreFromURL(cfg.DatabaseURL); err != nil {
		log.WithError(err).Warn("correction review store unavailable, /icd10/corrections will answer 503")
	} else {
		defer pgCorrections.Close()
		corrections = pgCorrections
	}

	server := api.NewServer(orchestrator, writer, writer, st, corrections, cfg, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutdown signal received, gracefully shutting down")
		cancel()
	}()

	log.WithFields(logrus.Fields{"host": cfg.ServerHost, "port": cfg.ServerPort}).Info("starting clinical-core server")
	if err := server.Start(ctx); err != nil {
		log.WithError(err).Fatal("server failed")
	}

	log.Info("server stopped")
}

// probeTrigramSupport checks pg_extension once at startup so SQLStore
// knows whether it can push similarity computation into SQL, per its
// own doc comment's contract.
func probeTrigramSupport(ctx context.Context, pool *pgxpool.Pool, log *logrus.Logger) bool {
	var enabled bool
	err := pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM pg_extension WHERE extname = 'pg_trgm')`).Scan(&enabled)
	if err != nil {
		log.WithError(err).Warn("could not probe pg_trgm availability, assuming unavailable")
		return false
	}
	return enabled
}

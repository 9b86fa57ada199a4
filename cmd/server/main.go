// Package main is the entry point for the charity map server. It ingests
// Charity Commission bulk extracts, geocodes the register, computes need
// scores and serves the results over an HTTP API.
package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/calderstone/charitymap/internal/clientdata"
	"github.com/calderstone/charitymap/internal/clients/postcodes"
	"github.com/calderstone/charitymap/internal/config"
	"github.com/calderstone/charitymap/internal/database"
	"github.com/calderstone/charitymap/internal/engine"
	"github.com/calderstone/charitymap/internal/ingest"
	"github.com/calderstone/charitymap/internal/modules/charities"
	"github.com/calderstone/charitymap/internal/refresh"
	"github.com/calderstone/charitymap/internal/reliability"
	"github.com/calderstone/charitymap/internal/scheduler"
	"github.com/calderstone/charitymap/internal/server"
	"github.com/calderstone/charitymap/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: cfg.DevMode,
	})

	log.Info().Str("data_dir", cfg.DataDir).Str("region", cfg.Region).Msg("Starting charitymap")

	// Databases: register.db holds the charity register and computed scores,
	// cache.db holds geocoding results and download bookkeeping.
	registerDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "register.db"),
		Profile: database.ProfileStandard,
		Name:    "register",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open register database")
	}
	defer registerDB.Close()

	cacheDB, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "cache.db"),
		Profile: database.ProfileCache,
		Name:    "cache",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open cache database")
	}
	defer cacheDB.Close()

	if err := registerDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate register database")
	}
	if err := cacheDB.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("Failed to migrate cache database")
	}

	// Scoring configuration: thresholds can be overridden from a YAML file,
	// otherwise the built-in defaults apply.
	scoringCfg := engine.DefaultConfig()
	if cfg.ScoringConfig != "" {
		scoringCfg, err = engine.LoadConfig(cfg.ScoringConfig)
		if err != nil {
			log.Fatal().Err(err).Str("path", cfg.ScoringConfig).Msg("Failed to load scoring configuration")
		}
		log.Info().Str("version", scoringCfg.Version).Msg("Loaded scoring configuration")
	}

	cacheRepo := clientdata.NewRepository(cacheDB.Conn())
	postcodesClient := postcodes.NewClient(cfg.PostcodesURL, cacheRepo, log)

	repo := charities.NewRepository(registerDB.Conn(), log)
	scoreRepo := charities.NewScoreRepository(registerDB.Conn(), log)
	service, err := charities.NewService(repo, scoreRepo, postcodesClient, scoringCfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise charity service")
	}

	downloader := ingest.NewDownloader("", filepath.Join(cfg.DataDir, "extracts"), cacheRepo, log)
	loader := ingest.NewLoader(cfg.Region, log)
	runner := refresh.NewRunner(downloader, loader, postcodesClient, repo, service, cfg.Region, log)

	srv := server.New(server.Config{
		Log:        log,
		RegisterDB: registerDB,
		CacheDB:    cacheDB,
		Config:     cfg,
		Service:    service,
		Runner:     runner,
	})

	sched := scheduler.New(log)
	refreshJob := refresh.NewJob(runner, srv.Notifier(), 2*time.Hour)
	if err := sched.AddJob(cfg.RefreshSchedule, refreshJob); err != nil {
		log.Fatal().Err(err).Str("schedule", cfg.RefreshSchedule).Msg("Failed to schedule data refresh")
	}

	if cfg.Backup != nil && cfg.Backup.Enabled {
		store, err := reliability.NewS3Store(cfg.Backup, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialise backup storage")
		}
		snapshots := reliability.NewSnapshotService(
			store,
			[]*database.DB{registerDB, cacheDB},
			cfg.DataDir,
			cfg.Backup.Retention,
			log,
		)
		if err := sched.AddJob(cfg.Backup.Schedule, reliability.NewSnapshotJob(snapshots, 30*time.Minute)); err != nil {
			log.Fatal().Err(err).Str("schedule", cfg.Backup.Schedule).Msg("Failed to schedule snapshot backup")
		}
		log.Info().Str("bucket", cfg.Backup.Bucket).Msg("Snapshot backups enabled")
	}

	sched.Start()
	defer sched.Stop()

	go func() {
		if err := srv.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Port).Msg("Server started")

	// An empty register is useless; kick off a refresh right away when the
	// database has no charities yet.
	go func() {
		count, err := service.Count(context.Background())
		if err != nil {
			log.Error().Err(err).Msg("Failed to count charities")
			return
		}
		if count > 0 {
			log.Info().Int("charities", count).Msg("Register loaded from previous run")
			return
		}
		log.Info().Msg("Empty register, starting initial refresh")
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Hour)
		defer cancel()
		if _, err := runner.Run(ctx, false, srv.Notifier()); err != nil {
			log.Error().Err(err).Msg("Initial refresh failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server stopped")
}

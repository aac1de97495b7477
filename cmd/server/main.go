package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"geofacts/server/config"
	"geofacts/server/internal/api"
	"geofacts/server/internal/database"
	"geofacts/server/internal/geocoding"
	"geofacts/server/internal/logging"
	"geofacts/server/internal/pipeline"
	"geofacts/server/internal/scheduler"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to create logger")
	}

	regions, err := config.LoadRegions(cfg.Server.RegionsFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load regions")
	}

	// Initialize database
	logger.WithFields(logrus.Fields{"driver": cfg.Database.Driver}).Info("Opening store")
	db, err := database.Open(database.Config{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		Debug:        cfg.Database.Debug,
	}, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.Migrate(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	geocoder := geocoding.NewGeocoder(geocoding.Options{
		BaseURL:     cfg.Geocoder.BaseURL,
		CountryCode: cfg.Geocoder.CountryCode,
		CacheDir:    cfg.Geocoder.CacheDir,
		Interval:    cfg.Geocoder.Interval,
		UserAgent:   cfg.Geocoder.UserAgent,
	}, logger)
	defer func() {
		if err := geocoder.SaveCache(); err != nil {
			logger.WithError(err).Warn("Failed to save geocode cache")
		}
	}()

	runs := pipeline.New(db, logger)
	derived := pipeline.Options{
		BatchSize:   cfg.BatchProcessing.BatchSize,
		Concurrency: cfg.BatchProcessing.Concurrency,
		Update:      true,
	}
	jobs := scheduler.NewScheduler(logger,
		scheduler.Job{
			Name:     "geocode",
			Interval: cfg.Scheduler.GeocodeEvery,
			Run: func(ctx context.Context) error {
				_, err := runs.EnrichCoordinates(ctx, geocoder, cfg.Scheduler.GeocodeLimit, false)
				return err
			},
		},
		scheduler.Job{
			Name:     "derive",
			Interval: cfg.Scheduler.DeriveEvery,
			Run: func(ctx context.Context) error {
				if _, err := runs.BuildMarkers(ctx, derived); err != nil {
					return err
				}
				_, err := runs.BuildTimeSeries(ctx, derived)
				return err
			},
		},
	)
	jobs.Start(ctx)
	defer jobs.Stop()

	gin.SetMode(gin.ReleaseMode)
	handler := api.NewHandler(db, logger, regions).WithGeocoder(geocoder)
	router := api.NewRouter(handler, cfg.Server.CORSOrigins)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}
}

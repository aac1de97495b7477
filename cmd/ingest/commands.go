package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"geofacts/server/config"
	"geofacts/server/internal/database"
	"geofacts/server/internal/geocoding"
	"geofacts/server/internal/logging"
	"geofacts/server/internal/pipeline"
)

// app holds the settings shared by all subcommands. Flags are bound to it
// with env derived defaults, so an explicit flag wins over the environment.
type app struct {
	cfg    *config.Config
	opts   pipeline.Options
	stdout io.Writer
	logger *logrus.Logger
}

func newRootCommand(stdout io.Writer) *cobra.Command {
	a := &app{stdout: stdout}

	cfg, cfgErr := config.LoadConfig()
	if cfgErr != nil {
		cfg = &config.Config{}
	}
	a.cfg = cfg

	root := &cobra.Command{
		Use:           "ingest",
		Short:         "Load postcode, price paid and crime extracts into the geofacts store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfgErr != nil {
				return fmt.Errorf("failed to load config: %w", cfgErr)
			}
			logger, err := logging.New(a.cfg.Log.Level, a.cfg.Log.Format)
			if err != nil {
				return err
			}
			a.logger = logger
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfg.Database.Driver, "db-driver", cfg.Database.Driver, "store driver: sqlite or postgres")
	flags.StringVar(&a.cfg.Database.DSN, "db-dsn", cfg.Database.DSN, "store connection string or SQLite file")
	flags.IntVar(&a.opts.BatchSize, "batch-size", cfg.BatchProcessing.BatchSize, "rows per bulk write")
	flags.IntVar(&a.opts.Concurrency, "concurrency", cfg.BatchProcessing.Concurrency, "batches written at once, 0 for one per CPU")
	flags.Float64Var(&a.opts.ThresholdKm, "threshold-km", cfg.BatchProcessing.ThresholdKm, "nearest postcode threshold in km")
	flags.BoolVar(&a.opts.DryRun, "dry-run", false, "validate and count without writing")
	flags.BoolVar(&a.opts.Update, "update", false, "incremental load: keep indexes and refresh known units")
	flags.StringVar(&a.cfg.Log.Level, "log-level", cfg.Log.Level, "log level")
	flags.StringVar(&a.cfg.Log.Format, "log-format", cfg.Log.Format, "log format: json or text")

	root.AddCommand(
		a.newMigrateCommand(),
		a.newFileCommand("postcodes", "Load a postcode directory", (*pipeline.Pipeline).LoadReferencePoints),
		a.newFileCommand("areas", "Backfill area codes of stored postcodes from a lookup file", (*pipeline.Pipeline).BackfillAreas),
		a.newFileCommand("price-paid", "Load a price paid extract", (*pipeline.Pipeline).LoadPricePaid),
		a.newFileCommand("crimes", "Load street level crime extracts", (*pipeline.Pipeline).LoadCrimes),
		a.newDerivedCommand("markers", "Derive map markers from stored units and incidents", (*pipeline.Pipeline).BuildMarkers),
		a.newDerivedCommand("timeseries", "Rebuild monthly sale aggregates", (*pipeline.Pipeline).BuildTimeSeries),
		a.newGeocodeCommand(),
	)
	return root
}

type passFunc func(p *pipeline.Pipeline, ctx context.Context, opts pipeline.Options) (*pipeline.Stats, error)

// open connects to the store and applies migrations. Both are preconditions.
func (a *app) open(ctx context.Context) (*database.Database, error) {
	db, err := database.Open(database.Config{
		Driver:       a.cfg.Database.Driver,
		DSN:          a.cfg.Database.DSN,
		MaxOpenConns: a.cfg.Database.MaxOpenConns,
		Debug:        a.cfg.Database.Debug,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", pipeline.ErrPrecondition, err)
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %w", pipeline.ErrPrecondition, err)
	}
	return db, nil
}

func (a *app) run(ctx context.Context, opts pipeline.Options, pass passFunc) error {
	db, err := a.open(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	stats, err := pass(pipeline.New(db, a.logger), ctx, opts)
	if stats != nil {
		if perr := a.report(stats); perr != nil && err == nil {
			err = perr
		}
	}
	return err
}

type report struct {
	RunID      string         `json:"run_id"`
	Dataset    string         `json:"dataset"`
	Files      int            `json:"files"`
	Rows       int            `json:"rows"`
	Rejected   map[string]int `json:"rejected"`
	Duplicates map[string]int `json:"duplicates"`
	Admitted   map[string]int `json:"admitted"`
	Batches    int            `json:"batches"`
	Updated    int64          `json:"updated,omitempty"`
	DryRun     bool           `json:"dry_run"`
	DurationMs int64          `json:"duration_ms"`
}

func (a *app) report(stats *pipeline.Stats) error {
	r := report{
		RunID:      stats.RunID,
		Dataset:    stats.Dataset,
		Files:      stats.Files,
		Rows:       stats.RowsRead,
		Rejected:   make(map[string]int, len(stats.Rejected)),
		Duplicates: stats.Duplicates,
		Admitted:   stats.Admitted,
		Batches:    stats.Batches,
		Updated:    stats.Updated,
		DryRun:     stats.DryRun,
		DurationMs: stats.Duration.Milliseconds(),
	}
	for reason, n := range stats.Rejected {
		r.Rejected[string(reason)] = n
	}

	enc := json.NewEncoder(a.stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

func (a *app) newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := a.open(cmd.Context())
			if err != nil {
				return err
			}
			a.logger.WithField("driver", db.Driver()).Info("Schema is up to date")
			return db.Close()
		},
	}
}

func (a *app) newFileCommand(use, short string, pass passFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <file-or-directory>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := a.opts
			opts.Path = args[0]
			return a.run(cmd.Context(), opts, pass)
		},
	}
}

func (a *app) newDerivedCommand(use, short string, pass passFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd.Context(), a.opts, pass)
		},
	}
}

func (a *app) newGeocodeCommand() *cobra.Command {
	var limit int
	geo := a.cfg.Geocoder

	cmd := &cobra.Command{
		Use:   "geocode",
		Short: "Look up coordinates for stored postcodes that have none",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			geocoder := geocoding.NewGeocoder(geocoding.Options{
				BaseURL:     geo.BaseURL,
				CountryCode: geo.CountryCode,
				CacheDir:    geo.CacheDir,
				Interval:    geo.Interval,
				UserAgent:   geo.UserAgent,
			}, a.logger)
			defer func() {
				if err := geocoder.SaveCache(); err != nil {
					a.logger.WithError(err).Warn("Failed to save geocode cache")
				}
			}()

			return a.run(cmd.Context(), a.opts, func(p *pipeline.Pipeline, ctx context.Context, opts pipeline.Options) (*pipeline.Stats, error) {
				return p.EnrichCoordinates(ctx, geocoder, limit, opts.DryRun)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of postcodes to look up")
	cmd.Flags().StringVar(&geo.BaseURL, "geocoder-url", geo.BaseURL, "Nominatim compatible search endpoint")
	return cmd
}

package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type Config struct {
	Database struct {
		// Driver is "sqlite" or "postgres"
		Driver       string `env:"DB_DRIVER" envDefault:"sqlite"`
		DSN          string `env:"DB_DSN" envDefault:"geofacts.db"`
		MaxOpenConns int    `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
		Debug        bool   `env:"DB_DEBUG" envDefault:"false"`
	}

	BatchProcessing struct {
		// Number of rows per bulk write
		BatchSize int `env:"BATCH_SIZE" envDefault:"1000"`

		// Number of batches written at once, 0 means one per CPU
		Concurrency int `env:"BATCH_CONCURRENCY" envDefault:"0"`

		// Distance a postcode must beat to replace the first candidate of its area
		ThresholdKm float64 `env:"NEAREST_THRESHOLD_KM" envDefault:"1000"`
	}

	Server struct {
		Port            string        `env:"PORT" envDefault:"5250"`
		CORSOrigins     []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173"`
		ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
		// RegionsFile overrides the built in map regions when set
		RegionsFile string `env:"REGIONS_FILE"`
	}

	Geocoder struct {
		BaseURL     string        `env:"GEOCODER_URL" envDefault:"https://nominatim.openstreetmap.org/search"`
		CountryCode string        `env:"GEOCODER_COUNTRY" envDefault:"gb"`
		CacheDir    string        `env:"GEOCODER_CACHE_DIR"`
		Interval    time.Duration `env:"GEOCODER_INTERVAL" envDefault:"1s"`
		UserAgent   string        `env:"GEOCODER_USER_AGENT" envDefault:"geofacts/1.0"`
	}

	Scheduler struct {
		// Interval between coordinate enrichment runs, 0 disables them
		GeocodeEvery time.Duration `env:"SCHEDULE_GEOCODE_EVERY" envDefault:"0"`
		GeocodeLimit int           `env:"SCHEDULE_GEOCODE_LIMIT" envDefault:"100"`

		// Interval between marker and time series rebuilds, 0 disables them
		DeriveEvery time.Duration `env:"SCHEDULE_DERIVE_EVERY" envDefault:"0"`
	}

	Log struct {
		Level  string `env:"LOG_LEVEL" envDefault:"info"`
		Format string `env:"LOG_FORMAT" envDefault:"json"`
	}
}

func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no run could start with.
func (c *Config) Validate() error {
	var errs []error
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("DB_DSN is required"))
	}
	if c.BatchProcessing.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("BATCH_SIZE must be positive, got %d", c.BatchProcessing.BatchSize))
	}
	if c.BatchProcessing.Concurrency < 0 {
		errs = append(errs, fmt.Errorf("BATCH_CONCURRENCY must not be negative, got %d", c.BatchProcessing.Concurrency))
	}
	if c.BatchProcessing.ThresholdKm < 0 {
		errs = append(errs, fmt.Errorf("NEAREST_THRESHOLD_KM must not be negative, got %v", c.BatchProcessing.ThresholdKm))
	}
	return errors.Join(errs...)
}

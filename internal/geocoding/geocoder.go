package geocoding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"geofacts/server/internal/metrics"
)

// ErrNotFound is returned when the service has no result for a postcode.
var ErrNotFound = errors.New("no geocoding result")

const cacheFileName = "geocode_cache.json"

// Options configure a Geocoder.
type Options struct {
	// BaseURL is a Nominatim compatible search endpoint.
	BaseURL string
	// CountryCode restricts results, e.g. "gb".
	CountryCode string
	// CacheDir holds the JSON cache file. Empty disables persistence.
	CacheDir string
	// Interval is the minimum delay between two remote requests.
	Interval  time.Duration
	UserAgent string
}

// Geocoder resolves postcodes to coordinates through a Nominatim compatible
// service. Results are cached in memory and on disk.
type Geocoder struct {
	opts      Options
	logger    *logrus.Logger
	client    *http.Client
	cache     map[string][]float64
	cacheLock sync.RWMutex
	lastCall  time.Time
	callLock  sync.Mutex
}

func NewGeocoder(opts Options, logger *logrus.Logger) *Geocoder {
	if opts.BaseURL == "" {
		opts.BaseURL = "https://nominatim.openstreetmap.org/search"
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "geofacts/1.0"
	}

	g := &Geocoder{
		opts:   opts,
		logger: logger,
		client: &http.Client{Timeout: 10 * time.Second},
		cache:  make(map[string][]float64),
	}
	if opts.CacheDir != "" {
		if err := os.MkdirAll(opts.CacheDir, 0755); err != nil {
			logger.WithError(err).Warn("Could not create geocode cache directory")
		}
		g.loadCache()
	}
	return g
}

func (g *Geocoder) loadCache() {
	data, err := os.ReadFile(filepath.Join(g.opts.CacheDir, cacheFileName))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.WithError(err).Warn("Could not load geocode cache")
		}
		return
	}

	if err := json.Unmarshal(data, &g.cache); err != nil {
		g.logger.WithError(err).Error("Failed to parse geocode cache")
		return
	}
	g.logger.WithField("entries", len(g.cache)).Info("Loaded geocode cache")
}

// SaveCache writes the cache to disk.
func (g *Geocoder) SaveCache() error {
	if g.opts.CacheDir == "" {
		return nil
	}

	g.cacheLock.RLock()
	data, err := json.Marshal(g.cache)
	g.cacheLock.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to marshal geocode cache: %w", err)
	}

	if err := os.WriteFile(filepath.Join(g.opts.CacheDir, cacheFileName), data, 0644); err != nil {
		return fmt.Errorf("failed to save geocode cache: %w", err)
	}
	return nil
}

type nominatimResponse []struct {
	Lat string `json:"lat"`
	Lon string `json:"lon"`
}

// wait enforces the minimum interval between remote requests.
func (g *Geocoder) wait(ctx context.Context) error {
	g.callLock.Lock()
	defer g.callLock.Unlock()

	if d := g.opts.Interval - time.Since(g.lastCall); d > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(d):
		}
	}
	g.lastCall = time.Now()
	return nil
}

// Geocode returns the coordinates of a postcode.
func (g *Geocoder) Geocode(ctx context.Context, postcode string) (float64, float64, error) {
	g.cacheLock.RLock()
	coords, ok := g.cache[postcode]
	g.cacheLock.RUnlock()
	if ok {
		metrics.GeocodeRequestsTotal.WithLabelValues("cache").Inc()
		if len(coords) != 2 {
			return 0, 0, fmt.Errorf("invalid cached coordinates for %s", postcode)
		}
		return coords[0], coords[1], nil
	}

	if err := g.wait(ctx); err != nil {
		return 0, 0, err
	}

	params := url.Values{
		"postalcode": []string{postcode},
		"format":     []string{"json"},
		"limit":      []string{"1"},
	}
	if g.opts.CountryCode != "" {
		params.Set("countrycodes", g.opts.CountryCode)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.opts.BaseURL, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.URL.RawQuery = params.Encode()
	req.Header.Set("User-Agent", g.opts.UserAgent)
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")

	resp, err := g.client.Do(req)
	if err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return 0, 0, fmt.Errorf("geocoding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return 0, 0, fmt.Errorf("geocoding request failed with status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read response: %w", err)
	}

	var result nominatimResponse
	if err := json.Unmarshal(body, &result); err != nil {
		metrics.GeocodeRequestsTotal.WithLabelValues("error").Inc()
		return 0, 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if len(result) == 0 {
		metrics.GeocodeRequestsTotal.WithLabelValues("miss").Inc()
		return 0, 0, fmt.Errorf("%w: %s", ErrNotFound, postcode)
	}

	lat, err := strconv.ParseFloat(result[0].Lat, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid latitude %q: %w", result[0].Lat, err)
	}
	lon, err := strconv.ParseFloat(result[0].Lon, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid longitude %q: %w", result[0].Lon, err)
	}

	metrics.GeocodeRequestsTotal.WithLabelValues("hit").Inc()
	g.logger.WithFields(logrus.Fields{
		"postcode":  postcode,
		"latitude":  lat,
		"longitude": lon,
		"source":    "nominatim",
	}).Debug("Geocoded postcode")

	g.cacheLock.Lock()
	g.cache[postcode] = []float64{lat, lon}
	g.cacheLock.Unlock()
	return lat, lon, nil
}

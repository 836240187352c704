// Package config holds the run configuration and every default value used
// by the crawler. Core packages take explicit options built from here.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-food/adapter/selector"
	"github.com/aluiziolira/go-scrape-food/crawl"
	"github.com/aluiziolira/go-scrape-food/fetch"
	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/aluiziolira/go-scrape-food/normalize"
	"github.com/aluiziolira/go-scrape-food/pipeline"
	"github.com/aluiziolira/go-scrape-food/worker"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. FOODSCRAPE_ITEM_LIMIT.
const EnvPrefix = "FOODSCRAPE"

// Config holds crawler configuration.
type Config struct {
	Shops       []selector.Definition `mapstructure:"shops"`
	SelectShops []string              `mapstructure:"select_shops"`

	City      string  `mapstructure:"city"`
	Address   string  `mapstructure:"address"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	ItemLimit int     `mapstructure:"item_limit"`
	FastMode  bool    `mapstructure:"fast_mode"`

	MaxConcurrency    int           `mapstructure:"max_concurrency"`
	MinDelay          time.Duration `mapstructure:"min_delay"`
	MaxDelay          time.Duration `mapstructure:"max_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	RetryBackoffMax   time.Duration `mapstructure:"retry_backoff_max"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Proxies           []string      `mapstructure:"proxies"`

	EnrichConcurrency int           `mapstructure:"enrich_concurrency"`
	EnrichBatchSize   int           `mapstructure:"enrich_batch_size"`
	EnrichMinDelay    time.Duration `mapstructure:"enrich_min_delay"`
	EnrichMaxDelay    time.Duration `mapstructure:"enrich_max_delay"`

	UnitBasisTolerance float64 `mapstructure:"unit_basis_tolerance"`
	TypicalMaxKcal     float64 `mapstructure:"typical_max_kcal"`
	PhysicalMaxKcal    float64 `mapstructure:"physical_max_kcal"`

	OutputFile    string        `mapstructure:"output_file"`
	OutputFormats []string      `mapstructure:"output_formats"`
	BatchSize     int           `mapstructure:"batch_size"`
	DrainTimeout  time.Duration `mapstructure:"drain_timeout"`

	MetricsAddr string `mapstructure:"metrics_addr"`
	Verbose     bool   `mapstructure:"verbose"`

	GeocoderURL  string        `mapstructure:"geocoder_url"`
	GeoCacheSize int           `mapstructure:"geo_cache_size"`
	GeoCacheTTL  time.Duration `mapstructure:"geo_cache_ttl"`
	// FallbackLatitude and FallbackLongitude are used when the geocoder
	// cannot resolve the address.
	FallbackLatitude  float64 `mapstructure:"fallback_latitude"`
	FallbackLongitude float64 `mapstructure:"fallback_longitude"`

	RedisAddr         string        `mapstructure:"redis_addr"`
	QueuePrefix       string        `mapstructure:"queue_prefix"`
	WorkerID          string        `mapstructure:"worker_id"`
	PopTimeout        time.Duration `mapstructure:"pop_timeout"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	ReconnectBackoff  time.Duration `mapstructure:"reconnect_backoff"`
	ReconnectMax      time.Duration `mapstructure:"reconnect_backoff_max"`
}

// DefaultConfig returns conservative defaults: a handful of parallel
// requests with human-like pauses.
func DefaultConfig() *Config {
	return &Config{
		City:      "Москва",
		ItemLimit: 0,

		MaxConcurrency:  8,
		MinDelay:        200 * time.Millisecond,
		MaxDelay:        800 * time.Millisecond,
		Timeout:         30 * time.Second,
		MaxAttempts:     3,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 8 * time.Second,

		EnrichConcurrency: 4,
		EnrichBatchSize:   20,
		EnrichMinDelay:    300 * time.Millisecond,
		EnrichMaxDelay:    1200 * time.Millisecond,

		UnitBasisTolerance: 0.2,
		TypicalMaxKcal:     450,
		PhysicalMaxKcal:    900,

		OutputFile:    "output/food.csv",
		OutputFormats: []string{"csv"},
		BatchSize:     64,
		DrainTimeout:  30 * time.Second,

		GeocoderURL:  "https://nominatim.openstreetmap.org/search",
		GeoCacheSize: 256,
		GeoCacheTTL:  24 * time.Hour,

		FallbackLatitude:  55.7558,
		FallbackLongitude: 37.6173,

		RedisAddr:         "localhost:6379",
		QueuePrefix:       "foodscrape",
		PopTimeout:        5 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		ReconnectBackoff:  500 * time.Millisecond,
		ReconnectMax:      30 * time.Second,
	}
}

// Load merges defaults, the optional YAML file at path, FOODSCRAPE_*
// environment variables and any flags already bound on v, then validates
// the result.
func Load(v *viper.Viper, path string) (*Config, error) {
	setDefaults(v, DefaultConfig())
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.OutputFormats = splitList(cfg.OutputFormats)
	cfg.SelectShops = splitList(cfg.SelectShops)
	cfg.Proxies = splitList(cfg.Proxies)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("shops", []map[string]any{})
	v.SetDefault("select_shops", []string{})
	v.SetDefault("city", d.City)
	v.SetDefault("address", d.Address)
	v.SetDefault("latitude", d.Latitude)
	v.SetDefault("longitude", d.Longitude)
	v.SetDefault("item_limit", d.ItemLimit)
	v.SetDefault("fast_mode", d.FastMode)
	v.SetDefault("max_concurrency", d.MaxConcurrency)
	v.SetDefault("min_delay", d.MinDelay)
	v.SetDefault("max_delay", d.MaxDelay)
	v.SetDefault("timeout", d.Timeout)
	v.SetDefault("max_attempts", d.MaxAttempts)
	v.SetDefault("retry_backoff", d.RetryBackoff)
	v.SetDefault("retry_backoff_max", d.RetryBackoffMax)
	v.SetDefault("requests_per_second", d.RequestsPerSecond)
	v.SetDefault("proxies", []string{})
	v.SetDefault("enrich_concurrency", d.EnrichConcurrency)
	v.SetDefault("enrich_batch_size", d.EnrichBatchSize)
	v.SetDefault("enrich_min_delay", d.EnrichMinDelay)
	v.SetDefault("enrich_max_delay", d.EnrichMaxDelay)
	v.SetDefault("unit_basis_tolerance", d.UnitBasisTolerance)
	v.SetDefault("typical_max_kcal", d.TypicalMaxKcal)
	v.SetDefault("physical_max_kcal", d.PhysicalMaxKcal)
	v.SetDefault("output_file", d.OutputFile)
	v.SetDefault("output_formats", d.OutputFormats)
	v.SetDefault("batch_size", d.BatchSize)
	v.SetDefault("drain_timeout", d.DrainTimeout)
	v.SetDefault("metrics_addr", d.MetricsAddr)
	v.SetDefault("verbose", d.Verbose)
	v.SetDefault("geocoder_url", d.GeocoderURL)
	v.SetDefault("geo_cache_size", d.GeoCacheSize)
	v.SetDefault("geo_cache_ttl", d.GeoCacheTTL)
	v.SetDefault("fallback_latitude", d.FallbackLatitude)
	v.SetDefault("fallback_longitude", d.FallbackLongitude)
	v.SetDefault("redis_addr", d.RedisAddr)
	v.SetDefault("queue_prefix", d.QueuePrefix)
	v.SetDefault("worker_id", d.WorkerID)
	v.SetDefault("pop_timeout", d.PopTimeout)
	v.SetDefault("heartbeat_interval", d.HeartbeatInterval)
	v.SetDefault("reconnect_backoff", d.ReconnectBackoff)
	v.SetDefault("reconnect_backoff_max", d.ReconnectMax)
}

// splitList flattens comma-separated entries coming from env or flags.
func splitList(in []string) []string {
	var out []string
	for _, entry := range in {
		for _, part := range strings.Split(entry, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.ItemLimit < 0 {
		return fmt.Errorf("item limit cannot be negative")
	}
	if c.MaxConcurrency <= 0 {
		return fmt.Errorf("max concurrency must be positive")
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("request delay window [%s, %s] is invalid", c.MinDelay, c.MaxDelay)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("max attempts must be positive")
	}
	if c.RetryBackoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if c.RetryBackoffMax > 0 && c.RetryBackoff > c.RetryBackoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", c.RetryBackoff, c.RetryBackoffMax)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("requests per second cannot be negative")
	}
	if c.EnrichConcurrency <= 0 || c.EnrichBatchSize <= 0 {
		return fmt.Errorf("enrich concurrency and batch size must be positive")
	}
	if c.EnrichMinDelay < 0 || c.EnrichMaxDelay < c.EnrichMinDelay {
		return fmt.Errorf("enrich delay window [%s, %s] is invalid", c.EnrichMinDelay, c.EnrichMaxDelay)
	}
	if err := c.NormalizeOptions().Validate(); err != nil {
		return err
	}
	if (c.Latitude == 0) != (c.Longitude == 0) {
		return fmt.Errorf("latitude and longitude must be set together")
	}
	if c.Latitude < -90 || c.Latitude > 90 || c.Longitude < -180 || c.Longitude > 180 {
		return fmt.Errorf("coordinates (%f, %f) are out of range", c.Latitude, c.Longitude)
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if len(c.OutputFormats) == 0 {
		return fmt.Errorf("at least one output format is required")
	}
	for _, f := range c.OutputFormats {
		switch strings.ToLower(f) {
		case "csv", "json", "jsonl", "sqlite":
		default:
			return fmt.Errorf("output format must be csv, json or sqlite, got %q", f)
		}
	}
	if c.BatchSize <= 0 || c.DrainTimeout <= 0 {
		return fmt.Errorf("batch size and drain timeout must be positive")
	}
	if c.GeocoderURL != "" {
		if u, err := url.Parse(c.GeocoderURL); err != nil || u.Host == "" {
			return fmt.Errorf("geocoder url %q must include a host", c.GeocoderURL)
		}
	}
	if c.GeoCacheSize <= 0 || c.GeoCacheTTL <= 0 {
		return fmt.Errorf("geo cache size and ttl must be positive")
	}

	seen := make(map[string]bool, len(c.Shops))
	for _, shop := range c.Shops {
		if seen[shop.Shop] {
			return fmt.Errorf("shop %q is defined twice", shop.Shop)
		}
		seen[shop.Shop] = true
	}
	for _, shop := range c.Shops {
		if err := shop.Validate(); err != nil {
			return fmt.Errorf("shop %q: %w", shop.Shop, err)
		}
	}
	for _, name := range c.SelectShops {
		if !seen[name] {
			return fmt.Errorf("selected shop %q has no definition", name)
		}
	}
	return nil
}

// ValidateWorker checks the settings only the queue worker needs.
func (c *Config) ValidateWorker() error {
	if c.RedisAddr == "" {
		return errors.New("redis address cannot be empty")
	}
	return c.WorkerOptions().Validate()
}

// SelectedShops returns the definitions to crawl: the selected ones, or
// all of them when no selection was made.
func (c *Config) SelectedShops() []selector.Definition {
	if len(c.SelectShops) == 0 {
		return c.Shops
	}
	wanted := make(map[string]bool, len(c.SelectShops))
	for _, name := range c.SelectShops {
		wanted[name] = true
	}
	var out []selector.Definition
	for _, shop := range c.Shops {
		if wanted[shop.Shop] {
			out = append(out, shop)
		}
	}
	return out
}

// Coordinates returns the configured coordinates, or nil when unset.
func (c *Config) Coordinates() *models.Coordinates {
	if c.Latitude == 0 && c.Longitude == 0 {
		return nil
	}
	return &models.Coordinates{Lat: c.Latitude, Lon: c.Longitude}
}

// FallbackCoordinates is where a location falls back to when geocoding fails.
func (c *Config) FallbackCoordinates() models.Coordinates {
	return models.Coordinates{Lat: c.FallbackLatitude, Lon: c.FallbackLongitude}
}

// FetchOptions builds the fetch client options.
func (c *Config) FetchOptions() fetch.Options {
	return fetch.Options{
		MaxConcurrency:    c.MaxConcurrency,
		MinDelay:          c.MinDelay,
		MaxDelay:          c.MaxDelay,
		Timeout:           c.Timeout,
		MaxAttempts:       c.MaxAttempts,
		BaseDelay:         c.RetryBackoff,
		MaxBackoff:        c.RetryBackoffMax,
		RequestsPerSecond: c.RequestsPerSecond,
		Proxies:           c.Proxies,
		HeaderProfiles:    fetch.DefaultHeaderProfiles(),
	}
}

// NormalizeOptions builds the unit-basis heuristic options.
func (c *Config) NormalizeOptions() normalize.Options {
	return normalize.Options{
		Tolerance:           c.UnitBasisTolerance,
		TypicalMaxKcal100g:  c.TypicalMaxKcal,
		PhysicalMaxKcal100g: c.PhysicalMaxKcal,
	}
}

// CrawlOptions builds the orchestrator options. loc may be nil.
func (c *Config) CrawlOptions(loc *models.Location) crawl.Options {
	return crawl.Options{
		EnrichConcurrency: c.EnrichConcurrency,
		EnrichMinDelay:    c.EnrichMinDelay,
		EnrichMaxDelay:    c.EnrichMaxDelay,
		EnrichBatchSize:   c.EnrichBatchSize,
		SkipEnrichment:    c.FastMode,
		Location:          loc,
		Normalize:         c.NormalizeOptions(),
	}
}

// PipelineOptions builds the export pipeline options.
func (c *Config) PipelineOptions() pipeline.Options {
	return pipeline.Options{
		BatchSize:    c.BatchSize,
		BufferSize:   c.BatchSize * 8,
		DrainTimeout: c.DrainTimeout,
	}
}

// WorkerOptions builds the queue worker options.
func (c *Config) WorkerOptions() worker.Options {
	return worker.Options{
		Prefix:            c.QueuePrefix,
		WorkerID:          c.WorkerID,
		PopTimeout:        c.PopTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		ReconnectBase:     c.ReconnectBackoff,
		ReconnectMax:      c.ReconnectMax,
	}
}

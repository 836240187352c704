package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-food/adapter/selector"
	"github.com/aluiziolira/go-scrape-food/config"
	"github.com/aluiziolira/go-scrape-food/crawl"
	"github.com/aluiziolira/go-scrape-food/fetch"
	"github.com/aluiziolira/go-scrape-food/geo"
	"github.com/aluiziolira/go-scrape-food/metrics"
	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/aluiziolira/go-scrape-food/pipeline"
	"github.com/spf13/cobra"
)

func newRunCmd(a *app) *cobra.Command {
	defaults := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Crawl the selected shops and export the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runShops(cmd.Context(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringSlice("shops", nil, "Shops to crawl (default: every configured shop)")
	f.String("city", defaults.City, "Delivery city")
	f.String("address", "", "Delivery address, geocoded unless --lat/--lon are given")
	f.Float64("lat", 0, "Delivery latitude")
	f.Float64("lon", 0, "Delivery longitude")
	f.Int("limit", defaults.ItemLimit, "Accepted items per shop, 0 for no limit")
	f.Bool("fast", false, "Keep listing data and skip product pages")
	f.StringP("output", "o", defaults.OutputFile, "Output file path")
	f.StringSlice("format", defaults.OutputFormats, "Output formats: csv, json, sqlite")
	bindFlags(a.v, f, map[string]string{
		"shops":   "select_shops",
		"city":    "city",
		"address": "address",
		"lat":     "latitude",
		"lon":     "longitude",
		"limit":   "item_limit",
		"fast":    "fast_mode",
		"output":  "output_file",
		"format":  "output_formats",
	})
	return cmd
}

func (a *app) runShops(ctx context.Context, out io.Writer) error {
	cfg := a.cfg
	shops := cfg.SelectedShops()
	if len(shops) == 0 {
		return errors.New("no shops configured, add definitions under shops: in the config file")
	}

	m := metrics.New()
	defer serveMetrics(cfg.MetricsAddr, m)()

	client, err := fetch.New(cfg.FetchOptions(), m)
	if err != nil {
		return fmt.Errorf("initialising fetch client: %w", err)
	}
	defer client.Close()

	loc := locate(ctx, newResolver(cfg, client), cfg.City, cfg.Address, cfg.Coordinates())
	orch, err := crawl.New(cfg.CrawlOptions(loc), client, m)
	if err != nil {
		return fmt.Errorf("initialising orchestrator: %w", err)
	}
	jobs, err := buildJobs(shops, client, cfg.ItemLimit)
	if err != nil {
		return err
	}

	writer, err := pipeline.NewWriter(cfg.OutputFormats, cfg.OutputFile)
	if err != nil {
		return fmt.Errorf("creating writer: %w", err)
	}
	defer func() {
		if err := writer.Close(); err != nil {
			slog.Error("close writer", slog.Any("error", err))
		}
	}()

	// Exports of a canceled run still hold the partial result.
	p, err := pipeline.NewPipeline(context.WithoutCancel(ctx), writer, cfg.PipelineOptions())
	if err != nil {
		return err
	}
	p.Start(1)
	if cfg.Verbose {
		p.StartProgressReporting(10 * time.Second)
	}

	slog.Info("starting crawl",
		slog.Int("shops", len(jobs)),
		slog.String("city", cfg.City),
		slog.Int("limit", cfg.ItemLimit),
		slog.Bool("fast", cfg.FastMode),
	)

	startTime := time.Now()
	results, runErr := orch.RunAll(ctx, jobs)
	if runErr != nil {
		slog.Error("crawl aborted", slog.Any("error", runErr))
	}
	for _, result := range results {
		if err := p.ProcessResult(result); err != nil {
			return fmt.Errorf("export %s: %w", result.Shop, err)
		}
	}

	if err := p.Close(); err != nil {
		return fmt.Errorf("pipeline shutdown failed: %w", err)
	}
	counters := p.Counters()
	if counters["written"] > 0 {
		if err := writer.Validate(); err != nil {
			return fmt.Errorf("output validation failed: %w", err)
		}
	}

	printSummary(out, results, client.Stats(), counters, time.Since(startTime), cfg.OutputFile)
	return runErr
}

// newResolver returns the geocoder for cfg, or nil when none is configured.
// Failed lookups fall back to the configured coordinates and are retried
// on the next call; successful ones are cached.
func newResolver(cfg *config.Config, client geo.Fetcher) geo.Resolver {
	if cfg.GeocoderURL == "" {
		return nil
	}
	r, err := geo.NewHTTPResolver(cfg.GeocoderURL, client)
	if err != nil {
		slog.Warn("geocoder disabled", slog.Any("error", err))
		return nil
	}
	return geo.WithFallback(geo.NewCached(r, cfg.GeoCacheSize, cfg.GeoCacheTTL), cfg.FallbackCoordinates())
}

// locate builds the delivery location; a location without coordinates is
// still bound when the address cannot be resolved.
func locate(ctx context.Context, r geo.Resolver, city, address string, known *models.Coordinates) *models.Location {
	if city == "" && address == "" && known == nil {
		return nil
	}
	loc, err := geo.Locate(ctx, r, city, address, known)
	if err != nil {
		slog.Warn("address not resolved, continuing without coordinates",
			slog.String("address", address),
			slog.Any("error", err),
		)
	}
	return &loc
}

func buildJobs(defs []selector.Definition, client selector.Fetcher, limit int) ([]crawl.Job, error) {
	jobs := make([]crawl.Job, 0, len(defs))
	for _, def := range defs {
		adapter, err := selector.New(def, client)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, crawl.Job{Adapter: adapter, Limit: limit})
	}
	return jobs, nil
}

func printSummary(out io.Writer, results []*models.ScrapeResult, fs fetch.Stats, counters map[string]int64, duration time.Duration, outputFile string) {
	separator := "--------------------------------------------------"
	fmt.Fprintln(out, "\n"+separator)
	fmt.Fprintln(out, "Scrape complete")

	var accepted, duplicates, invalid, errs int
	issues := make(map[string]int)
	for _, r := range results {
		fmt.Fprintf(out, "  %-14s found %d, accepted %d, failed %d, errors %d\n",
			r.Shop+":", r.TotalFound, r.Successful, r.Failed, len(r.Errors))
		accepted += r.Successful
		duplicates += r.Stats.Duplicates
		invalid += r.Stats.Invalid
		errs += len(r.Errors)
		for kind, n := range r.Stats.IssuesByType {
			issues[kind] += n
		}
	}

	fmt.Fprintf(out, "  Total items:   %d\n", accepted)
	fmt.Fprintf(out, "  Written:       %d\n", counters["written"])
	fmt.Fprintf(out, "  Duplicates:    %d\n", duplicates)
	fmt.Fprintf(out, "  Invalid:       %d\n", invalid)
	if len(issues) > 0 {
		parts := make([]string, 0, len(issues))
		for _, kind := range slices.Sorted(maps.Keys(issues)) {
			parts = append(parts, fmt.Sprintf("%s=%d", kind, issues[kind]))
		}
		fmt.Fprintf(out, "  Issues:        %s\n", strings.Join(parts, " "))
	}
	fmt.Fprintf(out, "  Errors:        %d\n", errs)

	successRate := 0.0
	if fs.Requests > 0 {
		successRate = float64(fs.Requests-fs.Failures) / float64(fs.Requests) * 100
	}
	fmt.Fprintf(out, "  Requests:      %d\n", fs.Requests)
	fmt.Fprintf(out, "  Success rate:  %.2f%%\n", successRate)
	fmt.Fprintf(out, "  Retries:       %d\n", fs.Retries)
	fmt.Fprintf(out, "  Duration:      %v\n", duration.Round(time.Millisecond))
	itemsPerSec := 0.0
	if duration.Seconds() > 0 {
		itemsPerSec = float64(accepted) / duration.Seconds()
	}
	fmt.Fprintf(out, "  Items/sec:     %.2f\n", itemsPerSec)
	fmt.Fprintf(out, "  Output file:   %s\n", outputFile)
	fmt.Fprintln(out, separator)
}

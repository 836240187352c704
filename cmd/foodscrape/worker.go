package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-food/config"
	"github.com/aluiziolira/go-scrape-food/crawl"
	"github.com/aluiziolira/go-scrape-food/fetch"
	"github.com/aluiziolira/go-scrape-food/geo"
	"github.com/aluiziolira/go-scrape-food/metrics"
	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/aluiziolira/go-scrape-food/worker"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
)

func newWorkerCmd(a *app) *cobra.Command {
	defaults := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Serve crawl tasks from the Redis queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runWorker(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("redis-addr", defaults.RedisAddr, "Redis address")
	f.String("queue-prefix", defaults.QueuePrefix, "Key prefix of the task queue")
	f.String("worker-id", "", "Worker ID used for the heartbeat key (default: random)")
	f.Duration("heartbeat-interval", defaults.HeartbeatInterval, "Heartbeat refresh interval")
	bindFlags(a.v, f, map[string]string{
		"redis-addr":         "redis_addr",
		"queue-prefix":       "queue_prefix",
		"worker-id":          "worker_id",
		"heartbeat-interval": "heartbeat_interval",
	})
	return cmd
}

func (a *app) runWorker(ctx context.Context) error {
	cfg := a.cfg
	if err := cfg.ValidateWorker(); err != nil {
		return err
	}
	if len(cfg.SelectedShops()) == 0 {
		return errors.New("no shops configured, add definitions under shops: in the config file")
	}

	m := metrics.New()
	defer serveMetrics(cfg.MetricsAddr, m)()

	client, err := fetch.New(cfg.FetchOptions(), m)
	if err != nil {
		return fmt.Errorf("initialising fetch client: %w", err)
	}
	defer client.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	runner := taskRunner{cfg: cfg, client: client, resolver: newResolver(cfg, client), metrics: m}
	w, err := worker.New(rdb, runner, cfg.WorkerOptions())
	if err != nil {
		return err
	}
	if err := w.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// taskRunner crawls every configured shop for one queued task.
type taskRunner struct {
	cfg      *config.Config
	client   *fetch.Client
	resolver geo.Resolver
	metrics  *metrics.Metrics
}

func (r taskRunner) Run(ctx context.Context, task worker.Task) ([]*models.ScrapeResult, error) {
	loc := locate(ctx, r.resolver, r.cfg.City, task.Address, task.Coordinates)
	opts := r.cfg.CrawlOptions(loc)
	opts.SkipEnrichment = task.Mode == worker.ModeFast

	orch, err := crawl.New(opts, r.client, r.metrics)
	if err != nil {
		return nil, err
	}
	jobs, err := buildJobs(r.cfg.SelectedShops(), r.client, r.cfg.ItemLimit)
	if err != nil {
		return nil, err
	}
	return orch.RunAll(ctx, jobs)
}

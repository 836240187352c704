package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-food/config"
	"github.com/aluiziolira/go-scrape-food/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, waiting for in-flight work to finish")
	}()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("foodscrape failed", slog.Any("error", err))
		stop()
		os.Exit(1)
	}
}

// app carries state shared by the subcommands.
type app struct {
	v       *viper.Viper
	cfgFile string
	cfg     *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}
	defaults := config.DefaultConfig()

	root := &cobra.Command{
		Use:           "foodscrape",
		Short:         "Crawl food storefronts into a normalized nutrition dataset",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.cfgFile)
			if err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			a.cfg = cfg

			logger, level := newLogger(cfg.Verbose)
			slog.SetDefault(logger)
			slog.SetLogLoggerLevel(level.Level())
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&a.cfgFile, "config", "", "YAML config file with shop definitions")
	pf.BoolP("verbose", "v", false, "Enable verbose logging")
	pf.String("metrics-addr", defaults.MetricsAddr, "Prometheus metrics listen address (e.g. :9090)")
	pf.Int("concurrency", defaults.MaxConcurrency, "Maximum simultaneous requests")
	pf.Duration("timeout", defaults.Timeout, "Per-request timeout")
	pf.Int("max-attempts", defaults.MaxAttempts, "Attempts per request including the first")
	pf.StringSlice("proxy", nil, "Proxy URLs, assigned to origins round-robin")
	bindFlags(a.v, pf, map[string]string{
		"verbose":      "verbose",
		"metrics-addr": "metrics_addr",
		"concurrency":  "max_concurrency",
		"timeout":      "timeout",
		"max-attempts": "max_attempts",
		"proxy":        "proxies",
	})

	root.AddCommand(newRunCmd(a), newWorkerCmd(a))
	return root
}

// bindFlags maps flag names onto config keys.
func bindFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}
}

// serveMetrics exposes m on addr and returns a shutdown func. It is a no-op
// when addr is empty.
func serveMetrics(addr string, m *metrics.Metrics) func() {
	if addr == "" || m == nil {
		return func() {}
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("metrics server shutdown failed", slog.Any("error", err))
		}
	}
}

func newLogger(verbose bool) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler), level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

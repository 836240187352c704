package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/aluiziolira/go-scrape-food/models"
	"golang.org/x/sync/errgroup"
)

// EnrichFunc fetches detail for one record.
type EnrichFunc func(ctx context.Context, rec models.RawItemRecord) (models.RawItemRecord, error)

// SchedulerOptions configures the enrichment stage.
type SchedulerOptions struct {
	Concurrency int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// Validate checks the options for coherence.
func (o SchedulerOptions) Validate() error {
	if o.Concurrency <= 0 {
		return fmt.Errorf("enrich concurrency must be positive")
	}
	if o.MinDelay < 0 || o.MaxDelay < o.MinDelay {
		return fmt.Errorf("enrich delay window [%s, %s] is invalid", o.MinDelay, o.MaxDelay)
	}
	return nil
}

// EnrichOutcome is the result of enriching one record.
type EnrichOutcome struct {
	Index  int
	Input  models.RawItemRecord
	Record models.RawItemRecord
	Err    error
}

// Scheduler runs detail fetches with bounded parallelism and a human-like
// pause before each one.
type Scheduler struct {
	opts  SchedulerOptions
	sleep func(ctx context.Context, d time.Duration) error
}

// NewScheduler builds a scheduler from opts.
func NewScheduler(opts SchedulerOptions) (*Scheduler, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{opts: opts, sleep: sleepContext}, nil
}

// Run enriches records and streams one outcome per record, in completion
// order. The channel is closed once every record has been handled.
func (s *Scheduler) Run(ctx context.Context, records []models.RawItemRecord, fn EnrichFunc) <-chan EnrichOutcome {
	out := make(chan EnrichOutcome)
	go func() {
		defer close(out)
		var g errgroup.Group
		g.SetLimit(s.opts.Concurrency)
		for i, rec := range records {
			g.Go(func() error {
				outcome := s.enrichOne(ctx, rec, fn)
				outcome.Index = i
				out <- outcome
				return nil
			})
		}
		_ = g.Wait()
	}()
	return out
}

// EnrichAll enriches records and returns the ones that succeeded, in input
// order, together with an issue per failure.
func (s *Scheduler) EnrichAll(ctx context.Context, records []models.RawItemRecord, fn EnrichFunc) ([]models.RawItemRecord, []models.ValidationIssue) {
	done := make([]*models.RawItemRecord, len(records))
	var issues []models.ValidationIssue
	for outcome := range s.Run(ctx, records, fn) {
		if outcome.Err != nil {
			issues = append(issues, enrichIssue(outcome))
			continue
		}
		done[outcome.Index] = &outcome.Record
	}

	enriched := make([]models.RawItemRecord, 0, len(records))
	for _, rec := range done {
		if rec != nil {
			enriched = append(enriched, *rec)
		}
	}
	return enriched, issues
}

func (s *Scheduler) enrichOne(ctx context.Context, rec models.RawItemRecord, fn EnrichFunc) (outcome EnrichOutcome) {
	outcome.Input = rec
	defer func() {
		if r := recover(); r != nil {
			outcome.Err = fmt.Errorf("enrich panicked: %v", r)
		}
	}()

	if err := s.sleep(ctx, s.delay()); err != nil {
		outcome.Err = err
		return outcome
	}
	enriched, err := fn(ctx, rec)
	if err != nil {
		slog.Debug("enrich failed",
			slog.String("url", rec.URL),
			slog.Any("error", err),
		)
		outcome.Err = err
		return outcome
	}
	outcome.Record = enriched
	return outcome
}

func (s *Scheduler) delay() time.Duration {
	span := s.opts.MaxDelay - s.opts.MinDelay
	if span <= 0 {
		return s.opts.MinDelay
	}
	return s.opts.MinDelay + rand.N(span+1)
}

func enrichIssue(outcome EnrichOutcome) models.ValidationIssue {
	return models.ValidationIssue{
		URL:         outcome.Input.URL,
		IssueType:   models.IssueEnrichFailed,
		Description: outcome.Err.Error(),
		Stage:       models.StageEnrich,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

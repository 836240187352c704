// Package crawl drives site adapters through a shop run: category
// iteration, deduplication, detail enrichment, normalization and
// validation, with per-category failure isolation.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-food/metrics"
	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/aluiziolira/go-scrape-food/normalize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/aluiziolira/go-scrape-food/crawl")

// Options configures an Orchestrator.
type Options struct {
	EnrichConcurrency int
	EnrichMinDelay    time.Duration
	EnrichMaxDelay    time.Duration
	// EnrichBatchSize is how many new records are collected before the
	// enrichment stage runs on them.
	EnrichBatchSize int
	// SkipEnrichment accepts listing data as-is (fast mode).
	SkipEnrichment bool
	// Location, when set, is bound on the adapter before any category.
	Location  *models.Location
	Normalize normalize.Options
}

// Validate checks the options for coherence.
func (o Options) Validate() error {
	if o.EnrichBatchSize <= 0 {
		return fmt.Errorf("enrich batch size must be positive")
	}
	if err := o.schedulerOptions().Validate(); err != nil {
		return err
	}
	if err := o.Normalize.Validate(); err != nil {
		return fmt.Errorf("normalize options: %w", err)
	}
	return nil
}

func (o Options) schedulerOptions() SchedulerOptions {
	return SchedulerOptions{
		Concurrency: o.EnrichConcurrency,
		MinDelay:    o.EnrichMinDelay,
		MaxDelay:    o.EnrichMaxDelay,
	}
}

// Job is one shop run for RunAll.
type Job struct {
	Adapter    SiteAdapter
	Categories []string
	Limit      int
}

// Orchestrator runs site adapters. A single Orchestrator may run many
// shops one after another; each run gets its own RunContext.
type Orchestrator struct {
	opts      Options
	sessions  Sessions
	scheduler *Scheduler
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New builds an orchestrator. sessions is closed at the end of every run;
// m may be nil.
func New(opts Options, sessions Sessions, m *metrics.Metrics) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl options: %w", err)
	}
	scheduler, err := NewScheduler(opts.schedulerOptions())
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		opts:      opts,
		sessions:  sessions,
		scheduler: scheduler,
		metrics:   m,
		now:       time.Now,
	}, nil
}

// Run crawls the given categories of one shop and stops once limit items
// were accepted (0 means no limit). A failing category is recorded and the
// run moves on; only a fatal configuration error is returned. When ctx is
// canceled the items accepted so far are returned with a nil error.
func (o *Orchestrator) Run(ctx context.Context, adapter SiteAdapter, categories []string, limit int) (*models.ScrapeResult, error) {
	shop := adapter.Shop()
	ctx, span := tracer.Start(ctx, "crawl.Run", trace.WithAttributes(
		attribute.String("shop", shop),
		attribute.Int("limit", limit),
	))
	defer span.End()

	rc := newRunContext(shop, o.sessions, o.now())
	defer rc.Close()

	logger := slog.With(slog.String("shop", shop), slog.String("run_id", rc.ID))
	logger.Info("run started", slog.Int("limit", limit))

	if err := o.bindLocation(ctx, rc, adapter); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if len(categories) == 0 {
		if lister, ok := adapter.(CategoryLister); ok {
			categories = lister.Categories()
		}
	}
	if len(categories) == 0 {
		err := &FatalConfigError{Shop: shop, Err: errors.New("no categories to crawl")}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	for _, category := range categories {
		if ctx.Err() != nil {
			rc.addError(fmt.Sprintf("run canceled before category %s", category))
			break
		}
		if rc.limitReached(limit, 0) {
			break
		}
		report, err := o.crawlCategory(ctx, rc, adapter, category, limit)
		rc.categories = append(rc.categories, report)
		o.metrics.IncCategory(shop, string(report.State))
		if err != nil {
			fatal := asFatal(shop, err)
			span.RecordError(fatal)
			span.SetStatus(codes.Error, fatal.Error())
			logger.Error("run aborted", slog.String("category", category), slog.Any("error", err))
			return nil, fatal
		}
	}

	result := rc.result(o.now())
	logger.Info("run finished",
		slog.Int("total_found", result.TotalFound),
		slog.Int("successful", result.Successful),
		slog.Int("failed", result.Failed),
		slog.Int("errors", len(result.Errors)),
		slog.Float64("duration_seconds", result.DurationSeconds),
	)
	span.SetAttributes(attribute.Int("accepted", result.Successful))
	return result, nil
}

// RunAll runs jobs one after another. A fatal error in one shop does not
// stop the others; the errors are joined.
func (o *Orchestrator) RunAll(ctx context.Context, jobs []Job) ([]*models.ScrapeResult, error) {
	var (
		results []*models.ScrapeResult
		errs    []error
	)
	for _, job := range jobs {
		if ctx.Err() != nil {
			break
		}
		result, err := o.Run(ctx, job.Adapter, job.Categories, job.Limit)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		results = append(results, result)
	}
	return results, errors.Join(errs...)
}

func (o *Orchestrator) bindLocation(ctx context.Context, rc *RunContext, adapter SiteAdapter) error {
	if o.opts.Location == nil {
		return nil
	}
	err := adapter.SetLocation(context.WithoutCancel(ctx), *o.opts.Location)
	if err == nil {
		return nil
	}
	if isFatal(err) {
		return asFatal(rc.Shop, err)
	}
	slog.Warn("location not applied",
		slog.String("shop", rc.Shop),
		slog.Any("error", err),
	)
	rc.addError(fmt.Sprintf("set location: %v", err))
	return nil
}

// crawlCategory walks one category. Fetches run detached from ctx so a
// request in flight completes; cancellation is observed between records.
// The returned error is non-nil only when it is fatal for the shop.
func (o *Orchestrator) crawlCategory(ctx context.Context, rc *RunContext, adapter SiteAdapter, category string, limit int) (models.CategoryReport, error) {
	ctx, span := tracer.Start(ctx, "crawl.Category", trace.WithAttributes(
		attribute.String("shop", rc.Shop),
		attribute.String("category", category),
	))
	defer span.End()

	report := models.CategoryReport{Name: category, State: models.CategoryFetching, Pages: 1}
	fetchCtx := withPageObserver(context.WithoutCancel(ctx), func() {
		report.State = models.CategoryPaginating
		report.Pages++
	})

	var pending []models.RawItemRecord
	for rec, err := range adapter.ListCategoryItems(fetchCtx, category) {
		report.State = models.CategoryParsing
		if err != nil {
			var parseErr *ParseError
			if errors.As(err, &parseErr) {
				rc.Stats.RecordSeen()
				report.Seen++
				o.reject(rc, models.ValidationIssue{
					URL:         parseErr.URL,
					IssueType:   models.IssueParseFailed,
					Description: parseErr.Error(),
					Stage:       models.StageList,
				})
				continue
			}
			if isFatal(err) {
				report.State = models.CategoryFailed
				report.Error = err.Error()
				span.RecordError(err)
				return report, err
			}
			report.State = models.CategoryFailed
			report.Error = err.Error()
			rc.addError(fmt.Sprintf("category %s: %v", category, err))
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			slog.Warn("category failed",
				slog.String("shop", rc.Shop),
				slog.String("category", category),
				slog.Any("error", err),
			)
			break
		}

		rc.Stats.RecordSeen()
		report.Seen++
		if rec, ok := o.admit(rc, rec, category); ok {
			pending = append(pending, rec)
		}

		if len(pending) >= o.opts.EnrichBatchSize || rc.limitReached(limit, len(pending)) {
			report.Accepted += o.flush(ctx, rc, adapter, pending, limit)
			pending = pending[:0]
		}
		if rc.limitReached(limit, 0) {
			break
		}
		if ctx.Err() != nil {
			rc.addError(fmt.Sprintf("category %s: run canceled", category))
			break
		}
	}
	report.Accepted += o.flush(ctx, rc, adapter, pending, limit)

	if report.State != models.CategoryFailed {
		report.State = models.CategoryDone
	}
	span.SetAttributes(
		attribute.Int("seen", report.Seen),
		attribute.Int("accepted", report.Accepted),
		attribute.Int("pages", report.Pages),
	)
	return report, nil
}

// admit assigns the stable ID and drops records that were seen before.
func (o *Orchestrator) admit(rc *RunContext, rec models.RawItemRecord, category string) (models.RawItemRecord, bool) {
	if strings.TrimSpace(rec.Category) == "" {
		rec.Category = category
	}
	rec.NativeID = strings.TrimSpace(rec.NativeID)
	if rec.NativeID == "" {
		rec.NativeID = strings.TrimSpace(rec.URL)
	}
	if rec.NativeID == "" {
		o.reject(rc, models.ValidationIssue{
			URL:         rec.URL,
			IssueType:   models.IssueMissingID,
			Description: fmt.Sprintf("item %q has neither an id nor a url", rec.Name),
			Stage:       models.StageList,
		})
		return rec, false
	}
	if !rc.admit(models.StableID(rc.Shop, rec.NativeID)) {
		rc.Stats.RecordDuplicate()
		o.metrics.IncItem(rc.Shop, "duplicate")
		return rec, false
	}
	return rec, true
}

// flush enriches the records that need detail and accepts the batch. It
// returns how many items were accepted.
func (o *Orchestrator) flush(ctx context.Context, rc *RunContext, adapter SiteAdapter, pending []models.RawItemRecord, limit int) int {
	if len(pending) == 0 {
		return 0
	}

	var ready, detail []models.RawItemRecord
	for _, rec := range pending {
		if !o.opts.SkipEnrichment && needsDetail(adapter, rec) {
			detail = append(detail, rec)
			continue
		}
		ready = append(ready, rec)
	}

	if len(detail) > 0 {
		if ctx.Err() != nil {
			// Canceled before the batch started: keep the listing data.
			ready = append(ready, detail...)
		} else {
			enriched, issues := o.scheduler.EnrichAll(context.WithoutCancel(ctx), detail, adapter.EnrichItem)
			for _, issue := range issues {
				o.reject(rc, issue)
			}
			ready = append(ready, enriched...)
		}
	}

	accepted := 0
	for _, rec := range ready {
		if limit > 0 && rc.Stats.Accepted() >= limit {
			break
		}
		if o.accept(rc, rec) {
			accepted++
		}
	}
	return accepted
}

func (o *Orchestrator) accept(rc *RunContext, rec models.RawItemRecord) bool {
	item := normalize.FromRaw(rec, rc.Shop, o.now(), o.opts.Normalize)
	if item.BasisAmbiguous {
		rc.Stats.RecordIssue(models.ValidationIssue{
			URL:         item.URL,
			IssueType:   models.IssueUnitBasisAmbiguous,
			Description: fmt.Sprintf("kcal %s kept as per 100g", formatOptional(item.Kcal100g)),
			Stage:       models.StageNormalize,
		})
	}

	if err := Validate(&item); err != nil {
		var verr *ValidationError
		issue := models.ValidationIssue{URL: item.URL, Description: err.Error(), Stage: models.StageValidate}
		if errors.As(err, &verr) {
			issue.IssueType = verr.IssueType
			issue.Description = verr.Description
		}
		o.reject(rc, issue)
		return false
	}

	rc.items = append(rc.items, &item)
	rc.Stats.RecordAccepted(&item)
	o.metrics.IncItem(rc.Shop, "accepted")
	return true
}

func (o *Orchestrator) reject(rc *RunContext, issue models.ValidationIssue) {
	rc.Stats.RecordInvalid(issue)
	o.metrics.IncItem(rc.Shop, "invalid")
	slog.Debug("item rejected",
		slog.String("shop", rc.Shop),
		slog.String("url", issue.URL),
		slog.String("issue", issue.IssueType),
		slog.String("stage", issue.Stage),
	)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%g", *v)
}

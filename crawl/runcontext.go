package crawl

import (
	"time"

	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/google/uuid"
)

// Sessions is the run-scoped session cache of the fetch client.
type Sessions interface {
	Close()
}

// RunContext holds the state of one shop run. It is created when the run
// starts and closed when it ends; nothing in it survives across runs.
type RunContext struct {
	ID      string
	Shop    string
	Started time.Time
	Stats   *Stats

	seen       map[string]struct{}
	sessions   Sessions
	items      []*models.NormalizedFoodItem
	errors     []string
	categories []models.CategoryReport
}

func newRunContext(shop string, sessions Sessions, now time.Time) *RunContext {
	return &RunContext{
		ID:       uuid.NewString(),
		Shop:     shop,
		Started:  now,
		Stats:    NewStats(),
		seen:     make(map[string]struct{}),
		sessions: sessions,
	}
}

// admit adds id to the dedup set and reports whether it was new.
func (rc *RunContext) admit(id string) bool {
	if _, ok := rc.seen[id]; ok {
		return false
	}
	rc.seen[id] = struct{}{}
	return true
}

func (rc *RunContext) addError(msg string) {
	rc.errors = append(rc.errors, msg)
}

func (rc *RunContext) limitReached(limit, pending int) bool {
	return limit > 0 && rc.Stats.Accepted()+pending >= limit
}

// Close releases the sessions opened during the run.
func (rc *RunContext) Close() {
	if rc.sessions != nil {
		rc.sessions.Close()
	}
}

func (rc *RunContext) result(end time.Time) *models.ScrapeResult {
	report := rc.Stats.Report()
	errs := rc.errors
	if errs == nil {
		errs = []string{}
	}
	items := rc.items
	if items == nil {
		items = []*models.NormalizedFoodItem{}
	}
	return &models.ScrapeResult{
		RunID:           rc.ID,
		Shop:            rc.Shop,
		Items:           items,
		TotalFound:      report.Total,
		Successful:      report.Accepted,
		Failed:          rc.Stats.Failed(),
		Errors:          errs,
		Issues:          rc.Stats.Issues(),
		Categories:      rc.categories,
		Stats:           report,
		StartTime:       rc.Started,
		EndTime:         end,
		DurationSeconds: end.Sub(rc.Started).Seconds(),
	}
}

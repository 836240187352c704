package models

import "time"

// CategoryState is the lifecycle state of one category within a run.
type CategoryState string

const (
	CategoryIdle       CategoryState = "idle"
	CategoryFetching   CategoryState = "fetching"
	CategoryParsing    CategoryState = "parsing"
	CategoryPaginating CategoryState = "paginating"
	CategoryDone       CategoryState = "done"
	CategoryFailed     CategoryState = "failed"
)

// CategoryReport summarises how one category fared.
type CategoryReport struct {
	Name     string        `json:"name"`
	State    CategoryState `json:"state"`
	Seen     int           `json:"seen"`
	Accepted int           `json:"accepted"`
	Pages    int           `json:"pages"`
	Error    string        `json:"error,omitempty"`
}

// StatsReport is a point-in-time copy of the run counters.
type StatsReport struct {
	Total            int            `json:"total"`
	Accepted         int            `json:"accepted"`
	Duplicates       int            `json:"duplicates"`
	Invalid          int            `json:"invalid"`
	WithNutrients    int            `json:"with_nutrients"`
	WithoutNutrients int            `json:"without_nutrients"`
	PerCategory      map[string]int `json:"per_category"`
	PerShop          map[string]int `json:"per_shop"`
	IssuesByType     map[string]int `json:"issues_by_type"`
}

// ScrapeResult is the unit of output per shop, assembled once at the end of a run.
type ScrapeResult struct {
	RunID           string                `json:"run_id"`
	Shop            string                `json:"shop"`
	Items           []*NormalizedFoodItem `json:"items"`
	TotalFound      int                   `json:"total_found"`
	Successful      int                   `json:"successful"`
	Failed          int                   `json:"failed"`
	Errors          []string              `json:"errors"`
	Issues          []ValidationIssue     `json:"issues,omitempty"`
	Categories      []CategoryReport      `json:"categories,omitempty"`
	Stats           StatsReport           `json:"stats"`
	StartTime       time.Time             `json:"start_time"`
	EndTime         time.Time             `json:"end_time"`
	DurationSeconds float64               `json:"duration_seconds"`
}

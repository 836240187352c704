package crawl

import "github.com/aluiziolira/go-scrape-food/models"

// Stats accumulates run counters and the issue log. It is not safe for
// concurrent use: only the orchestrator's coordinating goroutine writes it.
type Stats struct {
	total            int
	accepted         int
	duplicates       int
	invalid          int
	withNutrients    int
	withoutNutrients int
	perCategory      map[string]int
	perShop          map[string]int
	issuesByType     map[string]int
	issues           []models.ValidationIssue
}

// NewStats returns an empty aggregator.
func NewStats() *Stats {
	return &Stats{
		perCategory:  make(map[string]int),
		perShop:      make(map[string]int),
		issuesByType: make(map[string]int),
	}
}

// RecordSeen counts a record yielded by an adapter.
func (s *Stats) RecordSeen() {
	s.total++
}

// RecordDuplicate counts a record whose stable ID was already accepted.
func (s *Stats) RecordDuplicate() {
	s.duplicates++
}

// RecordInvalid counts a dropped item and logs why.
func (s *Stats) RecordInvalid(issue models.ValidationIssue) {
	s.invalid++
	s.RecordIssue(issue)
}

// RecordIssue logs an issue without rejecting the item.
func (s *Stats) RecordIssue(issue models.ValidationIssue) {
	s.issues = append(s.issues, issue)
	s.issuesByType[issue.IssueType]++
}

// RecordAccepted counts an accepted item.
func (s *Stats) RecordAccepted(item *models.NormalizedFoodItem) {
	s.accepted++
	s.perCategory[item.Category]++
	s.perShop[item.Shop]++
	if item.HasNutrients() {
		s.withNutrients++
	} else {
		s.withoutNutrients++
	}
}

// Accepted returns the number of accepted items so far.
func (s *Stats) Accepted() int {
	return s.accepted
}

// Failed returns duplicates plus invalid items.
func (s *Stats) Failed() int {
	return s.duplicates + s.invalid
}

// Issues returns a copy of the issue log.
func (s *Stats) Issues() []models.ValidationIssue {
	out := make([]models.ValidationIssue, len(s.issues))
	copy(out, s.issues)
	return out
}

// Report returns a snapshot of the counters.
func (s *Stats) Report() models.StatsReport {
	return models.StatsReport{
		Total:            s.total,
		Accepted:         s.accepted,
		Duplicates:       s.duplicates,
		Invalid:          s.invalid,
		WithNutrients:    s.withNutrients,
		WithoutNutrients: s.withoutNutrients,
		PerCategory:      copyCounts(s.perCategory),
		PerShop:          copyCounts(s.perShop),
		IssuesByType:     copyCounts(s.issuesByType),
	}
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

package crawl

import (
	"context"
	"iter"

	"github.com/aluiziolira/go-scrape-food/models"
)

// SiteAdapter knows how to read one storefront. Implementations are
// independent of each other and selected by configuration.
type SiteAdapter interface {
	// Shop is the short shop name used in stable IDs.
	Shop() string
	// SetLocation binds the storefront session to a delivery location.
	SetLocation(ctx context.Context, loc models.Location) error
	// ListCategoryItems yields the raw records of one category. The
	// sequence is finite and cannot be restarted. A *ParseError drops a
	// single item; any other error fails the category.
	ListCategoryItems(ctx context.Context, category string) iter.Seq2[models.RawItemRecord, error]
	// EnrichItem fetches detail for rec. It may fail independently per item.
	EnrichItem(ctx context.Context, rec models.RawItemRecord) (models.RawItemRecord, error)
}

// DetailPolicy lets an adapter decide which records need a detail fetch.
// Adapters that do not implement it get records enriched when none of the
// nutrient fields were found on the listing.
type DetailPolicy interface {
	NeedsDetail(rec models.RawItemRecord) bool
}

// CategoryLister is implemented by adapters that know their own category
// list; it is used when a run is started without explicit categories.
type CategoryLister interface {
	Categories() []string
}

type pageObserverKey struct{}

// MarkPaginating tells the orchestrator that the adapter is moving on to
// the next listing page of the current category.
func MarkPaginating(ctx context.Context) {
	if fn, ok := ctx.Value(pageObserverKey{}).(func()); ok {
		fn()
	}
}

func withPageObserver(ctx context.Context, fn func()) context.Context {
	return context.WithValue(ctx, pageObserverKey{}, fn)
}

func needsDetail(adapter SiteAdapter, rec models.RawItemRecord) bool {
	if p, ok := adapter.(DetailPolicy); ok {
		return p.NeedsDetail(rec)
	}
	return !rec.HasNutrientText()
}

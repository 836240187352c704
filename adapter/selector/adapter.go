package selector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/aluiziolira/go-scrape-food/crawl"
	"github.com/aluiziolira/go-scrape-food/fetch"
	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/gocolly/colly/v2"
)

// Fetcher is the subset of the fetch client the adapter needs.
type Fetcher interface {
	Fetch(ctx context.Context, method, rawURL string, headers http.Header, body []byte) (*fetch.Response, error)
}

// Adapter is a crawl.SiteAdapter backed by a Definition.
type Adapter struct {
	def    Definition
	base   *url.URL
	client Fetcher
}

// New validates def and builds an adapter that fetches through client.
func New(def Definition, client Fetcher) (*Adapter, error) {
	if err := def.Validate(); err != nil {
		return nil, &crawl.FatalConfigError{Shop: def.Shop, Err: err}
	}
	base, err := url.Parse(def.BaseURL)
	if err != nil {
		return nil, &crawl.FatalConfigError{Shop: def.Shop, Err: err}
	}
	return &Adapter{def: def, base: base, client: client}, nil
}

// Shop implements crawl.SiteAdapter.
func (a *Adapter) Shop() string {
	return a.def.Shop
}

// Categories implements crawl.CategoryLister.
func (a *Adapter) Categories() []string {
	names := make([]string, len(a.def.Categories))
	for i, c := range a.def.Categories {
		names[i] = c.Name
	}
	return names
}

// NeedsDetail implements crawl.DetailPolicy: a product page is only worth
// fetching when detail selectors exist and the card lacked nutrients.
func (a *Adapter) NeedsDetail(rec models.RawItemRecord) bool {
	if a.def.Detail.empty() || rec.URL == "" {
		return false
	}
	return !rec.HasNutrientText()
}

// SetLocation submits the delivery location. Shops without a location
// endpoint accept any location.
func (a *Adapter) SetLocation(ctx context.Context, loc models.Location) error {
	if a.def.Location.URL == "" {
		return nil
	}
	form := url.Values{}
	form.Set("city", loc.City)
	if loc.Address != "" {
		form.Set("address", loc.Address)
	}
	if loc.Coordinates != nil {
		form.Set("lat", strconv.FormatFloat(loc.Coordinates.Lat, 'f', 6, 64))
		form.Set("lon", strconv.FormatFloat(loc.Coordinates.Lon, 'f', 6, 64))
	}

	method := strings.ToUpper(a.def.Location.Method)
	if method == "" {
		method = http.MethodPost
	}
	target := a.resolve(a.def.Location.URL)
	headers := http.Header{}
	var body []byte
	if method == http.MethodGet {
		target += "?" + form.Encode()
	} else {
		headers.Set("Content-Type", "application/x-www-form-urlencoded")
		body = []byte(form.Encode())
	}

	if _, err := a.client.Fetch(ctx, method, target, headers, body); err != nil {
		return fmt.Errorf("set location for %s: %w", a.def.Shop, err)
	}
	slog.Debug("location applied",
		slog.String("shop", a.def.Shop),
		slog.String("city", loc.City),
	)
	return nil
}

// ListCategoryItems implements crawl.SiteAdapter. Pages are fetched lazily
// as the caller consumes the sequence.
func (a *Adapter) ListCategoryItems(ctx context.Context, category string) iter.Seq2[models.RawItemRecord, error] {
	return func(yield func(models.RawItemRecord, error) bool) {
		cat, ok := a.category(category)
		if !ok {
			yield(models.RawItemRecord{}, fmt.Errorf("unknown category %q", category))
			return
		}

		pageURL := a.resolve(cat.URL)
		visited := make(map[string]bool)
		for page := 1; pageURL != ""; page++ {
			if page > 1 {
				crawl.MarkPaginating(ctx)
			}
			visited[pageURL] = true

			doc, resp, err := a.document(ctx, pageURL)
			if err != nil {
				yield(models.RawItemRecord{}, fmt.Errorf("listing page %d: %w", page, err))
				return
			}

			stopped := false
			doc.Find(a.def.Listing.Item).EachWithBreak(func(i int, s *goquery.Selection) bool {
				e := colly.NewHTMLElementFromSelectionNode(resp, s, s.Nodes[0], i)
				rec, err := a.listingRecord(e, cat.Name)
				if !yield(rec, err) {
					stopped = true
					return false
				}
				return true
			})
			if stopped {
				return
			}

			if a.def.MaxPages > 0 && page >= a.def.MaxPages {
				return
			}
			next := a.nextPage(doc, resp)
			if visited[next] {
				return
			}
			pageURL = next
		}
	}
}

// EnrichItem implements crawl.SiteAdapter. Fields found on the product page
// fill the gaps of the listing record; listing values are kept otherwise.
func (a *Adapter) EnrichItem(ctx context.Context, rec models.RawItemRecord) (models.RawItemRecord, error) {
	doc, resp, err := a.document(ctx, rec.URL)
	if err != nil {
		return rec, fmt.Errorf("detail page: %w", err)
	}
	root := colly.NewHTMLElementFromSelectionNode(resp, doc.Selection, doc.Nodes[0], 0)
	sel := a.def.Detail

	fill(&rec.PortionText, childText(root, sel.Portion))
	fill(&rec.KcalText, childText(root, sel.Kcal))
	fill(&rec.ProteinText, childText(root, sel.Protein))
	fill(&rec.FatText, childText(root, sel.Fat))
	fill(&rec.CarbText, childText(root, sel.Carb))
	fill(&rec.Composition, childText(root, sel.Composition))
	if rec.PhotoURL == "" {
		rec.PhotoURL = absoluteAttr(root, sel.Photo, "src")
	}
	rec.Tags = append(rec.Tags, eachText(root, sel.Tags)...)

	if !rec.HasNutrientText() && rec.Composition == "" {
		return rec, &crawl.ParseError{URL: rec.URL, Err: errors.New("no nutrients or composition on product page")}
	}
	return rec, nil
}

func (a *Adapter) listingRecord(e *colly.HTMLElement, category string) (models.RawItemRecord, error) {
	sel := a.def.Listing
	rec := models.RawItemRecord{
		Name:        childText(e, sel.Name),
		PriceText:   childText(e, sel.Price),
		URL:         absoluteAttr(e, sel.Link, "href"),
		Category:    category,
		PhotoURL:    absoluteAttr(e, sel.Photo, "src"),
		PortionText: childText(e, sel.Portion),
		KcalText:    childText(e, sel.Kcal),
		ProteinText: childText(e, sel.Protein),
		FatText:     childText(e, sel.Fat),
		CarbText:    childText(e, sel.Carb),
		Tags:        eachText(e, sel.Tags),
	}
	switch {
	case sel.IDAttr != "" && sel.ID != "":
		rec.NativeID = strings.TrimSpace(e.ChildAttr(sel.ID, sel.IDAttr))
	case sel.IDAttr != "":
		rec.NativeID = strings.TrimSpace(e.Attr(sel.IDAttr))
	case sel.ID != "":
		rec.NativeID = childText(e, sel.ID)
	}

	if rec.Name == "" {
		where := rec.URL
		if where == "" {
			where = e.Request.URL.String()
		}
		return rec, &crawl.ParseError{URL: where, Err: fmt.Errorf("card %d has no name", e.Index)}
	}
	return rec, nil
}

func (a *Adapter) document(ctx context.Context, pageURL string) (*goquery.Document, *colly.Response, error) {
	res, err := a.client.Fetch(ctx, http.MethodGet, pageURL, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(res.Body))
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	u, err := url.Parse(res.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse %s: %w", pageURL, err)
	}
	header := res.Header
	resp := &colly.Response{
		StatusCode: res.StatusCode,
		Body:       res.Body,
		Headers:    &header,
		Request:    &colly.Request{URL: u, Method: http.MethodGet},
	}
	return doc, resp, nil
}

func (a *Adapter) nextPage(doc *goquery.Document, resp *colly.Response) string {
	if a.def.Listing.NextPage == "" {
		return ""
	}
	href, ok := doc.Find(a.def.Listing.NextPage).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ""
	}
	return resp.Request.AbsoluteURL(strings.TrimSpace(href))
}

func (a *Adapter) category(name string) (Category, bool) {
	for _, c := range a.def.Categories {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

func (a *Adapter) resolve(ref string) string {
	u, err := a.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

func childText(e *colly.HTMLElement, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(e.ChildText(selector))
}

func absoluteAttr(e *colly.HTMLElement, selector, attr string) string {
	if selector == "" {
		return ""
	}
	v := strings.TrimSpace(e.ChildAttr(selector, attr))
	if v == "" {
		return ""
	}
	return e.Request.AbsoluteURL(v)
}

func eachText(e *colly.HTMLElement, selector string) []string {
	if selector == "" {
		return nil
	}
	var out []string
	e.ForEach(selector, func(_ int, el *colly.HTMLElement) {
		if t := strings.TrimSpace(el.Text); t != "" {
			out = append(out, t)
		}
	})
	return out
}

func fill(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

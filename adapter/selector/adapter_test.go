package selector

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-food/crawl"
	"github.com/aluiziolira/go-scrape-food/fetch"
	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/aluiziolira/go-scrape-food/normalize"
	"github.com/jarcoal/httpmock"
)

const saladsPage1 = `<html><body>
<div class="card" data-id="101">
  <a class="title" href="/p/101">Цезарь с курицей</a>
  <span class="price">349 ₽</span>
  <span class="weight">250 г</span>
  <img class="photo" src="/img/101.jpg">
  <span class="tag">Хит</span>
</div>
<div class="card" data-id="102">
  <a class="title" href="/p/102">Греческий салат</a>
  <span class="price">299 ₽</span>
  <span class="weight">200 г</span>
  <span class="kcal">120</span><span class="protein">4,5</span><span class="fat">9</span><span class="carb">6</span>
  <span class="tag">Вегетарианское</span><span class="tag">Новинка</span>
</div>
<div class="card" data-id="103"><span class="price">10</span></div>
<a class="next" href="/catalog/salads?page=2">Дальше</a>
</body></html>`

const saladsPage2 = `<html><body>
<div class="card" data-id="104">
  <a class="title" href="/p/104">Оливье</a>
  <span class="price">199 ₽</span>
  <span class="kcal">210</span><span class="protein">6</span><span class="fat">16</span><span class="carb">9</span>
</div>
</body></html>`

const drinksPage = `<html><body>
<div class="card" data-id="301">
  <a class="title" href="/p/301">Морс клюквенный</a>
  <span class="price">120 ₽</span>
  <span class="kcal">45</span><span class="protein">0</span><span class="fat">0</span><span class="carb">11</span>
</div>
</body></html>`

const detail101 = `<html><body>
<div class="nutrition">
  <span class="kcal">600</span><span class="protein">30</span><span class="fat">27,5</span><span class="carb">50</span>
</div>
<div class="composition">Состав: курица, салат романо, соус цезарь</div>
<span class="badge">Острое</span>
</body></html>`

func testDefinition() Definition {
	return Definition{
		Shop:    "demo",
		BaseURL: "https://shop.test",
		Categories: []Category{
			{Name: "salads", URL: "/catalog/salads"},
			{Name: "soups", URL: "/catalog/soups"},
			{Name: "drinks", URL: "/catalog/drinks"},
		},
		Location: LocationEndpoint{URL: "/api/location"},
		Listing: ListingSelectors{
			Item:     "div.card",
			IDAttr:   "data-id",
			Name:     "a.title",
			Price:    "span.price",
			Link:     "a.title",
			Photo:    "img.photo",
			Portion:  "span.weight",
			Kcal:     "span.kcal",
			Protein:  "span.protein",
			Fat:      "span.fat",
			Carb:     "span.carb",
			Tags:     "span.tag",
			NextPage: "a.next",
		},
		Detail: DetailSelectors{
			Kcal:        "div.nutrition span.kcal",
			Protein:     "div.nutrition span.protein",
			Fat:         "div.nutrition span.fat",
			Carb:        "div.nutrition span.carb",
			Composition: "div.composition",
			Tags:        "span.badge",
		},
	}
}

func newMockTransport() *httpmock.MockTransport {
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder("GET", "https://shop.test/catalog/salads",
		httpmock.NewStringResponder(200, saladsPage1))
	transport.RegisterResponder("GET", "https://shop.test/catalog/salads?page=2",
		httpmock.NewStringResponder(200, saladsPage2))
	transport.RegisterResponder("GET", "https://shop.test/catalog/soups",
		httpmock.NewStringResponder(500, "upstream down"))
	transport.RegisterResponder("GET", "https://shop.test/catalog/drinks",
		httpmock.NewStringResponder(200, drinksPage))
	transport.RegisterResponder("GET", "https://shop.test/p/101",
		httpmock.NewStringResponder(200, detail101))
	return transport
}

func newTestClient(t *testing.T, transport http.RoundTripper) *fetch.Client {
	t.Helper()
	client, err := fetch.New(fetch.Options{
		MaxConcurrency: 2,
		Timeout:        time.Second,
		MaxAttempts:    2,
		BaseDelay:      time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
		HeaderProfiles: fetch.DefaultHeaderProfiles(),
		Transport:      transport,
	}, nil)
	if err != nil {
		t.Fatalf("fetch.New() error = %v", err)
	}
	t.Cleanup(client.Close)
	return client
}

func newTestAdapter(t *testing.T, def Definition, transport http.RoundTripper) *Adapter {
	t.Helper()
	a, err := New(def, newTestClient(t, transport))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return a
}

func TestListCategoryItemsFollowsPages(t *testing.T) {
	transport := newMockTransport()
	a := newTestAdapter(t, testDefinition(), transport)

	var (
		recs      []models.RawItemRecord
		parseErrs int
	)
	for rec, err := range a.ListCategoryItems(context.Background(), "salads") {
		if err != nil {
			var parseErr *crawl.ParseError
			if !errors.As(err, &parseErr) {
				t.Fatalf("unexpected error: %v", err)
			}
			parseErrs++
			continue
		}
		recs = append(recs, rec)
	}

	if len(recs) != 3 || parseErrs != 1 {
		t.Fatalf("got %d records and %d parse errors, want 3 and 1", len(recs), parseErrs)
	}

	first := recs[0]
	if first.NativeID != "101" || first.Name != "Цезарь с курицей" {
		t.Errorf("first = %+v", first)
	}
	if first.URL != "https://shop.test/p/101" || first.PhotoURL != "https://shop.test/img/101.jpg" {
		t.Errorf("URL/PhotoURL = %s / %s, want absolute", first.URL, first.PhotoURL)
	}
	if first.PriceText != "349 ₽" || first.PortionText != "250 г" || first.Category != "salads" {
		t.Errorf("fields = %q %q %q", first.PriceText, first.PortionText, first.Category)
	}
	if first.HasNutrientText() {
		t.Error("first card carries no nutrients")
	}
	if len(recs[1].Tags) != 2 || recs[1].ProteinText != "4,5" {
		t.Errorf("second = %+v", recs[1])
	}
	if recs[2].NativeID != "104" {
		t.Errorf("third NativeID = %s, want 104 from page 2", recs[2].NativeID)
	}
	if n := transport.GetCallCountInfo()["GET https://shop.test/catalog/salads?page=2"]; n != 1 {
		t.Errorf("page 2 fetched %d times, want 1", n)
	}
}

func TestListCategoryItemsStopsWhenConsumerStops(t *testing.T) {
	transport := newMockTransport()
	a := newTestAdapter(t, testDefinition(), transport)

	for range a.ListCategoryItems(context.Background(), "salads") {
		break
	}
	if n := transport.GetCallCountInfo()["GET https://shop.test/catalog/salads?page=2"]; n != 0 {
		t.Errorf("page 2 fetched %d times after early stop, want 0", n)
	}
}

func TestListCategoryItemsMaxPages(t *testing.T) {
	transport := newMockTransport()
	def := testDefinition()
	def.MaxPages = 1
	a := newTestAdapter(t, def, transport)

	count := 0
	for _, err := range a.ListCategoryItems(context.Background(), "salads") {
		if err == nil {
			count++
		}
	}
	if count != 2 {
		t.Errorf("records = %d, want 2 from the first page only", count)
	}
	if n := transport.GetCallCountInfo()["GET https://shop.test/catalog/salads?page=2"]; n != 0 {
		t.Errorf("page 2 fetched %d times, want 0", n)
	}
}

func TestListCategoryItemsErrors(t *testing.T) {
	transport := newMockTransport()
	a := newTestAdapter(t, testDefinition(), transport)

	t.Run("unknown category", func(t *testing.T) {
		for _, err := range a.ListCategoryItems(context.Background(), "desserts") {
			if err == nil {
				t.Fatal("expected an error for an unknown category")
			}
		}
	})

	t.Run("listing fetch fails", func(t *testing.T) {
		var got error
		for _, err := range a.ListCategoryItems(context.Background(), "soups") {
			got = err
		}
		var fetchErr *fetch.FetchError
		if !errors.As(got, &fetchErr) || fetchErr.Kind != fetch.KindServerError {
			t.Fatalf("error = %v, want server error FetchError", got)
		}
		var parseErr *crawl.ParseError
		if errors.As(got, &parseErr) {
			t.Error("a failed listing page must not look like an item parse error")
		}
	})
}

func TestEnrichItem(t *testing.T) {
	a := newTestAdapter(t, testDefinition(), newMockTransport())

	rec := models.RawItemRecord{
		NativeID:    "101",
		Name:        "Цезарь с курицей",
		URL:         "https://shop.test/p/101",
		PortionText: "250 г",
		Tags:        []string{"Хит"},
	}
	got, err := a.EnrichItem(context.Background(), rec)
	if err != nil {
		t.Fatalf("EnrichItem() error = %v", err)
	}
	if got.KcalText != "600" || got.FatText != "27,5" || got.CarbText != "50" {
		t.Errorf("nutrients = %q %q %q %q", got.KcalText, got.ProteinText, got.FatText, got.CarbText)
	}
	if got.Composition != "Состав: курица, салат романо, соус цезарь" {
		t.Errorf("Composition = %q", got.Composition)
	}
	if got.PortionText != "250 г" {
		t.Errorf("PortionText = %q, listing value should be kept", got.PortionText)
	}
	if len(got.Tags) != 2 {
		t.Errorf("Tags = %v, want listing and detail tags", got.Tags)
	}
}

func TestEnrichItemMissingPage(t *testing.T) {
	a := newTestAdapter(t, testDefinition(), newMockTransport())

	_, err := a.EnrichItem(context.Background(), models.RawItemRecord{URL: "https://shop.test/p/999"})
	if err == nil {
		t.Fatal("expected error for an unregistered product page")
	}
}

func TestSetLocation(t *testing.T) {
	transport := newMockTransport()
	var form url.Values
	transport.RegisterResponder("POST", "https://shop.test/api/location",
		func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			form, _ = url.ParseQuery(string(body))
			return httpmock.NewStringResponse(200, "{}"), nil
		})
	a := newTestAdapter(t, testDefinition(), transport)

	err := a.SetLocation(context.Background(), models.Location{
		City:        "Москва",
		Address:     "Тверская 1",
		Coordinates: &models.Coordinates{Lat: 55.757, Lon: 37.6125},
	})
	if err != nil {
		t.Fatalf("SetLocation() error = %v", err)
	}
	if form.Get("city") != "Москва" || form.Get("lat") != "55.757000" || form.Get("lon") != "37.612500" {
		t.Errorf("form = %v", form)
	}

	def := testDefinition()
	def.Location = LocationEndpoint{}
	noop := newTestAdapter(t, def, httpmock.NewMockTransport())
	if err := noop.SetLocation(context.Background(), models.Location{City: "Москва"}); err != nil {
		t.Errorf("SetLocation() without endpoint error = %v", err)
	}
}

func TestNewRejectsInvalidDefinition(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Definition)
	}{
		{"no shop", func(d *Definition) { d.Shop = "" }},
		{"relative base", func(d *Definition) { d.BaseURL = "/shop" }},
		{"no item selector", func(d *Definition) { d.Listing.Item = "" }},
		{"no categories", func(d *Definition) { d.Categories = nil }},
		{"category without url", func(d *Definition) { d.Categories = []Category{{Name: "x"}} }},
		{"negative pages", func(d *Definition) { d.MaxPages = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := testDefinition()
			tt.mutate(&def)
			_, err := New(def, nil)
			var fatal *crawl.FatalConfigError
			if !errors.As(err, &fatal) {
				t.Errorf("New() error = %v, want *crawl.FatalConfigError", err)
			}
		})
	}
}

func TestNeedsDetail(t *testing.T) {
	a := newTestAdapter(t, testDefinition(), httpmock.NewMockTransport())

	bare := models.RawItemRecord{URL: "https://shop.test/p/1"}
	if !a.NeedsDetail(bare) {
		t.Error("record without nutrients should need detail")
	}
	full := models.RawItemRecord{URL: "https://shop.test/p/1", KcalText: "100", Composition: "вода"}
	if a.NeedsDetail(full) {
		t.Error("complete record should not need detail")
	}
	if a.NeedsDetail(models.RawItemRecord{}) {
		t.Error("record without url cannot be enriched")
	}

	def := testDefinition()
	def.Detail = DetailSelectors{}
	listingOnly := newTestAdapter(t, def, httpmock.NewMockTransport())
	if listingOnly.NeedsDetail(bare) {
		t.Error("adapter without detail selectors never needs detail")
	}
}

func TestAdapterWithOrchestrator(t *testing.T) {
	transport := newMockTransport()
	client := newTestClient(t, transport)
	a, err := New(testDefinition(), client)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	o, err := crawl.New(crawl.Options{
		EnrichConcurrency: 2,
		EnrichBatchSize:   10,
		Normalize: normalize.Options{
			Tolerance:           0.2,
			TypicalMaxKcal100g:  450,
			PhysicalMaxKcal100g: 900,
		},
	}, client, nil)
	if err != nil {
		t.Fatalf("crawl.New() error = %v", err)
	}

	result, err := o.Run(context.Background(), a, nil, 0)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if result.Successful != 4 {
		t.Errorf("Successful = %d, want 4", result.Successful)
	}
	if len(result.Errors) != 1 {
		t.Errorf("Errors = %v, want the soups failure only", result.Errors)
	}
	states := map[string]models.CategoryState{}
	for _, c := range result.Categories {
		states[c.Name] = c.State
	}
	if states["salads"] != models.CategoryDone || states["soups"] != models.CategoryFailed || states["drinks"] != models.CategoryDone {
		t.Errorf("category states = %v", states)
	}
	if result.Categories[0].Pages != 2 {
		t.Errorf("salads pages = %d, want 2", result.Categories[0].Pages)
	}

	var caesar *models.NormalizedFoodItem
	for _, it := range result.Items {
		if it.ID == "demo:101" {
			caesar = it
		}
	}
	if caesar == nil {
		t.Fatal("enriched item demo:101 missing")
	}
	if caesar.NutrientBasis != models.BasisPerPortion || *caesar.Kcal100g != 240 {
		t.Errorf("caesar basis %s kcal %v, want per_portion 240", caesar.NutrientBasis, *caesar.Kcal100g)
	}
	if caesar.Composition != "курица, салат романо, соус цезарь" {
		t.Errorf("Composition = %q", caesar.Composition)
	}
	if client.SessionCount() != 0 {
		t.Errorf("sessions left open after run: %d", client.SessionCount())
	}
}

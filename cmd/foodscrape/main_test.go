package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-food/fetch"
	"github.com/aluiziolira/go-scrape-food/models"
)

const bowlsPage = `<html><body>
<div class="card" data-id="11">
  <a class="title" href="/p/11">Боул с лососем</a>
  <span class="price">459 ₽</span>
  <span class="kcal">180</span><span class="protein">12</span><span class="fat">8</span><span class="carb">15</span>
</div>
<div class="card" data-id="12">
  <a class="title" href="/p/12">Боул с тофу</a>
  <span class="price">389 ₽</span>
  <span class="kcal">140</span><span class="protein">7</span><span class="fat">6</span><span class="carb">14</span>
</div>
</body></html>`

func newShopServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog/bowls", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, bowlsPage)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeShopConfig(t *testing.T, baseURL string) string {
	t.Helper()
	cfg := fmt.Sprintf(`
min_delay: 0s
max_delay: 0s
retry_backoff: 1ms
retry_backoff_max: 2ms
geocoder_url: ""
shops:
  - shop: bowlbar
    base_url: %s
    categories:
      - name: bowls
        url: /catalog/bowls
    listing:
      item: div.card
      id_attr: data-id
      name: a.title
      link: a.title
      price: span.price
      kcal: span.kcal
      protein: span.protein
      fat: span.fat
      carb: span.carb
`, baseURL)
	path := filepath.Join(t.TempDir(), "foodscrape.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestRunCommandExportsCSV(t *testing.T) {
	srv := newShopServer(t)
	cfgPath := writeShopConfig(t, srv.URL)
	outPath := filepath.Join(t.TempDir(), "food.csv")

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"run", "--config", cfgPath, "--output", outPath, "--fast"})
	if err := root.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	f, err := os.Open(outPath)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected header plus 2 rows, got %d", len(rows))
	}
	if !strings.HasPrefix(rows[1][0], "bowlbar:") {
		t.Fatalf("unexpected id %q", rows[1][0])
	}

	summary := out.String()
	for _, want := range []string{"Scrape complete", "bowlbar:", "Total items:   2", "Written:       2"} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestRunCommandRejectsUnknownShop(t *testing.T) {
	srv := newShopServer(t)
	cfgPath := writeShopConfig(t, srv.URL)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--config", cfgPath, "--shops", "ghost"})
	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "ghost") {
		t.Fatalf("expected unknown shop error, got %v", err)
	}
}

func TestRunCommandWithoutShops(t *testing.T) {
	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetArgs([]string{"run", "--output", filepath.Join(t.TempDir(), "food.csv")})
	err := root.ExecuteContext(context.Background())
	if err == nil || !strings.Contains(err.Error(), "no shops configured") {
		t.Fatalf("expected missing shops error, got %v", err)
	}
}

func TestPrintSummary(t *testing.T) {
	results := []*models.ScrapeResult{
		{
			Shop:       "alpha",
			TotalFound: 5,
			Successful: 3,
			Failed:     2,
			Errors:     []string{"category soups: boom"},
			Stats: models.StatsReport{
				Duplicates:   1,
				Invalid:      1,
				IssuesByType: map[string]int{"missing_price": 1, "unit_basis_ambiguous": 1},
			},
		},
		{Shop: "beta", TotalFound: 1, Successful: 1},
	}

	var out bytes.Buffer
	printSummary(&out, results, fetch.Stats{Requests: 10, Failures: 1, Retries: 3}, map[string]int64{"written": 4}, 2*time.Second, "food.csv")

	summary := out.String()
	for _, want := range []string{
		"alpha:         found 5, accepted 3, failed 2, errors 1",
		"Total items:   4",
		"Duplicates:    1",
		"Issues:        missing_price=1 unit_basis_ambiguous=1",
		"Success rate:  90.00%",
		"Items/sec:     2.00",
	} {
		if !strings.Contains(summary, want) {
			t.Fatalf("summary missing %q:\n%s", want, summary)
		}
	}
}

func TestLocateWithoutResolver(t *testing.T) {
	if loc := locate(context.Background(), nil, "", "", nil); loc != nil {
		t.Fatalf("expected no location, got %+v", loc)
	}
	loc := locate(context.Background(), nil, "Казань", "ул. Баумана, 1", nil)
	if loc == nil || loc.City != "Казань" || loc.Coordinates != nil {
		t.Fatalf("unexpected location %+v", loc)
	}
}

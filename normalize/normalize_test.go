package normalize

import (
	"reflect"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-food/models"
)

func testOptions() Options {
	return Options{Tolerance: 0.2, TypicalMaxKcal100g: 450, PhysicalMaxKcal100g: 900}
}

func ptr(v float64) *float64 { return &v }

func TestParseNumber(t *testing.T) {
	tests := []struct {
		input  string
		want   float64
		wantOK bool
	}{
		{input: "250", want: 250, wantOK: true},
		{input: "12,5 г", want: 12.5, wantOK: true},
		{input: "12.5g", want: 12.5, wantOK: true},
		{input: "1 299 ₽", want: 1299, wantOK: true},
		{input: "1\u00a0299,90 ₽", want: 1299.9, wantOK: true},
		{input: "1,299.90", want: 1299.9, wantOK: true},
		{input: "1.299,90", want: 1299.9, wantOK: true},
		{input: "Белки: 7,4", want: 7.4, wantOK: true},
		{input: "нет данных", wantOK: false},
		{input: "", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParseNumber(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParseNumber(%q) ok=%v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("ParseNumber(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		input  string
		want   float64
		wantOK bool
	}{
		{input: "349 ₽", want: 349, wantOK: true},
		{input: "289,90 ₽", want: 289.9, wantOK: true},
		{input: "1 299 ₽", want: 1299, wantOK: true},
		{input: "1.299 ₽", want: 1299, wantOK: true},
		{input: "12,500 руб.", want: 12500, wantOK: true},
		{input: "1.299,90", want: 1299.9, wantOK: true},
		{input: "0.125", want: 0.125, wantOK: true},
		{input: "-150 ₽", want: -150, wantOK: true},
		{input: "− 210", want: -210, wantOK: true},
		{input: "-30%", want: -30, wantOK: true},
		{input: "Цена: 99", want: 99, wantOK: true},
		{input: "бесплатно", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := ParsePrice(tt.input)
			if ok != tt.wantOK {
				t.Fatalf("ParsePrice(%q) ok=%v, want %v", tt.input, ok, tt.wantOK)
			}
			if ok && got != tt.want {
				t.Fatalf("ParsePrice(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestParsePortionGrams(t *testing.T) {
	tests := []struct {
		input string
		want  *float64
	}{
		{input: "250 г", want: ptr(250)},
		{input: "250г", want: ptr(250)},
		{input: "0,3 кг", want: ptr(300)},
		{input: "1 kg", want: ptr(1000)},
		{input: "330 мл", want: ptr(330)},
		{input: "0.5 л", want: ptr(500)},
		{input: "180", want: ptr(180)},
		{input: "Вес: 320 грамм", want: ptr(320)},
		{input: "", want: nil},
		{input: "по запросу", want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParsePortionGrams(tt.input)
			if (got == nil) != (tt.want == nil) {
				t.Fatalf("ParsePortionGrams(%q) = %v, want %v", tt.input, got, tt.want)
			}
			if got != nil && *got != *tt.want {
				t.Fatalf("ParsePortionGrams(%q) = %v, want %v", tt.input, *got, *tt.want)
			}
		})
	}
}

func TestPricePer100g(t *testing.T) {
	item := Normalize(models.NormalizedFoodItem{
		Name:         "Борщ",
		Price:        250,
		PortionGrams: ptr(250),
	}, testOptions())

	if item.PricePer100g == nil || *item.PricePer100g != 100.00 {
		t.Fatalf("price per 100g = %v, want 100.00", item.PricePer100g)
	}

	noPortion := Normalize(models.NormalizedFoodItem{Name: "Борщ", Price: 250}, testOptions())
	if noPortion.PricePer100g != nil {
		t.Fatalf("price per 100g should be absent without portion")
	}
}

func TestUnitBasisHeuristic(t *testing.T) {
	tests := []struct {
		name          string
		kcal          float64
		portion       *float64
		wantKcal      float64
		wantBasis     models.NutrientBasis
		wantAmbiguous bool
	}{
		{name: "portion total rescaled", kcal: 600, portion: ptr(200), wantKcal: 300, wantBasis: models.BasisPerPortion},
		{name: "already per 100g", kcal: 150, portion: ptr(200), wantKcal: 150, wantBasis: models.BasisPer100g},
		{name: "below band kept", kcal: 350, portion: ptr(200), wantKcal: 350, wantBasis: models.BasisPer100g},
		{name: "inside band flagged", kcal: 400, portion: ptr(200), wantKcal: 400, wantBasis: models.BasisPer100g, wantAmbiguous: true},
		{name: "near upper edge flagged", kcal: 530, portion: ptr(200), wantKcal: 530, wantBasis: models.BasisPer100g, wantAmbiguous: true},
		{name: "just above band rescaled", kcal: 541, portion: ptr(200), wantKcal: 271, wantBasis: models.BasisPerPortion},
		{name: "implausible rescale kept", kcal: 600, portion: ptr(50), wantKcal: 600, wantBasis: models.BasisPer100g, wantAmbiguous: true},
		{name: "no portion flagged", kcal: 700, portion: nil, wantKcal: 700, wantBasis: models.BasisPer100g, wantAmbiguous: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			item := Normalize(models.NormalizedFoodItem{
				Name:         "Плов",
				Price:        300,
				PortionGrams: tt.portion,
				Kcal100g:     ptr(tt.kcal),
			}, testOptions())

			if item.Kcal100g == nil || *item.Kcal100g != tt.wantKcal {
				t.Fatalf("kcal = %v, want %v", item.Kcal100g, tt.wantKcal)
			}
			if item.NutrientBasis != tt.wantBasis {
				t.Fatalf("basis = %q, want %q", item.NutrientBasis, tt.wantBasis)
			}
			if item.BasisAmbiguous != tt.wantAmbiguous {
				t.Fatalf("ambiguous = %v, want %v", item.BasisAmbiguous, tt.wantAmbiguous)
			}
		})
	}
}

func TestRescaleAppliesToAllNutrients(t *testing.T) {
	item := Normalize(models.NormalizedFoodItem{
		Name:         "Лазанья",
		Price:        420,
		PortionGrams: ptr(300),
		Kcal100g:     ptr(690),
		Protein100g:  ptr(30),
		Fat100g:      ptr(27.3),
		Carb100g:     ptr(75),
	}, testOptions())

	want := map[string]float64{"kcal": 230, "protein": 10, "fat": 9.1, "carb": 25}
	got := map[string]float64{
		"kcal":    *item.Kcal100g,
		"protein": *item.Protein100g,
		"fat":     *item.Fat100g,
		"carb":    *item.Carb100g,
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("nutrients = %v, want %v", got, want)
	}
}

func TestRoundingHalfUp(t *testing.T) {
	item := Normalize(models.NormalizedFoodItem{
		Name:         "Салат",
		Price:        2.675,
		PortionGrams: ptr(100),
		Kcal100g:     ptr(120.5),
		Protein100g:  ptr(4.25),
		Fat100g:      ptr(0.05),
		Carb100g:     ptr(10.449),
	}, testOptions())

	if *item.Kcal100g != 121 {
		t.Fatalf("kcal = %v, want 121", *item.Kcal100g)
	}
	if *item.Protein100g != 4.3 {
		t.Fatalf("protein = %v, want 4.3", *item.Protein100g)
	}
	if *item.Fat100g != 0.1 {
		t.Fatalf("fat = %v, want 0.1", *item.Fat100g)
	}
	if *item.Carb100g != 10.4 {
		t.Fatalf("carb = %v, want 10.4", *item.Carb100g)
	}
	if item.Price != 2.68 {
		t.Fatalf("price = %v, want 2.68", item.Price)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	raws := []models.RawItemRecord{
		{
			NativeID:    "42",
			Name:        "  <b>Сырники</b>  со   сметаной ",
			PriceText:   "289,90 ₽",
			URL:         "https://shop.test/p/42",
			Category:    "Завтраки<br/>",
			PortionText: "0,2 кг",
			KcalText:    "640 ккал",
			ProteinText: "28,4",
			FatText:     "30.2",
			CarbText:    "62",
			Tags:        []string{"Хит", "ВЕГЕТАРИАНСКИЙ", "x", "#new"},
			Composition: "<p>Состав: творог, мука &amp; сахар</p>",
		},
		{
			NativeID:  "43",
			Name:      "Морс",
			PriceText: "99",
			KcalText:  "45",
		},
		{
			NativeID:  "45",
			Name:      "Суп &amp;amp;amp;amp;amp;lt;b&amp;amp;amp;amp;amp;gt; x",
			PriceText: "-150 ₽",
		},
		{
			NativeID:    "44",
			Name:        "Орехи &amp;lt;микс&amp;gt;",
			PriceText:   "нет",
			PortionText: "50 г",
			KcalText:    "610",
		},
	}

	scrapedAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for _, raw := range raws {
		once := FromRaw(raw, "shop", scrapedAt, testOptions())
		twice := Normalize(once, testOptions())
		if !reflect.DeepEqual(once, twice) {
			t.Fatalf("normalize not idempotent for %s:\nonce:  %+v\ntwice: %+v", raw.NativeID, once, twice)
		}
	}
}

func TestFromRaw(t *testing.T) {
	raw := models.RawItemRecord{
		NativeID:    " 42 ",
		Name:        "Сырники",
		PriceText:   "289,90 ₽",
		PortionText: "200 г",
		KcalText:    "нет данных",
		Tags:        []string{"Хит", "хит продаж"},
		Composition: "Состав: творог, мука",
	}
	item := FromRaw(raw, "vkusvill", time.Now(), testOptions())

	if item.ID != "vkusvill:42" {
		t.Fatalf("id = %q", item.ID)
	}
	if item.Price != 289.9 {
		t.Fatalf("price = %v", item.Price)
	}
	if item.Kcal100g != nil {
		t.Fatalf("unparseable kcal must be absent, got %v", *item.Kcal100g)
	}
	if item.Composition != "творог, мука" {
		t.Fatalf("composition = %q", item.Composition)
	}
	if !reflect.DeepEqual(item.Tags, []string{"bestseller"}) {
		t.Fatalf("tags = %v", item.Tags)
	}
	if item.PricePer100g == nil || *item.PricePer100g != 144.95 {
		t.Fatalf("price per 100g = %v", item.PricePer100g)
	}
}

func TestOptionsValidate(t *testing.T) {
	if err := testOptions().Validate(); err != nil {
		t.Fatalf("valid options rejected: %v", err)
	}
	bad := testOptions()
	bad.Tolerance = 1.5
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected tolerance error")
	}
	bad = testOptions()
	bad.PhysicalMaxKcal100g = 500
	if err := bad.Validate(); err == nil {
		t.Fatalf("expected physical max error")
	}
}

// Package normalize turns raw storefront fields into canonical per-100g
// values. Every function here is pure; Normalize is idempotent.
package normalize

import (
	"fmt"
	"strings"
	"time"

	"github.com/aluiziolira/go-scrape-food/models"
)

// Options tunes the unit-basis heuristic.
type Options struct {
	// Tolerance widens the band around TypicalMaxKcal100g, e.g. 0.2 for 20%.
	Tolerance float64
	// TypicalMaxKcal100g is the upper end of ordinary per-100g energy
	// values for ready-to-eat food.
	TypicalMaxKcal100g float64
	// PhysicalMaxKcal100g is the highest per-100g energy a food can carry.
	PhysicalMaxKcal100g float64
}

// Validate checks the options for coherence.
func (o Options) Validate() error {
	if o.Tolerance < 0 || o.Tolerance >= 1 {
		return fmt.Errorf("unit basis tolerance must be within [0, 1)")
	}
	if o.TypicalMaxKcal100g <= 0 {
		return fmt.Errorf("typical max kcal must be positive")
	}
	if o.PhysicalMaxKcal100g < o.TypicalMaxKcal100g*(1+o.Tolerance) {
		return fmt.Errorf("physical max kcal must exceed the tolerance band")
	}
	return nil
}

// FromRaw parses the text fields of raw and returns the normalized item.
// Fields without an extractable number are left absent, never zero.
func FromRaw(raw models.RawItemRecord, shop string, scrapedAt time.Time, opts Options) models.NormalizedFoodItem {
	price, _ := ParsePrice(raw.PriceText)
	item := models.NormalizedFoodItem{
		ID:           models.StableID(shop, strings.TrimSpace(raw.NativeID)),
		Name:         raw.Name,
		Category:     raw.Category,
		Price:        price,
		Shop:         shop,
		URL:          strings.TrimSpace(raw.URL),
		PhotoURL:     strings.TrimSpace(raw.PhotoURL),
		PortionGrams: ParsePortionGrams(CleanText(raw.PortionText)),
		Kcal100g:     ParseOptionalNumber(raw.KcalText),
		Protein100g:  ParseOptionalNumber(raw.ProteinText),
		Fat100g:      ParseOptionalNumber(raw.FatText),
		Carb100g:     ParseOptionalNumber(raw.CarbText),
		Tags:         append([]string(nil), raw.Tags...),
		Composition:  raw.Composition,
		ScrapedAt:    scrapedAt,
	}
	return Normalize(item, opts)
}

// Normalize canonicalizes item: free text is cleaned, tags are folded, the
// nutrient basis is resolved once, values are rounded half-up and the price
// per 100g is derived. Normalize(Normalize(x)) == Normalize(x).
func Normalize(item models.NormalizedFoodItem, opts Options) models.NormalizedFoodItem {
	out := item
	out.Name = CleanText(item.Name)
	out.Category = CleanText(item.Category)
	out.Composition = CleanComposition(item.Composition)
	out.Tags = NormalizeTags(item.Tags)

	out.PortionGrams = roundPtr(item.PortionGrams, 1)
	kcal := clonePtr(item.Kcal100g)
	protein := clonePtr(item.Protein100g)
	fat := clonePtr(item.Fat100g)
	carb := clonePtr(item.Carb100g)

	if out.NutrientBasis == models.BasisUnresolved {
		decision := ResolveBasis(kcal, out.PortionGrams, opts)
		out.NutrientBasis = decision.Basis
		out.BasisAmbiguous = decision.Ambiguous
		if decision.Basis == models.BasisPerPortion {
			portion := *out.PortionGrams
			for _, v := range []*float64{kcal, protein, fat, carb} {
				if v != nil {
					*v = *v * 100 / portion
				}
			}
		}
	}

	out.Kcal100g = roundPtr(kcal, 0)
	out.Protein100g = roundPtr(protein, 1)
	out.Fat100g = roundPtr(fat, 1)
	out.Carb100g = roundPtr(carb, 1)
	out.Price = roundHalfUp(item.Price, 2)
	out.PricePer100g = pricePer100g(out.Price, out.PortionGrams)
	return out
}

// BasisDecision is the outcome of the unit-basis heuristic.
type BasisDecision struct {
	Basis     models.NutrientBasis
	Ambiguous bool
}

// ResolveBasis decides whether kcal is a per-100g figure or a per-portion
// total. The heuristic is approximate: a value above the typical per-100g
// ceiling (widened by Tolerance) is read as a portion total when rescaling
// it by 100/portion lands within physically possible per-100g energy.
// Values inside the tolerance band, or above it without a plausible
// rescaling, are kept as-is and flagged ambiguous.
func ResolveBasis(kcal, portionGrams *float64, opts Options) BasisDecision {
	keep := BasisDecision{Basis: models.BasisPer100g}
	if kcal == nil {
		return keep
	}

	k := *kcal
	lower := opts.TypicalMaxKcal100g * (1 - opts.Tolerance)
	upper := opts.TypicalMaxKcal100g * (1 + opts.Tolerance)
	if k <= lower {
		return keep
	}
	if k <= upper {
		keep.Ambiguous = true
		return keep
	}

	if portionGrams == nil || *portionGrams <= 0 {
		keep.Ambiguous = true
		return keep
	}
	if k*100 / *portionGrams > opts.PhysicalMaxKcal100g {
		keep.Ambiguous = true
		return keep
	}
	return BasisDecision{Basis: models.BasisPerPortion}
}

func pricePer100g(price float64, portionGrams *float64) *float64 {
	if portionGrams == nil || *portionGrams <= 0 || price <= 0 {
		return nil
	}
	v := roundHalfUp(price*100 / *portionGrams, 2)
	return &v
}

func clonePtr(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

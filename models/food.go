// Package models defines data structures shared by the crawler stages.
package models

import (
	"fmt"
	"time"
)

// RawItemRecord is an item as extracted from a storefront page, before any
// normalization or validation. Adapters produce it; the orchestrator consumes
// it within a single pipeline pass.
type RawItemRecord struct {
	NativeID    string   `json:"native_id"`
	Name        string   `json:"name"`
	PriceText   string   `json:"price_text"`
	URL         string   `json:"url"`
	Category    string   `json:"category"`
	PhotoURL    string   `json:"photo_url,omitempty"`
	PortionText string   `json:"portion_text,omitempty"`
	KcalText    string   `json:"kcal_text,omitempty"`
	ProteinText string   `json:"protein_text,omitempty"`
	FatText     string   `json:"fat_text,omitempty"`
	CarbText    string   `json:"carb_text,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Composition string   `json:"composition,omitempty"`
}

// HasNutrientText reports whether any of the nutrient fields carries text.
func (r RawItemRecord) HasNutrientText() bool {
	return r.KcalText != "" || r.ProteinText != "" || r.FatText != "" || r.CarbText != ""
}

// StableID builds the "{shop}:{nativeId}" identity key.
func StableID(shop, nativeID string) string {
	return fmt.Sprintf("%s:%s", shop, nativeID)
}

// NutrientBasis records how the nutrient figures of an item were interpreted.
type NutrientBasis string

const (
	// BasisUnresolved marks an item whose nutrient basis has not been checked yet.
	BasisUnresolved NutrientBasis = ""
	// BasisPer100g means the source already reported values per 100g.
	BasisPer100g NutrientBasis = "per_100g"
	// BasisPerPortion means the source reported per-portion totals that were rescaled.
	BasisPerPortion NutrientBasis = "per_portion"
)

// NormalizedFoodItem is the canonical item handed to export sinks. Nutrient
// fields, when present, are always per 100g.
type NormalizedFoodItem struct {
	ID             string        `json:"id"`
	Name           string        `json:"name"`
	Category       string        `json:"category"`
	Price          float64       `json:"price"`
	Shop           string        `json:"shop"`
	URL            string        `json:"url"`
	PhotoURL       string        `json:"photo_url,omitempty"`
	PortionGrams   *float64      `json:"portion_grams,omitempty"`
	Kcal100g       *float64      `json:"kcal_100g,omitempty"`
	Protein100g    *float64      `json:"protein_100g,omitempty"`
	Fat100g        *float64      `json:"fat_100g,omitempty"`
	Carb100g       *float64      `json:"carb_100g,omitempty"`
	PricePer100g   *float64      `json:"price_per_100g,omitempty"`
	Tags           []string      `json:"tags,omitempty"`
	Composition    string        `json:"composition,omitempty"`
	NutrientBasis  NutrientBasis `json:"nutrient_basis,omitempty"`
	BasisAmbiguous bool          `json:"basis_ambiguous,omitempty"`
	ScrapedAt      time.Time     `json:"scraped_at"`
}

// HasNutrients reports whether all four nutrient values are known.
func (n NormalizedFoodItem) HasNutrients() bool {
	return n.Kcal100g != nil && n.Protein100g != nil && n.Fat100g != nil && n.Carb100g != nil
}

// Issue types recorded by the crawler.
const (
	IssueInvalidName        = "invalid_name"
	IssueNumericName        = "numeric_name"
	IssueInvalidPrice       = "invalid_price"
	IssueMissingID          = "missing_id"
	IssueParseFailed        = "parse_failed"
	IssueEnrichFailed       = "enrich_failed"
	IssueUnitBasisAmbiguous = "unit_basis_ambiguous"
)

// Pipeline stages an issue can originate from.
const (
	StageList      = "list"
	StageEnrich    = "enrich"
	StageNormalize = "normalize"
	StageValidate  = "validate"
)

// ValidationIssue is an append-only log entry describing a rejected or
// suspicious item.
type ValidationIssue struct {
	URL         string `json:"url"`
	IssueType   string `json:"issue_type"`
	Description string `json:"description"`
	Stage       string `json:"stage"`
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Location is the delivery location a storefront session is bound to.
type Location struct {
	City        string       `json:"city"`
	Address     string       `json:"address,omitempty"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

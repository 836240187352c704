package normalize

import (
	"sort"
	"strings"
	"unicode/utf8"
)

// tagSynonyms folds storefront tag variants into canonical tags. Canonical
// tags map to themselves so folding is idempotent. Vegan and vegetarian are
// separate families: a vegan dish is vegetarian but not the other way round,
// so merging them would mislabel dishes with dairy or eggs as vegan.
var tagSynonyms = map[string]string{
	"vegan":                "vegan",
	"веган":                "vegan",
	"веганский":            "vegan",
	"веганское":            "vegan",
	"веганская":            "vegan",
	"plant-based":          "vegan",
	"растительное":         "vegan",
	"vegetarian":           "vegetarian",
	"veggie":               "vegetarian",
	"вегетарианский":       "vegetarian",
	"вегетарианское":       "vegetarian",
	"вегетарианская":       "vegetarian",
	"вегетарианское блюдо": "vegetarian",
	"spicy":              "spicy",
	"острое":             "spicy",
	"острый":             "spicy",
	"острая":             "spicy",
	"gluten_free":        "gluten_free",
	"gluten-free":        "gluten_free",
	"gluten free":        "gluten_free",
	"без глютена":        "gluten_free",
	"sugar_free":         "sugar_free",
	"sugar-free":         "sugar_free",
	"без сахара":         "sugar_free",
	"healthy":            "healthy",
	"пп":                 "healthy",
	"правильное питание": "healthy",
	"new":                "new",
	"новинка":            "new",
	"новое":              "new",
	"bestseller":         "bestseller",
	"хит":                "bestseller",
	"хит продаж":         "bestseller",
	"hit":                "bestseller",
}

// NormalizeTags lower-cases, folds synonyms, drops single-character tags and
// returns the result as a sorted set.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(CleanText(tag))
		tag = strings.Trim(tag, "#.,;:!")
		tag = strings.TrimSpace(tag)
		if canonical, ok := tagSynonyms[tag]; ok {
			tag = canonical
		}
		if utf8.RuneCountInString(tag) <= 1 {
			continue
		}
		set[tag] = struct{}{}
	}
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for tag := range set {
		out = append(out, tag)
	}
	sort.Strings(out)
	return out
}

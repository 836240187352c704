package normalize

import (
	"regexp"
	"strconv"
	"strings"
)

// numberToken matches either a space-grouped integer ("1 299") with an
// optional fraction, or a run of digits separated by '.' or ','.
var numberToken = regexp.MustCompile(`\d{1,3}(?:[ \x{00a0}\x{202f}]\d{3})+(?:[.,]\d+)?|\d+(?:[.,]\d+)*`)

// ParseNumber extracts the first number from text. Both '.' and ',' are
// accepted as decimal separators. ok is false when text holds no number.
func ParseNumber(text string) (value float64, ok bool) {
	token := numberToken.FindString(text)
	if token == "" {
		return 0, false
	}
	token = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\u00a0', '\u202f':
			return -1
		}
		return r
	}, token)

	v, err := strconv.ParseFloat(canonicalDecimal(token), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// canonicalDecimal rewrites a token made of digits, '.' and ',' so that
// strconv can parse it. When both separators occur, the last one is the
// decimal point; a single separator kind repeated is a thousands separator.
func canonicalDecimal(token string) string {
	dots := strings.Count(token, ".")
	commas := strings.Count(token, ",")

	switch {
	case dots == 0 && commas == 0:
		return token
	case dots > 0 && commas > 0:
		last := strings.LastIndexAny(token, ".,")
		intPart := strings.NewReplacer(".", "", ",", "").Replace(token[:last])
		return intPart + "." + token[last+1:]
	case dots+commas == 1:
		return strings.Replace(token, ",", ".", 1)
	default:
		return strings.NewReplacer(".", "", ",", "").Replace(token)
	}
}

// priceThousands matches a price written with a dot or comma as the
// thousands separator, such as "1.299" or "12,500".
var priceThousands = regexp.MustCompile(`^[1-9]\d{0,2}(?:[.,]\d{3})+$`)

// ParsePrice extracts a price from text. A minus sign in front of the
// number makes the price negative, so discount badges like "-30%" never
// pass for prices. A single '.' or ',' followed by exactly three digits is
// a thousands separator: prices carry at most two fractional digits.
func ParsePrice(text string) (value float64, ok bool) {
	loc := numberToken.FindStringIndex(text)
	if loc == nil {
		return 0, false
	}
	token := text[loc[0]:loc[1]]
	if priceThousands.MatchString(token) {
		token = strings.NewReplacer(".", "", ",", "").Replace(token)
	}
	v, ok := ParseNumber(token)
	if !ok {
		return 0, false
	}
	if negativeBefore(text[:loc[0]]) {
		v = -v
	}
	return v, true
}

// negativeBefore reports whether prefix ends with a minus sign, ignoring
// spaces between the sign and the number.
func negativeBefore(prefix string) bool {
	prefix = strings.TrimRight(prefix, " \u00a0\u202f")
	return strings.HasSuffix(prefix, "-") || strings.HasSuffix(prefix, "\u2212")
}

// ParseOptionalNumber is ParseNumber returning nil for absent values.
func ParseOptionalNumber(text string) *float64 {
	v, ok := ParseNumber(text)
	if !ok {
		return nil
	}
	return &v
}

var portionUnit = regexp.MustCompile(`(?i)(\d[\d\s.,]*)\s*(кг|kg|грамм|гр|г|gr|g|мл|ml|л|l)`)

// ParsePortionGrams converts a weight/volume text such as "250 г", "0,3 кг"
// or "500 ml" into grams. Millilitres are taken as grams. A bare number is
// read as grams.
func ParsePortionGrams(text string) *float64 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	if m := portionUnit.FindStringSubmatch(text); m != nil {
		v, ok := ParseNumber(m[1])
		if !ok || v <= 0 {
			return nil
		}
		switch strings.ToLower(m[2]) {
		case "кг", "kg", "л", "l":
			v *= 1000
		}
		return &v
	}

	v, ok := ParseNumber(text)
	if !ok || v <= 0 {
		return nil
	}
	return &v
}

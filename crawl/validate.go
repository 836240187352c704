package crawl

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/aluiziolira/go-scrape-food/models"
)

const minNameLength = 3

// Validate checks that a normalized item carries usable required fields.
func Validate(item *models.NormalizedFoodItem) error {
	if item == nil {
		return &ValidationError{IssueType: models.IssueInvalidName, Description: "item is nil"}
	}
	name := strings.TrimSpace(item.Name)
	if utf8.RuneCountInString(name) < minNameLength {
		return &ValidationError{
			IssueType:   models.IssueInvalidName,
			Description: fmt.Sprintf("name %q is shorter than %d characters", name, minNameLength),
		}
	}
	if isNumeric(name) {
		return &ValidationError{
			IssueType:   models.IssueNumericName,
			Description: fmt.Sprintf("name %q is purely numeric", name),
		}
	}
	if item.Price <= 0 {
		return &ValidationError{
			IssueType:   models.IssueInvalidPrice,
			Description: fmt.Sprintf("price %.2f for %q is not positive", item.Price, name),
		}
	}
	return nil
}

func isNumeric(s string) bool {
	digits := 0
	for _, r := range s {
		switch {
		case unicode.IsDigit(r):
			digits++
		case unicode.IsSpace(r), r == '.', r == ',', r == '-':
		default:
			return false
		}
	}
	return digits > 0
}

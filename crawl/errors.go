package crawl

import (
	"errors"
	"fmt"

	"github.com/aluiziolira/go-scrape-food/fetch"
)

// ParseError indicates that an adapter could not locate the expected data
// for a single item.
type ParseError struct {
	URL string
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// ValidationError describes why an item was rejected.
type ValidationError struct {
	IssueType   string
	Description string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.IssueType, e.Description)
}

// FatalConfigError aborts a shop run. It is the only error Run returns.
type FatalConfigError struct {
	Shop string
	Err  error
}

func (e *FatalConfigError) Error() string {
	return fmt.Sprintf("shop %s: fatal configuration error: %v", e.Shop, e.Err)
}

func (e *FatalConfigError) Unwrap() error {
	return e.Err
}

// isFatal reports whether err means the shop cannot be crawled at all.
func isFatal(err error) bool {
	var fatal *FatalConfigError
	if errors.As(err, &fatal) {
		return true
	}
	var sessionErr *fetch.SessionError
	return errors.As(err, &sessionErr)
}

func asFatal(shop string, err error) *FatalConfigError {
	var fatal *FatalConfigError
	if errors.As(err, &fatal) {
		return fatal
	}
	return &FatalConfigError{Shop: shop, Err: err}
}

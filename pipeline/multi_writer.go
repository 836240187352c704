package pipeline

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-food/models"
)

// MultiWriter writes every batch to each of its writers in order.
type MultiWriter struct {
	writers []namedWriter
	mu      sync.Mutex
}

type namedWriter struct {
	name string
	OutputWriter
}

// NewMultiWriter combines writers keyed by a name used in error messages.
func NewMultiWriter(writers map[string]OutputWriter) *MultiWriter {
	mw := &MultiWriter{}
	for _, name := range slices.Sorted(maps.Keys(writers)) {
		mw.writers = append(mw.writers, namedWriter{name: name, OutputWriter: writers[name]})
	}
	return mw
}

// Write writes items to every writer and stops at the first failure.
func (mw *MultiWriter) Write(items []*models.NormalizedFoodItem) error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	for _, w := range mw.writers {
		if err := w.Write(items); err != nil {
			return fmt.Errorf("%s write failed: %w", w.name, err)
		}
	}
	return nil
}

// Close closes every writer.
func (mw *MultiWriter) Close() error {
	mw.mu.Lock()
	defer mw.mu.Unlock()

	var errs []error
	for _, w := range mw.writers {
		if err := w.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s close failed: %w", w.name, err))
		}
	}
	return errors.Join(errs...)
}

// Validate validates every writer.
func (mw *MultiWriter) Validate() error {
	var errs []error
	for _, w := range mw.writers {
		if err := w.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s validation failed: %w", w.name, err))
		}
	}
	return errors.Join(errs...)
}

// NewWriter opens one writer per format under basePath (extension is
// replaced per format): csv, json (JSON lines) and sqlite.
func NewWriter(formats []string, basePath string) (OutputWriter, error) {
	if len(formats) == 0 {
		return nil, errors.New("no output formats")
	}
	base := strings.TrimSuffix(basePath, filepath.Ext(basePath))

	writers := make(map[string]OutputWriter, len(formats))
	closeAll := func() {
		for _, w := range writers {
			w.Close()
		}
	}
	for _, format := range formats {
		format = strings.ToLower(strings.TrimSpace(format))
		if format == "jsonl" {
			format = "json"
		}
		if _, dup := writers[format]; dup {
			continue
		}
		var (
			w   OutputWriter
			err error
		)
		switch format {
		case "csv":
			w, err = NewCSVWriter(base + ".csv")
		case "json":
			w, err = NewJSONWriter(base + ".jsonl")
		case "sqlite":
			w, err = NewSQLiteWriter(base + ".db")
		default:
			err = fmt.Errorf("unknown output format %q", format)
		}
		if err != nil {
			closeAll()
			return nil, err
		}
		writers[format] = w
	}

	if len(writers) == 1 {
		for _, w := range writers {
			return w, nil
		}
	}
	return NewMultiWriter(writers), nil
}

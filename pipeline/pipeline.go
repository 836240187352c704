// Package pipeline batches accepted items into export sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aluiziolira/go-scrape-food/models"
)

var (
	// ErrPipelineClosed is returned when Process is called after shutdown.
	ErrPipelineClosed = errors.New("pipeline: closed")
	// ErrPipelineCloseTimeout is returned when workers do not drain in time.
	ErrPipelineCloseTimeout = errors.New("pipeline: close timed out")
)

// OutputWriter is an export sink.
type OutputWriter interface {
	Write(items []*models.NormalizedFoodItem) error
	Close() error
	Validate() error
}

// Options sizes the pipeline.
type Options struct {
	BatchSize    int
	BufferSize   int
	DrainTimeout time.Duration
}

// Pipeline fans items out to writer workers in batches. Items with an ID
// that was already written are skipped.
type Pipeline struct {
	ctx    context.Context
	writer OutputWriter
	opts   Options
	itemCh chan *models.NormalizedFoodItem

	wg sync.WaitGroup

	seen   map[string]struct{}
	seenMu sync.Mutex

	counters counters

	mu     sync.Mutex // guards closed/err
	closed bool
	err    error

	closeOnce    sync.Once
	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewPipeline builds a pipeline writing to writer.
func NewPipeline(ctx context.Context, writer OutputWriter, opts Options) (*Pipeline, error) {
	if opts.BatchSize <= 0 || opts.BufferSize <= 0 {
		return nil, fmt.Errorf("pipeline batch and buffer sizes must be positive")
	}
	if opts.DrainTimeout <= 0 {
		return nil, fmt.Errorf("pipeline drain timeout must be positive")
	}
	return &Pipeline{
		ctx:      ctx,
		writer:   writer,
		opts:     opts,
		itemCh:   make(chan *models.NormalizedFoodItem, opts.BufferSize),
		seen:     make(map[string]struct{}),
		counters: newCounters(),
		shutdown: make(chan struct{}),
	}, nil
}

// Start launches worker goroutines.
func (p *Pipeline) Start(workers int) {
	if workers <= 0 {
		workers = 1
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Process enqueues items for writing.
func (p *Pipeline) Process(items ...*models.NormalizedFoodItem) error {
	closed, err := p.state()
	if err != nil {
		return err
	}
	if closed {
		return ErrPipelineClosed
	}

	for _, item := range items {
		if item == nil {
			continue
		}
		if err := p.enqueue(item); err != nil {
			return err
		}
	}
	return nil
}

// ProcessResult enqueues every item of a shop run.
func (p *Pipeline) ProcessResult(result *models.ScrapeResult) error {
	if result == nil {
		return nil
	}
	return p.Process(result.Items...)
}

// Close stops accepting items and waits up to the drain timeout for the
// workers to flush what is queued.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.itemCh)
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return p.Err()
	case <-time.After(p.opts.DrainTimeout):
		return fmt.Errorf("%w after %s", ErrPipelineCloseTimeout, p.opts.DrainTimeout)
	}
}

// Err returns the first error encountered during processing.
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Counters returns a snapshot of written and skipped items.
func (p *Pipeline) Counters() map[string]int64 {
	return p.counters.snapshot()
}

// StartProgressReporting logs progress every interval until Close or until
// the pipeline context is done.
func (p *Pipeline) StartProgressReporting(interval time.Duration) {
	if interval <= 0 {
		return
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				snap := p.Counters()
				slog.Info("pipeline progress",
					slog.Int64("written", snap["written"]),
					slog.Int64("duplicates", snap["duplicates"]),
				)
			case <-p.shutdown:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()

	batch := make([]*models.NormalizedFoodItem, 0, p.opts.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := p.writer.Write(batch); err != nil {
			return err
		}
		p.counters.add("written", int64(len(batch)))
		batch = batch[:0]
		return nil
	}

	for item := range p.itemCh {
		if !p.admit(item) {
			continue
		}
		batch = append(batch, item)
		if len(batch) >= p.opts.BatchSize {
			if err := flush(); err != nil {
				p.setErr(fmt.Errorf("write batch: %w", err))
				return
			}
		}
	}

	if err := flush(); err != nil {
		p.setErr(fmt.Errorf("write batch: %w", err))
	}
}

func (p *Pipeline) admit(item *models.NormalizedFoodItem) bool {
	p.seenMu.Lock()
	defer p.seenMu.Unlock()
	if _, ok := p.seen[item.ID]; ok {
		p.counters.add("duplicates", 1)
		return false
	}
	p.seen[item.ID] = struct{}{}
	return true
}

func (p *Pipeline) enqueue(item *models.NormalizedFoodItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ErrPipelineClosed
		}
	}()

	select {
	case <-p.shutdown:
		return ErrPipelineClosed
	case p.itemCh <- item:
		return nil
	}
}

func (p *Pipeline) setErr(err error) {
	if err == nil {
		return
	}

	p.mu.Lock()
	if p.err != nil {
		p.mu.Unlock()
		return
	}
	p.err = err
	p.closed = true
	p.mu.Unlock()

	p.signalShutdown()
	p.closeOnce.Do(func() {
		close(p.itemCh)
	})
}

func (p *Pipeline) state() (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed, p.err
}

func (p *Pipeline) signalShutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
}

type counters struct {
	mu     sync.Mutex
	values map[string]int64
}

func newCounters() counters {
	return counters{values: make(map[string]int64)}
}

func (c *counters) add(key string, n int64) {
	c.mu.Lock()
	c.values[key] += n
	c.mu.Unlock()
}

func (c *counters) snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int64, len(c.values))
	for k, v := range c.values {
		out[k] = v
	}
	return out
}

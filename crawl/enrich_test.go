package crawl

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aluiziolira/go-scrape-food/models"
)

func records(n int) []models.RawItemRecord {
	out := make([]models.RawItemRecord, n)
	for i := range out {
		out[i] = models.RawItemRecord{NativeID: fmt.Sprint(i), URL: fmt.Sprintf("https://shop.test/p/%d", i)}
	}
	return out
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	const limit = 3
	s, err := NewScheduler(SchedulerOptions{Concurrency: limit})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}

	var inFlight, peak atomic.Int32
	fn := func(_ context.Context, rec models.RawItemRecord) (models.RawItemRecord, error) {
		cur := inFlight.Add(1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return rec, nil
	}

	enriched, issues := s.EnrichAll(context.Background(), records(20), fn)
	if len(enriched) != 20 || len(issues) != 0 {
		t.Fatalf("got %d enriched, %d issues; want 20, 0", len(enriched), len(issues))
	}
	if got := peak.Load(); got > limit {
		t.Errorf("peak concurrency = %d, want <= %d", got, limit)
	}
}

func TestSchedulerKeepsInputOrder(t *testing.T) {
	s, err := NewScheduler(SchedulerOptions{Concurrency: 8})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	fn := func(_ context.Context, rec models.RawItemRecord) (models.RawItemRecord, error) {
		// Later records finish first.
		var n int
		fmt.Sscan(rec.NativeID, &n)
		time.Sleep(time.Duration(10-n) * time.Millisecond)
		return rec, nil
	}

	enriched, _ := s.EnrichAll(context.Background(), records(10), fn)
	for i, rec := range enriched {
		if rec.NativeID != fmt.Sprint(i) {
			t.Fatalf("enriched[%d] = %s, want %d", i, rec.NativeID, i)
		}
	}
}

func TestSchedulerIsolatesFailures(t *testing.T) {
	s, err := NewScheduler(SchedulerOptions{Concurrency: 2})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	fn := func(_ context.Context, rec models.RawItemRecord) (models.RawItemRecord, error) {
		switch rec.NativeID {
		case "1":
			return rec, errors.New("boom")
		case "3":
			panic("adapter bug")
		}
		rec.KcalText = "100"
		return rec, nil
	}

	enriched, issues := s.EnrichAll(context.Background(), records(5), fn)
	if len(enriched) != 3 {
		t.Errorf("len(enriched) = %d, want 3", len(enriched))
	}
	if len(issues) != 2 {
		t.Fatalf("len(issues) = %d, want 2", len(issues))
	}
	for _, issue := range issues {
		if issue.IssueType != models.IssueEnrichFailed || issue.Stage != models.StageEnrich {
			t.Errorf("issue = %+v, want enrich_failed at enrich stage", issue)
		}
	}
	for _, rec := range enriched {
		if rec.KcalText != "100" {
			t.Errorf("record %s was not enriched", rec.NativeID)
		}
	}
}

func TestSchedulerDelayWindow(t *testing.T) {
	s, err := NewScheduler(SchedulerOptions{Concurrency: 1, MinDelay: 10 * time.Millisecond, MaxDelay: 20 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewScheduler() error = %v", err)
	}
	var slept []time.Duration
	s.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	s.EnrichAll(context.Background(), records(5), func(_ context.Context, rec models.RawItemRecord) (models.RawItemRecord, error) {
		return rec, nil
	})
	if len(slept) != 5 {
		t.Fatalf("slept %d times, want 5", len(slept))
	}
	for _, d := range slept {
		if d < 10*time.Millisecond || d > 20*time.Millisecond {
			t.Errorf("delay %s outside [10ms, 20ms]", d)
		}
	}
}

func TestSchedulerOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    SchedulerOptions
		wantErr bool
	}{
		{"valid", SchedulerOptions{Concurrency: 2, MinDelay: time.Millisecond, MaxDelay: time.Second}, false},
		{"zero window", SchedulerOptions{Concurrency: 2}, false},
		{"no workers", SchedulerOptions{Concurrency: 0}, true},
		{"inverted window", SchedulerOptions{Concurrency: 2, MinDelay: time.Second, MaxDelay: time.Millisecond}, true},
		{"negative delay", SchedulerOptions{Concurrency: 2, MinDelay: -time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.opts.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/go-scrape-food/fetch"
	"github.com/aluiziolira/go-scrape-food/models"
	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Runner executes one task.
type Runner interface {
	Run(ctx context.Context, task Task) ([]*models.ScrapeResult, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, task Task) ([]*models.ScrapeResult, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, task Task) ([]*models.ScrapeResult, error) {
	return f(ctx, task)
}

// Options configures a Worker.
type Options struct {
	Prefix            string
	WorkerID          string
	PopTimeout        time.Duration
	HeartbeatInterval time.Duration
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
}

// Validate checks the options for coherence.
func (o Options) Validate() error {
	if o.Prefix == "" {
		return errors.New("queue prefix is required")
	}
	if o.PopTimeout <= 0 || o.HeartbeatInterval <= 0 {
		return errors.New("pop timeout and heartbeat interval must be positive")
	}
	if o.ReconnectBase <= 0 || o.ReconnectMax < o.ReconnectBase {
		return errors.New("reconnect backoff window is invalid")
	}
	return nil
}

// Worker pops tasks, runs them and publishes results.
type Worker struct {
	client *redis.Client
	runner Runner
	opts   Options
	sleep  func(ctx context.Context, d time.Duration) error
}

// New builds a worker. A missing WorkerID gets a random one.
func New(client *redis.Client, runner Runner, opts Options) (*Worker, error) {
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("worker options: %w", err)
	}
	if opts.WorkerID == "" {
		opts.WorkerID = uuid.NewString()
	}
	return &Worker{client: client, runner: runner, opts: opts, sleep: sleepContext}, nil
}

func (w *Worker) tasksKey() string   { return w.opts.Prefix + ":tasks" }
func (w *Worker) resultsKey() string { return w.opts.Prefix + ":results" }

func (w *Worker) cancelKey(taskID string) string {
	return w.opts.Prefix + ":cancel:" + taskID
}

func (w *Worker) heartbeatKey() string {
	return w.opts.Prefix + ":heartbeat:" + w.opts.WorkerID
}

// Run serves the queue until ctx is done. Redis failures are retried with
// capped exponential backoff; Run only returns ctx's error.
func (w *Worker) Run(ctx context.Context) error {
	logger := slog.With(slog.String("worker_id", w.opts.WorkerID))
	logger.Info("worker started", slog.String("queue", w.tasksKey()))

	go w.heartbeat(ctx)

	failures := 0
	for {
		if ctx.Err() != nil {
			logger.Info("worker stopped")
			return ctx.Err()
		}

		payload, err := w.pop(ctx)
		switch {
		case errors.Is(err, redis.Nil):
			failures = 0
			continue
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			failures++
			delay := fetch.Backoff(failures, w.opts.ReconnectBase, w.opts.ReconnectMax)
			logger.Warn("redis unavailable, retrying",
				slog.Any("error", err),
				slog.Int("failures", failures),
				slog.Duration("delay", delay),
			)
			_ = w.sleep(ctx, delay)
			continue
		}
		failures = 0

		task, err := decodeTask(payload)
		if err != nil {
			logger.Error("dropping malformed task", slog.Any("error", err))
			if task.TaskID != "" {
				w.publish(ctx, Result{TaskID: task.TaskID, Status: StatusError, ErrorMessage: err.Error()})
			}
			continue
		}
		w.publish(ctx, w.Process(ctx, task))
	}
}

// Process runs one task unless it was canceled before it started.
func (w *Worker) Process(ctx context.Context, task Task) Result {
	if task.TaskID == "" {
		task.TaskID = uuid.NewString()
	}
	logger := slog.With(
		slog.String("task_id", task.TaskID),
		slog.String("user_id", task.UserID),
		slog.String("mode", string(task.Mode)),
	)

	canceled, err := w.client.Exists(ctx, w.cancelKey(task.TaskID)).Result()
	if err != nil {
		logger.Warn("cancel flag check failed", slog.Any("error", err))
	}
	if canceled > 0 {
		w.client.Del(ctx, w.cancelKey(task.TaskID))
		logger.Info("task canceled before start")
		return Result{TaskID: task.TaskID, Status: StatusCanceled}
	}

	start := time.Now()
	data, err := w.runner.Run(ctx, task)
	if err != nil {
		logger.Error("task failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(start)))
		return Result{TaskID: task.TaskID, Status: StatusError, Data: data, ErrorMessage: err.Error()}
	}
	logger.Info("task finished", slog.Int("shops", len(data)), slog.Duration("elapsed", time.Since(start)))
	return Result{TaskID: task.TaskID, Status: StatusSuccess, Data: data}
}

func (w *Worker) pop(ctx context.Context) (string, error) {
	res, err := w.client.BRPop(ctx, w.opts.PopTimeout, w.tasksKey()).Result()
	if err != nil {
		return "", err
	}
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply %v", res)
	}
	return res[1], nil
}

func (w *Worker) publish(ctx context.Context, result Result) {
	payload, err := encodeResult(result)
	if err != nil {
		slog.Error("encode result", slog.String("task_id", result.TaskID), slog.Any("error", err))
		return
	}
	// Results are published even during shutdown.
	if err := w.client.LPush(context.WithoutCancel(ctx), w.resultsKey(), payload).Err(); err != nil {
		slog.Error("publish result", slog.String("task_id", result.TaskID), slog.Any("error", err))
	}
}

func (w *Worker) heartbeat(ctx context.Context) {
	ttl := 3 * w.opts.HeartbeatInterval
	beat := func() {
		if err := w.client.Set(ctx, w.heartbeatKey(), time.Now().UTC().Format(time.RFC3339), ttl).Err(); err != nil && ctx.Err() == nil {
			slog.Debug("heartbeat failed", slog.Any("error", err))
		}
	}

	beat()
	ticker := time.NewTicker(w.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			beat()
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

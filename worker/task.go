// Package worker runs shop crawls on behalf of a Redis-backed task queue.
// Delivery is at-least-once: a task popped by a worker that dies before
// publishing its result is lost to that worker and must be resubmitted.
package worker

import (
	"encoding/json"
	"fmt"

	"github.com/aluiziolira/go-scrape-food/models"
)

// Mode selects how much work a task asks for.
type Mode string

const (
	// ModeFast accepts listing data without detail fetches.
	ModeFast Mode = "fast"
	// ModeFull enriches items from their product pages.
	ModeFull Mode = "full"
)

// Task is a crawl request popped from the queue.
type Task struct {
	TaskID      string              `json:"task_id"`
	UserID      string              `json:"user_id"`
	Mode        Mode                `json:"mode"`
	Coordinates *models.Coordinates `json:"coordinates,omitempty"`
	Address     string              `json:"address,omitempty"`
}

// Status is the terminal state of a task.
type Status string

const (
	StatusSuccess  Status = "success"
	StatusError    Status = "error"
	StatusCanceled Status = "canceled"
)

// Result is published once per task.
type Result struct {
	TaskID       string                 `json:"task_id"`
	Status       Status                 `json:"status"`
	Data         []*models.ScrapeResult `json:"data,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

func decodeTask(payload string) (Task, error) {
	var task Task
	if err := json.Unmarshal([]byte(payload), &task); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	switch task.Mode {
	case "":
		task.Mode = ModeFull
	case ModeFast, ModeFull:
	default:
		return task, fmt.Errorf("unknown task mode %q", task.Mode)
	}
	return task, nil
}

func encodeResult(result Result) (string, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

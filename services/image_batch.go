package services

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ImageTask is one (url, destination, label) batch entry.
type ImageTask struct {
	URL   string
	Dest  string
	Label string
}

// ImageTaskResult is the per-task outcome. Err is nil on success; Attempts
// counts how many tries were made.
type ImageTaskResult struct {
	Task     ImageTask
	Attempts int
	Err      error
}

// FetchBatch downloads all tasks concurrently with a fixed worker pool.
// Individual failures never abort the batch: the caller gets one result per
// task and proceeds with whatever downloaded successfully. Destination paths
// are derived from unique external ids, so no two tasks write the same file.
func (s *ImageService) FetchBatch(ctx context.Context, tasks []ImageTask, workers int) []ImageTaskResult {
	results := make([]ImageTaskResult, len(tasks))
	if len(tasks) == 0 {
		return results
	}
	if workers < 1 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = s.fetchWithRetry(ctx, tasks[idx])
			}
		}()
	}

	for idx := range tasks {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	failed := 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			s.logger.WithFields(logrus.Fields{
				"game":     res.Task.Label,
				"attempts": res.Attempts,
			}).WithError(res.Err).Warn("Image download failed")
		}
	}
	s.logger.WithFields(logrus.Fields{
		"total":  len(tasks),
		"failed": failed,
	}).Info("Image batch finished")
	return results
}

func (s *ImageService) fetchWithRetry(ctx context.Context, task ImageTask) ImageTaskResult {
	maxAttempts := s.cfg.Retries
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	result := ImageTaskResult{Task: task}
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt
		result.Err = s.Fetch(ctx, task.URL, task.Dest)
		if result.Err == nil {
			return result
		}
		// Validation failures (unsafe URL, oversized payload) are final.
		if !IsRetryable(result.Err) {
			return result
		}
		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				result.Err = ctx.Err()
				return result
			case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
			}
		}
	}
	return result
}

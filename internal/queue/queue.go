// Package queue provides an in-memory job queue with a worker pool for
// destination searches, so callers can submit a query and poll for the result.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/stuartshay/arrival-alarm/internal/geo"
	"github.com/stuartshay/arrival-alarm/internal/resolver"
)

// JobStatus represents the state of a search job
type JobStatus string

// Job status constants define the lifecycle states
const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// Queue errors
var (
	ErrJobNotFound = errors.New("job not found")
	ErrQueueFull   = errors.New("queue is full")
	ErrEmptyQuery  = errors.New("query is required")
)

// maxFinished is how many completed or failed jobs are retained for polling
const maxFinished = 256

// Job represents a destination search
type Job struct {
	ID           string
	Query        string
	Status       JobStatus
	QueuedAt     time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ErrorMessage string
	Result       *JobResult
}

// JobResult contains the resolved destination
type JobResult struct {
	Name        string
	Coordinate  geo.Coordinate
	Description string
	// Applied reports whether the destination became the session target
	Applied          bool
	ProcessingTimeMS int64
}

// ProcessFunc is a function that processes a job
type ProcessFunc func(ctx context.Context, job *Job) (*JobResult, error)

// Searcher resolves a query and applies it as the target when allowed
type Searcher interface {
	SearchTarget(ctx context.Context, query string) (resolver.Destination, bool, error)
}

// SearchProcessor adapts a Searcher to a ProcessFunc
func SearchProcessor(s Searcher) ProcessFunc {
	return func(ctx context.Context, job *Job) (*JobResult, error) {
		dest, applied, err := s.SearchTarget(ctx, job.Query)
		if err != nil {
			return nil, err
		}
		return &JobResult{
			Name:        dest.Name,
			Coordinate:  dest.Coordinate,
			Description: dest.Description,
			Applied:     applied,
		}, nil
	}
}

// Queue manages search jobs with a worker pool
type Queue struct {
	mu           sync.RWMutex
	jobs         map[string]*Job
	pendingQueue chan *Job
	workers      int
	processor    ProcessFunc
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// NewQueue creates a new job queue with the specified number of workers
func NewQueue(workers int, processor ProcessFunc) *Queue {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		jobs:         make(map[string]*Job),
		pendingQueue: make(chan *Job, 100),
		workers:      workers,
		processor:    processor,
		ctx:          ctx,
		cancel:       cancel,
	}

	for i := 0; i < workers; i++ {
		q.wg.Add(1)
		go q.worker(i)
	}

	return q
}

// Enqueue adds a new search to the queue
func (q *Queue) Enqueue(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ctx.Err() != nil {
		return "", fmt.Errorf("queue is shut down")
	}

	job := &Job{
		ID:       uuid.New().String(),
		Query:    query,
		Status:   StatusQueued,
		QueuedAt: time.Now().UTC(),
	}

	select {
	case q.pendingQueue <- job:
		q.jobs[job.ID] = job
		q.pruneLocked()
		log.Debug().Str("job_id", job.ID).Str("query", query).Msg("Search queued")
		return job.ID, nil
	default:
		return "", ErrQueueFull
	}
}

// GetJob retrieves a copy of a job by ID
func (q *Queue) GetJob(jobID string) (*Job, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	job, exists := q.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return copyJob(job), nil
}

func copyJob(job *Job) *Job {
	jobCopy := *job
	if job.StartedAt != nil {
		startedCopy := *job.StartedAt
		jobCopy.StartedAt = &startedCopy
	}
	if job.CompletedAt != nil {
		completedCopy := *job.CompletedAt
		jobCopy.CompletedAt = &completedCopy
	}
	if job.Result != nil {
		resultCopy := *job.Result
		jobCopy.Result = &resultCopy
	}
	return &jobCopy
}

// ListJobs returns jobs filtered by status, newest first. A non-positive
// limit returns every match; a negative offset counts as zero.
func (q *Queue) ListJobs(status JobStatus, limit, offset int) []*Job {
	q.mu.RLock()
	filtered := make([]*Job, 0, len(q.jobs))
	for _, job := range q.jobs {
		if status == "" || job.Status == status {
			filtered = append(filtered, copyJob(job))
		}
	}
	q.mu.RUnlock()

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].QueuedAt.After(filtered[j].QueuedAt)
	})

	start := offset
	if start < 0 {
		start = 0
	}
	if start > len(filtered) {
		return []*Job{}
	}

	end := len(filtered)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	return filtered[start:end]
}

// GetStats returns queue statistics
func (q *Queue) GetStats() map[string]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	stats := map[string]int{
		"total":      len(q.jobs),
		"queued":     0,
		"processing": 0,
		"completed":  0,
		"failed":     0,
	}

	for _, job := range q.jobs {
		switch job.Status {
		case StatusQueued:
			stats["queued"]++
		case StatusProcessing:
			stats["processing"]++
		case StatusCompleted:
			stats["completed"]++
		case StatusFailed:
			stats["failed"]++
		}
	}

	return stats
}

// pruneLocked drops the oldest finished jobs beyond maxFinished
func (q *Queue) pruneLocked() {
	var finished []*Job
	for _, job := range q.jobs {
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			finished = append(finished, job)
		}
	}
	if len(finished) <= maxFinished {
		return
	}
	sort.Slice(finished, func(i, j int) bool {
		return finished[i].QueuedAt.Before(finished[j].QueuedAt)
	})
	for _, job := range finished[:len(finished)-maxFinished] {
		delete(q.jobs, job.ID)
	}
}

func (q *Queue) worker(id int) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		case job := <-q.pendingQueue:
			q.processJob(id, job)
		}
	}
}

// processJob executes a single job
func (q *Queue) processJob(worker int, job *Job) {
	startTime := time.Now()

	q.mu.Lock()
	job.Status = StatusProcessing
	now := time.Now().UTC()
	job.StartedAt = &now
	q.mu.Unlock()

	result, err := q.processor(q.ctx, job)

	q.mu.Lock()
	defer q.mu.Unlock()

	completedAt := time.Now().UTC()
	job.CompletedAt = &completedAt

	if err != nil {
		job.Status = StatusFailed
		job.ErrorMessage = err.Error()
		log.Warn().Err(err).Int("worker", worker).Str("job_id", job.ID).Msg("Search failed")
		return
	}

	job.Status = StatusCompleted
	job.Result = result
	if result != nil {
		result.ProcessingTimeMS = time.Since(startTime).Milliseconds()
	}
	log.Info().
		Int("worker", worker).
		Str("job_id", job.ID).
		Dur("duration", time.Since(startTime)).
		Msg("Search completed")
}

// Shutdown gracefully shuts down the queue
func (q *Queue) Shutdown(timeout time.Duration) error {
	q.mu.Lock()
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

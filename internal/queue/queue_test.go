package queue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stuartshay/arrival-alarm/internal/geo"
	"github.com/stuartshay/arrival-alarm/internal/resolver"
)

// waitForStatus polls until the job reaches one of the final states
func waitForStatus(t *testing.T, q *Queue, jobID string) *Job {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		job, err := q.GetJob(jobID)
		if err != nil {
			t.Fatalf("GetJob() failed: %v", err)
		}
		if job.Status == StatusCompleted || job.Status == StatusFailed {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish", jobID)
	return nil
}

func TestNewQueue(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{Name: "Portal Norte"}, nil
	}

	q := NewQueue(3, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	if q.workers != 3 {
		t.Errorf("expected 3 workers, got %d", q.workers)
	}
	if len(q.jobs) != 0 {
		t.Errorf("expected empty jobs map, got %d jobs", len(q.jobs))
	}
}

func TestNewQueue_AtLeastOneWorker(t *testing.T) {
	q := NewQueue(0, func(_ context.Context, _ *Job) (*JobResult, error) { return nil, nil })
	defer func() { _ = q.Shutdown(time.Second) }()

	if q.workers != 1 {
		t.Errorf("expected 1 worker, got %d", q.workers)
	}
}

func TestEnqueue(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{Name: "Portal Norte"}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	jobID, err := q.Enqueue("  Portal Norte ")
	if err != nil {
		t.Fatalf("Enqueue() failed: %v", err)
	}

	if jobID == "" {
		t.Error("expected non-empty job ID")
	}

	job, err := q.GetJob(jobID)
	if err != nil {
		t.Fatalf("GetJob() failed: %v", err)
	}

	if job.Query != "Portal Norte" {
		t.Errorf("expected query 'Portal Norte', got '%s'", job.Query)
	}
	if job.QueuedAt.IsZero() {
		t.Error("expected QueuedAt to be set")
	}
}

func TestEnqueue_EmptyQuery(t *testing.T) {
	q := NewQueue(1, func(_ context.Context, _ *Job) (*JobResult, error) { return nil, nil })
	defer func() { _ = q.Shutdown(time.Second) }()

	if _, err := q.Enqueue("   "); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("expected ErrEmptyQuery, got %v", err)
	}
}

func TestEnqueue_AfterShutdown(t *testing.T) {
	q := NewQueue(1, func(_ context.Context, _ *Job) (*JobResult, error) { return nil, nil })
	_ = q.Shutdown(time.Second)

	if _, err := q.Enqueue("Portal Norte"); err == nil {
		t.Error("expected error after shutdown, got nil")
	}
}

func TestEnqueue_Full(t *testing.T) {
	release := make(chan struct{})
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		<-release
		return &JobResult{}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()
	defer close(release)

	var full bool
	for i := 0; i < 200; i++ {
		if _, err := q.Enqueue("Portal Norte"); errors.Is(err, ErrQueueFull) {
			full = true
			break
		}
	}
	if !full {
		t.Error("expected ErrQueueFull once the pending buffer is exhausted")
	}
}

func TestGetJob_NotFound(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return nil, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	_, err := q.GetJob("non-existent-id")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestGetJob_ReturnsCopy(t *testing.T) {
	q := NewQueue(1, func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{Name: "Portal Norte"}, nil
	})
	defer func() { _ = q.Shutdown(time.Second) }()

	jobID, _ := q.Enqueue("Portal Norte")
	job := waitForStatus(t, q, jobID)
	job.Result.Name = "mutated"

	again, _ := q.GetJob(jobID)
	if again.Result.Name != "Portal Norte" {
		t.Errorf("expected stored result to be unchanged, got '%s'", again.Result.Name)
	}
}

func TestListJobs(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		time.Sleep(50 * time.Millisecond)
		return &JobResult{}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	_, _ = q.Enqueue("Portal Norte")
	time.Sleep(time.Millisecond)
	_, _ = q.Enqueue("Terminal Salitre")
	time.Sleep(time.Millisecond)
	last, _ := q.Enqueue("Portal Sur")

	jobs := q.ListJobs("", 10, 0)
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].ID != last {
		t.Errorf("expected newest job first, got '%s'", jobs[0].Query)
	}

	jobs = q.ListJobs("", 1, 0)
	if len(jobs) != 1 {
		t.Errorf("expected 1 job with limit=1, got %d", len(jobs))
	}

	jobs = q.ListJobs("", 10, 100)
	if len(jobs) != 0 {
		t.Errorf("expected 0 jobs with offset=100, got %d", len(jobs))
	}

	jobs = q.ListJobs("", 10, -5)
	if len(jobs) != 3 {
		t.Errorf("expected negative offset to count as 0, got %d jobs", len(jobs))
	}

	jobs = q.ListJobs("", 0, 1)
	if len(jobs) != 2 {
		t.Errorf("expected limit=0 to return the rest, got %d jobs", len(jobs))
	}

	jobs = q.ListJobs("", -1, 0)
	if len(jobs) != 3 {
		t.Errorf("expected negative limit to return all, got %d jobs", len(jobs))
	}
}

func TestProcessJob_Success(t *testing.T) {
	var processorCalled atomic.Bool
	processor := func(_ context.Context, job *Job) (*JobResult, error) {
		processorCalled.Store(true)
		return &JobResult{
			Name:       job.Query,
			Coordinate: geo.Coordinate{Lat: 4.7547, Lng: -74.0462},
			Applied:    true,
		}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	jobID, _ := q.Enqueue("Portal Norte")
	job := waitForStatus(t, q, jobID)

	if !processorCalled.Load() {
		t.Error("expected processor to be called")
	}
	if job.Status != StatusCompleted {
		t.Errorf("expected status 'completed', got '%s'", job.Status)
	}
	if job.Result == nil {
		t.Fatal("expected non-nil result")
	}
	if job.Result.Coordinate.Lat != 4.7547 {
		t.Errorf("expected lat 4.7547, got %.4f", job.Result.Coordinate.Lat)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Error("expected StartedAt and CompletedAt to be set")
	}
}

func TestProcessJob_Failure(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return nil, errors.New("processing failed")
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	jobID, _ := q.Enqueue("Terminal Norte")
	job := waitForStatus(t, q, jobID)

	if job.Status != StatusFailed {
		t.Errorf("expected status 'failed', got '%s'", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Error("expected non-empty error message")
	}
}

type fakeSearcher struct {
	dest    resolver.Destination
	applied bool
	err     error
}

func (f fakeSearcher) SearchTarget(_ context.Context, _ string) (resolver.Destination, bool, error) {
	return f.dest, f.applied, f.err
}

func TestSearchProcessor(t *testing.T) {
	tests := []struct {
		name        string
		searcher    fakeSearcher
		expectError bool
		applied     bool
	}{
		{
			name: "applied",
			searcher: fakeSearcher{
				dest:    resolver.Destination{Name: "Portal Norte", Coordinate: geo.Coordinate{Lat: 4.7547, Lng: -74.0462}},
				applied: true,
			},
			applied: true,
		},
		{
			name: "resolved while tracking",
			searcher: fakeSearcher{
				dest: resolver.Destination{Name: "Portal Norte", Coordinate: geo.Coordinate{Lat: 4.7547, Lng: -74.0462}},
			},
		},
		{
			name:        "not found",
			searcher:    fakeSearcher{err: resolver.ErrDestinationNotFound},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := SearchProcessor(tt.searcher)(context.Background(), &Job{Query: "Portal Norte"})
			if tt.expectError {
				if !errors.Is(err, resolver.ErrDestinationNotFound) {
					t.Errorf("expected ErrDestinationNotFound, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if result.Applied != tt.applied {
				t.Errorf("expected applied=%v, got %v", tt.applied, result.Applied)
			}
			if result.Name != "Portal Norte" {
				t.Errorf("expected name 'Portal Norte', got '%s'", result.Name)
			}
		})
	}
}

func TestPrune(t *testing.T) {
	q := NewQueue(1, func(_ context.Context, _ *Job) (*JobResult, error) { return nil, nil })
	defer func() { _ = q.Shutdown(time.Second) }()

	base := time.Now().Add(-time.Hour)
	q.mu.Lock()
	for i := 0; i < maxFinished+10; i++ {
		id := string(rune('a'+i%26)) + time.Duration(i).String()
		q.jobs[id] = &Job{ID: id, Status: StatusCompleted, QueuedAt: base.Add(time.Duration(i) * time.Second)}
	}
	q.pruneLocked()
	remaining := len(q.jobs)
	q.mu.Unlock()

	if remaining != maxFinished {
		t.Errorf("expected %d retained jobs, got %d", maxFinished, remaining)
	}
}

func TestGetStats(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		time.Sleep(50 * time.Millisecond)
		return &JobResult{}, nil
	}

	q := NewQueue(1, processor)
	defer func() { _ = q.Shutdown(time.Second) }()

	_, _ = q.Enqueue("Portal Norte")
	_, _ = q.Enqueue("Portal Sur")

	stats := q.GetStats()
	if stats["total"] != 2 {
		t.Errorf("expected total 2, got %d", stats["total"])
	}
}

func TestShutdown(t *testing.T) {
	processor := func(_ context.Context, _ *Job) (*JobResult, error) {
		return &JobResult{}, nil
	}

	q := NewQueue(3, processor)

	err := q.Shutdown(time.Second)
	if err != nil {
		t.Errorf("Shutdown() failed: %v", err)
	}

	select {
	case <-q.ctx.Done():
	default:
		t.Error("expected context to be canceled")
	}
}

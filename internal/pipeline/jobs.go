package pipeline

import (
	"context"
	"strings"
	"time"

	"market-analyst-bot/internal/cache"
)

// Job statuses.
const (
	JobRunning = "running"
	JobDone    = "done"
	JobFailed  = "failed"
)

// Job is the pending-job bookkeeping record, kept in the KV store so the API
// (and the websocket push) can report progress across instances.
type Job struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JobStore persists jobs in the shared KV store. All writes are best-effort;
// bookkeeping must never fail an analysis.
type JobStore struct {
	store interface {
		GetJSON(ctx context.Context, key string, dest interface{}) error
		SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error
		Keys(ctx context.Context, pattern string) ([]string, error)
		Delete(ctx context.Context, key string) error
	}
	ttl time.Duration
}

// NewJobStore creates a JobStore over the cache service.
func NewJobStore(store *cache.Service, ttl time.Duration) *JobStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JobStore{store: store, ttl: ttl}
}

// Put writes a job record.
func (s *JobStore) Put(ctx context.Context, job Job) error {
	if s == nil || s.store == nil {
		return nil
	}
	job.UpdatedAt = time.Now().UTC()
	return s.store.SetJSON(ctx, cache.JobKey(job.ID), job, s.ttl)
}

// Get reads one job.
func (s *JobStore) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.store.GetJSON(ctx, cache.JobKey(id), &job)
	return job, err
}

// List returns all tracked jobs.
func (s *JobStore) List(ctx context.Context) ([]Job, error) {
	keys, err := s.store.Keys(ctx, cache.JobKey("*"))
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(keys))
	for _, key := range keys {
		var job Job
		if err := s.store.GetJSON(ctx, key, &job); err != nil {
			continue
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// PruneFinished removes done/failed jobs older than maxAge. Called by the
// maintenance scheduler.
func (s *JobStore) PruneFinished(ctx context.Context, maxAge time.Duration) (int, error) {
	keys, err := s.store.Keys(ctx, strings.Replace(cache.PrefixJob, "%s", "*", 1))
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().UTC().Add(-maxAge)
	pruned := 0
	for _, key := range keys {
		var job Job
		if err := s.store.GetJSON(ctx, key, &job); err != nil {
			continue
		}
		if job.Status == JobRunning || job.UpdatedAt.After(cutoff) {
			continue
		}
		if err := s.store.Delete(ctx, key); err == nil {
			pruned++
		}
	}
	return pruned, nil
}

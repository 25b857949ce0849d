// Package jobstore provides JobStore implementations: an in-process map for
// single-node deployments and a SQL-backed store for SQLite or PostgreSQL.
package jobstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
)

// MemoryStore keeps jobs in a map guarded by a single RWMutex.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*core.Job
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[string]*core.Job),
		now:  time.Now,
	}
}

// Create stores a copy of job.
func (s *MemoryStore) Create(_ context.Context, job *core.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", core.ErrDuplicateJob, job.ID)
	}

	s.jobs[job.ID] = job.Clone()

	return nil
}

// Get returns a copy of the job or core.ErrJobNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}

	return job.Clone(), nil
}

// Update applies patch under the write lock and returns the merged job.
func (s *MemoryStore) Update(_ context.Context, id string, patch core.Patch) (*core.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, core.ErrJobNotFound
	}

	next, err := patch.Apply(job, s.now().UTC())
	if err != nil {
		return nil, err
	}

	s.jobs[id] = next

	return next.Clone(), nil
}

// List returns every job, newest first.
func (s *MemoryStore) List(_ context.Context) ([]*core.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*core.Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job.Clone())
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// RemoveOlderThan deletes terminal jobs created more than age ago. Pending and
// processing jobs are kept whatever their age.
func (s *MemoryStore) RemoveOlderThan(_ context.Context, age time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-age)
	removed := 0

	for id, job := range s.jobs {
		if job.Status.IsTerminal() && job.CreatedAt.Before(cutoff) {
			delete(s.jobs, id)

			removed++
		}
	}

	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mkravets/vidprep/pkg/models"
)

// MemoryStore is the default, process-lifetime job store. Records live in a
// map guarded by a store-level lock for membership, with a lock per record
// for field mutation so updates to different jobs never contend.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*memoryRecord
}

type memoryRecord struct {
	mu  sync.Mutex
	job models.Job
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[uuid.UUID]*memoryRecord)}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Create(_ context.Context, input models.JobInput) (*models.Job, error) {
	now := time.Now().UTC()
	job := models.Job{
		ID:          uuid.New(),
		Status:      models.JobStatusPending,
		Progress:    0,
		CurrentStep: "queued",
		Input:       input,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = &memoryRecord{job: job}
	s.mu.Unlock()

	return cloneJob(&job), nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.RLock()
	rec, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	return cloneJob(&rec.job), nil
}

func (s *MemoryStore) Update(_ context.Context, id uuid.UUID, opts ...UpdateOption) (*models.Job, error) {
	s.mu.RLock()
	rec, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}

	var p updateParams
	for _, opt := range opts {
		opt(&p)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := applyUpdate(&rec.job, p, time.Now().UTC()); err != nil {
		return nil, err
	}
	return cloneJob(&rec.job), nil
}

func (s *MemoryStore) List(_ context.Context) ([]*models.Job, error) {
	s.mu.RLock()
	recs := make([]*memoryRecord, 0, len(s.jobs))
	for _, rec := range s.jobs {
		recs = append(recs, rec)
	}
	s.mu.RUnlock()

	jobs := make([]*models.Job, 0, len(recs))
	for _, rec := range recs {
		rec.mu.Lock()
		jobs = append(jobs, cloneJob(&rec.job))
		rec.mu.Unlock()
	}
	return jobs, nil
}

func (s *MemoryStore) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for id, rec := range s.jobs {
		rec.mu.Lock()
		expired := models.IsTerminal(rec.job.Status) &&
			rec.job.CompletedAt != nil && rec.job.CompletedAt.Before(cutoff)
		rec.mu.Unlock()
		if expired {
			delete(s.jobs, id)
			deleted++
		}
	}
	return deleted, nil
}

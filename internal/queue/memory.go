package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kalambet/canon/internal/storage"
)

type memJob struct {
	job Job
	seq uint64
}

// MemoryStore is an in-process Store that keeps jobs in one bucket per
// state. Lookups by id scan every bucket, so it suits tests and small
// deployments only.
type MemoryStore struct {
	mu      sync.Mutex
	buckets map[string][]*memJob
	seq     uint64
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	b := make(map[string][]*memJob, len(storage.JobStates))
	for _, st := range storage.JobStates {
		b[st] = nil
	}
	return &MemoryStore{buckets: b}
}

func (m *MemoryStore) find(id string) (string, int) {
	for _, st := range storage.JobStates {
		for i, mj := range m.buckets[st] {
			if mj.job.ID == id {
				return st, i
			}
		}
	}
	return "", -1
}

func (m *MemoryStore) move(from string, i int, to string) *memJob {
	mj := m.buckets[from][i]
	m.buckets[from] = append(m.buckets[from][:i], m.buckets[from][i+1:]...)
	mj.job.Status = to
	m.buckets[to] = append(m.buckets[to], mj)
	return mj
}

func (m *MemoryStore) EnqueueJob(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, _ := m.find(job.ID); st != "" {
		return fmt.Errorf("enqueue job %s: duplicate id", job.ID)
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = 3
	}
	if job.RunAfter.IsZero() {
		job.RunAfter = job.CreatedAt
	}
	job.Status = Waiting
	job.UpdatedAt = job.CreatedAt
	m.seq++
	m.buckets[Waiting] = append(m.buckets[Waiting], &memJob{job: job, seq: m.seq})
	return nil
}

// next returns the index of the runnable waiting job with the earliest
// run_after, then created_at, then insertion order.
func (m *MemoryStore) next(now time.Time) int {
	best := -1
	for i, mj := range m.buckets[Waiting] {
		if mj.job.RunAfter.After(now) {
			continue
		}
		if best < 0 || less(mj, m.buckets[Waiting][best]) {
			best = i
		}
	}
	return best
}

func less(a, b *memJob) bool {
	if !a.job.RunAfter.Equal(b.job.RunAfter) {
		return a.job.RunAfter.Before(b.job.RunAfter)
	}
	if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
		return a.job.CreatedAt.Before(b.job.CreatedAt)
	}
	return a.seq < b.seq
}

func (m *MemoryStore) ClaimNextJob(_ context.Context, now time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.next(now)
	if i < 0 {
		return nil, nil
	}
	mj := m.move(Waiting, i, Active)
	mj.job.Stage = "claimed"
	mj.job.Progress = 0
	mj.job.ProcessedAt = now
	mj.job.UpdatedAt = now
	j := mj.job
	return &j, nil
}

func (m *MemoryStore) CompleteJob(_ context.Context, id, resultJSON string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, i := m.find(id)
	if st == "" {
		return storage.ErrNotFound
	}
	mj := m.move(st, i, Completed)
	mj.job.Stage = "completed"
	mj.job.Progress = 100
	mj.job.ResultJSON = resultJSON
	mj.job.LastError = ""
	mj.job.FinishedAt = now
	mj.job.UpdatedAt = now
	return nil
}

func (m *MemoryStore) RetryJob(_ context.Context, id, errMsg string, runAfter, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, i := m.find(id)
	if st == "" {
		return storage.ErrNotFound
	}
	mj := m.move(st, i, Waiting)
	mj.job.Stage = ""
	mj.job.Progress = 0
	mj.job.Attempts++
	mj.job.LastError = errMsg
	mj.job.RunAfter = runAfter
	mj.job.UpdatedAt = now
	return nil
}

func (m *MemoryStore) FailJob(_ context.Context, id, errMsg string, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, i := m.find(id)
	if st == "" {
		return storage.ErrNotFound
	}
	mj := m.move(st, i, Failed)
	mj.job.Stage = "failed"
	mj.job.Attempts++
	mj.job.LastError = errMsg
	mj.job.FinishedAt = now
	mj.job.UpdatedAt = now
	return nil
}

func (m *MemoryStore) UpdateJobProgress(_ context.Context, id, stage string, progress int, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, mj := range m.buckets[Active] {
		if mj.job.ID == id {
			mj.job.Stage = stage
			mj.job.Progress = progress
			mj.job.UpdatedAt = now
			return nil
		}
	}
	return storage.ErrNotFound
}

func (m *MemoryStore) GetJob(_ context.Context, id string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, i := m.find(id)
	if st == "" {
		return nil, storage.ErrNotFound
	}
	j := m.buckets[st][i].job
	return &j, nil
}

func (m *MemoryStore) NextWaitingJob(_ context.Context, now time.Time) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	i := m.next(now)
	if i < 0 {
		return nil, nil
	}
	j := m.buckets[Waiting][i].job
	return &j, nil
}

func (m *MemoryStore) CountJobs(context.Context) (map[string]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := make(map[string]int, len(m.buckets))
	for st, b := range m.buckets {
		counts[st] = len(b)
	}
	return counts, nil
}

func (m *MemoryStore) PruneJobs(_ context.Context, status string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.buckets[status]
	if len(b) <= keep {
		return 0, nil
	}
	sort.SliceStable(b, func(i, j int) bool {
		if !b[i].job.FinishedAt.Equal(b[j].job.FinishedAt) {
			return b[i].job.FinishedAt.After(b[j].job.FinishedAt)
		}
		return b[i].seq > b[j].seq
	})
	removed := len(b) - keep
	m.buckets[status] = b[:keep:keep]
	return removed, nil
}

func (m *MemoryStore) RecoverActiveJobs(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.buckets[Active])
	for len(m.buckets[Active]) > 0 {
		mj := m.move(Active, 0, Waiting)
		mj.job.Stage = ""
		mj.job.Progress = 0
		mj.job.RunAfter = now
		mj.job.UpdatedAt = now
	}
	return n, nil
}

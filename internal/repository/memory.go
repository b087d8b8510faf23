package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/stanstork/stratum-ingest/internal/apperrors"
	"github.com/stanstork/stratum-ingest/internal/models"
)

// MemoryStore keeps jobs, logs and statistics in process memory. It backs the
// "memory" database driver and the engine tests. Reads return copies.
type MemoryStore struct {
	mu    sync.RWMutex
	now   func() time.Time
	jobs  map[string]models.Job
	order []string
	logs  map[string][]models.JobLog
	stats map[string][]models.JobStatistics
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:   time.Now,
		jobs:  make(map[string]models.Job),
		logs:  make(map[string][]models.JobLog),
		stats: make(map[string][]models.JobStatistics),
	}
}

// SetClock replaces the time source used for stamping.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
}

func (s *MemoryStore) Jobs() JobRepository              { return memoryJobs{s} }
func (s *MemoryStore) Logs() JobLogRepository           { return memoryLogs{s} }
func (s *MemoryStore) Statistics() StatisticsRepository { return memoryStats{s} }

type memoryJobs struct{ s *MemoryStore }

func (m memoryJobs) Create(_ context.Context, job models.Job) (models.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	models.PrepareNewJob(&job, m.s.now())
	if _, exists := m.s.jobs[job.ID]; exists {
		return models.Job{}, apperrors.Validation("job %s already exists", job.ID)
	}
	m.s.jobs[job.ID] = copyJob(job)
	m.s.order = append(m.s.order, job.ID)
	return copyJob(job), nil
}

func (m memoryJobs) Get(_ context.Context, id string) (models.Job, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	job, ok := m.s.jobs[id]
	if !ok {
		return models.Job{}, apperrors.NotFound("job %s not found", id)
	}
	return copyJob(job), nil
}

func (m memoryJobs) List(_ context.Context) ([]models.Job, error) {
	return m.filter(func(models.Job) bool { return true }), nil
}

func (m memoryJobs) ListByStatus(_ context.Context, status models.JobStatus) ([]models.Job, error) {
	return m.filter(func(j models.Job) bool { return j.Status == status }), nil
}

func (m memoryJobs) filter(keep func(models.Job) bool) []models.Job {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	jobs := []models.Job{}
	for _, id := range m.s.order {
		if job := m.s.jobs[id]; keep(job) {
			jobs = append(jobs, copyJob(job))
		}
	}
	return jobs
}

func (m memoryJobs) Update(_ context.Context, job models.Job) (models.Job, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	stored, ok := m.s.jobs[job.ID]
	if !ok {
		return models.Job{}, apperrors.NotFound("job %s not found", job.ID)
	}
	if stored.Version != job.Version {
		return models.Job{}, ErrStaleJob
	}
	models.TouchJob(&job, m.s.now())
	job.Version++
	m.s.jobs[job.ID] = copyJob(job)
	return copyJob(job), nil
}

type memoryLogs struct{ s *MemoryStore }

func (m memoryLogs) Append(_ context.Context, entry models.JobLog) (models.JobLog, error) {
	prepareLog(&entry)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.logs[entry.JobID] = append(m.s.logs[entry.JobID], entry)
	return entry, nil
}

func (m memoryLogs) ListByJob(_ context.Context, jobID string) ([]models.JobLog, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]models.JobLog, len(m.s.logs[jobID]))
	copy(out, m.s.logs[jobID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

type memoryStats struct{ s *MemoryStore }

func (m memoryStats) Append(_ context.Context, stat models.JobStatistics) (models.JobStatistics, error) {
	prepareStatistics(&stat)
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.stats[stat.JobID] = append(m.s.stats[stat.JobID], stat)
	return stat, nil
}

func (m memoryStats) ListByJob(_ context.Context, jobID string) ([]models.JobStatistics, error) {
	m.s.mu.RLock()
	defer m.s.mu.RUnlock()
	out := make([]models.JobStatistics, len(m.s.stats[jobID]))
	copy(out, m.s.stats[jobID])
	return out, nil
}

func copyJob(job models.Job) models.Job {
	if job.CompletedAt != nil {
		t := *job.CompletedAt
		job.CompletedAt = &t
	}
	if job.NextAttemptAt != nil {
		t := *job.NextAttemptAt
		job.NextAttemptAt = &t
	}
	return job
}

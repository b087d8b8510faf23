package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stanstork/stratum-ingest/internal/pipeline"
	"github.com/stanstork/stratum-ingest/internal/repository"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSource struct {
	pipeline.KeyMatcher
	payload []byte
	err     error
	clock   *fakeClock
	took    time.Duration
}

func (s *fakeSource) Extract(context.Context, string, string) ([]byte, error) {
	if s.clock != nil {
		s.clock.Advance(s.took)
	}
	return s.payload, s.err
}

type fakeTransformer struct {
	pipeline.KeyMatcher
	err error
}

func (t *fakeTransformer) Transform(_ context.Context, data []byte, _, _ string) ([]byte, error) {
	if t.err != nil {
		return nil, t.err
	}
	return append([]byte("T:"), data...), nil
}

type fakeStorage struct {
	pipeline.KeyMatcher
	mu     sync.Mutex
	stored [][]byte
	result pipeline.StoreResult
	err    error
}

func (s *fakeStorage) Store(_ context.Context, data []byte, _, _ string) (pipeline.StoreResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return pipeline.StoreResult{}, s.err
	}
	s.stored = append(s.stored, data)
	return s.result, nil
}

type recordingListener struct {
	mu       sync.Mutex
	changes  []models.JobStatus
	attempts []error
}

func (l *recordingListener) StatusChanged(_ context.Context, job models.Job, _ models.JobStatus) {
	l.mu.Lock()
	l.changes = append(l.changes, job.Status)
	l.mu.Unlock()
}

func (l *recordingListener) AttemptFinished(_ context.Context, _ models.Job, _ models.JobStatistics, err error) {
	l.mu.Lock()
	l.attempts = append(l.attempts, err)
	l.mu.Unlock()
}

type testEngine struct {
	store      *repository.MemoryStore
	registries *pipeline.Registries
	clock      *fakeClock
	listener   *recordingListener
	machine    *StateMachine
	executor   *Executor
	policy     *RetryPolicy
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	clock := newFakeClock()
	store := repository.NewMemoryStore()
	store.SetClock(clock.Now)
	listener := &recordingListener{}
	opts := []Option{WithClock(clock.Now), WithListener(listener)}

	registries := pipeline.NewRegistries()
	machine := NewStateMachine(store.Jobs(), opts...)
	recorder := NewRecorder(store.Logs(), store.Statistics(), opts...)
	executor := NewExecutor(machine, registries, recorder, opts...)
	policy := NewRetryPolicy(executor, machine, recorder, DefaultRetryConfig(), opts...)

	return &testEngine{
		store:      store,
		registries: registries,
		clock:      clock,
		listener:   listener,
		machine:    machine,
		executor:   executor,
		policy:     policy,
	}
}

// queuedJob creates a job in QUEUED state.
func (e *testEngine) queuedJob(t *testing.T, job models.Job) models.Job {
	t.Helper()
	created, err := e.store.Jobs().Create(context.Background(), job)
	require.NoError(t, err)
	queued, err := e.machine.Queue(context.Background(), created.ID)
	require.NoError(t, err)
	return queued
}

func (e *testEngine) logsByLevel(t *testing.T, jobID string) map[models.LogLevel]int {
	t.Helper()
	logs, err := e.store.Logs().ListByJob(context.Background(), jobID)
	require.NoError(t, err)
	counts := map[models.LogLevel]int{}
	for _, l := range logs {
		counts[l.Level]++
	}
	return counts
}

func (e *testEngine) statistics(t *testing.T, jobID string) []models.JobStatistics {
	t.Helper()
	stats, err := e.store.Statistics().ListByJob(context.Background(), jobID)
	require.NoError(t, err)
	return stats
}

var errUnreachable = errors.New("connection refused")

func csvJob() models.Job {
	return models.Job{
		Name:                "orders",
		SourceType:          "FILE",
		SourceFormat:        "CSV",
		SourceLocation:      "/in/orders.csv",
		DestinationType:     "LOCAL",
		DestinationLocation: "out/orders.csv",
		MaxRetries:          3,
	}
}

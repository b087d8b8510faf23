package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stanstork/stratum-ingest/internal/models"
	"github.com/stanstork/stratum-ingest/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stallingListener blocks inside the first StatusChanged call until released.
type stallingListener struct {
	NopListener
	stalled atomic.Bool
	entered chan struct{}
	release chan struct{}
}

func (l *stallingListener) StatusChanged(context.Context, models.Job, models.JobStatus) {
	if l.stalled.CompareAndSwap(false, true) {
		close(l.entered)
		<-l.release
	}
}

func TestApplyNotifiesOutsideJobLock(t *testing.T) {
	store := repository.NewMemoryStore()
	listener := &stallingListener{entered: make(chan struct{}), release: make(chan struct{})}
	machine := NewStateMachine(store.Jobs(), WithListener(listener))

	job, err := store.Jobs().Create(context.Background(), csvJob())
	require.NoError(t, err)

	queued := make(chan error, 1)
	go func() {
		_, err := machine.Queue(context.Background(), job.ID)
		queued <- err
	}()
	<-listener.entered

	running := make(chan error, 1)
	go func() {
		_, err := machine.Transition(context.Background(), job.ID, models.JobStatusRunning)
		running <- err
	}()
	select {
	case err := <-running:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("transition waited for a listener of another transition")
	}

	close(listener.release)
	require.NoError(t, <-queued)

	after, err := store.Jobs().Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusRunning, after.Status)
	assert.Equal(t, 0, machine.locks.len())
}

func TestApplySkipsListenerWhenStatusUnchanged(t *testing.T) {
	e := newTestEngine(t)
	job := e.queuedJob(t, csvJob())
	before := len(e.listener.changes)

	_, err := e.machine.Apply(context.Background(), job.ID, func(j *models.Job) error {
		j.RetryCount = 1
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, e.listener.changes, before)
}

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"trigger-server/internal/observability"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name     string
	interval time.Duration
	runs     atomic.Int64
}

func (j *countingJob) Name() string            { return j.name }
func (j *countingJob) Schedule() time.Duration { return j.interval }
func (j *countingJob) Run(context.Context) error {
	j.runs.Add(1)
	return nil
}

type fakeLocker struct {
	acquired bool
	releases atomic.Int64
}

func (f *fakeLocker) AcquireJobLock(context.Context, string) (func(), bool, error) {
	if !f.acquired {
		return nil, false, nil
	}
	return func() { f.releases.Add(1) }, true, nil
}

func TestScheduler_RunsJobImmediatelyAndOnTicks(t *testing.T) {
	job := &countingJob{name: "tick", interval: 20 * time.Millisecond}
	s := New(nil, observability.NewLogger())
	s.Register(job)

	ctx, cancel := context.WithTimeout(context.Background(), 110*time.Millisecond)
	defer cancel()
	err := s.Start(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// One startup run plus several ticks.
	assert.GreaterOrEqual(t, job.runs.Load(), int64(3))
}

func TestScheduler_SkipsWhenLockHeldElsewhere(t *testing.T) {
	job := &countingJob{name: "locked", interval: time.Hour}
	locker := &fakeLocker{acquired: false}
	s := New(locker, observability.NewLogger())

	require.NoError(t, s.executeJob(context.Background(), job))
	assert.Equal(t, int64(0), job.runs.Load())
}

func TestScheduler_ReleasesLockAfterRun(t *testing.T) {
	job := &countingJob{name: "locked", interval: time.Hour}
	locker := &fakeLocker{acquired: true}
	s := New(locker, observability.NewLogger())

	require.NoError(t, s.executeJob(context.Background(), job))
	assert.Equal(t, int64(1), job.runs.Load())
	assert.Equal(t, int64(1), locker.releases.Load())
}

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	name  string
	runs  atomic.Int64
	err   error
	panic bool
}

func (j *countingJob) Name() string        { return j.name }
func (j *countingJob) Description() string { return "counts runs" }
func (j *countingJob) Run(ctx context.Context) error {
	j.runs.Add(1)
	if j.panic {
		panic("kaputt")
	}
	return j.err
}

func TestSchedule_Validate(t *testing.T) {
	assert.NoError(t, Every(time.Minute).Validate())
	assert.NoError(t, Cron("0 18 * * *").Validate())
	assert.ErrorIs(t, Schedule{}.Validate(), ErrInvalidSchedule)
	assert.Equal(t, "every 5m0s", Every(5*time.Minute).String())
	assert.Equal(t, "cron(0 18 * * *)", Cron("0 18 * * *").String())
}

func TestScheduler_Register(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())

	require.NoError(t, s.Register(&countingJob{name: "a"}, Every(time.Hour)))
	assert.ErrorIs(t, s.Register(&countingJob{name: "a"}, Every(time.Hour)), ErrJobAlreadyExists)
	assert.ErrorIs(t, s.Register(&countingJob{name: "b"}, Schedule{}), ErrInvalidSchedule)
	assert.ErrorIs(t, s.Register(&countingJob{name: "c"}, Cron("not a cron")), ErrInvalidSchedule)
	assert.ErrorIs(t, s.Register(nil, Every(time.Hour)), ErrNilJob)

	jobs := s.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "every 1h0m0s", jobs[0].Schedule)
}

func TestScheduler_RunNow(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	ok := &countingJob{name: "ok"}
	failing := &countingJob{name: "failing", err: errors.New("boom")}
	panicking := &countingJob{name: "panicking", panic: true}
	for _, j := range []Job{ok, failing, panicking} {
		require.NoError(t, s.Register(j, Every(time.Hour)))
	}

	res, err := s.RunNow(context.Background(), "ok")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.Manual)

	_, err = s.RunNow(context.Background(), "failing")
	assert.EqualError(t, err, "boom")

	_, err = s.RunNow(context.Background(), "panicking")
	assert.ErrorIs(t, err, ErrJobPanic)

	_, err = s.RunNow(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)

	snap := s.GetMetrics().Snapshot()
	assert.Equal(t, int64(3), snap.TotalExecutions)
	assert.Equal(t, int64(2), snap.TotalFailures)
}

func TestScheduler_StartRunsIntervalJobs(t *testing.T) {
	s := NewScheduler(DefaultSchedulerConfig())
	job := &countingJob{name: "tick"}
	require.NoError(t, s.Register(job, Every(20*time.Millisecond)))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrSchedulerAlreadyRunning)
	assert.True(t, s.IsRunning())

	require.Eventually(t, func() bool { return job.runs.Load() >= 2 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerNotRunning)

	info := s.ListJobs()[0]
	assert.GreaterOrEqual(t, info.RunCount, int64(2))
	assert.False(t, info.LastRun.IsZero())
}

package scheduler

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newScheduler(t *testing.T) *Scheduler {
	t.Helper()

	s, err := New(&Config{Location: time.UTC, JobTimeout: time.Second, Logger: zerolog.Nop()})
	require.NoError(t, err)

	return s
}

func noop(context.Context) {}

func TestJob_Spec(t *testing.T) {
	tests := []struct {
		name    string
		job     Job
		want    string
		wantErr bool
	}{
		{name: "every", job: Job{Every: time.Minute}, want: "@every 1m0s"},
		{name: "at", job: Job{At: "20:30"}, want: "0 30 20 * * *"},
		{name: "at midnight", job: Job{At: "00:05"}, want: "0 5 0 * * *"},
		{name: "bad time", job: Job{At: "25:00"}, wantErr: true},
		{name: "both", job: Job{Every: time.Second, At: "10:00"}, wantErr: true},
		{name: "neither", job: Job{}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.job.spec()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScheduler_AtJobNextActivation(t *testing.T) {
	s := newScheduler(t)

	id, err := s.Add(Job{Name: "night", At: "20:30", Run: noop})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	require.Eventually(t, func() bool { return !s.Next(id).IsZero() }, time.Second, 5*time.Millisecond)
	next := s.Next(id).In(time.UTC)
	assert.Equal(t, 20, next.Hour())
	assert.Equal(t, 30, next.Minute())
	assert.Equal(t, 0, next.Second())
}

func TestScheduler_CancelByTagAndName(t *testing.T) {
	s := newScheduler(t)

	_, err := s.Add(Job{Name: "silence", Tag: "silence", Every: time.Minute, Run: noop})
	require.NoError(t, err)
	_, err = s.Add(Job{Name: "Dentist", Tag: "event_start", At: "09:45", Run: noop})
	require.NoError(t, err)
	_, err = s.Add(Job{Name: "Standup", Tag: "event_start", At: "10:00", Run: noop})
	require.NoError(t, err)
	night, err := s.Add(Job{Name: "night", At: "20:30", Run: noop})
	require.NoError(t, err)

	assert.Len(t, s.Jobs(), 4)

	assert.Equal(t, 1, s.CancelName("Dentist"))
	assert.Equal(t, 1, s.CancelTag("event_start"))
	assert.Equal(t, 0, s.CancelTag("event_start"))
	assert.True(t, s.Cancel(night))
	assert.False(t, s.Cancel(night))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	for _, j := range jobs {
		assert.Equal(t, "silence", j.Name)
	}
}

func TestScheduler_Replace(t *testing.T) {
	s := newScheduler(t)

	require.NoError(t, s.Replace("event_start", []Job{
		{Name: "a", At: "08:00", Run: noop},
		{Name: "b", At: "09:00", Run: noop},
	}))
	require.NoError(t, s.Replace("event_start", []Job{
		{Name: "c", At: "10:00", Run: noop},
	}))

	jobs := s.Jobs()
	require.Len(t, jobs, 1)
	for _, j := range jobs {
		assert.Equal(t, "c", j.Name)
		assert.Equal(t, "event_start", j.Tag)
	}

	err := s.Replace("event_start", []Job{{Name: "bad", At: "nope", Run: noop}})
	assert.Error(t, err)
	assert.Empty(t, s.Jobs())
}

func TestScheduler_AddRejectsInvalidJobs(t *testing.T) {
	s := newScheduler(t)

	_, err := s.Add(Job{Name: "no run", Every: time.Second})
	assert.Error(t, err)

	_, err = s.Add(Job{Name: "no schedule", Run: noop})
	assert.Error(t, err)
}

func TestScheduler_RunsEveryJobAndStopsOnCancel(t *testing.T) {
	s := newScheduler(t)

	var runs atomic.Int32
	var sawDeadline atomic.Bool
	_, err := s.Add(Job{Name: "tick", Every: time.Second, Run: func(ctx context.Context) {
		_, ok := ctx.Deadline()
		sawDeadline.Store(ok)
		runs.Add(1)
	}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return runs.Load() >= 1 }, 3*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.True(t, sawDeadline.Load())
}

func TestScheduler_CancelledJobDoesNotFire(t *testing.T) {
	s := newScheduler(t)

	var runs atomic.Int32
	id, err := s.Add(Job{Name: "tick", Every: time.Second, Run: func(context.Context) { runs.Add(1) }})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.True(t, s.Cancel(id))
	time.Sleep(1500 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Zero(t, runs.Load())
}

func TestScheduler_JobContextEndsWithRun(t *testing.T) {
	s := newScheduler(t)

	ctx, cancel := context.WithCancel(context.Background())
	s.base = ctx

	ended := make(chan struct{})
	run := s.wrap(Job{Name: "calibrate", Run: func(ctx context.Context) {
		<-ctx.Done()
		close(ended)
	}})

	go run()
	cancel()

	select {
	case <-ended:
	case <-time.After(time.Second):
		t.Fatal("job context not cancelled")
	}
}

func TestCronLogger(t *testing.T) {
	var buf bytes.Buffer
	l := cronLogger{logger: zerolog.New(&buf)}

	l.Error(errors.New("boom"), "panic", "job", "tick")
	assert.Contains(t, buf.String(), `"error":"boom"`)
	assert.Contains(t, buf.String(), `"job":"tick"`)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

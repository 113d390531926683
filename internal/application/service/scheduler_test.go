package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSchedulerRunsOnTicks(t *testing.T) {
	tick := make(chan time.Time)
	var runs atomic.Int64

	s := NewScheduler(Job{
		Name:  "sweep",
		Every: time.Minute,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}).WithTicker(func(time.Duration) (<-chan time.Time, func()) {
		return tick, func() {}
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()

	tick <- time.Now()
	tick <- time.Now()
	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop on cancel")
	}
}

func TestSchedulerRunsAtStart(t *testing.T) {
	var runs atomic.Int64

	s := NewScheduler(Job{
		Name:    "sweep",
		Every:   time.Minute,
		AtStart: true,
		Run: func(context.Context) error {
			runs.Add(1)
			return nil
		},
	}).WithTicker(func(time.Duration) (<-chan time.Time, func()) {
		return make(chan time.Time), func() {}
	})

	ctx, cancel := context.WithCancel(context.Background())
	go s.Run(ctx)

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
	cancel()
}

func TestSchedulerSurvivesFailingJob(t *testing.T) {
	tick := make(chan time.Time)
	var runs atomic.Int64

	s := NewScheduler(Job{
		Name:  "flaky",
		Every: time.Minute,
		Run: func(context.Context) error {
			runs.Add(1)
			return errors.New("boom")
		},
	}).WithTicker(func(time.Duration) (<-chan time.Time, func()) {
		return tick, func() {}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	tick <- time.Now()
	tick <- time.Now()
	require.Eventually(t, func() bool { return runs.Load() == 2 }, 2*time.Second, 10*time.Millisecond,
		"a failing run must not stop the cadence")
}

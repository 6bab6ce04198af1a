package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestGoRecoversPanicAndCancelsOnError(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go0("boom", func(ctx context.Context) { panic("kaboom") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic in boom")
	assert.Error(t, s.Context().Err(), "supervisor context should be canceled")
}

func TestGoKeepsFirstErrorWithoutCancel(t *testing.T) {
	s := NewSupervisor(context.Background())
	s.Go("fetch", func(ctx context.Context) error { return errors.New("nope") })

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, "fetch: nope", err.Error())
	assert.NoError(t, s.Context().Err())
	s.Cancel()
}

func TestGoIgnoresContextCanceled(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	s.Go("quiet", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	s.Cancel()
	assert.NoError(t, s.Wait(waitCtx(t)))
	assert.NoError(t, s.Err())
}

func TestWaitHonorsDeadline(t *testing.T) {
	s := NewSupervisor(context.Background())
	release := make(chan struct{})
	s.Go0("stuck", func(context.Context) { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Wait(ctx), context.DeadlineExceeded)
}

func TestGoRestartRecordsFailuresUntilCanceled(t *testing.T) {
	s := NewSupervisor(context.Background())
	var runs atomic.Int32
	s.GoRestart("flaky", func(ctx context.Context) error {
		if runs.Add(1) == 4 {
			s.Cancel()
		}
		return errors.New("nope")
	},
		WithRestartBackoff(time.Millisecond, 2*time.Millisecond),
		WithPublishFirstError(true),
	)

	err := s.Wait(waitCtx(t))
	require.Error(t, err)
	assert.Equal(t, "flaky: nope", err.Error())
	assert.Equal(t, int32(4), runs.Load())
}

func TestGoRestartRunsAgainAfterCleanExitAndPanic(t *testing.T) {
	s := NewSupervisor(context.Background(), WithCancelOnError(true))
	var runs atomic.Int32
	s.GoRestart("poll", func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			panic("poller crashed")
		case 3:
			s.Cancel()
		}
		return nil
	}, WithRestartBackoff(time.Millisecond, time.Millisecond))

	require.NoError(t, s.Wait(waitCtx(t)), "restarted failures are not published by default")
	assert.Equal(t, int32(3), runs.Load())
}

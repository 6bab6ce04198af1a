// Package supervisor runs named goroutines under one cancelable context and
// keeps the first failure.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	logx "bookbot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg sync.WaitGroup

	mu  sync.Mutex
	err error
}

type Option func(*Supervisor)

func WithLogger(l logx.Logger) Option { return func(s *Supervisor) { s.log = l } }

// WithCancelOnError cancels every goroutine once one of them fails.
func WithCancelOnError(on bool) Option { return func(s *Supervisor) { s.cancelOnErr = on } }

func NewSupervisor(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded failure.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Go runs fn until it returns. A panic or an error other than
// context.Canceled is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.run(name, fn); err != nil {
			s.fail(err)
		}
	}()
}

func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

func (s *Supervisor) run(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("goroutine panicked", logx.String("name", name),
				logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic in %s: %v", name, r)
		}
	}()
	if err := fn(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

func (s *Supervisor) record(err error) {
	s.mu.Lock()
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
}

func (s *Supervisor) fail(err error) {
	s.record(err)
	s.log.Error("goroutine failed", logx.Err(err))
	if s.cancelOnErr {
		s.cancel()
	}
}

type restartPolicy struct {
	min, max time.Duration
	record   bool
}

type RestartOption func(*restartPolicy)

// WithRestartBackoff sets the first and the largest delay between runs.
func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(p *restartPolicy) {
		if min > 0 {
			p.min = min
		}
		if max >= p.min {
			p.max = max
		}
	}
}

// WithPublishFirstError makes a failed run visible through Err without
// canceling the supervisor.
func WithPublishFirstError(on bool) RestartOption {
	return func(p *restartPolicy) { p.record = on }
}

// GoRestart runs fn again each time it returns or panics until the
// supervisor context is done. The delay doubles after every run up to the
// configured maximum and resets once a run lasts a minute.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	p := restartPolicy{min: 250 * time.Millisecond, max: 30 * time.Second}
	for _, o := range opts {
		o(&p)
	}
	s.Go0(name, func(ctx context.Context) {
		delay := p.min
		for {
			began := time.Now()
			err := s.run(name, fn)
			if ctx.Err() != nil {
				return
			}
			if err != nil && p.record {
				s.record(err)
			}
			if time.Since(began) >= time.Minute {
				delay = p.min
			}
			s.log.Warn("goroutine exited; restarting", logx.String("name", name),
				logx.Duration("delay", delay), logx.Err(err))

			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
			delay = min(delay*2, p.max)
		}
	})
}

// Wait blocks until every goroutine has returned or ctx is done.
func (s *Supervisor) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

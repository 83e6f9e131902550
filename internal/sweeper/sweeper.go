// Package sweeper periodically expires pending actions that nobody
// confirmed. Expiry is also enforced lazily on read; the sweep only keeps
// the stored status in line with the clock.
package sweeper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSchedule runs the sweep once a minute.
const DefaultSchedule = "@every 1m"

const defaultRunTimeout = 30 * time.Second

// Expirer marks overdue pending actions as expired.
type Expirer interface {
	Sweep(ctx context.Context) (int, error)
}

type Sweeper struct {
	expirer  Expirer
	schedule string
	timeout  time.Duration
	logger   *zap.Logger
	onSweep  func(n int)

	mu      sync.Mutex
	cron    *cron.Cron
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

type Option func(*Sweeper)

// WithSchedule sets the cron spec, e.g. "@every 30s" or "*/5 * * * *".
func WithSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.schedule = spec
		}
	}
}

// WithRunTimeout bounds a single sweep.
func WithRunTimeout(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSweepHook is called with the number of actions each sweep expired.
func WithSweepHook(fn func(n int)) Option {
	return func(s *Sweeper) { s.onSweep = fn }
}

// New validates the schedule; nothing runs until Start.
func New(e Expirer, opts ...Option) (*Sweeper, error) {
	s := &Sweeper{
		expirer:  e,
		schedule: DefaultSchedule,
		timeout:  defaultRunTimeout,
		logger:   zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return nil, fmt.Errorf("sweeper: schedule %q: %w", s.schedule, err)
	}
	return s, nil
}

// Start launches the cron loop. Calling Start twice is a no-op.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	logger := cronLogger{s.logger.Sugar()}
	c := cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	if _, err := c.AddFunc(s.schedule, s.run); err != nil {
		s.cancel()
		return fmt.Errorf("sweeper: %w", err)
	}
	c.Start()
	s.cron = c
	s.running = true
	s.logger.Info("sweeper: started", zap.String("schedule", s.schedule))
	return nil
}

// Stop halts the loop and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c, cancel := s.cron, s.cancel
	s.mu.Unlock()

	cancel()
	<-c.Stop().Done()
	s.logger.Info("sweeper: stopped")
}

// RunOnce performs one sweep immediately.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.expirer.Sweep(ctx)
	if err != nil {
		return 0, err
	}
	if s.onSweep != nil {
		s.onSweep(n)
	}
	return n, nil
}

func (s *Sweeper) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	n, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Warn("sweeper: sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("sweeper: pending actions expired", zap.Int("count", n))
	}
}

// cronLogger routes cron's own logging through zap.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, kv ...any) {
	c.l.Debugw("sweeper: cron "+msg, kv...)
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.l.Errorw("sweeper: cron "+msg, append(kv, "error", err)...)
}

package ticker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "reposter/pkg/logx"
)

const (
	DefaultInterval     = 60 * time.Second
	DefaultInitialDelay = 10 * time.Second
)

type Config struct {
	Interval     time.Duration // rounded down to whole seconds, minimum 1s
	InitialDelay time.Duration // 0 means the first run waits one Interval
	Timeout      time.Duration // per-run deadline; 0 means none
	Location     *time.Location
}

// Func is one run of the periodic work.
type Func func(ctx context.Context) error

type Service struct {
	cfg Config
	fn  Func
	log logx.Logger

	mu     sync.Mutex
	c      *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc

	runs    atomic.Uint64
	lastErr atomic.Value // string
}

func New(cfg Config, fn Func, log logx.Logger) (*Service, error) {
	if fn == nil {
		return nil, errors.New("ticker func is required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{cfg: cfg, fn: fn, log: log}, nil
}

// Start schedules the first run after InitialDelay. It is a no-op if already started.
// ctx bounds every run; cancelling it interrupts a run in progress.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	cl := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithLocation(s.cfg.Location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	s.c.Schedule(makeSchedule(s.cfg.Interval, s.cfg.InitialDelay, time.Now()), cron.FuncJob(s.run))
	s.c.Start()

	s.log.Info("ticker started",
		logx.Duration("interval", s.cfg.Interval),
		logx.Duration("initial_delay", s.cfg.InitialDelay),
	)
}

// Stop cancels any run in progress and waits for it to return or for ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.cancel = nil, nil
	s.mu.Unlock()
	if c == nil {
		return
	}

	start := time.Now()
	done := c.Stop().Done()
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("ticker stop timed out; run still in progress", logx.Err(ctx.Err()))
	}
	s.log.Info("ticker stopped", logx.Duration("took", time.Since(start)), logx.Int64("runs", int64(s.runs.Load())))
}

// Runs reports how many runs have completed.
func (s *Service) Runs() uint64 { return s.runs.Load() }

// LastError is the error text of the most recent run, empty on success.
func (s *Service) LastError() string {
	v, _ := s.lastErr.Load().(string)
	return v
}

func (s *Service) run() {
	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}

	ctx := parent
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(parent, s.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := s.fn(ctx)
	s.runs.Add(1)
	if err != nil {
		s.lastErr.Store(err.Error())
		if parent.Err() != nil {
			s.log.Debug("tick interrupted by shutdown", logx.Err(err))
			return
		}
		s.log.Error("tick failed", logx.Duration("took", time.Since(start)), logx.Err(err))
		return
	}
	s.lastErr.Store("")
	s.log.Debug("tick done", logx.Duration("took", time.Since(start)))
}

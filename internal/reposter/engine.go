package reposter

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"reposter/internal/eventbus"
	"reposter/internal/storage"
	logx "reposter/pkg/logx"
)

// Publisher delivers content to a destination. One call is one attempt.
type Publisher interface {
	Send(ctx context.Context, destination, content string) error
}

// JobHandle is what CreateJob hands back for display.
type JobHandle struct {
	ID       string
	Schedule []time.Time
}

// JobSummary describes an active job and its remaining reposts.
type JobSummary struct {
	ID       string
	Text     string
	Schedule []time.Time
}

type Option func(*Engine)

// WithClock overrides the time source (tests, simulations).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

// WithRand overrides the random source used for schedule generation.
func WithRand(rng *rand.Rand) Option {
	return func(e *Engine) {
		if rng != nil {
			e.rng = rng
		}
	}
}

func WithLogger(log logx.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithBus publishes job lifecycle events on bus.
func WithBus(bus eventbus.Bus) Option {
	return func(e *Engine) { e.bus = bus }
}

type Engine struct {
	cfg   Config
	store storage.Store
	pub   Publisher

	log logx.Logger
	bus eventbus.Bus
	now func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	// mu guards every load -> mutate -> save section.
	mu sync.Mutex
}

func New(cfg Config, store storage.Store, pub Publisher, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	e := &Engine{
		cfg:   cfg,
		store: store,
		pub:   pub,
		now:   time.Now,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, o := range opts {
		o(e)
	}
	if e.log.IsZero() {
		e.log = logx.Nop()
	}
	return e, nil
}

func (e *Engine) Config() Config { return e.cfg }

// CreateJob publishes text right away and, only if that succeeded, stores a new
// active job with a fresh repost schedule.
//
// origin identifies the triggering event (e.g. the command's message id) and
// becomes the job id; a numeric suffix is added on collision. Empty origin
// falls back to a random UUID.
func (e *Engine) CreateJob(ctx context.Context, text, origin string) (JobHandle, error) {
	if strings.TrimSpace(text) == "" {
		return JobHandle{}, ErrEmptyContent
	}
	if n := utf8.RuneCountInString(text); n > MaxContentRunes {
		return JobHandle{}, fmt.Errorf("%w: %d characters, limit %d", ErrContentTooLong, n, MaxContentRunes)
	}

	if err := e.pub.Send(ctx, e.cfg.Destination, text); err != nil {
		e.log.Error("initial publish failed; job not scheduled", logx.String("origin", origin), logx.Err(err))
		return JobHandle{}, fmt.Errorf("%w: %w", ErrPublish, err)
	}

	sched := e.generate(e.now())

	e.mu.Lock()
	jobs := e.store.Load(ctx)
	id := uniqueID(jobs, origin)
	job := &storage.Job{ID: id, Text: text, Schedule: sched, Status: storage.StatusActive}
	if err := jobs.Put(job); err != nil {
		e.mu.Unlock()
		return JobHandle{}, err
	}
	if err := e.store.Save(ctx, jobs); err != nil {
		// Best effort: the post is out, the schedule only lives until the next load.
		e.log.Warn("job published but schedule not persisted", logx.String("job", id), logx.Err(err))
	}
	e.mu.Unlock()

	e.log.Info("job created",
		logx.String("job", id),
		logx.Int("reposts", len(sched)),
		logx.Time("first", sched[0]),
		logx.Time("last", sched[len(sched)-1]),
	)
	e.emit(EventJobCreated, id, map[string]any{"reposts": len(sched)})

	return JobHandle{ID: id, Schedule: append([]time.Time(nil), sched...)}, nil
}

// Tick runs one due-check pass: every active job whose earliest entry is due
// gets exactly one repost. A failed publish leaves the entry in place so the
// next Tick retries it. The table is written once, and only if something
// changed; the returned error is the save error, if any.
func (e *Engine) Tick(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	jobs := e.store.Load(ctx)
	changed := false

	for _, job := range jobs.All() {
		if ctx.Err() != nil {
			e.log.Warn("tick interrupted", logx.Err(ctx.Err()))
			break
		}
		if !job.Due(now) {
			continue
		}
		slot := job.Schedule[0]
		e.log.Info("repost due", logx.String("job", job.ID), logx.Time("slot", slot))

		if err := e.pub.Send(ctx, e.cfg.Destination, job.Text); err != nil {
			e.log.Error("repost failed; will retry next tick", logx.String("job", job.ID), logx.Time("slot", slot), logx.Err(err))
			e.emit(EventRepostFailed, job.ID, map[string]any{"slot": slot, "err": err.Error()})
			continue
		}

		job.PopFront()
		changed = true
		e.log.Info("job reposted", logx.String("job", job.ID), logx.Int("remaining", len(job.Schedule)))
		e.emit(EventJobReposted, job.ID, map[string]any{"slot": slot, "remaining": len(job.Schedule)})

		if len(job.Schedule) == 0 {
			job.Status = storage.StatusExpired
			e.log.Info("job expired", logx.String("job", job.ID))
			e.emit(EventJobExpired, job.ID, nil)
		}
	}

	if !changed {
		return nil
	}
	// Reposts already went out; record them even if ctx was cancelled mid-pass.
	return e.store.Save(context.WithoutCancel(ctx), jobs)
}

// ListActive returns active jobs that still have reposts left, in creation order.
func (e *Engine) ListActive(ctx context.Context) []JobSummary {
	e.mu.Lock()
	jobs := e.store.Load(ctx)
	e.mu.Unlock()

	out := make([]JobSummary, 0, jobs.Len())
	for _, job := range jobs.All() {
		if job.Status != storage.StatusActive || len(job.Schedule) == 0 {
			continue
		}
		out = append(out, JobSummary{
			ID:       job.ID,
			Text:     job.Text,
			Schedule: append([]time.Time(nil), job.Schedule...),
		})
	}
	return out
}

// StopJob stops the first active job (in creation order) whose id starts
// with prefix and returns its full id. Prefix matching is a typing shortcut
// for operators, not a uniqueness guarantee: an ambiguous prefix stops the
// oldest match.
func (e *Engine) StopJob(ctx context.Context, prefix string) (string, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return "", ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	jobs := e.store.Load(ctx)
	for _, job := range jobs.All() {
		if job.Status != storage.StatusActive || !strings.HasPrefix(job.ID, prefix) {
			continue
		}
		job.Status = storage.StatusStopped
		if err := e.store.Save(ctx, jobs); err != nil {
			e.log.Warn("job stop not persisted", logx.String("job", job.ID), logx.Err(err))
		}
		e.log.Info("job stopped by operator", logx.String("job", job.ID), logx.Int("remaining", len(job.Schedule)))
		e.emit(EventJobStopped, job.ID, nil)
		return job.ID, nil
	}
	return "", ErrNotFound
}

func (e *Engine) generate(now time.Time) []time.Time {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	return GenerateSchedule(now, e.cfg, e.rng)
}

func (e *Engine) emit(typ, jobID string, data map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: e.now(), JobID: jobID, Data: data})
}

func uniqueID(jobs *storage.Jobs, origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return uuid.NewString()
	}
	if !jobs.Has(origin) {
		return origin
	}
	for n := 2; ; n++ {
		id := origin + "-" + strconv.Itoa(n)
		if !jobs.Has(id) {
			return id
		}
	}
}

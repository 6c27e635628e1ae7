package reposter

import (
	"context"
	"errors"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reposter/internal/eventbus"
	"reposter/internal/storage"
)

type sent struct {
	dest, text string
}

type fakePublisher struct {
	mu    sync.Mutex
	calls []sent
	err   error
}

func (p *fakePublisher) Send(_ context.Context, dest, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, sent{dest, text})
	return p.err
}

func (p *fakePublisher) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// memStore keeps a deep copy of the last saved table and counts writes.
type memStore struct {
	mu      sync.Mutex
	jobs    *storage.Jobs
	saves   int
	saveErr error
}

func newMemStore() *memStore { return &memStore{jobs: storage.NewJobs()} }

func (s *memStore) Load(context.Context) *storage.Jobs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs.Clone()
}

func (s *memStore) Save(_ context.Context, js *storage.Jobs) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves++
	if s.saveErr != nil {
		return errors.Join(storage.ErrStore, s.saveErr)
	}
	s.jobs = js.Clone()
	return nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) job(t *testing.T, id string) *storage.Job {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs.Get(id)
	require.True(t, ok, "job %s not stored", id)
	return j
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type harness struct {
	eng   *Engine
	pub   *fakePublisher
	store *memStore
	clock *clock
}

func newHarness(t *testing.T, start time.Time, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		pub:   &fakePublisher{},
		store: newMemStore(),
		clock: &clock{now: start},
	}
	cfg := DefaultConfig("@jobs")
	cfg.Location = time.UTC
	opts = append([]Option{WithClock(h.clock.Now), WithRand(rand.New(rand.NewSource(7)))}, opts...)
	eng, err := New(cfg, h.store, h.pub, opts...)
	require.NoError(t, err)
	h.eng = eng
	return h
}

var jan1 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestNewRejectsInvalidConfig(t *testing.T) {
	_, err := New(Config{HourStart: 9, HourEnd: 23, PostingDays: 14}, newMemStore(), &fakePublisher{})
	require.Error(t, err)

	cfg := DefaultConfig("@jobs")
	cfg.HourStart, cfg.HourEnd = 20, 10
	_, err = New(cfg, newMemStore(), &fakePublisher{})
	require.Error(t, err)

	_, err = New(DefaultConfig("@jobs"), nil, &fakePublisher{})
	require.Error(t, err)
}

func TestCreateJobPublishesThenPersists(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)

	handle, err := h.eng.CreateJob(ctx, "Opening", "101")
	require.NoError(t, err)
	assert.Equal(t, "101", handle.ID)
	assert.Len(t, handle.Schedule, 13)

	require.Equal(t, []sent{{"@jobs", "Opening"}}, h.pub.calls)
	assert.Equal(t, 1, h.store.saveCount())

	j := h.store.job(t, "101")
	assert.Equal(t, storage.StatusActive, j.Status)
	assert.Equal(t, "Opening", j.Text)
	assert.Equal(t, handle.Schedule, j.Schedule)
}

func TestCreateJobPublishFailurePersistsNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)
	h.pub.setErr(errors.New("bot is not an admin of the channel"))

	_, err := h.eng.CreateJob(ctx, "Opening", "101")
	require.ErrorIs(t, err, ErrPublish)
	assert.Equal(t, 0, h.store.saveCount())
	assert.Empty(t, h.eng.ListActive(ctx))
}

func TestCreateJobRejectsEmptyText(t *testing.T) {
	h := newHarness(t, jan1)
	_, err := h.eng.CreateJob(context.Background(), "  \n ", "1")
	require.ErrorIs(t, err, ErrEmptyContent)
	assert.Equal(t, 0, h.pub.count())
}

func TestCreateJobRejectsOverlongText(t *testing.T) {
	h := newHarness(t, jan1)
	_, err := h.eng.CreateJob(context.Background(), strings.Repeat("я", MaxContentRunes+1), "1")
	require.ErrorIs(t, err, ErrContentTooLong)
	assert.Equal(t, 0, h.pub.count())
	assert.Equal(t, 0, h.store.saveCount())

	_, err = h.eng.CreateJob(context.Background(), strings.Repeat("я", MaxContentRunes), "2")
	require.NoError(t, err)
	assert.Equal(t, 1, h.pub.count())
}

func TestCreateJobIDCollisionAndFallback(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)

	a, err := h.eng.CreateJob(ctx, "a", "7")
	require.NoError(t, err)
	b, err := h.eng.CreateJob(ctx, "b", "7")
	require.NoError(t, err)
	c, err := h.eng.CreateJob(ctx, "c", "7")
	require.NoError(t, err)
	d, err := h.eng.CreateJob(ctx, "d", "")
	require.NoError(t, err)

	assert.Equal(t, "7", a.ID)
	assert.Equal(t, "7-2", b.ID)
	assert.Equal(t, "7-3", c.ID)
	assert.Len(t, d.ID, 36)
}

func TestCreateJobSaveFailureKeepsGoing(t *testing.T) {
	h := newHarness(t, jan1)
	h.store.saveErr = errors.New("disk full")

	handle, err := h.eng.CreateJob(context.Background(), "Opening", "1")
	require.NoError(t, err)
	assert.Equal(t, "1", handle.ID)
	assert.Equal(t, 1, h.pub.count())
}

func TestTickNothingDueWritesNothing(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)
	_, err := h.eng.CreateJob(ctx, "Opening", "1")
	require.NoError(t, err)
	saves := h.store.saveCount()

	require.NoError(t, h.eng.Tick(ctx))
	assert.Equal(t, saves, h.store.saveCount())
	assert.Equal(t, 1, h.pub.count())
}

func TestTickDispatchesAtMostOncePerJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)
	_, err := h.eng.CreateJob(ctx, "first", "1")
	require.NoError(t, err)
	_, err = h.eng.CreateJob(ctx, "second", "2")
	require.NoError(t, err)

	// Far past every entry: each job still advances by exactly one.
	h.clock.Set(jan1.AddDate(0, 1, 0))
	require.NoError(t, h.eng.Tick(ctx))

	assert.Equal(t, 4, h.pub.count())
	assert.Len(t, h.store.job(t, "1").Schedule, 12)
	assert.Len(t, h.store.job(t, "2").Schedule, 12)
}

func TestTickPublishFailureRetriesNextTick(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)
	handle, err := h.eng.CreateJob(ctx, "Opening", "1")
	require.NoError(t, err)
	saves := h.store.saveCount()

	h.clock.Set(handle.Schedule[0])
	h.pub.setErr(errors.New("flood wait"))
	require.NoError(t, h.eng.Tick(ctx))
	assert.Equal(t, saves, h.store.saveCount(), "failed repost must not rewrite the table")
	assert.Len(t, h.store.job(t, "1").Schedule, 13)

	h.pub.setErr(nil)
	require.NoError(t, h.eng.Tick(ctx))
	assert.Len(t, h.store.job(t, "1").Schedule, 12)
	assert.Equal(t, 3, h.pub.count())
}

func TestTickReturnsSaveError(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)
	handle, err := h.eng.CreateJob(ctx, "Opening", "1")
	require.NoError(t, err)

	h.store.saveErr = errors.New("read-only fs")
	h.clock.Set(handle.Schedule[0])
	require.ErrorIs(t, h.eng.Tick(ctx), storage.ErrStore)
}

func TestTickCancelledStopsDispatch(t *testing.T) {
	h := newHarness(t, jan1)
	_, err := h.eng.CreateJob(context.Background(), "Opening", "1")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	h.clock.Set(jan1.AddDate(0, 1, 0))
	require.NoError(t, h.eng.Tick(ctx))
	assert.Equal(t, 1, h.pub.count())
}

func TestStopJob(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)
	_, err := h.eng.CreateJob(ctx, "first", "1234")
	require.NoError(t, err)
	_, err = h.eng.CreateJob(ctx, "second", "1299")
	require.NoError(t, err)

	id, err := h.eng.StopJob(ctx, "12")
	require.NoError(t, err)
	assert.Equal(t, "1234", id, "ambiguous prefix stops the oldest match")

	active := h.eng.ListActive(ctx)
	require.Len(t, active, 1)
	assert.Equal(t, "1299", active[0].ID)

	// Stopped jobs keep their schedule but are never published again.
	assert.Len(t, h.store.job(t, "1234").Schedule, 13)
	h.clock.Set(jan1.AddDate(0, 1, 0))
	require.NoError(t, h.eng.Tick(ctx))
	assert.Equal(t, 3, h.pub.count())
	assert.Len(t, h.store.job(t, "1234").Schedule, 13)
}

func TestStopJobNotFoundLeavesStoreUnchanged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)
	_, err := h.eng.CreateJob(ctx, "first", "1234")
	require.NoError(t, err)
	_, err = h.eng.StopJob(ctx, "1234")
	require.NoError(t, err)

	_, err = h.eng.CreateJob(ctx, "second", "5678")
	require.NoError(t, err)
	h.clock.Set(jan1.AddDate(1, 0, 0))
	for i := 0; i < 13; i++ {
		require.NoError(t, h.eng.Tick(ctx))
	}
	require.Equal(t, storage.StatusExpired, h.store.job(t, "5678").Status)
	saves := h.store.saveCount()

	for _, prefix := range []string{"1234", "5678", "56", "9", ""} {
		_, err := h.eng.StopJob(ctx, prefix)
		require.ErrorIs(t, err, ErrNotFound, "prefix %q", prefix)
	}
	assert.Equal(t, saves, h.store.saveCount())
	assert.Equal(t, storage.StatusStopped, h.store.job(t, "1234").Status)
	assert.Equal(t, storage.StatusExpired, h.store.job(t, "5678").Status)
}

func TestEventsArePublished(t *testing.T) {
	ctx := context.Background()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(64)
	defer unsub()

	h := newHarness(t, jan1, WithBus(bus))
	handle, err := h.eng.CreateJob(ctx, "Opening", "1")
	require.NoError(t, err)
	h.clock.Set(handle.Schedule[0])
	require.NoError(t, h.eng.Tick(ctx))
	_, err = h.eng.StopJob(ctx, "1")
	require.NoError(t, err)

	var types []string
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	assert.Equal(t, []string{EventJobCreated, EventJobReposted, EventJobStopped}, types)
}

func TestOpeningScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)

	_, err := h.eng.CreateJob(ctx, "Opening", "1")
	require.NoError(t, err)

	j := h.store.job(t, "1")
	require.Equal(t, storage.StatusActive, j.Status)
	require.Len(t, j.Schedule, 13)
	lo := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	hi := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	for i, ts := range j.Schedule {
		assert.False(t, ts.Before(lo), ts)
		assert.True(t, ts.Before(hi), ts)
		assert.GreaterOrEqual(t, ts.Hour(), 9)
		assert.LessOrEqual(t, ts.Hour(), 23)
		if i > 0 {
			assert.True(t, ts.After(j.Schedule[i-1]))
		}
	}

	for remaining := 12; remaining >= 0; remaining-- {
		front := h.store.job(t, "1").Schedule[0]
		h.clock.Set(front)
		before := h.pub.count()

		require.NoError(t, h.eng.Tick(ctx))
		require.Equal(t, before+1, h.pub.count())
		assert.Len(t, h.store.job(t, "1").Schedule, remaining)
	}

	assert.Equal(t, storage.StatusExpired, h.store.job(t, "1").Status)
	assert.Empty(t, h.eng.ListActive(ctx))

	// An expired job is inert.
	h.clock.Set(jan1.AddDate(1, 0, 0))
	require.NoError(t, h.eng.Tick(ctx))
	assert.Equal(t, 14, h.pub.count())
}

func TestListActiveReturnsCopies(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, jan1)
	_, err := h.eng.CreateJob(ctx, "Opening", "1")
	require.NoError(t, err)

	list := h.eng.ListActive(ctx)
	require.Len(t, list, 1)
	list[0].Schedule[0] = time.Time{}
	assert.False(t, h.store.job(t, "1").Schedule[0].IsZero())
}

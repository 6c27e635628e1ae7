package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "reposter/pkg/logx"
)

type testLogWriter struct{ t *testing.T }

func (w testLogWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimSpace(string(p)))
	return len(p), nil
}

func newTestLogger(t *testing.T) logx.Logger {
	return logx.NewWriter(testLogWriter{t}, "debug")
}

func at(s string) time.Time {
	t, err := time.ParseInLocation(TimeLayout, s, time.UTC)
	if err != nil {
		panic(err)
	}
	return t
}

func sampleJobs(t *testing.T) *Jobs {
	t.Helper()
	js := NewJobs()
	require.NoError(t, js.Put(&Job{
		ID:       "912",
		Text:     "وظيفة: مهندس برمجيات <remote> & more",
		Schedule: []time.Time{at("2024-01-02 09:15:00"), at("2024-01-03 22:40:00")},
		Status:   StatusActive,
	}))
	require.NoError(t, js.Put(&Job{ID: "88", Text: "Opening", Status: StatusExpired}))
	require.NoError(t, js.Put(&Job{
		ID:       "1000",
		Text:     "multi\nline",
		Schedule: []time.Time{at("2024-02-01 23:59:00")},
		Status:   StatusStopped,
	}))
	return js
}

func openTestStore(t *testing.T, driver string) Store {
	t.Helper()
	ext := ".json"
	if driver == "sqlite" {
		ext = ".db"
	}
	st, err := Open(Config{
		Driver:   driver,
		Path:     filepath.Join(t.TempDir(), "data", "scheduled_jobs"+ext),
		Location: time.UTC,
	}, newTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestStoreRoundTrip(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTestStore(t, driver)

			want := sampleJobs(t)
			require.NoError(t, st.Save(ctx, want))

			got := st.Load(ctx)
			require.Equal(t, want, got)

			ids := make([]string, 0, got.Len())
			for _, j := range got.All() {
				ids = append(ids, j.ID)
			}
			assert.Equal(t, []string{"912", "88", "1000"}, ids, "insertion order must survive a reload")
		})
	}
}

func TestStoreSaveReplacesContent(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			st := openTestStore(t, driver)

			require.NoError(t, st.Save(ctx, sampleJobs(t)))

			smaller := NewJobs()
			require.NoError(t, smaller.Put(&Job{ID: "1", Text: "only", Status: StatusActive, Schedule: []time.Time{at("2024-03-01 10:00:00")}}))
			require.NoError(t, st.Save(ctx, smaller))

			got := st.Load(ctx)
			require.Equal(t, 1, got.Len())
			_, ok := got.Get("912")
			assert.False(t, ok)
		})
	}
}

func TestStoreLoadMissingIsEmpty(t *testing.T) {
	for _, driver := range []string{"file", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			got := openTestStore(t, driver).Load(context.Background())
			require.NotNil(t, got)
			assert.Equal(t, 0, got.Len())
		})
	}
}

func TestFileStoreCorruptIsEmpty(t *testing.T) {
	cases := map[string]string{
		"garbage":     "{not json",
		"empty":       "",
		"array":       `["a"]`,
		"null record": `{"1": null}`,
		"trailing":    `{} {}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "jobs.json")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
			st, err := Open(Config{Driver: "file", Path: path, Location: time.UTC}, newTestLogger(t))
			require.NoError(t, err)

			got := st.Load(context.Background())
			assert.Equal(t, 0, got.Len())
		})
	}
}

func TestFileStoreKeepsGoodJobsNextToMalformedOnes(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "jobs.json")
	doc := `{
		"100": {"text": "Go developer", "repost_schedule": ["2024-01-02 10:00:00"], "status": "active"},
		"101": {"text": "legacy", "repost_schedule": []},
		"102": {"text": "odd", "repost_schedule": ["2024-13-01 00:00:00", "2024-01-05 11:00:00"], "status": "active"},
		"103": {"text": 42},
		"104": {"text": "paused", "repost_schedule": [], "status": "paused"}
	}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))
	st, err := Open(Config{Driver: "file", Path: path, Location: time.UTC}, newTestLogger(t))
	require.NoError(t, err)

	got := st.Load(ctx)
	ids := make([]string, 0, got.Len())
	for _, j := range got.All() {
		ids = append(ids, j.ID)
	}
	assert.Equal(t, []string{"100", "101", "102", "104"}, ids, "only the non-object record is dropped")

	active, _ := got.Get("100")
	assert.Equal(t, StatusActive, active.Status)
	assert.Equal(t, []time.Time{at("2024-01-02 10:00:00")}, active.Schedule)
	for _, id := range []string{"101", "102", "104"} {
		j, _ := got.Get(id)
		assert.Equal(t, StatusStopped, j.Status, id)
	}
	legacy, _ := got.Get("101")
	assert.Equal(t, "legacy", legacy.Text)

	// A write after the load must not lose the active job.
	require.NoError(t, got.Put(&Job{ID: "200", Text: "new", Status: StatusActive, Schedule: []time.Time{at("2024-02-01 09:00:00")}}))
	require.NoError(t, st.Save(ctx, got))
	again := st.Load(ctx)
	assert.Equal(t, 5, again.Len())
	j, ok := again.Get("100")
	require.True(t, ok)
	assert.Equal(t, StatusActive, j.Status)
}

func TestDecodeJobsReportsSkippedRecords(t *testing.T) {
	js, skipped, err := DecodeJobs([]byte(`{"1": {"text": "x", "repost_schedule": []}, "2": null}`), time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 1, js.Len())
	require.Len(t, skipped, 2)
	assert.Contains(t, skipped[0].Error(), "kept as stopped")
	assert.Contains(t, skipped[1].Error(), "dropped")
}

func TestSQLiteStoreKeepsGoodRowsNextToMalformedOnes(t *testing.T) {
	ctx := context.Background()
	st := openTestStore(t, "sqlite")
	require.NoError(t, st.Save(ctx, sampleJobs(t)))

	db := st.(*sqliteStore).db
	_, err := db.ExecContext(ctx, `INSERT INTO jobs(seq, id, text, repost_schedule, status) VALUES
		(10, 'bad-status', 'legacy', '[]', ''),
		(11, 'bad-sched', 'broken', 'not json', 'active')`)
	require.NoError(t, err)

	got := st.Load(ctx)
	assert.Equal(t, 5, got.Len())
	j, _ := got.Get("912")
	assert.Equal(t, StatusActive, j.Status)
	for _, id := range []string{"bad-status", "bad-sched"} {
		j, ok := got.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, StatusStopped, j.Status, id)
		assert.Nil(t, j.Schedule, id)
	}
}

func TestFileStoreSaveFailureWrapsErrStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "jobs.json")
	require.NoError(t, os.Mkdir(path, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(path, "keep"), []byte("x"), 0o600))

	st, err := Open(Config{Driver: "file", Path: path, Location: time.UTC}, newTestLogger(t))
	require.NoError(t, err)

	err = st.Save(context.Background(), sampleJobs(t))
	require.ErrorIs(t, err, ErrStore)
}

func TestEncodeJobsLayout(t *testing.T) {
	b, err := EncodeJobs(sampleJobs(t), time.UTC)
	require.NoError(t, err)
	out := string(b)

	assert.True(t, strings.HasPrefix(out, "{\n    \"912\": {\n        \"text\": "), out)
	assert.Contains(t, out, `"repost_schedule": [`)
	assert.Contains(t, out, `"2024-01-03 22:40:00"`)
	assert.Contains(t, out, `"status": "expired"`)
	assert.Contains(t, out, "مهندس برمجيات <remote> & more", "text is written unescaped")
	assert.Contains(t, out, `"repost_schedule": []`, "empty schedules are an empty list, not null")
}

func TestZonelessTimestampsInRepeatedHour(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// 01:30 occurs twice on 2026-11-01 in New York; the second one is EST.
	second := time.Date(2026, 11, 1, 6, 30, 0, 0, time.UTC)
	require.Equal(t, 1, second.In(ny).Hour())

	roundTrip := func(loc *time.Location) time.Time {
		js := NewJobs()
		require.NoError(t, js.Put(&Job{ID: "1", Text: "x", Schedule: []time.Time{second}, Status: StatusActive}))
		b, err := EncodeJobs(js, loc)
		require.NoError(t, err)
		got, skipped, err := DecodeJobs(b, loc)
		require.NoError(t, err)
		require.Empty(t, skipped)
		j, ok := got.Get("1")
		require.True(t, ok)
		return j.Schedule[0]
	}

	assert.True(t, roundTrip(time.UTC).Equal(second))
	assert.Equal(t, time.Hour, second.Sub(roundTrip(ny)), "the repeated hour resolves to its first occurrence")
}

func TestDecodeJobsDuplicateKeyKeepsFirstPosition(t *testing.T) {
	doc := `{
		"a": {"text": "first", "repost_schedule": [], "status": "active"},
		"b": {"text": "b", "repost_schedule": [], "status": "active"},
		"a": {"text": "second", "repost_schedule": [], "status": "stopped"}
	}`
	js, skipped, err := DecodeJobs([]byte(doc), time.UTC)
	require.NoError(t, err)
	assert.Empty(t, skipped)

	all := js.All()
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "second", all[0].Text)
	assert.Equal(t, StatusStopped, all[0].Status)
}

func TestJobPopFront(t *testing.T) {
	j := &Job{ID: "1", Status: StatusActive, Schedule: []time.Time{at("2024-01-02 10:00:00"), at("2024-01-03 10:00:00")}}

	assert.False(t, j.Due(at("2024-01-02 09:59:59")))
	assert.True(t, j.Due(at("2024-01-02 10:00:00")))

	assert.Equal(t, at("2024-01-02 10:00:00"), j.PopFront())
	assert.Len(t, j.Schedule, 1)
	assert.Equal(t, at("2024-01-03 10:00:00"), j.PopFront())
	assert.Nil(t, j.Schedule)
	assert.True(t, j.PopFront().IsZero())
}

func TestJobsPutRejectsInvalid(t *testing.T) {
	js := NewJobs()
	assert.Error(t, js.Put(&Job{Text: "no id", Status: StatusActive}))
	assert.Error(t, js.Put(&Job{ID: "1", Status: "paused"}))
	assert.Equal(t, 0, js.Len())
}

func TestJobsCloneIsDeep(t *testing.T) {
	js := sampleJobs(t)
	cp := js.Clone()
	require.Equal(t, js, cp)

	j, _ := cp.Get("912")
	j.PopFront()
	j.Status = StatusStopped

	orig, _ := js.Get("912")
	assert.Len(t, orig.Schedule, 2)
	assert.Equal(t, StatusActive, orig.Status)
}

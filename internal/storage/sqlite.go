package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	logx "reposter/pkg/logx"

	_ "modernc.org/sqlite"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	seq             INTEGER NOT NULL,
	id              TEXT    PRIMARY KEY,
	text            TEXT    NOT NULL,
	repost_schedule TEXT    NOT NULL,
	status          TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_seq ON jobs(seq);
`

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
	loc *time.Location
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.ExecContext(context.Background(), schemaSQL); err != nil {
		_ = db.Close()
		return nil, err
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &sqliteStore{db: db, log: log, loc: loc}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Load(ctx context.Context) *Jobs {
	js, err := s.load(ctx)
	if err != nil {
		s.log.Warn("jobs table unreadable; starting empty", logx.Err(err))
		return NewJobs()
	}
	return js
}

func (s *sqliteStore) load(ctx context.Context) (*Jobs, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, text, repost_schedule, status FROM jobs ORDER BY seq`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	js := NewJobs()
	for rows.Next() {
		var (
			id, rawSched, status string
			rec                  jobRecord
		)
		if err := rows.Scan(&id, &rec.Text, &rawSched, &status); err != nil {
			return nil, err
		}
		rec.Status = Status(status)
		schedErr := json.Unmarshal([]byte(rawSched), &rec.RepostSchedule)
		j, err := rec.job(id, s.loc)
		if schedErr != nil {
			// Keep the row and its text; the schedule is lost.
			j.Schedule, j.Status = nil, StatusStopped
			err = errors.Join(err, fmt.Errorf("job %s: unreadable schedule: %w", id, schedErr))
		}
		if err != nil {
			s.log.Warn("malformed job row; kept as stopped", logx.Err(err))
		}
		if err := js.Put(j); err != nil {
			return nil, err
		}
	}
	return js, rows.Err()
}

func (s *sqliteStore) Save(ctx context.Context, jobs *Jobs) error {
	if err := s.save(ctx, jobs); err != nil {
		s.log.Error("failed to save jobs table", logx.Err(err))
		return fmt.Errorf("%w: %w", ErrStore, err)
	}
	return nil
}

func (s *sqliteStore) save(ctx context.Context, jobs *Jobs) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO jobs(seq, id, text, repost_schedule, status) VALUES(?,?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, j := range jobs.All() {
		rec := recordFromJob(j, s.loc)
		sched, err := json.Marshal(rec.RepostSchedule)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, i, j.ID, rec.Text, string(sched), string(rec.Status)); err != nil {
			return err
		}
	}
	return tx.Commit()
}

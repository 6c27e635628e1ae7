package storage

import (
	"errors"
	"fmt"
	"time"
)

// ErrStore wraps every persistence write failure.
var ErrStore = errors.New("job store write failed")

// TimeLayout is the on-disk timestamp format of schedule entries. It carries
// no offset: entries are read back in the configured zone, and a wall time in
// a repeated DST hour resolves to its first occurrence. Use UTC to avoid that.
const TimeLayout = "2006-01-02 15:04:05"

// Config configures storage.
//
// Driver values:
//   - "file" (default): JSON document at Path
//   - "sqlite": SQLite database file at Path
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default

	// Location interprets the zone-less timestamps on disk. Nil means time.Local.
	Location *time.Location
}

// Status is the lifecycle state of a job.
type Status string

const (
	StatusActive  Status = "active"
	StatusStopped Status = "stopped"
	StatusExpired Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusStopped, StatusExpired:
		return true
	}
	return false
}

// Job is one piece of content and its remaining repost plan.
// Schedule is sorted ascending and is only ever consumed from the front.
type Job struct {
	ID       string
	Text     string
	Schedule []time.Time
	Status   Status
}

// Due reports whether the front schedule entry is at or before now.
func (j *Job) Due(now time.Time) bool {
	return j.Status == StatusActive && len(j.Schedule) > 0 && !now.Before(j.Schedule[0])
}

// PopFront drops the earliest schedule entry and returns it.
// An exhausted schedule is normalized to nil.
func (j *Job) PopFront() time.Time {
	if len(j.Schedule) == 0 {
		return time.Time{}
	}
	first := j.Schedule[0]
	if len(j.Schedule) == 1 {
		j.Schedule = nil
	} else {
		j.Schedule = j.Schedule[1:]
	}
	return first
}

func (j *Job) clone() *Job {
	cp := *j
	if j.Schedule != nil {
		cp.Schedule = append([]time.Time(nil), j.Schedule...)
	}
	return &cp
}

// Jobs is the full job table keyed by id. It remembers insertion order so
// listing and prefix lookups are stable across load/save cycles.
// The zero value is not usable; use NewJobs.
type Jobs struct {
	order []string
	byID  map[string]*Job
}

func NewJobs() *Jobs {
	return &Jobs{byID: map[string]*Job{}}
}

func (js *Jobs) Len() int { return len(js.order) }

func (js *Jobs) Get(id string) (*Job, bool) {
	j, ok := js.byID[id]
	return j, ok
}

func (js *Jobs) Has(id string) bool {
	_, ok := js.byID[id]
	return ok
}

// Put inserts job, or replaces the job with the same id keeping its position.
func (js *Jobs) Put(job *Job) error {
	if job == nil || job.ID == "" {
		return errors.New("job id required")
	}
	if !job.Status.Valid() {
		return fmt.Errorf("job %s: invalid status %q", job.ID, job.Status)
	}
	if _, ok := js.byID[job.ID]; !ok {
		js.order = append(js.order, job.ID)
	}
	js.byID[job.ID] = job
	return nil
}

// All returns the jobs in insertion order. The pointers are live.
func (js *Jobs) All() []*Job {
	out := make([]*Job, 0, len(js.order))
	for _, id := range js.order {
		out = append(out, js.byID[id])
	}
	return out
}

// Clone returns a deep copy.
func (js *Jobs) Clone() *Jobs {
	cp := &Jobs{order: append([]string(nil), js.order...), byID: make(map[string]*Job, len(js.byID))}
	for id, j := range js.byID {
		cp.byID[id] = j.clone()
	}
	return cp
}

package storage

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// jobRecord is the persisted shape of one job:
//
//	{"text": "...", "repost_schedule": ["2024-01-02 10:31:00", ...], "status": "active"}
type jobRecord struct {
	Text           string   `json:"text"`
	RepostSchedule []string `json:"repost_schedule"`
	Status         Status   `json:"status"`
}

func recordFromJob(j *Job, loc *time.Location) jobRecord {
	sched := make([]string, 0, len(j.Schedule))
	for _, t := range j.Schedule {
		sched = append(sched, t.In(loc).Format(TimeLayout))
	}
	return jobRecord{Text: j.Text, RepostSchedule: sched, Status: j.Status}
}

// job converts the record. A record with an unknown status or unparsable
// schedule entries is still returned, demoted to stopped so it never
// reposts, together with an error describing the problem.
func (r jobRecord) job(id string, loc *time.Location) (*Job, error) {
	j := &Job{ID: id, Text: r.Text, Status: r.Status}
	var problems []string
	if !r.Status.Valid() {
		problems = append(problems, fmt.Sprintf("unknown status %q", r.Status))
	}
	if len(r.RepostSchedule) > 0 {
		j.Schedule = make([]time.Time, 0, len(r.RepostSchedule))
	}
	for _, raw := range r.RepostSchedule {
		t, err := time.ParseInLocation(TimeLayout, raw, loc)
		if err != nil {
			problems = append(problems, fmt.Sprintf("bad schedule entry %q", raw))
			continue
		}
		j.Schedule = append(j.Schedule, t)
	}
	if len(j.Schedule) == 0 {
		j.Schedule = nil
	}
	if len(problems) == 0 {
		return j, nil
	}
	j.Status = StatusStopped
	return j, fmt.Errorf("job %s: %s; kept as stopped", id, strings.Join(problems, ", "))
}

// EncodeJobs renders the table as one indented JSON object keyed by job id,
// in insertion order. Non-ASCII text is written as-is.
func EncodeJobs(js *Jobs, loc *time.Location) ([]byte, error) {
	if loc == nil {
		loc = time.Local
	}
	var compact bytes.Buffer
	enc := json.NewEncoder(&compact)
	enc.SetEscapeHTML(false)

	compact.WriteByte('{')
	for i, j := range js.All() {
		if i > 0 {
			compact.WriteByte(',')
		}
		if err := enc.Encode(j.ID); err != nil {
			return nil, err
		}
		compact.WriteByte(':')
		if err := enc.Encode(recordFromJob(j, loc)); err != nil {
			return nil, err
		}
	}
	compact.WriteByte('}')

	var out bytes.Buffer
	if err := json.Indent(&out, compact.Bytes(), "", "    "); err != nil {
		return nil, err
	}
	out.WriteByte('\n')
	return out.Bytes(), nil
}

// DecodeJobs parses a document produced by EncodeJobs, keeping key order.
// Duplicate keys keep the first position and the last value.
//
// err is set only when the document itself is unusable. Individual records
// that are malformed are reported in skipped: a record that is not an object
// is dropped, one with a bad status or timestamp is kept as stopped.
func DecodeJobs(data []byte, loc *time.Location) (js *Jobs, skipped []error, err error) {
	if loc == nil {
		loc = time.Local
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, errors.New("jobs document must be a JSON object")
	}

	js = NewJobs()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		id, _ := tok.(string)
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, nil, err
		}
		if id == "" {
			skipped = append(skipped, errors.New("record with empty job id dropped"))
			continue
		}
		var rec jobRecord
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			skipped = append(skipped, fmt.Errorf("job %s: null record dropped", id))
			continue
		}
		if err := json.Unmarshal(raw, &rec); err != nil {
			skipped = append(skipped, fmt.Errorf("job %s: malformed record dropped: %w", id, err))
			continue
		}
		j, perr := rec.job(id, loc)
		if perr != nil {
			skipped = append(skipped, perr)
		}
		if err := js.Put(j); err != nil {
			return nil, nil, err
		}
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	// reject trailing tokens (e.g. concatenated JSON)
	if _, err := dec.Token(); err != io.EOF {
		return nil, nil, errors.New("trailing data after jobs document")
	}
	return js, skipped, nil
}

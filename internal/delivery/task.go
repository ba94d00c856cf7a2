// Package delivery moves verification codes from the API to the mail worker:
// the task wire format, a producer with bounded retry, and an acknowledging
// consumer.
package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// timestampLayout carries no zone offset and at most seven fractional digits,
// matching what other producers on the queue emit.
const timestampLayout = "2006-01-02T15:04:05.9999999"

// lineLayout is the timestamp format of the consumer's output line.
const lineLayout = "2006.01.02 15:04"

// ErrMalformedTask is returned by Decode for payloads that cannot become a Task.
var ErrMalformedTask = errors.New("malformed delivery task")

// Task is the message published for each issued code.
type Task struct {
	Email     string
	Code      string
	Timestamp time.Time
}

// NewTask builds a Task, truncating ts to the wire format's precision.
func NewTask(email, code string, ts time.Time) Task {
	return Task{Email: email, Code: code, Timestamp: ts.Truncate(100 * time.Nanosecond)}
}

type wireTask struct {
	Email     string `json:"Email"`
	Code      string `json:"Code"`
	Timestamp string `json:"Timestamp"`
}

// MarshalJSON writes {"Email","Code","Timestamp"} with a zone-less timestamp.
func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireTask{
		Email:     t.Email,
		Code:      t.Code,
		Timestamp: t.Timestamp.Format(timestampLayout),
	})
}

// UnmarshalJSON accepts the zone-less layout (read as local time) and RFC 3339.
func (t *Task) UnmarshalJSON(data []byte) error {
	var w wireTask
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	ts, err := parseTimestamp(w.Timestamp)
	if err != nil {
		return err
	}
	*t = Task{Email: w.Email, Code: w.Code, Timestamp: ts}
	return nil
}

func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if ts, err := time.ParseInLocation(timestampLayout, s, time.Local); err == nil {
		return ts, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return ts, nil
}

// Encode serialises t for the queue.
func (t Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// Decode parses a queue payload. Missing fields are malformed.
func Decode(body []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(body, &t); err != nil {
		return Task{}, fmt.Errorf("%w: %w", ErrMalformedTask, err)
	}
	switch {
	case t.Email == "":
		return Task{}, fmt.Errorf("%w: missing Email", ErrMalformedTask)
	case t.Code == "":
		return Task{}, fmt.Errorf("%w: missing Code", ErrMalformedTask)
	case t.Timestamp.IsZero():
		return Task{}, fmt.Errorf("%w: missing Timestamp", ErrMalformedTask)
	}
	return t, nil
}

// Line renders the worker's output, e.g. "2023.04.10 18:30 a@b.com Code: 4821".
func (t Task) Line() string {
	return fmt.Sprintf("%s %s Code: %s", t.Timestamp.Format(lineLayout), t.Email, t.Code)
}

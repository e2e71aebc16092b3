// Package task models the JSON task records exchanged in sync payloads.
package task

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the compact UTC form used for every date attribute.
const TimeLayout = "20060102T150405Z"

var ErrInvalidTask = errors.New("task: invalid task")

type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusDeleted   Status = "deleted"
	StatusWaiting   Status = "waiting"
	StatusRecurring Status = "recurring"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusDeleted, StatusWaiting, StatusRecurring:
		return true
	default:
		return false
	}
}

type Priority string

const (
	PriorityLow    Priority = "L"
	PriorityMedium Priority = "M"
	PriorityHigh   Priority = "H"
)

func (p Priority) Valid() bool {
	switch p {
	case "", PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

// Time is a second-precision UTC instant rendered with TimeLayout.
type Time struct {
	time.Time
}

func At(t time.Time) *Time {
	return &Time{Time: t.UTC().Truncate(time.Second)}
}

func (t Time) String() string {
	return t.UTC().Format(TimeLayout)
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Time) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("task time: %w", err)
	}
	parsed, err := time.Parse(TimeLayout, s)
	if err != nil {
		return fmt.Errorf("task time %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}

type Annotation struct {
	Entry       *Time  `json:"entry,omitempty"`
	Description string `json:"description"`
}

type Task struct {
	Status      Status       `json:"status"`
	UUID        uuid.UUID    `json:"uuid"`
	Entry       *Time        `json:"entry,omitempty"`
	Description string       `json:"description"`
	Start       *Time        `json:"start,omitempty"`
	End         *Time        `json:"end,omitempty"`
	Due         *Time        `json:"due,omitempty"`
	Until       *Time        `json:"until,omitempty"`
	Wait        *Time        `json:"wait,omitempty"`
	Modified    *Time        `json:"modified,omitempty"`
	Scheduled   *Time        `json:"scheduled,omitempty"`
	Recur       string       `json:"recur,omitempty"`
	Mask        string       `json:"mask,omitempty"`
	IMask       int          `json:"imask,omitempty"`
	Parent      *uuid.UUID   `json:"parent,omitempty"`
	Project     string       `json:"project,omitempty"`
	Priority    Priority     `json:"priority,omitempty"`
	Depends     string       `json:"depends,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
	Annotations []Annotation `json:"annotations,omitempty"`
}

// New returns a pending task with a fresh UUID and an entry time of now.
func New(description string) Task {
	return Task{
		Status:      StatusPending,
		UUID:        uuid.New(),
		Entry:       At(time.Now()),
		Description: description,
	}
}

func (t Task) Validate() error {
	if !t.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidTask, t.Status)
	}
	if t.UUID == uuid.Nil {
		return fmt.Errorf("%w: missing uuid", ErrInvalidTask)
	}
	if strings.TrimSpace(t.Description) == "" {
		return fmt.Errorf("%w: %s has no description", ErrInvalidTask, t.UUID)
	}
	if !t.Priority.Valid() {
		return fmt.Errorf("%w: %s has unknown priority %q", ErrInvalidTask, t.UUID, t.Priority)
	}
	return nil
}

// Marshal renders t as one payload line without a trailing newline.
func Marshal(t Task) (string, error) {
	if err := t.Validate(); err != nil {
		return "", err
	}
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	return string(b), nil
}

// Parse decodes one payload line.
func Parse(line string) (Task, error) {
	var t Task
	if err := json.Unmarshal([]byte(line), &t); err != nil {
		return Task{}, fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if err := t.Validate(); err != nil {
		return Task{}, err
	}
	return t, nil
}

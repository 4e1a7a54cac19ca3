package taskq

import (
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

// Task is one unit of queued work. Attempt counts prior executions, so the first
// run sees 0.
type Task struct {
	ID         uuid.UUID       `json:"id"`
	Name       string          `json:"name"`
	Payload    json.RawMessage `json:"payload"`
	Attempt    int             `json:"attempt"`
	NotBefore  time.Time       `json:"not_before"`
	EnqueuedAt time.Time       `json:"enqueued_at"`

	// receipt is the exact encoded form the queue handed out; Ack uses it.
	receipt string
}

func NewTask(name string, payload any) (Task, error) {
	if name == "" {
		return Task{}, errors.New("task name is required")
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Task{}, errors.Wrapf(err, "encode %s payload", name)
	}
	return Task{
		ID:         uuid.New(),
		Name:       name,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

func (t Task) Decode(into any) error {
	if err := json.Unmarshal(t.Payload, into); err != nil {
		return errors.Wrapf(err, "decode %s payload", t.Name)
	}
	return nil
}

// Due reports whether the task may run at now.
func (t Task) Due(now time.Time) bool {
	return t.NotBefore.IsZero() || !now.Before(t.NotBefore)
}

func (t *Task) prepare() {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.EnqueuedAt.IsZero() {
		t.EnqueuedAt = time.Now().UTC()
	}
}

package broadcast

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/go-faster/errors"

	"tradesignal/internal/taskq"
)

// TaskPublish is the queued form of a Publish call.
const TaskPublish = "broadcast.publish"

type PublishPayload struct {
	Channel string `json:"channel"`
	Event   Event  `json:"event"`
}

type queuedPayload struct {
	Channel string `json:"channel"`
	Event   struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	} `json:"event"`
}

// Enqueue schedules ev for publication on channel through q.
func Enqueue(ctx context.Context, q taskq.Enqueuer, channel string, ev Event) error {
	task, err := taskq.NewTask(TaskPublish, PublishPayload{Channel: channel, Event: ev})
	if err != nil {
		return err
	}
	return q.Enqueue(ctx, task)
}

// AddToBatch records a publication to run once the surrounding transaction commits.
func AddToBatch(b *taskq.Batch, channel string, ev Event) error {
	return b.Add(TaskPublish, PublishPayload{Channel: channel, Event: ev})
}

// TaskHandler publishes queued events. Event data is forwarded without being
// re-encoded.
func TaskHandler(b Broadcaster) taskq.Handler {
	return func(ctx context.Context, task taskq.Task) error {
		var payload queuedPayload
		if err := task.Decode(&payload); err != nil {
			return taskq.Permanent(err)
		}
		channel := strings.TrimSpace(payload.Channel)
		if channel == "" || payload.Event.Type == "" {
			return taskq.Permanent(errors.New("broadcast task missing channel or event type"))
		}
		ev := Event{Type: payload.Event.Type, Data: payload.Event.Data}
		return b.Publish(ctx, channel, ev)
	}
}

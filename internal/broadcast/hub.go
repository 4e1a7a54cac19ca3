package broadcast

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
)

type hubSub struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

// Hub is the in-process Broadcaster and Subscriber used by the memory backend.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSub]struct{}
	buffer int
	logger *zap.Logger

	dropped uint64
}

func NewHub(buffer int, logger *zap.Logger) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{
		subs:   map[string]map[*hubSub]struct{}{},
		buffer: buffer,
		logger: logger,
	}
}

func (h *Hub) Publish(_ context.Context, channel string, ev Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "encode event")
	}
	h.fanout(channel, raw)
	return nil
}

func (h *Hub) fanout(channel string, raw []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs[channel] {
		select {
		case sub.ch <- raw:
		default:
			// Slow subscriber; the hub must not block publishers.
			atomic.AddUint64(&h.dropped, 1)
		}
	}
}

func (h *Hub) Subscribe(ctx context.Context, channel string) (<-chan []byte, func(), error) {
	sub := &hubSub{ch: make(chan []byte, h.buffer), done: make(chan struct{})}
	h.mu.Lock()
	if h.subs[channel] == nil {
		h.subs[channel] = map[*hubSub]struct{}{}
	}
	h.subs[channel][sub] = struct{}{}
	h.mu.Unlock()

	stop := func() {
		sub.once.Do(func() {
			h.mu.Lock()
			delete(h.subs[channel], sub)
			if len(h.subs[channel]) == 0 {
				delete(h.subs, channel)
			}
			close(sub.ch)
			h.mu.Unlock()
			close(sub.done)
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			stop()
		case <-sub.done:
		}
	}()
	return sub.ch, stop, nil
}

// Dropped counts events discarded because a subscriber buffer was full.
func (h *Hub) Dropped() uint64 {
	return atomic.LoadUint64(&h.dropped)
}

func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

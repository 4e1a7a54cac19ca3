package broadcast

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"tradesignal/internal/models"
)

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatalf("subscription closed")
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
	return nil
}

func TestHub_PublishToSubscribers(t *testing.T) {
	h := NewHub(4, zap.NewNop())
	ctx := context.Background()
	a, stopA, _ := h.Subscribe(ctx, ChannelOrders)
	defer stopA()
	b, stopB, _ := h.Subscribe(ctx, ChannelOrders)
	defer stopB()
	other, stopOther, _ := h.Subscribe(ctx, InvalidSignalChannel("ACC-1"))
	defer stopOther()

	price := decimal.RequireFromString("1.1234")
	ev := OrderEvent(models.Order{OrderID: "INV0101240001", Instrument: "EURUSD", EntryPrice: &price, Status: models.OrderPending})
	if err := h.Publish(ctx, ChannelOrders, ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := `{"type":"order.pending","data":{"order_id":"INV0101240001","instrument":"EURUSD","entry_price":"1.1234","status":"pending"}}`
	for _, ch := range []<-chan []byte{a, b} {
		if got := string(recv(t, ch)); got != want {
			t.Fatalf("got %s\nwant %s", got, want)
		}
	}
	select {
	case msg := <-other:
		t.Fatalf("unrelated channel received %s", msg)
	default:
	}
}

func TestHub_NilEntryPriceIsNull(t *testing.T) {
	h := NewHub(1, nil)
	ch, stop, _ := h.Subscribe(context.Background(), ChannelOrders)
	defer stop()
	_ = h.Publish(context.Background(), ChannelOrders, OrderEvent(models.Order{OrderID: "X", Instrument: "GBPUSD", Status: models.OrderClosed}))
	want := `{"type":"order.closed","data":{"order_id":"X","instrument":"GBPUSD","entry_price":null,"status":"closed"}}`
	if got := string(recv(t, ch)); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestHub_SlowSubscriberDoesNotBlock(t *testing.T) {
	h := NewHub(1, nil)
	_, stop, _ := h.Subscribe(context.Background(), ChannelOrders)
	defer stop()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			_ = h.Publish(context.Background(), ChannelOrders, Event{Type: "order.pending"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish blocked on a full subscriber")
	}
	if h.Dropped() != 9 {
		t.Fatalf("expected 9 dropped events, got %d", h.Dropped())
	}
}

func TestHub_StopAndContextUnsubscribe(t *testing.T) {
	h := NewHub(1, nil)
	ch, stop, _ := h.Subscribe(context.Background(), ChannelOrders)
	stop()
	stop()
	if _, ok := <-ch; ok {
		t.Fatalf("channel should be closed after stop")
	}

	ctx, cancel := context.WithCancel(context.Background())
	ch2, _, _ := h.Subscribe(ctx, ChannelOrders)
	cancel()
	select {
	case _, ok := <-ch2:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("context cancel did not unsubscribe")
	}
	if n := h.Subscribers(ChannelOrders); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}
}

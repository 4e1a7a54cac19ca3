package broadcast

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func TestRedisBroadcaster_PublishSubscribe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	b := NewRedisBroadcaster(client, "ts", zap.NewNop())
	ctx := context.Background()

	ch, stop, err := b.Subscribe(ctx, InvalidSignalChannel("ACC-7"))
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer stop()

	ev := SignalInvalidEvent(SignalInvalidData{SignalID: 3, User: "alice", AccountID: "ACC-7", ErrorMessage: "SL missing"})
	if err := b.Publish(ctx, InvalidSignalChannel("ACC-7"), ev); err != nil {
		t.Fatalf("publish: %v", err)
	}
	want := `{"type":"signal.invalid","data":{"signal_id":3,"user":"alice","account_id":"ACC-7","error_message":"SL missing"}}`
	if got := string(recv(t, ch)); got != want {
		t.Fatalf("got %s want %s", got, want)
	}
	if n := mr.PubSubNumSub("ts:events:signal_invalid:ACC-7")["ts:events:signal_invalid:ACC-7"]; n != 1 {
		t.Fatalf("expected prefixed redis channel to have 1 subscriber, got %d", n)
	}
}

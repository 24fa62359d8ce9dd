package api

import (
    "testing"
    "time"

    "github.com/alicebob/miniredis/v2"
    redis "github.com/redis/go-redis/v9"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestBrokerPublishSubscribe(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("t1")
    other := b.Subscribe("t2")

    evt := SSEEvent{Type: EventPlanCompleted, Data: map[string]any{"runId": "r1"}}
    b.Publish("t1", evt)

    select {
    case got := <-ch:
        assert.Equal(t, evt.Type, got.Type)
        assert.Equal(t, "r1", got.Data["runId"])
    case <-time.After(200 * time.Millisecond):
        t.Fatal("timeout waiting for event")
    }
    select {
    case got := <-other:
        t.Fatalf("event leaked across tenants: %+v", got)
    default:
    }

    b.Unsubscribe("t1", ch)
    _, ok := <-ch
    assert.False(t, ok, "channel should be closed after unsubscribe")
    // second unsubscribe is a no-op
    b.Unsubscribe("t1", ch)
    b.Unsubscribe("t2", other)
}

func TestBrokerDropsWhenSubscriberIsSlow(t *testing.T) {
    b := NewBroker()
    ch := b.Subscribe("t1")
    defer b.Unsubscribe("t1", ch)
    for i := 0; i < 20; i++ {
        b.Publish("t1", SSEEvent{Type: EventJobUnassigned, Data: map[string]any{"i": i}})
    }
    assert.Len(t, ch, cap(ch))
}

func TestRedisBrokerRoundTrip(t *testing.T) {
    mr := miniredis.RunT(t)
    rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
    t.Cleanup(func() { _ = rdb.Close() })

    b := NewRedisBroker(rdb, nil)
    ch := b.Subscribe("t1")
    b.Publish("t1", SSEEvent{Type: EventJobUnassigned, Data: map[string]any{"jobId": "j9"}})

    select {
    case got := <-ch:
        require.Equal(t, EventJobUnassigned, got.Type)
        assert.Equal(t, "j9", got.Data["jobId"])
    case <-time.After(2 * time.Second):
        t.Fatal("timeout waiting for redis event")
    }

    b.Unsubscribe("t1", ch)
    select {
    case _, ok := <-ch:
        assert.False(t, ok)
    case <-time.After(2 * time.Second):
        t.Fatal("channel not closed after unsubscribe")
    }
}

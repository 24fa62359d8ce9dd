package api

import (
    "context"
    "encoding/json"
    "sync"
    "time"

    redis "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
)

type EventBroker interface {
    Subscribe(tenant string) chan SSEEvent
    Unsubscribe(tenant string, ch chan SSEEvent)
    Publish(tenant string, evt SSEEvent)
}

// RedisBroker implements EventBroker over Redis Pub/Sub so that every API
// replica sees every tenant's plan events.
type RedisBroker struct {
    rdb redis.UniversalClient
    log *zap.Logger

    mu   sync.Mutex
    subs map[chan SSEEvent]*redis.PubSub
}

func NewRedisBroker(rdb redis.UniversalClient, log *zap.Logger) *RedisBroker {
    if log == nil { log = zap.NewNop() }
    return &RedisBroker{rdb: rdb, log: log, subs: map[chan SSEEvent]*redis.PubSub{}}
}

func (b *RedisBroker) Subscribe(tenant string) chan SSEEvent {
    ch := make(chan SSEEvent, 16)
    ctx := context.Background()
    ps := b.rdb.Subscribe(ctx, b.chanName(tenant))
    // wait for the subscription confirmation so no publish is missed
    if _, err := ps.Receive(ctx); err != nil {
        b.log.Warn("redis subscribe", zap.String("tenant", tenant), zap.Error(err))
    }
    b.mu.Lock()
    b.subs[ch] = ps
    b.mu.Unlock()
    go func() {
        defer close(ch)
        for msg := range ps.Channel() {
            var evt SSEEvent
            if err := json.Unmarshal([]byte(msg.Payload), &evt); err == nil {
                select { case ch <- evt: default: }
            }
        }
    }()
    return ch
}

// Unsubscribe closes the underlying PubSub; ch is closed once its reader exits.
func (b *RedisBroker) Unsubscribe(tenant string, ch chan SSEEvent) {
    b.mu.Lock()
    ps, ok := b.subs[ch]
    delete(b.subs, ch)
    b.mu.Unlock()
    if ok { _ = ps.Close() }
}

func (b *RedisBroker) Publish(tenant string, evt SSEEvent) {
    ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
    defer cancel()
    data, _ := json.Marshal(evt)
    if err := b.rdb.Publish(ctx, b.chanName(tenant), data).Err(); err != nil {
        b.log.Warn("redis publish", zap.String("tenant", tenant), zap.String("event", evt.Type), zap.Error(err))
    }
}

func (b *RedisBroker) chanName(tenant string) string { return "plan:" + tenant }

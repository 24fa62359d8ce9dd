package api

import (
    "sync"
)

// Plan event types published on a tenant's channel.
const (
    EventPlanCompleted = "plan.completed"
    EventJobUnassigned = "job.unassigned"
)

type SSEEvent struct {
    Type string         `json:"type"`
    Data map[string]any `json:"data"`
}

type Broker struct {
    mu      sync.Mutex
    subs    map[string]map[chan SSEEvent]struct{} // tenant -> set of channels
}

func NewBroker() *Broker {
    return &Broker{subs: map[string]map[chan SSEEvent]struct{}{}}
}

func (b *Broker) Subscribe(tenant string) chan SSEEvent {
    ch := make(chan SSEEvent, 8)
    b.mu.Lock()
    if b.subs[tenant] == nil { b.subs[tenant] = map[chan SSEEvent]struct{}{} }
    b.subs[tenant][ch] = struct{}{}
    b.mu.Unlock()
    return ch
}

func (b *Broker) Unsubscribe(tenant string, ch chan SSEEvent) {
    b.mu.Lock()
    defer b.mu.Unlock()
    m := b.subs[tenant]
    if _, ok := m[ch]; !ok { return }
    delete(m, ch)
    if len(m) == 0 { delete(b.subs, tenant) }
    close(ch)
}

// Publish fans evt out to the tenant's subscribers; slow subscribers drop events.
func (b *Broker) Publish(tenant string, evt SSEEvent) {
    b.mu.Lock()
    m := b.subs[tenant]
    for ch := range m {
        select { case ch <- evt: default: }
    }
    b.mu.Unlock()
}

package creds

import "sync"

// RefreshResult announces a completed refresh to every subscriber in this
// process. Origin is the coordinator id that performed the refresh.
type RefreshResult struct {
	Credentials Credentials
	Origin      string
}

// Broadcast is the in-process fan-out channel for refresh results. It is
// best-effort: a subscriber that is not draining its channel misses the
// event and falls back to re-reading the store.
type Broadcast struct {
	mu   sync.Mutex
	next int
	subs map[int]chan RefreshResult
}

func NewBroadcast() *Broadcast {
	return &Broadcast{subs: make(map[int]chan RefreshResult)}
}

// Subscribe returns a buffered result channel and a cancel func. Cancel is
// idempotent and must be called to avoid leaking the subscription.
func (b *Broadcast) Subscribe() (<-chan RefreshResult, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	ch := make(chan RefreshResult, 4)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
	return ch, cancel
}

// Publish delivers r to every current subscriber without blocking.
func (b *Broadcast) Publish(r RefreshResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- r:
		default:
		}
	}
}

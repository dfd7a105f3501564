package app

import (
	"context"
	"sync"

	"msghook/internal/eventbus"
	"msghook/internal/relay"
)

type relayCounts struct {
	relays    int
	allFailed int
	attempted int
	succeeded int
	tookMS    int64
}

// relayTotals accumulates relay.completed events for the shutdown summary.
type relayTotals struct {
	mu sync.Mutex
	c  relayCounts
}

func (t *relayTotals) observe(ev relay.CompletedEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.c.relays++
	t.c.attempted += ev.Attempted
	t.c.succeeded += ev.Succeeded
	if ev.Attempted > 0 && ev.Succeeded == 0 {
		t.c.allFailed++
	}
	t.c.tookMS += ev.TookMS
}

func (t *relayTotals) snapshot() relayCounts {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.c
}

// consume drains events until ctx ends or the channel closes. Other event
// types are ignored.
func (t *relayTotals) consume(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if ev, ok := e.Data.(relay.CompletedEvent); ok && e.Type == relay.EventRelayCompleted {
				t.observe(ev)
			}
		}
	}
}

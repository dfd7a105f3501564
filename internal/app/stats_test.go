package app

import (
	"context"
	"testing"
	"time"

	"msghook/internal/eventbus"
	"msghook/internal/relay"
)

func TestRelayTotalsCountsCompletedEvents(t *testing.T) {
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	var totals relayTotals
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		totals.consume(ctx, events)
	}()

	bus.Publish(eventbus.Event{Type: relay.EventRelayCompleted, Data: relay.CompletedEvent{Attempted: 2, Succeeded: 2, TookMS: 5}})
	bus.Publish(eventbus.Event{Type: relay.EventRelayCompleted, Data: relay.CompletedEvent{Attempted: 3, Succeeded: 0, TookMS: 7}})
	bus.Publish(eventbus.Event{Type: "config.reloaded", Data: "ignored"})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && totals.snapshot().relays < 2 {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	want := relayCounts{relays: 2, allFailed: 1, attempted: 5, succeeded: 2, tookMS: 12}
	if got := totals.snapshot(); got != want {
		t.Fatalf("totals = %+v, want %+v", got, want)
	}
}

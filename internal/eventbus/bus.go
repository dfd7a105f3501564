// Package eventbus is a tiny in-process pub/sub used for internal signals
// such as "relay.completed".
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

type Event struct {
	Type string
	Time time.Time
	Data any
}

// Bus never blocks publishers. A subscriber whose buffer is full misses the
// event; Dropped reports how many were missed in total.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	Dropped() uint64
}

type subscriber struct {
	ch     chan Event
	closed bool
}

type memBus struct {
	mu      sync.Mutex // serializes subscribe/unsubscribe and sends vs close
	subs    []*subscriber
	dropped atomic.Uint64
}

func New() Bus { return &memBus{} }

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, max(buffer, 1))}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.mu.Unlock()

	return s.ch, func() { b.remove(s) }
}

func (b *memBus) remove(s *subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
	for i, cur := range b.subs {
		if cur == s {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			break
		}
	}
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }

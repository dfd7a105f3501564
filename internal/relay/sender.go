package relay

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	kit "msghook/internal/transport"
)

// Sender delivers one plain-text message to one destination. A nil error
// means the platform accepted it.
type Sender interface {
	Send(ctx context.Context, dest Destination, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, dest Destination, text string) error

func (f SenderFunc) Send(ctx context.Context, dest Destination, text string) error {
	return f(ctx, dest, text)
}

const DefaultRatePerSec = 20

// AdapterSender sends through a chat adapter, paced by a token bucket shared
// across all concurrent relays.
type AdapterSender struct {
	adapter kit.Adapter

	mu      sync.Mutex
	limiter *rate.Limiter
}

func NewAdapterSender(adapter kit.Adapter, ratePerSec int) *AdapterSender {
	s := &AdapterSender{adapter: adapter}
	s.SetRate(ratePerSec)
	return s
}

// SetRate replaces the pacing limit; <= 0 means DefaultRatePerSec.
func (s *AdapterSender) SetRate(ratePerSec int) {
	if ratePerSec <= 0 {
		ratePerSec = DefaultRatePerSec
	}
	s.mu.Lock()
	s.limiter = rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec)
	s.mu.Unlock()
}

func (s *AdapterSender) Send(ctx context.Context, dest Destination, text string) error {
	s.mu.Lock()
	lim := s.limiter
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return err
	}
	_, err := s.adapter.SendText(ctx, kit.ChatTarget{ChatID: int64(dest)}, text, &kit.SendOptions{DisablePreview: true})
	return err
}

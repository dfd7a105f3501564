package logx

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	kit "msghook/internal/transport"
)

const (
	sinkQueue       = 128
	sinkSendTimeout = 10 * time.Second
	sinkDrainWait   = 3 * time.Second
)

// telegramSink is a zerolog.LevelWriter that queues formatted events and
// posts them from one goroutine. Writes never block; events beyond the rate
// limit or the queue are dropped.
type telegramSink struct {
	mu      sync.Mutex
	sender  kit.Adapter
	to      kit.ChatTarget
	limiter *rate.Limiter

	queue chan sinkItem
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
}

type sinkItem struct {
	to   kit.ChatTarget
	text string
}

func newTelegramSink(sender kit.Adapter) *telegramSink {
	t := &telegramSink{
		sender: sender,
		queue:  make(chan sinkItem, sinkQueue),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go t.run()
	return t
}

func (t *telegramSink) setSender(a kit.Adapter) {
	t.mu.Lock()
	t.sender = a
	t.mu.Unlock()
}

// configure swaps target and rate. A zero config mutes the sink.
func (t *telegramSink) configure(cfg TelegramConfig) {
	rps := max(cfg.RatePerSec, 1)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.to = kit.ChatTarget{ChatID: cfg.ChatID, ThreadID: cfg.ThreadID}
	if t.limiter == nil || int(t.limiter.Limit()) != rps {
		t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.NoLevel, p)
}

func (t *telegramSink) WriteLevel(_ zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	to, lim, ok := t.to, t.limiter, t.sender != nil
	t.mu.Unlock()
	if !ok || to.ChatID == 0 || !lim.Allow() {
		return len(p), nil
	}
	text := FormatEventText(p)
	if text == "" {
		return len(p), nil
	}
	select {
	case t.queue <- sinkItem{to: to, text: text}:
	default:
	}
	return len(p), nil
}

func (t *telegramSink) run() {
	defer close(t.done)
	for {
		select {
		case it := <-t.queue:
			t.post(it)
		case <-t.quit:
			// deliver what is already queued, then stop
			for {
				select {
				case it := <-t.queue:
					t.post(it)
				default:
					return
				}
			}
		}
	}
}

func (t *telegramSink) post(it sinkItem) {
	t.mu.Lock()
	sender := t.sender
	t.mu.Unlock()
	if sender == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), sinkSendTimeout)
	defer cancel()
	// a failed post cannot be logged without feeding back into this sink
	_, _ = sender.SendText(ctx, it.to, it.text, &kit.SendOptions{DisablePreview: true})
}

func (t *telegramSink) close() {
	t.once.Do(func() { close(t.quit) })
	select {
	case <-t.done:
	case <-time.After(sinkDrainWait):
	}
}

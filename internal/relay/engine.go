package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	"msghook/internal/eventbus"
	"msghook/pkg/logx"
)

// EventRelayCompleted is published once per relay that reached fan-out.
const EventRelayCompleted = "relay.completed"

// CompletedEvent is the Data of EventRelayCompleted.
type CompletedEvent struct {
	Attempted int   `json:"attempted"`
	Succeeded int   `json:"succeeded"`
	TookMS    int64 `json:"took_ms"`
}

// Engine validates relay requests and fans messages out to destinations.
// It holds no per-request state and is safe for concurrent use.
type Engine struct {
	sender Sender
	log    logx.Logger
	bus    eventbus.Bus
}

type Option func(*Engine)

func WithLogger(log logx.Logger) Option { return func(e *Engine) { e.log = log } }

func WithBus(bus eventbus.Bus) Option { return func(e *Engine) { e.bus = bus } }

func New(sender Sender, opts ...Option) *Engine {
	e := &Engine{sender: sender, log: logx.Nop()}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Precheck runs the checks that do not need the request body:
// authorization, then the forwarding switch.
func (e *Engine) Precheck(cfg Config, credential string) error {
	if !Authorize(cfg.APIToken, credential) {
		return ErrUnauthorized
	}
	if !cfg.EnableForward {
		return ErrForwardingDisabled
	}
	return nil
}

// Relay composes prefix+message+suffix and delivers it once to every
// resolved destination. Partial delivery is a success; the error is
// non-nil only when the request is rejected or every destination failed.
func (e *Engine) Relay(ctx context.Context, cfg Config, credential string, req SendRequest) (Result, error) {
	if err := e.Precheck(cfg, credential); err != nil {
		return Result{}, err
	}
	if req.Message == "" {
		return Result{}, ErrEmptyMessage
	}
	dests := e.Resolve(cfg.Targets)
	if len(dests) == 0 {
		return Result{}, ErrNoDestinations
	}

	start := time.Now()
	res := e.fanOut(ctx, cfg, dests, Compose(cfg, req.Message))
	e.publish(res, time.Since(start))

	if res.Succeeded == 0 {
		causes := make([]error, 0, len(res.Outcomes))
		for _, o := range res.Outcomes {
			causes = append(causes, o.Err)
		}
		return res, &Error{Kind: KindAllFailed, Msg: ErrAllFailed.Msg, Err: errors.Join(causes...)}
	}
	e.log.Info(res.Summary(), logx.Int("attempted", res.Attempted), logx.Int("succeeded", res.Succeeded))
	return res, nil
}

// Compose is the outgoing text: plain concatenation, nothing trimmed.
func Compose(cfg Config, message string) string {
	return cfg.MessagePrefix + message + cfg.MessageSuffix
}

// Resolve turns configured entries into destinations, dropping invalid ones.
func (e *Engine) Resolve(targets []string) []Destination {
	out := make([]Destination, 0, len(targets))
	for _, raw := range targets {
		d, err := ParseDestination(raw)
		if err != nil {
			e.log.Debug("skipping target", logx.String("target", raw), logx.Err(err))
			continue
		}
		out = append(out, d)
	}
	return out
}

func (e *Engine) fanOut(ctx context.Context, cfg Config, dests []Destination, text string) Result {
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = DefaultSendTimeout
	}
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	// Each task owns exactly one slot, so outcomes keep configured order.
	outcomes := make([]Outcome, len(dests))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, d := range dests {
		g.Go(func() error {
			err := e.sendOne(ctx, timeout, d, text)
			outcomes[i] = Outcome{Destination: d, Succeeded: err == nil, Err: err}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Attempted: len(dests), Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Succeeded {
			res.Succeeded++
		}
	}
	return res
}

func (e *Engine) sendOne(ctx context.Context, timeout time.Duration, d Destination, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("panic in sender", logx.Int64("chat_id", int64(d)), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	start := time.Now()
	if err = e.sender.Send(sctx, d, text); err != nil {
		e.log.Warn("send to group failed", logx.Int64("chat_id", int64(d)), logx.Duration("dur", time.Since(start)), logx.Err(err))
		return err
	}
	e.log.Debug("send to group ok", logx.Int64("chat_id", int64(d)), logx.Duration("dur", time.Since(start)))
	return nil
}

func (e *Engine) publish(res Result, took time.Duration) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: EventRelayCompleted, Data: CompletedEvent{
		Attempted: res.Attempted,
		Succeeded: res.Succeeded,
		TookMS:    took.Milliseconds(),
	}})
}

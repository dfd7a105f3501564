// Package adapter connects msghook to Telegram through telebot.
package adapter

import (
	"context"
	"errors"
	"hash/fnv"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	rtsup "msghook/internal/runtime/supervisor"
	kit "msghook/internal/transport"
	logx "msghook/pkg/logx"
)

const (
	defaultPollTimeout = 10 * time.Second
	stopGrace          = 2 * time.Second
	// The poller shares the HTTP client, so its timeout must outlast a
	// getUpdates long poll.
	httpTimeoutMargin = 10 * time.Second

	// maxChunk stays a little under Telegram's 4096 limit.
	maxChunk = 4000
	// Telegram caps the command menu at 100 entries and descriptions at 256.
	maxMenuEntries = 100
	maxMenuDesc    = 256
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Adapter implements transport.Adapter and transport.CommandMenuUpdater.
type Adapter struct {
	bot *tele.Bot
	log logx.Logger

	mu  sync.Mutex
	sup *rtsup.Supervisor // nil while stopped

	out     atomic.Pointer[chan<- kit.Message]
	dropped atomic.Uint64
	dropLog rate.Sometimes

	menuMu  sync.Mutex
	menuSum uint64
}

// New verifies the token with getMe and registers the text handler. It does
// not start polling.
func New(cfg Config, log logx.Logger) (*Adapter, error) {
	return newAdapter(cfg, log, tele.Settings{})
}

// newAdapter fills the token, poller and client into base. Tests use base to
// point the bot at a local API server.
func newAdapter(cfg Config, log logx.Logger, base tele.Settings) (*Adapter, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, errors.New("telegram: token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	poll := cfg.PollTimeout
	if poll <= 0 {
		poll = defaultPollTimeout
	}
	st := base
	st.Token = token
	st.Poller = &tele.LongPoller{Timeout: poll}
	st.Client = &http.Client{Timeout: poll + httpTimeoutMargin}
	st.OnError = func(err error, c tele.Context) {
		log.Warn("telebot handler error", logx.Err(err))
	}
	bot, err := tele.NewBot(st)
	if err != nil {
		return nil, err
	}
	a := &Adapter{
		bot:     bot,
		log:     log.With(logx.String("comp", "telegram")),
		dropLog: rate.Sometimes{Interval: 5 * time.Second},
	}
	bot.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Chat == nil {
		return nil
	}
	in := kit.Message{ID: m.ID, ChatID: m.Chat.ID, ThreadID: m.ThreadID, Text: m.Text}
	if m.Sender != nil {
		in.FromID = m.Sender.ID
	}

	p := a.out.Load()
	if p == nil {
		return nil
	}
	select {
	case *p <- in:
	default:
		a.dropped.Add(1)
		a.dropLog.Do(func() {
			a.log.Warn("inbound queue full, messages dropped", logx.Int64("total", int64(a.dropped.Load())))
		})
	}
	return nil
}

// Start launches the long poller under its own supervisor. A crashed poller
// is restarted and never cancels the caller's context.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Message) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.out.Store(&out)
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup = sup

	sup.Go0("telegram.stopper", func(c context.Context) {
		<-c.Done()
		a.bot.Stop()
	})
	sup.GoRestart("telegram.poll", func(c context.Context) error {
		a.log.Info("long polling")
		a.bot.Start() // returns after bot.Stop
		return nil
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

// Stop ends polling. An in-flight getUpdates can outlive it; shutdown waits
// at most stopGrace for it.
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	a.out.Store(nil)
	if sup == nil {
		return nil
	}

	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil && wctx.Err() != nil {
		a.log.Warn("poller still running after grace period")
	}
	if n := a.dropped.Load(); n > 0 {
		a.log.Info("inbound messages dropped during run", logx.Int64("total", int64(n)))
	}
	return nil
}

// splitText breaks s into pieces of at most limit runes. A piece ends at
// the last newline of its window unless that newline falls in the first
// third; the newline itself is dropped.
func splitText(s string, limit int) []string {
	if limit <= 0 {
		limit = maxChunk
	}
	if utf8.RuneCountInString(s) <= limit {
		return []string{s}
	}

	var parts []string
	rest := []rune(s)
	for len(rest) > limit {
		cut, skip := limit, 0
		if nl := lastNewline(rest[:limit]); nl > limit/3 {
			cut, skip = nl, 1
		}
		parts = append(parts, string(rest[:cut]))
		rest = rest[cut+skip:]
	}
	if len(rest) > 0 {
		parts = append(parts, string(rest))
	}
	return parts
}

func lastNewline(rs []rune) int {
	for i := len(rs) - 1; i >= 0; i-- {
		if rs[i] == '\n' {
			return i
		}
	}
	return -1
}

// SendText delivers text, in several messages when it exceeds the platform
// limit. The returned ref is the first message.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	so := &tele.SendOptions{ThreadID: to.ThreadID}
	if opt != nil {
		so.ParseMode = opt.ParseMode
		so.DisableWebPagePreview = opt.DisablePreview
	}
	chat := &tele.Chat{ID: to.ChatID}

	ref := kit.MessageRef{ChatID: to.ChatID}
	for i, part := range splitText(text, maxChunk) {
		if err := ctx.Err(); err != nil {
			return ref, err
		}
		m, err := a.send(ctx, chat, part, so)
		if err != nil {
			return ref, err
		}
		if i == 0 {
			ref.MessageID = m.ID
		}
	}
	return ref, nil
}

type sendResult struct {
	msg *tele.Message
	err error
}

// send returns when ctx ends even if the Bot API call is still in flight.
// The abandoned call is bounded by the client timeout.
func (a *Adapter) send(ctx context.Context, chat *tele.Chat, text string, so *tele.SendOptions) (*tele.Message, error) {
	done := make(chan sendResult, 1)
	go func() {
		m, err := a.bot.Send(chat, text, so)
		done <- sendResult{msg: m, err: err}
	}()
	select {
	case r := <-done:
		return r.msg, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// UpdateMenuCommands calls setMyCommands unless the same menu was already
// published.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, cmds []kit.BotCommand) error {
	menu := make([]tele.Command, 0, min(len(cmds), maxMenuEntries))
	h := fnv.New64a()
	for _, c := range cmds {
		if c.Command == "" || len(menu) == maxMenuEntries {
			continue
		}
		desc := c.Description
		if desc == "" {
			desc = c.Command
		}
		desc = truncateRunes(desc, maxMenuDesc)
		menu = append(menu, tele.Command{Text: c.Command, Description: desc})
		h.Write([]byte(c.Command + "\x00" + desc + "\x00"))
	}
	sum := h.Sum64()

	a.menuMu.Lock()
	defer a.menuMu.Unlock()
	if sum == a.menuSum {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.bot.SetCommands(menu); err != nil {
		return err
	}
	a.menuSum = sum
	a.log.Info("command menu published", logx.Int("count", len(menu)))
	return nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

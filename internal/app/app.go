package app

import (
	"context"
	"errors"
	"strings"
	"time"

	"msghook/internal/commands"
	"msghook/internal/config"
	"msghook/internal/eventbus"
	"msghook/internal/httpapi"
	"msghook/internal/relay"
	rtsup "msghook/internal/runtime/supervisor"
	kit "msghook/internal/transport"
	telegram "msghook/internal/transport/telegram/adapter"
	logx "msghook/pkg/logx"
)

// App wires config, logging, the Telegram adapter, the relay engine, the
// HTTP surface and the chat command dispatcher.
type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	adapter kit.Adapter
	sender  *relay.AdapterSender
	engine  *relay.Engine
	http    *httpapi.Service
	cmds    *commands.Dispatcher

	updates chan kit.Message
	totals  relayTotals
}

type Option func(*options)

type options struct {
	adapter kit.Adapter
}

// WithAdapter replaces the Telegram adapter, mainly for tests.
func WithAdapter(ad kit.Adapter) Option { return func(o *options) { o.adapter = ad } }

func New(ctx context.Context, cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load(ctx)
	if err != nil {
		return nil, err
	}

	// The Telegram log sink needs the adapter and the adapter wants a
	// logger, so logging starts without a sender and gets it below.
	logSvc, root := logx.New(cfg.LogConfig(), nil)
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root)

	ad := o.adapter
	if ad == nil {
		tg, err := telegram.New(telegram.Config{
			Token:       cfg.Telegram.Token,
			PollTimeout: cfg.PollTimeout(),
		}, root)
		if err != nil {
			_ = logSvc.Close()
			return nil, err
		}
		ad = tg
	}
	logSvc.SetSender(ad)

	bus := eventbus.New()
	sender := relay.NewAdapterSender(ad, cfg.Relay.RatePerSec)
	engine := relay.New(sender,
		relay.WithLogger(root.With(logx.String("comp", "relay"))),
		relay.WithBus(bus),
	)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		adapter: ad,
		sender:  sender,
		engine:  engine,
		updates: make(chan kit.Message, 256),
	}
	a.http = httpapi.New(a.snapshot, engine, root)
	a.cmds = commands.New(ad, root)
	a.cmds.SetOwners(cfg.Telegram.OwnerUserIDs)
	a.cmds.Register(commands.StatusCommand(a.snapshot))
	return a, nil
}

// snapshot is read once per operation so a reload never changes a request
// half way.
func (a *App) snapshot() relay.Config { return a.cfgm.Get().RelaySnapshot() }

// Addr is the bound HTTP address ("" before Start).
func (a *App) Addr() string { return a.http.Addr() }

// Done is closed when the app supervisor context is cancelled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start binds the HTTP listener first so a busy port fails startup before
// anything talks to Telegram.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))
	sctx := a.sup.Context()

	cfg := a.cfgm.Get()
	if err := a.http.Start(sctx, cfg.RelaySnapshot().Addr()); err != nil {
		a.sup.Cancel()
		return err
	}
	if err := a.adapter.Start(sctx, a.updates); err != nil {
		a.abortStart()
		return err
	}
	if err := a.cmds.Start(sctx, a.updates); err != nil {
		a.abortStart()
		return err
	}

	events, unsub := a.bus.Subscribe(64)
	a.sup.Go0("relay.totals", func(c context.Context) {
		defer unsub()
		a.totals.consume(c, events)
	})

	a.sup.Go("config.watch", a.cfgm.Watch)
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		last := cfg
		for {
			select {
			case <-c.Done():
				return
			case next, ok := <-sub:
				if !ok {
					return
				}
				a.applyReload(c, last, next)
				last = next
			}
		}
	})

	a.log.Info("msghook started",
		logx.String("addr", a.http.Addr()),
		logx.Int("targets", len(cfg.Relay.TargetGroups)),
		logx.Bool("token_set", cfg.Relay.APIToken != ""),
	)
	return nil
}

func (a *App) abortStart() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = a.http.Stop(ctx)
	a.sup.Cancel()
}

func (a *App) applyReload(ctx context.Context, prev, next *config.Config) {
	ch, attrs := config.SummarizeConfigChange(prev, next)
	if len(ch.Sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	a.log.Info("config change applied", append([]logx.Field{logx.String("changed", strings.Join(ch.Sections, ","))}, attrs...)...)

	if ch.Logging {
		a.logs.Apply(next.LogConfig())
	}
	if ch.SenderRate {
		a.sender.SetRate(next.Relay.RatePerSec)
	}
	a.cmds.SetOwners(next.Telegram.OwnerUserIDs)
	if ch.ListenAddr {
		a.http.Reconfigure(ctx, next.RelaySnapshot().Addr())
	}
	if ch.TelegramAuth || strings.TrimSpace(prev.Telegram.PollTimeout) != strings.TrimSpace(next.Telegram.PollTimeout) {
		a.log.Warn("telegram settings changed; restart required for them to take effect")
	}
}

// Stop shuts down in dependency order: HTTP (drain), commands, adapter,
// remaining goroutines, then log sinks. Each step gets a bounded slice of ctx.
func (a *App) Stop(ctx context.Context) error {
	step := func(d time.Duration, fn func(context.Context) error) error {
		c, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return fn(c)
	}

	var errs []error
	if err := step(5*time.Second, a.http.Stop); err != nil {
		errs = append(errs, err)
	}
	if err := step(3*time.Second, a.cmds.Stop); err != nil {
		errs = append(errs, err)
	}
	if err := step(3*time.Second, a.adapter.Stop); err != nil {
		errs = append(errs, err)
	}
	if a.sup != nil {
		if err := step(3*time.Second, a.sup.Stop); err != nil && !errors.Is(err, context.Canceled) {
			errs = append(errs, err)
		}
	}
	t := a.totals.snapshot()
	a.log.Info("msghook stopped",
		logx.Int("relays", t.relays),
		logx.Int("all_failed", t.allFailed),
		logx.Int("attempted", t.attempted),
		logx.Int("succeeded", t.succeeded),
		logx.Int64("took_ms", t.tookMS),
	)
	_ = a.logs.Close()
	return errors.Join(errs...)
}

package commands

import (
	"context"
	"runtime"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	rtsup "msghook/internal/runtime/supervisor"
	kit "msghook/internal/transport"
	logx "msghook/pkg/logx"
)

const DefaultTimeout = 5 * time.Second

type Command struct {
	Name        string
	Aliases     []string
	Description string
	Timeout     time.Duration // zero means DefaultTimeout
	Handle      HandlerFunc
}

type Request struct {
	Message kit.Message
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	Args    []string
	ReqID   string

	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends text back to the chat (and thread) the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{DisablePreview: true})
	return err
}

// Dispatcher routes inbound chat commands to handlers on a bounded worker
// pool. Non-commands and unknown commands are ignored without a reply.
type Dispatcher struct {
	adapter kit.Adapter
	log     logx.Logger

	mu     sync.RWMutex
	cmds   map[string]*Command // name and aliases
	owners []int64
	menu   []kit.BotCommand

	workers int
	jobs    chan func(ctx context.Context)

	runMu sync.Mutex
	sup   *rtsup.Supervisor
}

type Option func(*Dispatcher)

func WithWorkers(n int) Option { return func(d *Dispatcher) { d.workers = n } }

func WithQueueSize(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.jobs = make(chan func(ctx context.Context), n)
		}
	}
}

func New(adapter kit.Adapter, log logx.Logger, opts ...Option) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	d := &Dispatcher{
		adapter: adapter,
		log:     log.With(logx.String("comp", "commands")),
		cmds:    map[string]*Command{},
		workers: max(2, runtime.NumCPU()),
		jobs:    make(chan func(ctx context.Context), 64),
	}
	for _, o := range opts {
		o(d)
	}
	if d.workers < 1 {
		d.workers = 1
	}
	return d
}

// SetOwners limits commands to the given user ids. An empty list allows
// everyone. Safe to call during hot reload.
func (d *Dispatcher) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	d.mu.Lock()
	d.owners = cp
	d.mu.Unlock()
}

func (d *Dispatcher) allowed(id int64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if len(d.owners) == 0 {
		return true
	}
	for _, o := range d.owners {
		if o == id {
			return true
		}
	}
	return false
}

// Register replaces the command set. /help is always added.
func (d *Dispatcher) Register(cmds ...Command) {
	help := Command{
		Name:        "help",
		Description: "显示可用命令",
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, d.helpText())
		},
	}
	cmds = append(cmds, help)

	table := map[string]*Command{}
	menu := make([]kit.BotCommand, 0, len(cmds))
	for i := range cmds {
		c := &cmds[i]
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		table[name] = c
		for _, a := range c.Aliases {
			if a = strings.ToLower(strings.TrimSpace(a)); a != "" {
				if _, taken := table[a]; !taken {
					table[a] = c
				}
			}
		}
		menu = append(menu, kit.BotCommand{Command: name, Description: c.Description})
	}
	sort.Slice(menu, func(i, j int) bool { return menu[i].Command < menu[j].Command })

	d.mu.Lock()
	d.cmds = table
	d.menu = menu
	d.mu.Unlock()
}

func (d *Dispatcher) helpText() string {
	d.mu.RLock()
	menu := d.menu
	d.mu.RUnlock()

	var b strings.Builder
	b.WriteString("可用命令:")
	for _, c := range menu {
		b.WriteString("\n/" + c.Command)
		if c.Description != "" {
			b.WriteString(" - " + c.Description)
		}
	}
	return b.String()
}

func (d *Dispatcher) lookup(name string) (Command, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.cmds[name]
	if !ok {
		return Command{}, false
	}
	return *c, true
}

// Start runs the dispatch loop and worker pool until Stop or ctx is done.
// Calling Start twice is a no-op.
func (d *Dispatcher) Start(ctx context.Context, in <-chan kit.Message) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.sup != nil {
		return nil
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(d.log),
		rtsup.WithCancelOnError(false),
	)
	d.sup = sup

	for i := 0; i < d.workers; i++ {
		idx := i
		sup.GoRestart("command.worker."+strconv.Itoa(idx), func(c context.Context) error {
			for {
				select {
				case <-c.Done():
					return nil
				case job := <-d.jobs:
					d.runJob(c, idx, job)
				}
			}
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second))
	}

	sup.Go0("command.dispatch", func(c context.Context) {
		for {
			select {
			case <-c.Done():
				return
			case msg, ok := <-in:
				if !ok {
					d.log.Info("command dispatcher stopped (input closed)")
					return
				}
				d.route(msg)
			}
		}
	})

	if up, ok := d.adapter.(kit.CommandMenuUpdater); ok {
		d.mu.RLock()
		menu := d.menu
		d.mu.RUnlock()
		sup.Go0("telegram.menu.update", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 5*time.Second)
			defer cancel()
			if err := up.UpdateMenuCommands(mctx, menu); err != nil {
				d.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	d.log.Info("command dispatcher started", logx.Int("workers", d.workers), logx.Int("job_queue_cap", cap(d.jobs)))
	return nil
}

// Stop cancels the loop and waits for in-flight commands, bounded by ctx.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.runMu.Lock()
	sup := d.sup
	d.sup = nil
	d.runMu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	d.log.Info("command dispatcher stopped")
	return err
}

func (d *Dispatcher) runJob(ctx context.Context, worker int, job func(ctx context.Context)) {
	if job == nil {
		return
	}
	// middleware already recovers; this keeps the worker alive regardless
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("panic in command job", logx.Int("worker", worker), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
		}
	}()
	job(ctx)
}

func (d *Dispatcher) route(msg kit.Message) {
	name, args, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	cmd, ok := d.lookup(name)
	if !ok {
		return
	}
	if !d.allowed(msg.FromID) {
		d.log.Debug("command from non-owner ignored", logx.String("cmd", cmd.Name), logx.Int64("from_id", msg.FromID))
		return
	}

	rid := newReqID()
	req := &Request{
		Message: msg,
		Chat:    kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID},
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    args,
		ReqID:   rid,
		Adapter: d.adapter,
		Logger: d.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	final := Chain(cmd.Handle, Recover(), AccessLog(), Deadline(timeout))

	select {
	case d.jobs <- func(ctx context.Context) { _ = final(ctx, req) }:
	default:
		d.log.Warn("command queue full; dropping", logx.String("cmd", cmd.Name))
	}
}

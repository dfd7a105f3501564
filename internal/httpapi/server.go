package httpapi

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	rtsup "msghook/internal/runtime/supervisor"
	"msghook/internal/relay"
	logx "msghook/pkg/logx"
)

const (
	maxBodyBytes      = 1 << 20
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 60 * time.Second
)

// Service is the relay HTTP surface. Start, Stop and Reconfigure are safe
// to call in any order and any number of times.
type Service struct {
	snapshot func() relay.Config
	engine   *relay.Engine
	log      logx.Logger
	handler  http.Handler

	mu   sync.Mutex
	ln   net.Listener
	srv  *http.Server
	sup  *rtsup.Supervisor
	addr string // requested host:port of the running server
}

func New(snapshot func() relay.Config, engine *relay.Engine, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{snapshot: snapshot, engine: engine, log: log.With(logx.String("comp", "httpapi"))}
	s.handler = s.routes()
	return s
}

// Handler exposes the routed handler with its middleware, for tests and
// embedding.
func (s *Service) Handler() http.Handler { return s.handler }

// Addr is the bound listener address, or "" when not running.
func (s *Service) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Start binds addr synchronously and serves in the background. A bind
// error is returned to the caller. Starting a running server is a no-op.
func (s *Service) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
	}
	sup := rtsup.New(ctx,
		rtsup.WithLogger(s.log),
		rtsup.WithCancelOnError(false),
	)

	s.ln, s.srv, s.sup, s.addr = ln, srv, sup, addr
	sup.Go("http.serve", func(c context.Context) error {
		err := srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		s.log.Error("http server exited", logx.String("addr", addr), logx.Err(err))
		return err
	})

	s.log.Info("http server started", logx.String("addr", ln.Addr().String()))
	return nil
}

// Stop stops accepting, drains in-flight requests bounded by ctx and then
// force-closes whatever is left.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv, sup := s.srv, s.sup
	s.ln, s.srv, s.sup, s.addr = nil, nil, nil, ""
	s.mu.Unlock()
	if srv == nil {
		return nil
	}

	err := srv.Shutdown(ctx)
	if err != nil {
		_ = srv.Close()
	}
	sup.Cancel()
	if werr := sup.Wait(ctx); err == nil && werr != nil && !errors.Is(werr, context.Canceled) {
		err = werr
	}
	s.log.Info("http server stopped")
	return err
}

// Reconfigure restarts the server when addr differs from the running one.
// A failed bind leaves the server down until the next reload.
func (s *Service) Reconfigure(ctx context.Context, addr string) {
	s.mu.Lock()
	cur, running := s.addr, s.srv != nil
	s.mu.Unlock()
	if running && cur == addr {
		return
	}

	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := s.Stop(sctx); err != nil {
		s.log.Warn("http server stop during reconfigure", logx.Err(err))
	}
	cancel()

	if err := s.Start(ctx, addr); err != nil {
		s.log.Error("http server restart failed", logx.String("addr", addr), logx.Err(err))
		return
	}
	s.log.Info("http server moved", logx.String("from", cur), logx.String("to", addr))
}

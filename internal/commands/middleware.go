package commands

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "msghook/pkg/logx"
)

// HandlerFunc handles one routed command.
type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(HandlerFunc) HandlerFunc

// Chain applies mws around h; the first middleware sees the call first.
func Chain(h HandlerFunc, mws ...Middleware) HandlerFunc {
	for i := range mws {
		h = mws[len(mws)-1-i](h)
	}
	return h
}

// Recover turns a handler panic into an error so the worker survives.
func Recover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if p := recover(); p != nil {
					req.Logger.Error("command panicked", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("command %s panicked: %v", req.Command, p)
				}
			}()
			return next(ctx, req)
		}
	}
}

// slowCommand is the duration above which a successful command is logged at
// info instead of debug.
const slowCommand = time.Second

// AccessLog writes one line per command.
func AccessLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			began := time.Now()
			err := next(ctx, req)
			took := logx.Duration("dur", time.Since(began))
			switch {
			case err != nil:
				req.Logger.Warn("command failed", took, logx.Err(err))
			case time.Since(began) >= slowCommand:
				req.Logger.Info("command done (slow)", took)
			default:
				req.Logger.Debug("command done", took)
			}
			return err
		}
	}
}

// Deadline bounds the rest of the chain by d. d <= 0 leaves ctx as is.
func Deadline(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

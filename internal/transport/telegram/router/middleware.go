package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "tagbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		if m[i] != nil {
			h = m[i](h)
		}
	}
	return h
}

// MWTimeout bounds the handler. d <= 0 leaves ctx untouched.
func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

// MWPanicRecover turns a handler panic into an error and tells the operator.
func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				reqLog(log, req).Error("command panicked",
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())),
				)
				err = fmt.Errorf("panic in /%s: %v", req.Command, r)
				_ = req.Reply(context.WithoutCancel(ctx), "❌ Internal error, please try again later.")
			}()
			return next(ctx, req)
		}
	}
}

// MWRequestLog logs every command once. Slow commands are promoted to info.
func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			d := time.Since(start)

			l := reqLog(log, req)
			fields := []logx.Field{logx.Int("args_len", len([]rune(req.Args))), logx.Duration("dur", d)}
			switch {
			case err != nil:
				l.Warn("command failed", append(fields, logx.Err(err))...)
			case d >= 750*time.Millisecond:
				l.Info("command done", fields...)
			default:
				l.Debug("command done", fields...)
			}
			return err
		}
	}
}

// CommandObserver receives the routed command name, handler time and error.
type CommandObserver func(command string, d time.Duration, err error)

// MWObserve reports every handled command to fn.
func MWObserve(fn CommandObserver) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if fn == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			fn(req.Command, time.Since(start), err)
			return err
		}
	}
}

func reqLog(fallback logx.Logger, req *Request) logx.Logger {
	if req != nil && !req.Logger.IsZero() {
		return req.Logger
	}
	return fallback
}

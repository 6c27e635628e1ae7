package router

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	logx "reposter/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

const msgFailed = "Something went wrong while handling that command. Please try again."

// Chain wraps h so that m[0] runs first.
func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
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

// MWPanicRecover turns a handler panic into an error.
func MWPanicRecover() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("panic recovered", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

// MWReplyOnError tells the administrator a command failed without
// exposing the underlying error text.
func MWReplyOnError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err != nil {
				// The handler ctx may be the one that expired.
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
				defer cancel()
				if rerr := req.Reply(rctx, msgFailed); rerr != nil {
					req.Logger.Warn("error reply failed", logx.Err(rerr))
				}
			}
			return err
		}
	}
}

// MWRequestLog records every admin command with its outcome and duration.
// Fast successful commands log at debug.
func MWRequestLog() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			fields := []logx.Field{logx.Duration("took", took), logx.Int("args", len(req.Args))}
			switch {
			case err != nil:
				req.Logger.Warn("command failed", append(fields, logx.Err(err))...)
			case took >= 750*time.Millisecond:
				req.Logger.Info("command ok (slow)", fields...)
			default:
				req.Logger.Debug("command ok", fields...)
			}
			return err
		}
	}
}

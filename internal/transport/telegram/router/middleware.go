package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	logx "groupbot/pkg/logx"
)

// slowRequest promotes a successful request log from debug to info.
const slowRequest = 750 * time.Millisecond

type middleware func(next HandlerFunc) HandlerFunc

// chain wraps h so that mws[0] is outermost.
func chain(h HandlerFunc, mws ...middleware) HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

func withTimeout(d time.Duration) middleware {
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

// recoverPanics turns a handler panic into an error so the dispatch shard survives.
func recoverPanics(next HandlerFunc) HandlerFunc {
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

// reportErrors hands failures other than Handled to hook with a context that
// outlives the handler timeout, so the hook can still reply.
func reportErrors(hook ErrorHook) middleware {
	return func(next HandlerFunc) HandlerFunc {
		if hook == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err != nil && !errors.Is(err, Handled) {
				hook(context.WithoutCancel(ctx), req, err)
			}
			return err
		}
	}
}

func logRequests(next HandlerFunc) HandlerFunc {
	return func(ctx context.Context, req *Request) error {
		start := time.Now()
		err := next(ctx, req)
		took := time.Since(start)

		fields := []logx.Field{logx.String("kind", req.Update.Kind()), logx.Duration("dur", took)}
		switch {
		case err != nil && !errors.Is(err, Handled):
			req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
		case took >= slowRequest:
			req.Logger.Info("request ok", fields...)
		default:
			req.Logger.Debug("request ok", fields...)
		}
		return err
	}
}

// Package supervisor implements StreamSupervisor (spec.md §4.E): a generic
// restart-on-failure wrapper around a long-lived consumer function. LND
// gRPC streams (lnnode.TrackPayments, lnnode.PaidInvoicesStream) end
// whenever the underlying connection drops; Supervise reopens them after a
// fixed backoff instead of letting the process crash or busy-loop.
//
// Supervise restarts iteratively rather than by recursive self-call — an
// unbounded number of restarts must never grow the call stack.
package supervisor

import (
	"lnurl-gateway/pkg/logger"
	"context"
	"time"

	"go.uber.org/zap"
)

// RestartDelay is the fixed pause between restart attempts. A var, not a
// const, so tests can shorten it.
var RestartDelay = 5 * time.Second

// Run is the shape of the work a Supervise call manages: open a stream or
// connection, consume it until it ends or ctx is cancelled, and return the
// error that ended it (nil if ctx cancellation was the cause).
type Run func(ctx context.Context) error

// Supervise calls fn in a loop, named name for logging, until ctx is
// cancelled. Each time fn returns, Supervise waits RestartDelay (or until
// ctx is cancelled, whichever comes first) and calls fn again. fn
// returning nil is treated the same as fn returning an error — the only
// way out of the loop is ctx cancellation, since these streams are
// expected to run for the lifetime of the process.
func Supervise(ctx context.Context, name string, fn Run) {
	for {
		if ctx.Err() != nil {
			logger.Info("supervisor stopping", zap.String("stream", name))
			return
		}

		err := fn(ctx)
		if ctx.Err() != nil {
			logger.Info("supervisor stopping", zap.String("stream", name))
			return
		}
		if err != nil {
			logger.Error("stream ended, restarting", zap.String("stream", name), zap.Error(err), zap.Duration("backoff", RestartDelay))
		} else {
			logger.Warn("stream ended unexpectedly, restarting", zap.String("stream", name), zap.Duration("backoff", RestartDelay))
		}

		select {
		case <-time.After(RestartDelay):
		case <-ctx.Done():
			logger.Info("supervisor stopping", zap.String("stream", name))
			return
		}
	}
}

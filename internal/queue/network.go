package queue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/hibiken/asynq"
)

// ErrNetworkUnavailable means the run was not started. Job queues retry it
// later without counting it as a failed run.
var ErrNetworkUnavailable = errors.New("network unavailable")

// Precondition must hold before a publish job is allowed to start.
type Precondition func(ctx context.Context) error

// NetworkProbe checks reachability with a TCP dial to addr (host:port).
// An empty addr always passes.
func NetworkProbe(addr string, timeout time.Duration) Precondition {
	return func(ctx context.Context) error {
		if addr == "" {
			return nil
		}
		d := net.Dialer{Timeout: timeout}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNetworkUnavailable, err)
		}
		return conn.Close()
	}
}

// RequirePrecondition gates a handler behind check.
func RequirePrecondition(check Precondition) asynq.MiddlewareFunc {
	return func(next asynq.Handler) asynq.Handler {
		return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
			if check != nil {
				if err := check(ctx); err != nil {
					return err
				}
			}
			return next.ProcessTask(ctx, task)
		})
	}
}

package queue

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"
)

// NetworkRetryDelay is how long a job waits after its network check failed.
const NetworkRetryDelay = 30 * time.Second

// NewServer builds the asynq server that runs publish jobs on a bounded
// pool of concurrency workers.
func NewServer(redisConn asynq.RedisConnOpt, concurrency int) *asynq.Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	return asynq.NewServer(redisConn, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueueName: 1},
		Logger:      slogAdapter{},
		IsFailure: func(err error) bool {
			return !errors.Is(err, ErrNetworkUnavailable)
		},
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			if errors.Is(err, ErrNetworkUnavailable) {
				return NetworkRetryDelay
			}
			return asynq.DefaultRetryDelayFunc(n, err, task)
		},
	})
}

// NewServeMux routes publish tasks to the worker behind the precondition.
func NewServeMux(w *Worker, check Precondition) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Use(RequirePrecondition(check))
	mux.Handle(TaskTypePublishPost, w)
	return mux
}

type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Info(args ...interface{})  { slog.Info(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn(fmt.Sprint(args...), "component", "asynq") }
func (slogAdapter) Error(args ...interface{}) { slog.Error(fmt.Sprint(args...), "component", "asynq") }

func (slogAdapter) Fatal(args ...interface{}) {
	slog.Error(fmt.Sprint(args...), "component", "asynq")
	os.Exit(1)
}

package job

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron"
)

const reconcileTimeout = time.Minute

// Reconciler re-arms scheduled posts that have no pending publish job.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

type ReconcileJob struct {
	r Reconciler

	// running guards against overlapping passes when a pass outlives the
	// cron interval.
	running sync.Mutex
}

func NewReconcileJob(r Reconciler) *ReconcileJob {
	return &ReconcileJob{r: r}
}

// Run performs one pass. It is the cron entry point.
func (j *ReconcileJob) Run() {
	if !j.running.TryLock() {
		slog.Info("Reconcile already running, skipping")
		return
	}
	defer j.running.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
	defer cancel()

	rearmed, err := j.r.Reconcile(ctx)
	if err != nil {
		slog.Info(err.Error())
	}
	if rearmed > 0 {
		slog.Info("Re-armed scheduled posts", "count", rearmed)
	}
}

// Schedule runs a pass now and then on spec (robfig/cron syntax). The
// returned cron is already started.
func (j *ReconcileJob) Schedule(spec string) (*cron.Cron, error) {
	j.Run()

	c := cron.New()
	if err := c.AddFunc(spec, j.Run); err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}

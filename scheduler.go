package txqueue

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
)

// Run calls RetryDispatch every RetryScheduledRateDelay until the context is cancelled.
// Several processes may run it against the same table; claims never overlap.
func (q *Queue[P]) Run(ctx context.Context) error {
	q.opts.Logger.Info(ctx, "queue %s: retry scheduler %s started (every %s)",
		q.opts.Name, q.opts.WorkerID, q.opts.Config.RetryScheduledRateDelay)

	ticker := time.NewTicker(q.opts.Config.RetryScheduledRateDelay)
	defer ticker.Stop()

	for {
		q.RetryDispatch(ctx)

		select {
		case <-ctx.Done():
			q.opts.Logger.Info(ctx, "queue %s: retry scheduler %s stopped", q.opts.Name, q.opts.WorkerID)
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// newWorkerID names a scheduler as "<hostname>-<8 hex chars>".
func newWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return host + "-" + uuid.NewString()[:8]
}

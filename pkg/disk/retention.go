package disk

import (
	"context"
	"time"

	"github.com/downfa11-org/cursus-store/pkg/metrics"
	"github.com/downfa11-org/cursus-store/util"
)

// EnforceRetention destroys segments older than RetentionHours, paced by
// DeleteFilesPerSecond. Segments still referenced by readers are kept until
// the destroy grace period forces them out.
func (d *DiskHandler) EnforceRetention(ctx context.Context) int {
	expire := time.Duration(d.cfg.RetentionHours) * time.Hour
	n := d.queue.DeleteExpired(ctx, expire, d.grace, d.limiter, false)
	if n > 0 {
		metrics.SegmentsDestroyed.Add(float64(n))
		util.Info("Retention: %s-%d removed %d segment(s)", d.Topic, d.PartitionID, n)
	}
	return n
}

func (d *DiskHandler) retentionLoop() {
	ticker := time.NewTicker(time.Duration(d.cfg.RetentionCheckIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.EnforceRetention(d.ctx)
		case <-d.ctx.Done():
			return
		}
	}
}

package disk

import (
	"time"

	"github.com/downfa11-org/cursus-store/util"
)

// flushLoop periodically commits dirty pages. Regular ticks require
// FlushLeastPages dirty pages; every FlushThoroughIntervalMS a tick commits
// whatever is pending.
func (d *DiskHandler) flushLoop() {
	ticker := time.NewTicker(time.Duration(d.cfg.FlushIntervalMS) * time.Millisecond)
	defer ticker.Stop()

	thorough := time.Duration(d.cfg.FlushThoroughIntervalMS) * time.Millisecond
	lastThorough := time.Now()

	for {
		select {
		case <-d.ctx.Done():
			return
		case now := <-ticker.C:
			pages := d.cfg.FlushLeastPages
			if now.Sub(lastThorough) >= thorough {
				pages = 0
				lastThorough = now
			}
			for d.commit(pages) {
			}
			util.Debug("%s-%d: committed to %d", d.Topic, d.PartitionID, d.queue.CommittedWhere())
		}
	}
}

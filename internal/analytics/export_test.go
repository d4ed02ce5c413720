package analytics

import "time"

// SetBeforeBatch installs a hook that runs ahead of each purge batch.
func SetBeforeBatch(p *Purger, f func(batch int) error) {
	p.beforeBatch = f
}

// SetClock pins the collector clock.
func SetClock(c *Collector, now func() time.Time) {
	c.now = now
}

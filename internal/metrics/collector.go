package metrics

import (
	"time"

	"collection-viewer/internal/logging"
)

// GaugeProvider supplies point-in-time counts for the polled gauges
type GaugeProvider interface {
	GetGaugeStats() GaugeStats
}

// GaugeStats holds the current polled values. Negative values mean the
// source was unreachable and the gauge is left untouched.
type GaugeStats struct {
	IndexedCollections int64
	KVSKeys            int64
	PendingJobs        int64
}

// Collector periodically polls gauge values from its provider
type Collector struct {
	provider GaugeProvider
	interval time.Duration
	stopChan chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(provider GaugeProvider, interval time.Duration) *Collector {
	return &Collector{
		provider: provider,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the metrics collection loop
func (c *Collector) Start() {
	go c.collectLoop()
}

// Stop stops the metrics collection
func (c *Collector) Stop() {
	close(c.stopChan)
}

func (c *Collector) collectLoop() {
	// Collect immediately on start
	c.collect()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.collect()
		case <-c.stopChan:
			return
		}
	}
}

func (c *Collector) collect() {
	if c.provider == nil {
		return
	}

	stats := c.provider.GetGaugeStats()

	if stats.IndexedCollections >= 0 {
		IndexedCollections.Set(float64(stats.IndexedCollections))
	}
	if stats.KVSKeys >= 0 {
		KVSKeys.Set(float64(stats.KVSKeys))
	}
	if stats.PendingJobs >= 0 {
		JobsPending.Set(float64(stats.PendingJobs))
	}

	logging.Debug("Metrics collected: indexed=%d, kvsKeys=%d, pendingJobs=%d",
		stats.IndexedCollections, stats.KVSKeys, stats.PendingJobs)
}

// Package memory configures Go's runtime memory limit and provides
// backpressure signals for memory-hungry batch work.
//
// # Why
//
// Containerized deployments get OOM-killed when they exceed the memory limit.
// Go auto-detects GOMAXPROCS from cgroup CPU quotas, but GOMEMLIMIT must be
// configured explicitly. Index rebuilds and bulk thumbnail encodes are the
// allocation-heavy paths here, and they need both a sane limit and a way to
// back off when the heap approaches it.
//
// # Configuration
//
// Call [ConfigureFromEnv] first thing in main, before significant
// allocations:
//
//	func main() {
//	    memory.ConfigureFromEnv()
//	    // ...
//	}
//
// Environment variables:
//
//   - GOMEMLIMIT: standard Go variable; if set it takes precedence.
//   - MEMORY_LIMIT: container memory limit in bytes, typically injected via
//     the Kubernetes Downward API (resourceFieldRef: limits.memory).
//   - MEMORY_RATIO: fraction of MEMORY_LIMIT to give the Go heap, 0.0-1.0.
//     Defaults to 0.85; the remainder is headroom for libvips buffers,
//     archive extraction, goroutine stacks, and OS caches.
//
// GOMEMLIMIT is a soft limit: the collector works harder near it but the
// process can still exceed it briefly, and cgo allocations are not counted
// at all. That is why the default ratio leaves 15% unclaimed.
//
// # Monitoring and backpressure
//
// [Monitor] samples heap usage on an interval and pauses batch work when
// usage crosses the critical watermark, resuming below the high watermark:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
//	// in batch loops:
//	if !monitor.WaitIfPaused() {
//	    return // shutting down
//	}
//
// # Batch helpers
//
// [ForceCompactingGC] runs a full collection and returns freed pages to the
// OS; rebuild calls it between batches so a long run over many thousands of
// collections does not hold the peak of every batch at once. [PeakTracker]
// records the high-water heap mark across those batches for reporting.
package memory

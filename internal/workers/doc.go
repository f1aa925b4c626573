/*
Package workers determines worker pool sizes that respect container CPU
limits.

runtime.NumCPU() reports the host machine's core count even when a cgroup
limits the container to a fraction of it. Go 1.19+ sets GOMAXPROCS from the
container limit, so pool sizing here reads GOMAXPROCS instead:

	// For CPU-intensive work (image decode/encode)
	n := workers.ForCPU(8) // 1 per CPU, max 8

	// For I/O-bound work (filesystem walks, archive reads)
	n := workers.ForIO(16) // 2 per CPU, max 16

	// For mixed work (thumbnail generation: read, resize, encode)
	n := workers.ForMixed(12) // 1.5 per CPU, max 12

All functions honor the THUMBNAIL_WORKERS environment variable as a manual
override, capped by the same limit argument. Use a non-zero limit when the
workers feed a bounded downstream resource (database pool, broker channel).
*/
package workers

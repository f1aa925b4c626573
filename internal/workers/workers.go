package workers

import (
	"os"
	"runtime"
	"strconv"
)

// overrideEnv short-circuits sizing for deployments that know better than
// the heuristic, e.g. a thumbnail box sharing CPUs with the transcode host.
const overrideEnv = "THUMBNAIL_WORKERS"

// Count sizes a worker pool from GOMAXPROCS, which Go 1.19+ derives from
// the container CPU limit rather than the host core count.
//
// The multiplier adjusts for what the workers do: 1.0 when they saturate a
// CPU (image decode/encode), 2.0 when they mostly wait on files or archive
// reads, 1.5 for passes that interleave both. A limit > 0 caps the result;
// use it when the pool feeds a bounded resource downstream.
func Count(multiplier float64, limit int) int {
	if n, ok := override(); ok {
		return capAt(n, limit)
	}

	available := runtime.GOMAXPROCS(0)
	n := int(float64(available) * multiplier)
	if n < 1 {
		n = 1
	}
	return capAt(n, limit)
}

// ForCPU sizes a pool for CPU-bound work: one worker per CPU, at most limit.
func ForCPU(limit int) int {
	return Count(1.0, limit)
}

// ForIO sizes a pool for I/O-bound work: two workers per CPU, at most limit.
func ForIO(limit int) int {
	return Count(2.0, limit)
}

// ForMixed sizes a pool for mixed work: 1.5 workers per CPU, at most limit.
func ForMixed(limit int) int {
	return Count(1.5, limit)
}

// override reads the manual pool-size override from the environment.
// Non-numeric and non-positive values are ignored.
func override() (int, bool) {
	v := os.Getenv(overrideEnv)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

func capAt(n, limit int) int {
	if limit > 0 && n > limit {
		return limit
	}
	return n
}

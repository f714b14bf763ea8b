package manager

import (
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
)

// resolveThreads maps a requested thread count to an effective one.
// Non-positive requests resolve to max(2, cores-2), leaving headroom for the
// caller's own threads.
func resolveThreads(requested int) int {
	if requested > 0 {
		return requested
	}
	cores, err := cpu.Counts(true)
	if err != nil || cores <= 0 {
		cores = runtime.NumCPU()
	}
	n := cores - 2
	if n < 2 {
		n = 2
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

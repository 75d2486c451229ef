// Package parallel splits index ranges across goroutines. It backs the
// element-wise and reduction kernels run on a device stream.
package parallel

import (
	"runtime"
	"sync"
)

// Parallelize divides items across runtime.NumCPU() workers and runs fn on
// each [start, end) range.
func Parallelize(items int, fn func(start, end int)) {
	ParallelizeN(items, runtime.NumCPU(), fn)
}

// ParallelizeN is Parallelize with an explicit worker count; workers <= 0
// means runtime.NumCPU().
func ParallelizeN(items, workers int, fn func(start, end int)) {
	if items == 0 {
		return
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}

	chunkSize := (items + workers - 1) / workers

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn sequentially when items <= threshold.
func ParallelizeWithThreshold(items, threshold int, fn func(start, end int)) {
	ParallelizeNWithThreshold(items, threshold, runtime.NumCPU(), fn)
}

// ParallelizeNWithThreshold is ParallelizeWithThreshold with a worker count.
func ParallelizeNWithThreshold(items, threshold, workers int, fn func(start, end int)) {
	if items <= threshold || workers == 1 {
		fn(0, items)
		return
	}
	ParallelizeN(items, workers, fn)
}

// SumWithThreshold evaluates fn on disjoint ranges and returns the sum of the
// partial results. Partials are added in range order, so the result does not
// depend on goroutine scheduling.
func SumWithThreshold(items, threshold, workers int, fn func(start, end int) float64) float64 {
	if items <= threshold || workers == 1 {
		return fn(0, items)
	}
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > items {
		workers = items
	}
	chunkSize := (items + workers - 1) / workers
	partials := make([]float64, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}
		wg.Add(1)
		go func(slot, s, e int) {
			defer wg.Done()
			partials[slot] = fn(s, e)
		}(i, start, end)
	}
	wg.Wait()

	var total float64
	for _, p := range partials {
		total += p
	}
	return total
}

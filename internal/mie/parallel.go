package mie

import (
	"runtime"
	"sync"
)

// minChunk keeps goroutine overhead below the cost of the spheres it
// amortizes over.
const minChunk = 16

// parallelFor executes fn over contiguous chunks of [0, n). Chunks
// are disjoint, so fn only needs index-disjoint writes to be safe.
func parallelFor(n, chunk, workers int, fn func(start, end int)) {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if n <= chunk || workers <= 1 {
		fn(0, n)
		return
	}

	if n/chunk < workers {
		workers = n / chunk
	}
	if workers < 1 {
		workers = 1
	}
	chunkSize := (n + workers - 1) / workers

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		start := w * chunkSize
		end := start + chunkSize
		if end > n {
			end = n
		}
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

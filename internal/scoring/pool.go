package scoring

import (
	"runtime"
	"sync"
)

// workerPool fans scoring work out over a bounded number of goroutines.
// Results keep the input order regardless of completion order.
type workerPool struct {
	numWorkers int
}

// newWorkerPool creates a pool; non-positive sizes default to the CPU count.
func newWorkerPool(numWorkers int) *workerPool {
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	return &workerPool{numWorkers: numWorkers}
}

// run invokes fn for every index in [0, n) using at most numWorkers
// goroutines and waits for completion.
func (p *workerPool) run(n int, fn func(i int)) {
	if n == 0 {
		return
	}

	workers := p.numWorkers
	if workers > n {
		workers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}

	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}

package snn

import (
	"github.com/sourcegraph/conc/pool"
)

// parallelFor runs body(0..count-1) on at most n.Workers goroutines.
// Callers write results into per-index slots so ordering stays deterministic.
func (n *Network) parallelFor(count int, body func(i int)) {
	if n.Workers <= 1 || count <= 1 {
		for i := 0; i < count; i++ {
			body(i)
		}
		return
	}

	workers := n.Workers
	if workers > count {
		workers = count
	}
	p := pool.New().WithMaxGoroutines(workers)
	for i := 0; i < count; i++ {
		i := i
		p.Go(func() {
			body(i)
		})
	}
	p.Wait()
}

package cache

import (
	"sync"

	"github.com/rs/zerolog/log"
)

const maxWorkers = 8

// runParallel invokes fn for every index up to n. Small batches run inline,
// the pool overhead is not worth two goroutines. A panic in fn is contained
// to its slot so one bad item cannot take down the batch.
func runParallel(n int, fn func(i int)) {
	call := func(i int) {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Int("slot", i).Interface("panic", r).Msg("parallel compute panicked")
			}
		}()
		fn(i)
	}

	if n <= 2 {
		for i := 0; i < n; i++ {
			call(i)
		}
		return
	}

	workers := n
	if workers > maxWorkers {
		workers = maxWorkers
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()
			call(i)
		}(i)
	}
	wg.Wait()
}

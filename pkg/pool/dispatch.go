package pool

import (
	"sync"
)

// dispatchGroup is a fixed set of dispatcher goroutines, one per
// worker. Submission blocks until a dispatcher is free, which bounds
// concurrent benchmarking to the number of workers.
type dispatchGroup struct {
	tasks chan func()
	done  chan struct{}
	wg    sync.WaitGroup
}

func newDispatchGroup(dispatchers int) *dispatchGroup {
	g := &dispatchGroup{
		tasks: make(chan func()),
		done:  make(chan struct{}),
	}

	for i := 0; i < dispatchers; i++ {
		go func() {
			for {
				select {
				case task := <-g.tasks:
					task()
					g.wg.Done()
				case <-g.done:
					return
				}
			}
		}()
	}

	return g
}

// Submit hands a task to an idle dispatcher, blocking until one is
// available. Returns false if the group has been stopped.
func (g *dispatchGroup) Submit(task func()) bool {
	g.wg.Add(1)
	select {
	case g.tasks <- task:
		return true
	case <-g.done:
		g.wg.Done()
		return false
	}
}

// Stop prevents further submissions. Tasks already handed to a
// dispatcher run to completion; use Wait to block for them.
func (g *dispatchGroup) Stop() {
	close(g.done)
}

func (g *dispatchGroup) Wait() {
	g.wg.Wait()
}

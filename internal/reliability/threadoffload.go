// Package reliability holds the three cross-cutting primitives every broker
// call passes through: a bounded worker pool for blocking SDK calls, a
// token-bucket rate limiter with debt, and a three-state circuit breaker.
package reliability

import (
	"context"
	"fmt"
	"sync"

	"github.com/rkulkarni/tradecore/internal/domain"
)

// DefaultWorkers is the process-wide offload pool size (§4.1).
const DefaultWorkers = 20

// job is one queued blocking call plus the channel its result is delivered on.
type job struct {
	fn     func() (any, error)
	result chan<- jobResult
}

type jobResult struct {
	val any
	err error
}

// ThreadOffload is a bounded worker pool used to call blocking broker-SDK
// functions without stalling the cooperative scheduler. Grounded on the
// workCh/resultCh worker pool in internal/application/scanner/concurrent.go,
// generalized from a one-shot fan-out into a long-lived pool.
type ThreadOffload struct {
	jobs    chan job
	wg      sync.WaitGroup
	mu      sync.Mutex
	stopped bool
}

// NewThreadOffload starts a pool of n workers (DefaultWorkers if n <= 0).
// Must be started before any broker call and stopped last on shutdown.
func NewThreadOffload(n int) *ThreadOffload {
	if n <= 0 {
		n = DefaultWorkers
	}
	p := &ThreadOffload{jobs: make(chan job, n*4)}
	p.wg.Add(n)
	for i := 0; i < n; i++ {
		go p.worker()
	}
	return p
}

func (p *ThreadOffload) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		val, err := j.fn()
		j.result <- jobResult{val: val, err: err}
	}
}

// Submit runs fn on a pool worker and waits for its result, returning
// fn's value and error. Returns ErrShutdown immediately if the
// pool has been stopped.
func Submit[T any](p *ThreadOffload, ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return zero, fmt.Errorf("reliability.Submit: %w", domain.ErrShutdown)
	}
	p.mu.Unlock()

	resultCh := make(chan jobResult, 1)
	p.jobs <- job{
		fn: func() (any, error) {
			v, err := fn()
			return v, err
		},
		result: resultCh,
	}

	select {
	case r := <-resultCh:
		if r.err != nil {
			return zero, r.err
		}
		return r.val.(T), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Stop closes the job queue and waits for in-flight work to finish. Further
// Submit calls return ErrShutdown.
func (p *ThreadOffload) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

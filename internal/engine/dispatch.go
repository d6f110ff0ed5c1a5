package engine

import "sync"

// tokenDispatcher serializes tick and order-update processing per token onto
// one worker goroutine each, so events for a given token apply in the order
// the bus delivered them (§5) while different tokens still run concurrently.
// Lanes are created lazily on first dispatch and torn down by stop.
type tokenDispatcher struct {
	mu    sync.Mutex
	lanes map[int64]chan func()
	wg    sync.WaitGroup
}

func newTokenDispatcher() *tokenDispatcher {
	return &tokenDispatcher{lanes: make(map[int64]chan func())}
}

// dispatch enqueues fn onto token's lane, spawning the lane's worker on
// first use. Must not be called after stop.
func (d *tokenDispatcher) dispatch(token int64, fn func()) {
	d.mu.Lock()
	lane, ok := d.lanes[token]
	if !ok {
		lane = make(chan func(), 64)
		d.lanes[token] = lane
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			for f := range lane {
				f()
			}
		}()
	}
	d.mu.Unlock()
	lane <- fn
}

// stop closes every lane and waits for its worker to drain. Callers must
// guarantee no further dispatch calls arrive once stop has been called.
func (d *tokenDispatcher) stop() {
	d.mu.Lock()
	for _, lane := range d.lanes {
		close(lane)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

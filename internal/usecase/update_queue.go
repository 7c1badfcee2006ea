package usecase

import (
	"sync"

	"github.com/vitos/crypto_rebalancer/internal/domain"
)

// updateQueue is an unbounded multi-producer, single-consumer queue. Push
// never blocks, so venue callbacks and the timeout monitor can emit while
// holding the tracker lock. A single pump goroutine forwards items to out.
type updateQueue struct {
	mu     sync.Mutex
	items  []domain.OrderUpdate
	closed bool
	wake   chan struct{}
	out    chan domain.OrderUpdate
	abort  <-chan struct{}
}

// newUpdateQueue starts the pump. Once abort fires the pump stops forwarding
// and closes out without draining.
func newUpdateQueue(abort <-chan struct{}) *updateQueue {
	q := &updateQueue{
		wake:  make(chan struct{}, 1),
		out:   make(chan domain.OrderUpdate),
		abort: abort,
	}
	go q.pump()
	return q
}

// Push appends u. It reports false once the queue is closed.
func (q *updateQueue) Push(u domain.OrderUpdate) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, u)
	q.mu.Unlock()

	q.signal()
	return true
}

// Close stops accepting items. Items already queued are still delivered.
func (q *updateQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.signal()
}

func (q *updateQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *updateQueue) pump() {
	defer close(q.out)
	for {
		q.mu.Lock()
		items := q.items
		q.items = nil
		closed := q.closed
		q.mu.Unlock()

		for _, u := range items {
			select {
			case q.out <- u:
			case <-q.abort:
				return
			}
		}
		if closed {
			return
		}

		select {
		case <-q.wake:
		case <-q.abort:
			return
		}
	}
}

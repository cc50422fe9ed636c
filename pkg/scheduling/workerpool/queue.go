package workerpool

import (
	"sync"

	"github.com/emirpasic/gods/queues/linkedlistqueue"

	hperrors "github.com/vnykmshr/hellopool/pkg/common/errors"
)

// queue is the FIFO shared by every worker of a pool. Producers never wait
// for consumers; consumers block in pop until an item arrives or the queue
// is closed and empty.
type queue struct {
	mu       sync.Mutex
	ready    *sync.Cond
	items    *linkedlistqueue.Queue
	capacity int // 0 means unbounded
	closed   bool
}

func newQueue(capacity int) *queue {
	q := &queue{
		items:    linkedlistqueue.New(),
		capacity: capacity,
	}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// push appends it at the tail and wakes one blocked consumer.
func (q *queue) push(it item) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return hperrors.ErrClosed
	}
	if q.capacity > 0 && q.items.Size() >= q.capacity {
		return hperrors.ErrCapacityExceeded
	}

	q.items.Enqueue(it)
	q.ready.Signal()
	return nil
}

// pop removes and returns the oldest item. ok is false only once the
// queue has been closed and every item has been handed out.
func (q *queue) pop() (it item, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Empty() && !q.closed {
		q.ready.Wait()
	}

	v, ok := q.items.Dequeue()
	if !ok {
		return item{}, false
	}
	return v.(item), true
}

// close rejects further pushes and releases every blocked consumer.
// Items already queued are still delivered by pop.
func (q *queue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	q.ready.Broadcast()
}

func (q *queue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Size()
}

package scheduler

import (
	"sync"

	"github.com/gammazero/deque"
)

// queue holds one FIFO per priority. Any number of goroutines may push;
// a single consumer pops. wake is signalled on every push so the consumer
// can sleep while the queue is empty.
type queue struct {
	mu    sync.Mutex
	tiers [numPriorities]*deque.Deque[Job]
	wake  chan struct{}
}

func newQueue() *queue {
	q := &queue{wake: make(chan struct{}, 1)}
	for i := range q.tiers {
		q.tiers[i] = deque.New[Job]()
	}
	return q
}

func (q *queue) push(j Job) {
	q.mu.Lock()
	q.tiers[j.Priority].PushBack(j)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// pop removes the oldest job of the highest non-empty priority.
func (q *queue) pop() (Job, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for p := numPriorities - 1; p >= 0; p-- {
		if q.tiers[p].Len() > 0 {
			return q.tiers[p].PopFront(), true
		}
	}
	return Job{}, false
}

func (q *queue) lens() []int {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]int, numPriorities)
	for p := range q.tiers {
		out[p] = q.tiers[p].Len()
	}
	return out
}

package scheduler

import (
	"container/heap"

	"github.com/acksell/confluence/stream"
)

// holder is one input stream's position in the merge, grounded on the
// classic k-way-merge "one buffered head per source" design (§4.3 State).
type holder struct {
	name   string
	source stream.Source
	// buffer holds the remaining records of the last batch read from
	// source; buffer[0] is this stream's current head element.
	buffer []stream.ConsumerRecord
	index  int // maintained by container/heap
}

// pqueue is a container/heap.Interface over the holders that currently
// have a buffered head element, ordered by the scheduler's composite key
// (§4.3 rules 1-3). Ordering depends on scheduler-wide state (the open
// transaction id), so the queue holds a back-reference to the scheduler
// rather than duplicating that state.
type pqueue struct {
	items []*holder
	sched *Scheduler
}

func (q *pqueue) Len() int { return len(q.items) }

func (q *pqueue) Less(i, j int) bool {
	return q.sched.less(q.items[i].buffer[0], q.items[j].buffer[0])
}

func (q *pqueue) Swap(i, j int) {
	q.items[i], q.items[j] = q.items[j], q.items[i]
	q.items[i].index = i
	q.items[j].index = j
}

func (q *pqueue) Push(x any) {
	h := x.(*holder)
	h.index = len(q.items)
	q.items = append(q.items, h)
}

func (q *pqueue) Pop() any {
	old := q.items
	n := len(old)
	h := old[n-1]
	old[n-1] = nil
	h.index = -1
	q.items = old[:n-1]
	return h
}

// requeue removes h from the heap, drops its consumed head element, and
// either re-pushes it (more buffered records) or hands it back to the
// caller to be probed again.
func (q *pqueue) requeue(h *holder) (exhausted bool) {
	heap.Remove(q, h.index)
	h.buffer = h.buffer[1:]
	if len(h.buffer) == 0 {
		return true
	}
	heap.Push(q, h)
	return false
}

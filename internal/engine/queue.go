package engine

import (
	"container/heap"

	"backtesting-engine/internal/events"
)

// queued is a pending event plus its insertion sequence number.
type queued struct {
	ev  events.Event
	seq uint64
}

// eventHeap orders events by (timestamp, insertion sequence), so events
// with equal timestamps leave in the order they were added.
type eventHeap []queued

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	ti, tj := h[i].ev.Timestamp(), h[j].ev.Timestamp()
	if ti != tj {
		return ti < tj
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x any) { *h = append(*h, x.(queued)) }

func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = queued{}
	*h = old[:n-1]
	return item
}

// eventQueue is a min-priority queue of events that accepts pushes while it
// is being drained.
type eventQueue struct {
	h   eventHeap
	seq uint64
}

func (q *eventQueue) push(ev events.Event) {
	q.seq++
	heap.Push(&q.h, queued{ev: ev, seq: q.seq})
}

func (q *eventQueue) pop() (events.Event, bool) {
	if len(q.h) == 0 {
		return nil, false
	}
	return heap.Pop(&q.h).(queued).ev, true
}

func (q *eventQueue) len() int { return len(q.h) }

func (q *eventQueue) reset() {
	q.h = nil
	q.seq = 0
}

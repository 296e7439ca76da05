package wsconn

import (
	"sort"
	"sync"
)

// queuedMessage is one buffered outbound frame. seq preserves enqueue
// order so equal priorities flush FIFO.
type queuedMessage struct {
	data     []byte
	priority int
	seq      uint64
}

// messageQueue buffers outbound messages while the connection is down.
// It is bounded: on overflow the lowest-priority entry is evicted, and a
// new message that would itself be the lowest is dropped outright.
type messageQueue struct {
	mu    sync.Mutex
	max   int
	seq   uint64
	items []queuedMessage
}

func newMessageQueue(max int) *messageQueue {
	return &messageQueue{max: max}
}

// push buffers a message, evicting if needed. Returns false when the
// message was dropped instead of buffered.
func (q *messageQueue) push(data []byte, priority int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.items) >= q.max {
		evict := q.lowestLocked()
		if q.items[evict].priority >= priority {
			return false
		}
		q.items = append(q.items[:evict], q.items[evict+1:]...)
	}

	q.seq++
	q.items = append(q.items, queuedMessage{data: data, priority: priority, seq: q.seq})
	return true
}

// lowestLocked returns the index of the lowest-priority entry, oldest
// first among ties.
func (q *messageQueue) lowestLocked() int {
	idx := 0
	for i, item := range q.items {
		if item.priority < q.items[idx].priority ||
			(item.priority == q.items[idx].priority && item.seq < q.items[idx].seq) {
			idx = i
		}
	}
	return idx
}

// drain empties the queue, returning messages highest priority first and
// FIFO within a priority.
func (q *messageQueue) drain() []queuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()

	items := q.items
	q.items = nil
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].priority != items[j].priority {
			return items[i].priority > items[j].priority
		}
		return items[i].seq < items[j].seq
	})
	return items
}

func (q *messageQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

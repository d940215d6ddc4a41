package asynclogger

// boundedQueue is a fixed-capacity MPMC queue backed by a buffered channel.
// Enqueue never blocks: callers that hit a full queue must handle the
// false return themselves (spillover or drop).
type boundedQueue struct {
	ch chan *item
}

func newBoundedQueue(capacity int) *boundedQueue {
	if capacity <= 0 {
		capacity = 10000
	}
	return &boundedQueue{ch: make(chan *item, capacity)}
}

// TryEnqueue attempts a non-blocking push. It reports false if the queue
// is full.
func (q *boundedQueue) TryEnqueue(it *item) bool {
	select {
	case q.ch <- it:
		return true
	default:
		return false
	}
}

// DrainUpTo pulls up to n items without blocking.
func (q *boundedQueue) DrainUpTo(n int) []*item {
	items := make([]*item, 0, n)
	for len(items) < n {
		select {
		case it := <-q.ch:
			items = append(items, it)
		default:
			return items
		}
	}
	return items
}

// Depth returns the number of items currently buffered.
func (q *boundedQueue) Depth() int {
	return len(q.ch)
}

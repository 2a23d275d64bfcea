package sequence

// Queue is an unbounded generic FIFO queue. Not safe for concurrent use; the
// owner is expected to serialize access.
type Queue[T any] struct {
	items []T
}

func NewQueue[T any]() *Queue[T] {
	return &Queue[T]{}
}

func (q *Queue[T]) Enqueue(value T) {
	q.items = append(q.items, value)
}

func (q *Queue[T]) Dequeue() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	item := q.items[0]
	q.items[0] = *new(T) // avoid memory leak
	q.items = q.items[1:]
	return item, true
}

func (q *Queue[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}
	return q.items[0], true
}

func (q *Queue[T]) Len() int {
	return len(q.items)
}

// Drain removes and returns all queued items in FIFO order.
func (q *Queue[T]) Drain() []T {
	items := q.items
	q.items = nil
	return items
}

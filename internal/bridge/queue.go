package bridge

// DefaultQueueCapacity is the pending queue bound used when no
// WithQueueCapacity option is given.
const DefaultQueueCapacity = 256

// queue is a FIFO ring of values waiting for a transport. With a positive
// limit, pushing onto a full queue evicts the oldest entry. With limit <= 0
// the ring grows without bound. Not safe for concurrent use.
type queue[T any] struct {
	buf   []T
	head  int
	size  int
	limit int
}

func newQueue[T any](limit int) *queue[T] {
	initial := 16
	if limit > 0 && limit < initial {
		initial = limit
	}
	return &queue[T]{buf: make([]T, initial), limit: limit}
}

// push appends v and reports whether the oldest entry was evicted to make
// room for it.
func (q *queue[T]) push(v T) (evicted bool) {
	if q.limit > 0 && q.size == q.limit {
		q.buf[q.head] = v
		q.head = (q.head + 1) % len(q.buf)
		return true
	}

	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
	return false
}

// pushFront puts v back at the head, ahead of everything queued. On a full
// bounded queue v would be the oldest entry, so it is dropped instead and
// pushFront returns false.
func (q *queue[T]) pushFront(v T) bool {
	if q.limit > 0 && q.size == q.limit {
		return false
	}

	if q.size == len(q.buf) {
		q.grow()
	}
	q.head = (q.head - 1 + len(q.buf)) % len(q.buf)
	q.buf[q.head] = v
	q.size++
	return true
}

func (q *queue[T]) grow() {
	n := len(q.buf) * 2
	if n == 0 {
		n = 16
	}
	if q.limit > 0 && n > q.limit {
		n = q.limit
	}

	next := make([]T, n)
	q.copyTo(next)
	q.buf = next
	q.head = 0
}

func (q *queue[T]) peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.buf[q.head], true
}

func (q *queue[T]) pop() {
	if q.size == 0 {
		return
	}
	var zero T
	q.buf[q.head] = zero
	q.head = (q.head + 1) % len(q.buf)
	q.size--
}

func (q *queue[T]) len() int { return q.size }

// snapshot returns the queued values, oldest first.
func (q *queue[T]) snapshot() []T {
	out := make([]T, q.size)
	q.copyTo(out)
	return out
}

func (q *queue[T]) copyTo(dst []T) {
	for i := 0; i < q.size; i++ {
		dst[i] = q.buf[(q.head+i)%len(q.buf)]
	}
}

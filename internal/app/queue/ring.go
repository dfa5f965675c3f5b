package queue

const minRingCap = 8

// ring is a growable circular deque. Not safe for concurrent use.
type ring[T any] struct {
	buf   []T
	head  int
	count int
}

func newRing[T any](capacity int) *ring[T] {
	if capacity < minRingCap {
		capacity = minRingCap
	}
	return &ring[T]{buf: make([]T, capacity)}
}

func (r *ring[T]) len() int { return r.count }

func (r *ring[T]) index(i int) int {
	return (r.head + i) % len(r.buf)
}

func (r *ring[T]) grow() {
	if r.count < len(r.buf) {
		return
	}
	buf := make([]T, len(r.buf)*2)
	for i := 0; i < r.count; i++ {
		buf[i] = r.buf[r.index(i)]
	}
	r.buf = buf
	r.head = 0
}

func (r *ring[T]) pushBack(v T) {
	r.grow()
	r.buf[r.index(r.count)] = v
	r.count++
}

func (r *ring[T]) pushFront(v T) {
	r.grow()
	r.head = (r.head - 1 + len(r.buf)) % len(r.buf)
	r.buf[r.head] = v
	r.count++
}

func (r *ring[T]) popFront() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	v := r.buf[r.head]
	r.buf[r.head] = zero
	r.head = (r.head + 1) % len(r.buf)
	r.count--
	return v, true
}

func (r *ring[T]) popBack() (T, bool) {
	var zero T
	if r.count == 0 {
		return zero, false
	}
	i := r.index(r.count - 1)
	v := r.buf[i]
	r.buf[i] = zero
	r.count--
	return v, true
}

func (r *ring[T]) at(i int) T {
	return r.buf[r.index(i)]
}

func (r *ring[T]) set(i int, v T) {
	r.buf[r.index(i)] = v
}

// removeAt deletes element i, shifting the shorter side.
func (r *ring[T]) removeAt(i int) {
	var zero T
	if i < r.count/2 {
		for j := i; j > 0; j-- {
			r.set(j, r.at(j-1))
		}
		r.buf[r.head] = zero
		r.head = (r.head + 1) % len(r.buf)
	} else {
		for j := i; j < r.count-1; j++ {
			r.set(j, r.at(j+1))
		}
		r.buf[r.index(r.count-1)] = zero
	}
	r.count--
}

// insertAt places v so that it becomes element i.
func (r *ring[T]) insertAt(i int, v T) {
	if i <= 0 {
		r.pushFront(v)
		return
	}
	if i >= r.count {
		r.pushBack(v)
		return
	}
	r.pushBack(v)
	for j := r.count - 1; j > i; j-- {
		r.set(j, r.at(j-1))
	}
	r.set(i, v)
}

func (r *ring[T]) slice(offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= r.count || limit <= 0 {
		return []T{}
	}
	end := offset + limit
	if end > r.count {
		end = r.count
	}
	out := make([]T, 0, end-offset)
	for i := offset; i < end; i++ {
		out = append(out, r.at(i))
	}
	return out
}

func (r *ring[T]) clear() {
	r.buf = make([]T, minRingCap)
	r.head = 0
	r.count = 0
}

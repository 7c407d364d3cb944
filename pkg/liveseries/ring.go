package liveseries

// ring is a fixed-capacity FIFO of points. Pushing past capacity
// evicts the oldest entry; push and evict are O(1).
type ring struct {
	buf  []Point
	head int // index of the oldest element
	n    int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]Point, capacity)}
}

func (r *ring) push(p Point) {
	if r.n < len(r.buf) {
		r.buf[(r.head+r.n)%len(r.buf)] = p
		r.n++
		return
	}
	r.buf[r.head] = p
	r.head = (r.head + 1) % len(r.buf)
}

func (r *ring) len() int { return r.n }

// points returns the buffered points oldest first, as a fresh slice.
func (r *ring) points() []Point {
	out := make([]Point, r.n)
	for i := 0; i < r.n; i++ {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

// Package stats holds the rolling-window statistics kept per check key.
// None of the types here are safe for concurrent use; the registry
// serialises access per key.
package stats

// Window is a bounded FIFO that keeps the most recent values. Once full,
// each Push evicts the oldest value.
type Window[T any] struct {
	buf  []T
	head int // index of the oldest value
	n    int
}

// NewWindow returns an empty window holding at most capacity values.
// A capacity below 1 is raised to 1.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{buf: make([]T, capacity)}
}

// Push appends v, evicting the oldest value when the window is full.
func (w *Window[T]) Push(v T) {
	if w.n < len(w.buf) {
		w.buf[(w.head+w.n)%len(w.buf)] = v
		w.n++
		return
	}
	w.buf[w.head] = v
	w.head = (w.head + 1) % len(w.buf)
}

// Oldest returns the value the next Push would evict once the window is full.
func (w *Window[T]) Oldest() (v T, ok bool) {
	if w.n == 0 {
		return v, false
	}
	return w.buf[w.head], true
}

// Len returns the number of retained values.
func (w *Window[T]) Len() int { return w.n }

// Cap returns the window capacity.
func (w *Window[T]) Cap() int { return len(w.buf) }

// Values returns a copy of the retained values, oldest first.
func (w *Window[T]) Values() []T {
	out := make([]T, w.n)
	for i := 0; i < w.n; i++ {
		out[i] = w.buf[(w.head+i)%len(w.buf)]
	}
	return out
}

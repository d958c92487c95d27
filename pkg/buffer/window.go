// Package buffer provides thread-safe fixed-capacity ring buffers used for
// rolling-window statistics across the framework.
package buffer

import "sync"

// Window is a fixed-capacity circular buffer. Once full, each append
// overwrites the oldest element. All methods are safe for concurrent use.
type Window[T any] struct {
	mu    sync.RWMutex
	items []T
	head  int // next write position
	size  int
	total uint64
}

// NewWindow creates a window with the given capacity. Capacities below one
// are raised to one.
func NewWindow[T any](capacity int) *Window[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Window[T]{items: make([]T, capacity)}
}

// Append adds an item, evicting the oldest when the window is full.
func (w *Window[T]) Append(item T) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.items[w.head] = item
	w.head = (w.head + 1) % len(w.items)
	if w.size < len(w.items) {
		w.size++
	}
	w.total++
}

// Len returns the number of items currently held.
func (w *Window[T]) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.size
}

// Capacity returns the fixed capacity of the window.
func (w *Window[T]) Capacity() int {
	return len(w.items)
}

// Total returns the number of items ever appended, including evicted ones.
func (w *Window[T]) Total() uint64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.total
}

// Snapshot returns a copy of the current contents, oldest first.
func (w *Window[T]) Snapshot() []T {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]T, 0, w.size)
	start := w.head - w.size
	if start < 0 {
		start += len(w.items)
	}
	for i := 0; i < w.size; i++ {
		out = append(out, w.items[(start+i)%len(w.items)])
	}
	return out
}

// Reset discards all items while keeping the capacity.
func (w *Window[T]) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.head = 0
	w.size = 0
}

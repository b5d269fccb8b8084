package transport

import (
	"sync"

	"go.uber.org/zap"
)

// Subscription cancels a handler registration.
type Subscription interface {
	// Unsubscribe removes the handler. Calling it more than once is a no-op.
	Unsubscribe()
}

type subscription struct {
	once sync.Once
	fn   func()
}

func (s *subscription) Unsubscribe() {
	s.once.Do(s.fn)
}

type handler[T any] struct {
	fn func(T)
}

// handlers is an ordered list of callbacks. emit calls a snapshot of the list outside
// the lock, so handlers may subscribe or unsubscribe while being called.
type handlers[T any] struct {
	mu   sync.Mutex
	list []*handler[T]
}

func (h *handlers[T]) add(fn func(T)) Subscription {
	entry := &handler[T]{fn: fn}
	h.mu.Lock()
	h.list = append(h.list, entry)
	h.mu.Unlock()

	return &subscription{fn: func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, e := range h.list {
			if e == entry {
				h.list = append(h.list[:i:i], h.list[i+1:]...)
				return
			}
		}
	}}
}

func (h *handlers[T]) emit(log *zap.Logger, v T) {
	h.mu.Lock()
	snapshot := h.list
	h.mu.Unlock()

	for _, e := range snapshot {
		callSafely(log, e.fn, v)
	}
}

func (h *handlers[T]) clear() {
	h.mu.Lock()
	h.list = nil
	h.mu.Unlock()
}

func (h *handlers[T]) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.list)
}

// callSafely keeps a panicking handler from taking down the read loop.
func callSafely[T any](log *zap.Logger, fn func(T), v T) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("event handler panicked", zap.Any("panic", r), zap.Stack("stack"))
		}
	}()
	fn(v)
}

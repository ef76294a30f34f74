package notebook

import "sync"

// Signal is a minimal synchronous publish/subscribe slot list.
// Handlers run on the emitting goroutine, in connection order.
type Signal[T any] struct {
	mu    sync.Mutex
	next  int
	slots []slot[T]
}

type slot[T any] struct {
	id int
	fn func(T)
}

// Connect registers fn and returns a function that disconnects it.
func (s *Signal[T]) Connect(fn func(T)) (disconnect func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	id := s.next
	s.slots = append(s.slots, slot[T]{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			for i, sl := range s.slots {
				if sl.id == id {
					s.slots = append(s.slots[:i:i], s.slots[i+1:]...)
					return
				}
			}
		})
	}
}

// Emit calls every connected handler with v.
func (s *Signal[T]) Emit(v T) {
	s.mu.Lock()
	slots := make([]slot[T], len(s.slots))
	copy(slots, s.slots)
	s.mu.Unlock()

	for _, sl := range slots {
		sl.fn(v)
	}
}

// Len returns the number of connected handlers.
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

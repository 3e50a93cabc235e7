// Package event provides a typed subscriber list.
package event

import "sync"

// Emitter fans a value out to any number of listeners. Listeners run
// synchronously on the emitting goroutine, in subscription order.
type Emitter[T any] struct {
	mu     sync.Mutex
	nextID int
	order  []int
	subs   map[int]func(T)
}

// On registers fn and returns a function that removes it. Calling the
// returned function more than once is a no-op.
func (e *Emitter[T]) On(fn func(T)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.subs == nil {
		e.subs = make(map[int]func(T))
	}
	id := e.nextID
	e.nextID++
	e.subs[id] = fn
	e.order = append(e.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { e.off(id) })
	}
}

func (e *Emitter[T]) off(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, id)
	for i, existing := range e.order {
		if existing == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}

func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	listeners := make([]func(T), 0, len(e.order))
	for _, id := range e.order {
		listeners = append(listeners, e.subs[id])
	}
	e.mu.Unlock()

	for _, fn := range listeners {
		fn(v)
	}
}

func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

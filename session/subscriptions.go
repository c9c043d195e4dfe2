package session

import (
	"sync"

	"github.com/propstack/chatlink/proto"
)

// Subscription is the handle returned by the On* registration methods.
// Cancel detaches the handler; it is safe to call more than once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel detaches the handler from the registry.
func (s *Subscription) Cancel() {
	s.once.Do(s.cancel)
}

// registry is the table of durable push handlers, keyed by event type.
// Unlike pending operations these survive any number of events until
// cancelled.
type registry struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]func(proto.Push)
}

func newRegistry() *registry {
	return &registry{subs: make(map[string]map[int]func(proto.Push))}
}

func (r *registry) add(event string, fn func(proto.Push)) *Subscription {
	r.mu.Lock()
	r.next++
	id := r.next
	if r.subs[event] == nil {
		r.subs[event] = make(map[int]func(proto.Push))
	}
	r.subs[event][id] = fn
	r.mu.Unlock()

	return &Subscription{cancel: func() {
		r.mu.Lock()
		if handlers, ok := r.subs[event]; ok {
			delete(handlers, id)
		}
		r.mu.Unlock()
	}}
}

func (r *registry) dispatch(push proto.Push) {
	r.mu.Lock()
	handlers := make([]func(proto.Push), 0, len(r.subs[push.Type]))
	for _, fn := range r.subs[push.Type] {
		handlers = append(handlers, fn)
	}
	r.mu.Unlock()

	for _, fn := range handlers {
		fn(push)
	}
}

func (r *registry) removeAll() {
	r.mu.Lock()
	r.subs = make(map[string]map[int]func(proto.Push))
	r.mu.Unlock()
}

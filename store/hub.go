package store

import "sync"

// Hub is the in-process Notifier. Signals are level-triggered: a subscriber that
// has not drained its previous signal keeps exactly one pending.
type Hub struct {
	mu   sync.Mutex
	next int
	subs map[string]map[int]chan struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[int]chan struct{})}
}

func (h *Hub) Publish(collection, id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[key(collection, id)] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (h *Hub) Subscribe(collection, id string) (<-chan struct{}, func(), error) {
	k := key(collection, id)
	ch := make(chan struct{}, 1)

	h.mu.Lock()
	h.next++
	n := h.next
	if h.subs[k] == nil {
		h.subs[k] = make(map[int]chan struct{})
	}
	h.subs[k][n] = ch
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[k], n)
			if len(h.subs[k]) == 0 {
				delete(h.subs, k)
			}
		})
	}
	return ch, cancel, nil
}

// subscribers is used by tests to check that watches clean up after themselves.
func (h *Hub) subscribers(collection, id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[key(collection, id)])
}

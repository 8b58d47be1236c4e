package player

import "sync"

// Feed is an in-process Source. Surfaces that receive events from
// elsewhere (an HTTP request, an IPC socket) publish into a Feed.
type Feed struct {
	mu   sync.Mutex
	next int
	subs map[int]func(Signal)
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(Signal))}
}

// Subscribe implements Source.
func (f *Feed) Subscribe(fn func(Signal)) (cancel func()) {
	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish delivers sig to every current subscriber, in no particular order.
func (f *Feed) Publish(sig Signal) {
	f.mu.Lock()
	subs := make([]func(Signal), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.Unlock()

	for _, fn := range subs {
		fn(sig)
	}
}

// Listeners reports how many subscribers are attached.
func (f *Feed) Listeners() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subs)
}

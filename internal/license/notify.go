package license

import "sync"

// Broadcaster delivers the zero-payload StateChanged signal to any number of
// subscribers. Subscribers run synchronously on the publishing goroutine, in
// no particular order, and must not block.
type Broadcaster struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func()
}

// NewBroadcaster creates a Broadcaster with no subscribers
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[uint64]func())}
}

// Subscribe registers fn and returns a function that removes it
func (b *Broadcaster) Subscribe(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
}

// SubscribeChan returns a channel that receives one value per signal. Signals
// are coalesced while the channel holds an undelivered value.
func (b *Broadcaster) SubscribeChan() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	unsubscribe := b.Subscribe(func() {
		select {
		case ch <- struct{}{}:
		default:
		}
	})
	return ch, unsubscribe
}

// Publish fires StateChanged
func (b *Broadcaster) Publish() {
	b.mu.RLock()
	fns := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn()
	}
}

// Len returns the number of subscribers
func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

package manager

import "sync"

// mailbox runs posted functions one at a time in post order on a goroutine
// of its own. The goroutine exits when the queue is empty and is started
// again by the next post, so an idle mailbox costs nothing.
type mailbox struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

func (b *mailbox) post(fn func()) {
	b.mu.Lock()
	b.queue = append(b.queue, fn)
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()
	go b.drain()
}

func (b *mailbox) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.running = false
			b.queue = nil
			b.mu.Unlock()
			return
		}
		fn := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		b.mu.Unlock()
		fn()
	}
}

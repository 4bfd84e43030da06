// Package eventbus carries post change notifications between the store and
// its observers inside one process.
package eventbus

import (
	"sync"
	"time"
)

const (
	PostChanged = "post.changed"
	PostDeleted = "post.deleted"
)

// Event signals that the row identified by PostID changed. It carries no
// post data; observers re-read the store.
type Event struct {
	Type   string
	PostID string
	Time   time.Time
	Remote bool
}

// Bus is a non-blocking fan-out. A subscriber whose buffer is full misses
// the event, which is fine for observers that re-query on every signal.
type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			close(ch)
			b.mu.Unlock()
		})
	}
}

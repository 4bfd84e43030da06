// Package feed exposes the live, scheduled-time ordered view of all posts.
package feed

import (
	"context"
	"log/slog"
	"sync"

	"github.com/maheshrc27/postflow/internal/eventbus"
	"github.com/maheshrc27/postflow/internal/models"
)

type Lister interface {
	ListOrdered(ctx context.Context) ([]*models.Post, error)
}

// Feed re-reads the store on every change event and pushes the fresh
// snapshot to its subscribers. A subscriber that falls behind only ever
// holds the newest snapshot. Snapshots are shared; treat them as read-only.
type Feed struct {
	posts Lister
	bus   eventbus.Bus

	// mu serializes refreshes with subscription so no subscriber can
	// observe an older snapshot after a newer one.
	mu   sync.Mutex
	subs map[uint64]chan []*models.Post
	next uint64
}

func New(posts Lister, bus eventbus.Bus) *Feed {
	return &Feed{
		posts: posts,
		bus:   bus,
		subs:  map[uint64]chan []*models.Post{},
	}
}

// Run refreshes subscribers until ctx is cancelled.
func (f *Feed) Run(ctx context.Context) error {
	events, unsubscribe := f.bus.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-events:
			if !ok {
				return nil
			}
			// Coalesce a burst of writes into one re-read.
		drain:
			for {
				select {
				case <-events:
				default:
					break drain
				}
			}
			if err := f.refresh(ctx); err != nil {
				slog.Error("feed refresh failed", "error", err)
			}
		}
	}
}

// Subscribe returns a channel that immediately yields the current snapshot
// and then every later one. It is closed when ctx is done.
func (f *Feed) Subscribe(ctx context.Context) (<-chan []*models.Post, error) {
	f.mu.Lock()
	snapshot, err := f.posts.ListOrdered(ctx)
	if err != nil {
		f.mu.Unlock()
		return nil, err
	}
	ch := make(chan []*models.Post, 1)
	ch <- snapshot
	f.next++
	id := f.next
	f.subs[id] = ch
	f.mu.Unlock()

	go func() {
		<-ctx.Done()
		f.mu.Lock()
		delete(f.subs, id)
		close(ch)
		f.mu.Unlock()
	}()

	return ch, nil
}

// Snapshot is a one-shot read of the ordered view.
func (f *Feed) Snapshot(ctx context.Context) ([]*models.Post, error) {
	return f.posts.ListOrdered(ctx)
}

func (f *Feed) refresh(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.subs) == 0 {
		return nil
	}

	snapshot, err := f.posts.ListOrdered(ctx)
	if err != nil {
		return err
	}
	for _, ch := range f.subs {
		deliverLatest(ch, snapshot)
	}
	return nil
}

func deliverLatest(ch chan []*models.Post, snapshot []*models.Post) {
	select {
	case ch <- snapshot:
		return
	default:
	}
	// Replace the stale snapshot nobody has read yet.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- snapshot:
	default:
	}
}

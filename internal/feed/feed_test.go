package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/maheshrc27/postflow/internal/eventbus"
	"github.com/maheshrc27/postflow/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLister struct {
	mu    sync.Mutex
	posts []*models.Post
}

func (l *fakeLister) set(ids ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.posts = nil
	for _, id := range ids {
		l.posts = append(l.posts, &models.Post{ID: id, Status: models.PostStatusScheduled})
	}
}

func (l *fakeLister) ListOrdered(ctx context.Context) ([]*models.Post, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*models.Post(nil), l.posts...), nil
}

func ids(posts []*models.Post) []string {
	out := make([]string, 0, len(posts))
	for _, p := range posts {
		out = append(out, p.ID)
	}
	return out
}

func receive(t *testing.T, ch <-chan []*models.Post) []*models.Post {
	t.Helper()
	select {
	case s, ok := <-ch:
		require.True(t, ok, "feed closed unexpectedly")
		return s
	case <-time.After(2 * time.Second):
		t.Fatalf("no snapshot received")
		return nil
	}
}

func TestSubscribeReceivesCurrentSnapshot(t *testing.T) {
	lister := &fakeLister{}
	lister.set("a", "b")
	f := New(lister, eventbus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.Subscribe(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids(receive(t, ch)))
}

func TestChangesArePushed(t *testing.T) {
	lister := &fakeLister{}
	lister.set("a")
	bus := eventbus.New()
	f := New(lister, bus)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go f.Run(ctx)

	ch, err := f.Subscribe(ctx)
	require.NoError(t, err)
	receive(t, ch)

	lister.set("a", "c")
	// Run subscribes asynchronously; keep publishing until it picks the change up.
	deadline := time.After(2 * time.Second)
	for {
		bus.Publish(eventbus.Event{Type: eventbus.PostChanged, PostID: "c"})
		select {
		case s := <-ch:
			assert.Equal(t, []string{"a", "c"}, ids(s))
			return
		case <-time.After(20 * time.Millisecond):
		case <-deadline:
			t.Fatalf("change was not pushed")
		}
	}
}

func TestSlowSubscriberKeepsLatest(t *testing.T) {
	lister := &fakeLister{}
	lister.set("a")
	f := New(lister, eventbus.New())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.Subscribe(ctx)
	require.NoError(t, err)

	lister.set("a", "b")
	require.NoError(t, f.refresh(ctx))
	lister.set("a", "b", "c")
	require.NoError(t, f.refresh(ctx))

	assert.Equal(t, []string{"a", "b", "c"}, ids(receive(t, ch)))
	select {
	case s := <-ch:
		t.Fatalf("expected no stale snapshot, got %v", ids(s))
	default:
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	lister := &fakeLister{}
	f := New(lister, eventbus.New())

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := f.Subscribe(ctx)
	require.NoError(t, err)
	receive(t, ch)
	cancel()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(2 * time.Second):
		t.Fatalf("channel not closed")
	}
}

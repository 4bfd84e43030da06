package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/lib/pq"
	"github.com/maheshrc27/postflow/internal/eventbus"
)

// NotifyChannel is the postgres channel every post write is announced on.
const NotifyChannel = "posts_changed"

// PostListener relays postgres notifications from other processes (a
// worker-only deployment, another API replica) onto the local bus so the
// feed refreshes for writes it did not make itself.
type PostListener struct {
	dsn string
	bus eventbus.Bus
}

func NewPostListener(dsn string, bus eventbus.Bus) *PostListener {
	return &PostListener{dsn: dsn, bus: bus}
}

// Run blocks until ctx is cancelled.
func (l *PostListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.dsn, 2*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("post listener event", "event", ev, "error", err)
		}
	})
	defer listener.Close()

	if err := listener.Listen(NotifyChannel); err != nil {
		return err
	}
	slog.Info("Listening for post changes", "channel", NotifyChannel)

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			// nil after a reconnect; anything may have changed meanwhile.
			if n == nil {
				l.bus.Publish(eventbus.Event{Type: eventbus.PostChanged, Remote: true})
				continue
			}
			l.bus.Publish(eventbus.Event{Type: eventbus.PostChanged, PostID: n.Extra, Remote: true})
		case <-ping.C:
			go listener.Ping()
		}
	}
}

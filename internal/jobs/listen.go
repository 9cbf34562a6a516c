package jobs

import (
	"context"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"
)

// Listen subscribes to Channel on PostgreSQL and returns a channel that
// receives a value whenever a job is enqueued anywhere in the cluster.
// Polling stays the source of truth; a missed wake-up only delays a job until
// the next poll.
func Listen(ctx context.Context, dsn string, log zerolog.Logger) (<-chan struct{}, error) {
	l := pq.NewListener(dsn, time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			log.Warn().Err(err).Int("event", int(ev)).Msg("queue listener")
		}
	})
	if err := l.Listen(Channel); err != nil {
		_ = l.Close()
		return nil, err
	}

	wake := make(chan struct{}, 1)
	go func() {
		defer l.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.Notify:
				// nil after a reconnect; jobs may have been missed, poll anyway
				select {
				case wake <- struct{}{}:
				default:
				}
			case <-time.After(90 * time.Second):
				go func() { _ = l.Ping() }()
			}
		}
	}()
	return wake, nil
}

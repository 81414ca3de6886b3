package gateway

import (
	"encoding/json"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/lib/pq"
	"github.com/tcriess/family-hub/globals"
)

// postgres rejects NOTIFY payloads of 8000 bytes and more
const maxNotifyPayload = 7900

// encodeNotification serializes a change event for pg_notify. Records too large for a notification are reduced to
// their id, receivers then only learn that the row changed.
func encodeNotification(ev ChangeEvent) (string, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return "", err
	}
	if len(b) < maxNotifyPayload {
		return string(b), nil
	}
	ev.Record = Row{"id": ev.Record["id"]}
	b, err = json.Marshal(ev)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Listener forwards postgres notifications into the local change feed.
type Listener struct {
	l      *pq.Listener
	feed   *Feed
	done   chan struct{}
	logger hclog.Logger
}

func NewListener(dsn, channel string, feed *Feed) (*Listener, error) {
	logger := globals.AppLogger.Named("listener")
	report := func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Error("listener event", "type", ev, "error", err)
		}
	}
	pl := pq.NewListener(dsn, 500*time.Millisecond, 30*time.Second, report)
	err := pl.Listen(channel)
	if err != nil {
		_ = pl.Close()
		return nil, err
	}
	l := &Listener{
		l:      pl,
		feed:   feed,
		done:   make(chan struct{}),
		logger: logger,
	}
	go l.run()
	return l, nil
}

func (l *Listener) run() {
	for {
		select {
		case n, ok := <-l.l.Notify:
			if !ok {
				return
			}
			if n == nil {
				// connection was re-established, notifications may have been lost in between
				l.logger.Warn("listener reconnected, dropping subscriptions")
				l.feed.DropAll()
				continue
			}
			ev := ChangeEvent{}
			err := json.Unmarshal([]byte(n.Extra), &ev)
			if err != nil {
				l.logger.Error("could not decode notification", "error", err)
				continue
			}
			l.feed.Publish(ev)

		case <-time.After(90 * time.Second):
			go func() {
				_ = l.l.Ping()
			}()

		case <-l.done:
			return
		}
	}
}

func (l *Listener) Close() error {
	close(l.done)
	return l.l.Close()
}

package gateway

import (
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/metrics"
)

const (
	broadcastChannelSize = 1000
	defaultEventBuffer   = 64
)

var ErrFeedClosed = errors.New("change feed closed")

// Subscription is the handle returned by Subscribe. Done is closed when the subscription ends, either through
// Unsubscribe or because the feed dropped it (slow consumer, feed shutdown).
type Subscription struct {
	id         string
	Collection string
	Filter     *Filter
	Mask       EventMask

	handler   func(ChangeEvent)
	events    chan ChangeEvent
	done      chan struct{}
	closeOnce sync.Once
}

func (s *Subscription) Id() string {
	return s.id
}

func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

func (s *Subscription) matches(ev ChangeEvent) bool {
	if ev.Collection != s.Collection || !s.Mask.Has(ev.Event) {
		return false
	}
	if s.Filter == nil {
		return true
	}
	return s.Filter.Matches(ev.Record)
}

func (s *Subscription) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// pump delivers events to the handler one at a time, so a handler never runs concurrently with itself.
func (s *Subscription) pump() {
	for {
		select {
		case <-s.done:
			return
		default:
		}
		select {
		case ev := <-s.events:
			s.handler(ev)
		case <-s.done:
			return
		}
	}
}

// Feed routes change events to subscriptions. There is one feed per gateway; its Run loop owns the subscription
// set.
type Feed struct {
	subs map[*Subscription]struct{}

	register   chan *Subscription
	unregister chan *Subscription
	broadcast  chan ChangeEvent
	dropAll    chan struct{}
	done       chan struct{}
	closeOnce  sync.Once

	eventBuffer int
	logger      hclog.Logger

	// guards subs for readers outside of the run loop
	sync.RWMutex
}

// NewFeed creates a feed and starts its run loop. eventBuffer is the per-subscription buffer size; a subscriber
// that falls that far behind is dropped.
func NewFeed(eventBuffer int) *Feed {
	if eventBuffer <= 0 {
		eventBuffer = defaultEventBuffer
	}
	f := &Feed{
		subs:        make(map[*Subscription]struct{}),
		register:    make(chan *Subscription),
		unregister:  make(chan *Subscription),
		broadcast:   make(chan ChangeEvent, broadcastChannelSize),
		dropAll:     make(chan struct{}),
		done:        make(chan struct{}),
		eventBuffer: eventBuffer,
		logger:      globals.AppLogger.Named("feed"),
	}
	go f.Run()
	return f
}

func (f *Feed) Subscribe(collection string, filter *Filter, mask EventMask, handler func(ChangeEvent)) (*Subscription, error) {
	if collection == "" {
		return nil, errors.New("no collection")
	}
	if handler == nil {
		return nil, errors.New("no handler")
	}
	if mask == 0 {
		mask = MaskAll
	}
	s := &Subscription{
		id:         uuid.NewString(),
		Collection: collection,
		Filter:     filter,
		Mask:       mask,
		handler:    handler,
		events:     make(chan ChangeEvent, f.eventBuffer),
		done:       make(chan struct{}),
	}
	select {
	case f.register <- s:
	case <-f.done:
		return nil, ErrFeedClosed
	}
	go s.pump()
	return s, nil
}

func (f *Feed) Unsubscribe(s *Subscription) {
	if s == nil {
		return
	}
	select {
	case f.unregister <- s:
	case <-f.done:
	}
	s.close()
}

// Publish hands an event to the run loop. It blocks only if the broadcast buffer is full.
func (f *Feed) Publish(ev ChangeEvent) {
	metrics.ChangeEvents.WithLabelValues(ev.Collection, ev.Event).Inc()
	select {
	case f.broadcast <- ev:
	case <-f.done:
	}
}

// DropAll disconnects every subscriber, as happens when the backend restarts. Subscribers notice through
// Subscription.Done.
func (f *Feed) DropAll() {
	select {
	case f.dropAll <- struct{}{}:
	case <-f.done:
	}
}

// Len returns the number of active subscriptions.
func (f *Feed) Len() int {
	f.RLock()
	defer f.RUnlock()
	return len(f.subs)
}

func (f *Feed) Close() {
	f.closeOnce.Do(func() {
		close(f.done)
	})
}

func (f *Feed) closeAll() {
	f.Lock()
	for s := range f.subs {
		s.close()
		delete(f.subs, s)
	}
	f.Unlock()
}

// Run is the feed event loop handling register, unregister and broadcast events.
func (f *Feed) Run() {
	for {
		select {
		case s := <-f.register:
			f.Lock()
			f.subs[s] = struct{}{}
			f.Unlock()
			f.logger.Trace("subscription registered", "id", s.id, "collection", s.Collection)

		case s := <-f.unregister:
			f.Lock()
			delete(f.subs, s)
			f.Unlock()
			s.close()
			f.logger.Trace("subscription unregistered", "id", s.id)

		case ev := <-f.broadcast:
			dropped := make([]*Subscription, 0)
			f.RLock()
			for s := range f.subs {
				if !s.matches(ev) {
					continue
				}
				select {
				case s.events <- ev:
				default:
					dropped = append(dropped, s)
				}
			}
			f.RUnlock()
			for _, s := range dropped {
				f.logger.Warn("subscriber too slow, dropping subscription", "id", s.id, "collection", s.Collection)
				f.Lock()
				delete(f.subs, s)
				f.Unlock()
				s.close()
				metrics.DroppedSubscriptions.Inc()
			}

		case <-f.dropAll:
			f.logger.Info("dropping all subscriptions", "count", f.Len())
			f.closeAll()

		case <-f.done:
			f.closeAll()
			return
		}
	}
}

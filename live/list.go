// Package live keeps in-memory lists in sync with the gateway: a List holds the items of one feature instance,
// a Bridge reloads it whenever the change feed reports a change.
package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/metrics"
	"github.com/tcriess/family-hub/notify"
)

var ErrClosed = errors.New("list closed")

type ListConfig[T any] struct {
	// Name is used for logging and metrics.
	Name string
	// Load fetches and maps the complete list.
	Load func(ctx context.Context) ([]T, error)
	// Key returns the primary id of an item.
	Key func(T) string
	// Less orders optimistically inserted items. Without it they are appended.
	Less func(a, b T) bool
	// Notifier receives a notice when a load fails.
	Notifier notify.Notifier
	// ErrorTitle is the title of the failure notice.
	ErrorTitle string
}

// Snapshot is a consistent copy of the list state.
type Snapshot[T any] struct {
	Items     []T
	IsLoading bool
	Error     error
	Stale     bool
}

// List is the state controller of one list view. Loads are not queued and may overlap; a response is applied
// only if no later-started load has been applied yet, and nothing is applied after Close.
type List[T any] struct {
	cfg ListConfig[T]

	items   []T
	err     error
	stale   bool
	loading int
	gen     uint64
	applied uint64
	closed  bool

	fingerprint uint64
	hashed      bool
	lastErr     string
	lastStale   bool

	listeners    map[int]func(Snapshot[T])
	nextListener int

	logger hclog.Logger

	// notifyMu keeps listener calls in the order of the state changes
	notifyMu sync.Mutex
	sync.RWMutex
}

func NewList[T any](cfg ListConfig[T]) *List[T] {
	if cfg.Name == "" {
		cfg.Name = "list"
	}
	if cfg.ErrorTitle == "" {
		cfg.ErrorTitle = "Could not load " + cfg.Name
	}
	return &List[T]{
		cfg:       cfg,
		items:     make([]T, 0),
		listeners: make(map[int]func(Snapshot[T])),
		logger:    globals.AppLogger.Named("list").With("list", cfg.Name),
	}
}

func (l *List[T]) snapshotLocked() Snapshot[T] {
	items := make([]T, len(l.items))
	copy(items, l.items)
	return Snapshot[T]{
		Items:     items,
		IsLoading: l.loading > 0,
		Error:     l.err,
		Stale:     l.stale,
	}
}

func (l *List[T]) Snapshot() Snapshot[T] {
	l.RLock()
	defer l.RUnlock()
	return l.snapshotLocked()
}

// Items returns a copy of the current items.
func (l *List[T]) Items() []T {
	l.RLock()
	defer l.RUnlock()
	items := make([]T, len(l.items))
	copy(items, l.items)
	return items
}

// changedLocked reports whether items, error or stale flag differ from the state last announced to listeners.
func (l *List[T]) changedLocked() bool {
	changed := false
	h, err := hashstructure.Hash(l.items, hashstructure.FormatV2, nil)
	if err != nil {
		l.logger.Debug("could not fingerprint items", "error", err)
		changed = true
		l.hashed = false
	} else if !l.hashed || h != l.fingerprint {
		changed = true
		l.fingerprint = h
		l.hashed = true
	}
	errStr := ""
	if l.err != nil {
		errStr = l.err.Error()
	}
	if errStr != l.lastErr {
		changed = true
		l.lastErr = errStr
	}
	if l.stale != l.lastStale {
		changed = true
		l.lastStale = l.stale
	}
	return changed
}

// publishLocked must be called with the write lock held; it releases it.
func (l *List[T]) publishLocked() {
	if l.closed || !l.changedLocked() || len(l.listeners) == 0 {
		l.Unlock()
		return
	}
	snap := l.snapshotLocked()
	listeners := make([]func(Snapshot[T]), 0, len(l.listeners))
	ids := make([]int, 0, len(l.listeners))
	for id := range l.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		listeners = append(listeners, l.listeners[id])
	}
	l.notifyMu.Lock()
	l.Unlock()
	defer l.notifyMu.Unlock()
	for _, f := range listeners {
		f(snap)
	}
}

// Load fetches the list and replaces the items wholesale. A failed load clears the items, records the error and
// sends a notice. Cancelled loads leave the state untouched.
func (l *List[T]) Load(ctx context.Context) error {
	l.Lock()
	if l.closed {
		l.Unlock()
		return ErrClosed
	}
	l.gen++
	gen := l.gen
	l.loading++
	l.Unlock()

	items, err := l.cfg.Load(ctx)

	l.Lock()
	l.loading--
	if l.closed {
		l.Unlock()
		metrics.ListReloads.WithLabelValues(l.cfg.Name, "discarded").Inc()
		return nil
	}
	if gen < l.applied {
		l.Unlock()
		l.logger.Debug("discarding outdated response", "generation", gen, "applied", l.applied)
		metrics.ListReloads.WithLabelValues(l.cfg.Name, "discarded").Inc()
		return nil
	}
	if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) && ctx.Err() != nil) {
		l.Unlock()
		metrics.ListReloads.WithLabelValues(l.cfg.Name, "cancelled").Inc()
		return err
	}
	l.applied = gen
	if err != nil {
		l.items = make([]T, 0)
		l.err = err
		l.publishLocked()
		l.logger.Error("could not load list", "error", err)
		metrics.ListReloads.WithLabelValues(l.cfg.Name, "error").Inc()
		notify.Error(l.cfg.Notifier, l.cfg.ErrorTitle, err)
		return err
	}
	if items == nil {
		items = make([]T, 0)
	}
	l.items = items
	l.err = nil
	metrics.ListReloads.WithLabelValues(l.cfg.Name, "ok").Inc()
	l.publishLocked()
	return nil
}

func (l *List[T]) indexLocked(key string) int {
	for i, item := range l.items {
		if l.cfg.Key(item) == key {
			return i
		}
	}
	return -1
}

// AppendOptimistic merges item into the list by key: an item with the same key is replaced, otherwise the item is
// inserted at its position according to Less (or appended).
func (l *List[T]) AppendOptimistic(item T) {
	l.Lock()
	if l.closed {
		l.Unlock()
		return
	}
	items := make([]T, len(l.items), len(l.items)+1)
	copy(items, l.items)
	if l.cfg.Key != nil {
		if i := l.indexLocked(l.cfg.Key(item)); i >= 0 {
			items[i] = item
			l.items = items
			l.publishLocked()
			return
		}
	}
	pos := len(items)
	if l.cfg.Less != nil {
		pos = sort.Search(len(items), func(i int) bool {
			return l.cfg.Less(item, items[i])
		})
	}
	items = append(items, item)
	copy(items[pos+1:], items[pos:])
	items[pos] = item
	l.items = items
	l.publishLocked()
}

// Update replaces the item with the given key by fn(item). It reports whether the item was found.
func (l *List[T]) Update(key string, fn func(T) T) bool {
	l.Lock()
	if l.closed || l.cfg.Key == nil {
		l.Unlock()
		return false
	}
	i := l.indexLocked(key)
	if i < 0 {
		l.Unlock()
		return false
	}
	items := make([]T, len(l.items))
	copy(items, l.items)
	items[i] = fn(items[i])
	l.items = items
	l.publishLocked()
	return true
}

func (l *List[T]) Remove(key string) bool {
	l.Lock()
	if l.closed || l.cfg.Key == nil {
		l.Unlock()
		return false
	}
	i := l.indexLocked(key)
	if i < 0 {
		l.Unlock()
		return false
	}
	items := make([]T, 0, len(l.items)-1)
	items = append(items, l.items[:i]...)
	items = append(items, l.items[i+1:]...)
	l.items = items
	l.publishLocked()
	return true
}

// Filter returns the items matching pred. It never touches the gateway.
func (l *List[T]) Filter(pred func(T) bool) []T {
	l.RLock()
	defer l.RUnlock()
	res := make([]T, 0, len(l.items))
	for _, item := range l.items {
		if pred(item) {
			res = append(res, item)
		}
	}
	return res
}

// MatchText returns the items for which one of fields contains query, ignoring case. An empty query matches all.
func (l *List[T]) MatchText(query string, fields ...func(T) string) []T {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return l.Items()
	}
	return l.Filter(func(item T) bool {
		for _, f := range fields {
			if strings.Contains(strings.ToLower(f(item)), q) {
				return true
			}
		}
		return false
	})
}

// SetStale flags the items as possibly outdated, f.e. while the change subscription is reconnecting.
func (l *List[T]) SetStale(stale bool) {
	l.Lock()
	if l.closed {
		l.Unlock()
		return
	}
	l.stale = stale
	l.publishLocked()
}

// OnChange registers a listener called after every visible change (items, error, stale flag). Listeners must not
// modify the list synchronously. The returned function removes the listener.
func (l *List[T]) OnChange(f func(Snapshot[T])) func() {
	l.Lock()
	defer l.Unlock()
	id := l.nextListener
	l.nextListener++
	l.listeners[id] = f
	return func() {
		l.Lock()
		defer l.Unlock()
		delete(l.listeners, id)
	}
}

// Close discards all responses still in flight and removes the listeners.
func (l *List[T]) Close() {
	l.Lock()
	defer l.Unlock()
	l.closed = true
	l.listeners = make(map[int]func(Snapshot[T]))
}

func (l *List[T]) Closed() bool {
	l.RLock()
	defer l.RUnlock()
	return l.closed
}

func (l *List[T]) String() string {
	s := l.Snapshot()
	return fmt.Sprintf("%s: %d items, loading=%v, stale=%v, error=%v", l.cfg.Name, len(s.Items), s.IsLoading, s.Stale, s.Error)
}

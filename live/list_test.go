package live

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/notify"
)

type item struct {
	Id    string
	Title string
	Count int
}

func itemKey(i item) string { return i.Id }

func staticList(items []item, err error) *List[item] {
	return NewList(ListConfig[item]{
		Name: "items",
		Load: func(ctx context.Context) ([]item, error) {
			return items, err
		},
		Key: itemKey,
	})
}

func TestListLoad(t *testing.T) {
	l := staticList([]item{{Id: "1"}, {Id: "2"}}, nil)
	require.NoError(t, l.Load(context.Background()))
	s := l.Snapshot()
	assert.Len(t, s.Items, 2)
	assert.False(t, s.IsLoading)
	assert.NoError(t, s.Error)
}

func TestListLoadFailure(t *testing.T) {
	rec := &notify.Recorder{}
	fail := errors.New("boom")
	calls := 0
	l := NewList(ListConfig[item]{
		Name: "items",
		Load: func(ctx context.Context) ([]item, error) {
			calls++
			if calls == 1 {
				return []item{{Id: "1"}}, nil
			}
			return nil, fail
		},
		Key:        itemKey,
		Notifier:   rec,
		ErrorTitle: "Error loading items",
	})
	require.NoError(t, l.Load(context.Background()))
	assert.ErrorIs(t, l.Load(context.Background()), fail)
	s := l.Snapshot()
	assert.Empty(t, s.Items)
	assert.ErrorIs(t, s.Error, fail)
	n, ok := rec.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, n.Level)
	assert.Equal(t, "Error loading items", n.Title)
}

// A response of an older load arriving after a newer one was applied is discarded.
func TestListLoadDiscardsOlderResponse(t *testing.T) {
	first := make(chan struct{})
	var n int32
	l := NewList(ListConfig[item]{
		Name: "items",
		Load: func(ctx context.Context) ([]item, error) {
			if atomic.AddInt32(&n, 1) == 1 {
				<-first
				return []item{{Id: "old"}}, nil
			}
			return []item{{Id: "new"}}, nil
		},
		Key: itemKey,
	})
	done := make(chan struct{})
	go func() {
		_ = l.Load(context.Background())
		close(done)
	}()
	assert.Eventually(t, func() bool { return atomic.LoadInt32(&n) == 1 }, timeout, tick)
	require.NoError(t, l.Load(context.Background()))
	close(first)
	<-done
	items := l.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "new", items[0].Id)
}

func TestListClosedDiscards(t *testing.T) {
	release := make(chan struct{})
	l := NewList(ListConfig[item]{
		Name: "items",
		Load: func(ctx context.Context) ([]item, error) {
			<-release
			return []item{{Id: "1"}}, nil
		},
		Key: itemKey,
	})
	done := make(chan error)
	go func() {
		done <- l.Load(context.Background())
	}()
	assert.Eventually(t, func() bool { return l.Snapshot().IsLoading }, timeout, tick)
	l.Close()
	close(release)
	assert.NoError(t, <-done)
	assert.Empty(t, l.Items())
	assert.ErrorIs(t, l.Load(context.Background()), ErrClosed)
}

func TestListCancelledLoadKeepsState(t *testing.T) {
	ok := true
	l := NewList(ListConfig[item]{
		Name: "items",
		Load: func(ctx context.Context) ([]item, error) {
			if ok {
				return []item{{Id: "1"}}, nil
			}
			return nil, ctx.Err()
		},
		Key: itemKey,
	})
	require.NoError(t, l.Load(context.Background()))
	ok = false
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Load(ctx), context.Canceled)
	s := l.Snapshot()
	assert.Len(t, s.Items, 1)
	assert.NoError(t, s.Error)
}

func TestListAppendOptimistic(t *testing.T) {
	l := NewList(ListConfig[item]{
		Name: "items",
		Load: func(ctx context.Context) ([]item, error) {
			return []item{{Id: "a", Count: 1}, {Id: "c", Count: 3}}, nil
		},
		Key:  itemKey,
		Less: func(a, b item) bool { return a.Count < b.Count },
	})
	require.NoError(t, l.Load(context.Background()))
	l.AppendOptimistic(item{Id: "b", Count: 2})
	l.AppendOptimistic(item{Id: "b", Count: 2, Title: "again"})
	items := l.Items()
	require.Len(t, items, 3)
	assert.Equal(t, []string{"a", "b", "c"}, []string{items[0].Id, items[1].Id, items[2].Id})
	assert.Equal(t, "again", items[1].Title)

	l.AppendOptimistic(item{Id: "z", Count: 9})
	assert.Equal(t, "z", l.Items()[3].Id)
}

func TestListUpdateRemove(t *testing.T) {
	l := staticList([]item{{Id: "1", Count: 1}}, nil)
	require.NoError(t, l.Load(context.Background()))
	assert.True(t, l.Update("1", func(i item) item {
		i.Count++
		return i
	}))
	assert.Equal(t, 2, l.Items()[0].Count)
	assert.False(t, l.Update("2", func(i item) item { return i }))
	assert.True(t, l.Remove("1"))
	assert.Empty(t, l.Items())
}

func TestListMatchText(t *testing.T) {
	l := staticList([]item{{Id: "1", Title: "Summer Picnic"}, {Id: "2", Title: "Winter"}}, nil)
	require.NoError(t, l.Load(context.Background()))
	title := func(i item) string { return i.Title }
	assert.Len(t, l.MatchText("picnic", title), 1)
	assert.Len(t, l.MatchText("  ", title), 2)
	assert.Len(t, l.MatchText("xyz", title), 0)
	assert.Len(t, l.Filter(func(i item) bool { return i.Id == "2" }), 1)
}

func TestListOnChangeDeduplicates(t *testing.T) {
	l := staticList([]item{{Id: "1"}}, nil)
	var calls int32
	unsubscribe := l.OnChange(func(s Snapshot[item]) {
		atomic.AddInt32(&calls, 1)
	})
	require.NoError(t, l.Load(context.Background()))
	require.NoError(t, l.Load(context.Background()))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	l.SetStale(true)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	l.SetStale(true)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))

	unsubscribe()
	l.SetStale(false)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

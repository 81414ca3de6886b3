package live

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/gateway"
)

const (
	timeout = 2 * time.Second
	tick    = 5 * time.Millisecond
)

type countingReloader struct {
	loads int32
	mu    sync.Mutex
	stale []bool
}

func (r *countingReloader) Load(ctx context.Context) error {
	atomic.AddInt32(&r.loads, 1)
	return nil
}

func (r *countingReloader) SetStale(stale bool) {
	r.mu.Lock()
	r.stale = append(r.stale, stale)
	r.mu.Unlock()
}

func (r *countingReloader) staleChanges() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.stale...)
}

func (r *countingReloader) count() int32 {
	return atomic.LoadInt32(&r.loads)
}

func testConfig() BridgeConfig {
	return BridgeConfig{
		ReloadInterval: 100 * time.Millisecond,
		ResubscribeMin: 10 * time.Millisecond,
		ResubscribeMax: 50 * time.Millisecond,
	}
}

func TestBridgeLifecycle(t *testing.T) {
	feed := gateway.NewFeed(8)
	defer feed.Close()
	r := &countingReloader{}
	b := NewBridge(feed, r, Source{Collection: gateway.ChatMessages}, testConfig())
	assert.Equal(t, Unsubscribed, b.State())

	require.NoError(t, b.Mount())
	require.NoError(t, b.Mount())
	assert.Equal(t, Subscribed, b.State())
	assert.Eventually(t, func() bool { return feed.Len() == 1 }, timeout, tick)

	feed.Publish(gateway.ChangeEvent{Event: gateway.EventInsert, Collection: gateway.ChatMessages})
	assert.Eventually(t, func() bool { return r.count() == 1 }, timeout, tick)

	b.Unmount()
	assert.Equal(t, Unsubscribed, b.State())
	assert.Eventually(t, func() bool { return feed.Len() == 0 }, timeout, tick)

	feed.Publish(gateway.ChangeEvent{Event: gateway.EventInsert, Collection: gateway.ChatMessages})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(1), r.count())
}

func TestBridgeFilter(t *testing.T) {
	feed := gateway.NewFeed(8)
	defer feed.Close()
	r := &countingReloader{}
	filter := gateway.Eq("group_id", "g1")
	b := NewBridge(feed, r, Source{Collection: gateway.ChatMessages, Filter: &filter}, testConfig())
	require.NoError(t, b.Mount())
	defer b.Unmount()

	feed.Publish(gateway.ChangeEvent{Event: gateway.EventInsert, Collection: gateway.ChatMessages, Record: gateway.Row{"group_id": "g2"}})
	feed.Publish(gateway.ChangeEvent{Event: gateway.EventInsert, Collection: gateway.ChatMessages, Record: gateway.Row{"group_id": "g1"}})
	assert.Eventually(t, func() bool { return r.count() == 1 }, timeout, tick)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), r.count())
}

// A burst of events results in one immediate and one trailing reload.
func TestBridgeThrottle(t *testing.T) {
	feed := gateway.NewFeed(64)
	defer feed.Close()
	r := &countingReloader{}
	b := NewBridge(feed, r, Source{Collection: gateway.ChatGroups}, testConfig())
	require.NoError(t, b.Mount())
	defer b.Unmount()

	for i := 0; i < 20; i++ {
		feed.Publish(gateway.ChangeEvent{Event: gateway.EventUpdate, Collection: gateway.ChatGroups})
	}
	assert.Eventually(t, func() bool { return r.count() == 2 }, timeout, tick)
	time.Sleep(250 * time.Millisecond)
	assert.Equal(t, int32(2), r.count())
}

func TestBridgeResubscribes(t *testing.T) {
	feed := gateway.NewFeed(8)
	defer feed.Close()
	r := &countingReloader{}
	b := NewBridge(feed, r, Source{Collection: gateway.MembershipStats}, testConfig())
	require.NoError(t, b.Mount())
	defer b.Unmount()
	assert.Eventually(t, func() bool { return feed.Len() == 1 }, timeout, tick)

	feed.DropAll()
	assert.Eventually(t, func() bool {
		return b.State() == Subscribed && feed.Len() == 1 && r.count() == 1
	}, timeout, tick)
	assert.Equal(t, []bool{true, false}, r.staleChanges())

	// events reach the new subscription
	time.Sleep(120 * time.Millisecond)
	feed.Publish(gateway.ChangeEvent{Event: gateway.EventInsert, Collection: gateway.MembershipStats})
	assert.Eventually(t, func() bool { return r.count() == 2 }, timeout, tick)
}

func TestBindingMount(t *testing.T) {
	feed := gateway.NewFeed(8)
	defer feed.Close()
	var loads int32
	list := NewList(ListConfig[item]{
		Name: "items",
		Load: func(ctx context.Context) ([]item, error) {
			n := atomic.AddInt32(&loads, 1)
			res := make([]item, n)
			for i := range res {
				res[i] = item{Id: string(rune('a' + i))}
			}
			return res, nil
		},
		Key: itemKey,
	})
	b := Bind[item](feed, list, testConfig(), Source{Collection: gateway.ForumPosts}, Source{Collection: gateway.ForumPostLikes})
	require.NoError(t, b.Mount(context.Background()))
	assert.Len(t, b.Items(), 1)
	assert.Len(t, b.Bridges(), 2)

	feed.Publish(gateway.ChangeEvent{Event: gateway.EventInsert, Collection: gateway.ForumPostLikes})
	assert.Eventually(t, func() bool { return len(b.Items()) == 2 }, timeout, tick)

	b.Unmount()
	assert.True(t, b.Closed())
	assert.Eventually(t, func() bool { return feed.Len() == 0 }, timeout, tick)
}

package gateway_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/gateway/gatewaytest"
	"github.com/tcriess/family-hub/types"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func TestInsertDefaults(t *testing.T) {
	g := gatewaytest.New(t)
	ctx := context.Background()

	row, err := g.Insert(ctx, gateway.ForumCategories, gateway.Row{"name": "General"})
	require.NoError(t, err)
	assert.True(t, types.IsUUID(row.String("id")))
	assert.IsType(t, time.Time{}, row["created_at"])

	rows, err := g.Select(ctx, gateway.From(gateway.ForumCategories).Where(gateway.Eq("id", row.String("id"))))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "General", rows[0].String("name"))
}

func TestInsertUnknownCollection(t *testing.T) {
	g := gatewaytest.New(t)
	_, err := g.Insert(context.Background(), "nope", gateway.Row{"name": "x"})
	assert.Error(t, err)
}

func TestInsertUniqueViolation(t *testing.T) {
	g := gatewaytest.New(t)
	ctx := context.Background()
	row := gateway.Row{"post_id": "p", "user_id": "u"}
	_, err := g.Insert(ctx, gateway.ForumPostLikes, row)
	require.NoError(t, err)
	_, err = g.Insert(ctx, gateway.ForumPostLikes, row)
	assert.Error(t, err)
}

func TestSelectFiltersAndOrder(t *testing.T) {
	g := gatewaytest.New(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for i, content := range []string{"first", "second", "third"} {
		_, err := g.Insert(ctx, gateway.ChatMessages, gateway.Row{
			"content":    content,
			"sender_id":  "s",
			"group_id":   "g1",
			"created_at": base.Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
	}
	_, err := g.Insert(ctx, gateway.ChatMessages, gateway.Row{"content": "other", "sender_id": "s", "group_id": "g2"})
	require.NoError(t, err)

	rows, err := g.Select(ctx, gateway.From(gateway.ChatMessages).
		Where(gateway.Eq("group_id", "g1")).
		OrderBy("created_at", true).
		LimitTo(2))
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "third", rows[0].String("content"))
	assert.Equal(t, "second", rows[1].String("content"))

	rows, err = g.Select(ctx, gateway.From(gateway.ChatMessages).Where(gateway.In("content", []string{"first", "other"})))
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = g.Select(ctx, gateway.From(gateway.ChatMessages).Where(gateway.In("content", []string{})))
	require.NoError(t, err)
	assert.Len(t, rows, 0)

	rows, err = g.Select(ctx, gateway.From(gateway.ChatMessages).Where(gateway.Gte("created_at", base.Add(time.Minute))))
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestUpdateAndDelete(t *testing.T) {
	g := gatewaytest.New(t)
	ctx := context.Background()
	u := gatewaytest.SeedUser(t, g, "a@example.com", "Alice", "")

	rows, err := g.Update(ctx, gateway.Profiles, gateway.Row{"bio": "hello"}, gateway.Eq("id", u.Id))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "hello", rows[0].String("bio"))

	rows, err = g.Update(ctx, gateway.Profiles, gateway.Row{"bio": "x"}, gateway.Eq("id", "missing"))
	require.NoError(t, err)
	assert.Len(t, rows, 0)

	_, err = g.Update(ctx, gateway.Profiles, gateway.Row{"bio": "x"})
	assert.ErrorIs(t, err, gateway.ErrMissingFilter)

	require.NoError(t, g.Delete(ctx, gateway.Profiles, gateway.Eq("id", u.Id)))
	rows, err = g.Select(ctx, gateway.From(gateway.Profiles))
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestChangeEvents(t *testing.T) {
	g := gatewaytest.New(t)
	ctx := context.Background()

	var mu sync.Mutex
	events := make([]gateway.ChangeEvent, 0)
	filter := gateway.Eq("group_id", "g1")
	sub, err := g.Subscribe(gateway.ChatMessages, &filter, gateway.MaskAll, func(ev gateway.ChangeEvent) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer g.Unsubscribe(sub)

	row, err := g.Insert(ctx, gateway.ChatMessages, gateway.Row{"content": "hi", "sender_id": "s", "group_id": "g1"})
	require.NoError(t, err)
	_, err = g.Insert(ctx, gateway.ChatMessages, gateway.Row{"content": "elsewhere", "sender_id": "s", "group_id": "g2"})
	require.NoError(t, err)
	_, err = g.Update(ctx, gateway.ChatMessages, gateway.Row{"is_read": true}, gateway.Eq("id", row.String("id")))
	require.NoError(t, err)
	require.NoError(t, g.Delete(ctx, gateway.ChatMessages, gateway.Eq("id", row.String("id"))))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) == 3
	}, time.Second, 10*time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, gateway.EventInsert, events[0].Event)
	assert.Equal(t, gateway.EventUpdate, events[1].Event)
	assert.Equal(t, gateway.EventDelete, events[2].Event)
	assert.Equal(t, "hi", events[2].Record.String("content"))
}

func TestToggle(t *testing.T) {
	g := gatewaytest.New(t)
	ctx := context.Background()
	match := []gateway.Filter{gateway.Eq("post_id", "p1"), gateway.Eq("user_id", "u1")}
	row := gateway.Row{"post_id": "p1", "user_id": "u1"}

	added, err := gateway.Toggle(ctx, g, gateway.ForumPostLikes, match, row)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = gateway.Toggle(ctx, g, gateway.ForumPostLikes, match, row)
	require.NoError(t, err)
	assert.False(t, added)

	rows, err := g.Select(ctx, gateway.From(gateway.ForumPostLikes))
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestEncodeNotificationLimit(t *testing.T) {
	big := make([]byte, 9000)
	for i := range big {
		big[i] = 'x'
	}
	ev := gateway.ChangeEvent{Event: gateway.EventInsert, Collection: gateway.ForumPosts, Record: gateway.Row{"id": "1", "content": string(big)}}
	payload, err := gateway.EncodeNotification(ev)
	require.NoError(t, err)
	assert.Less(t, len(payload), 8000)
	assert.Contains(t, payload, `"id":"1"`)
}

func TestStatTablesMigrated(t *testing.T) {
	db, err := gorm.Open(sqlite.Open("file:stats?mode=memory&cache=shared"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	g, err := gateway.NewGormGateway(db, 0)
	require.NoError(t, err)
	defer g.Close()

	ctx := context.Background()
	for _, collection := range []string{gateway.MembershipStats, gateway.ActivityStats, gateway.RevenueStats} {
		for _, column := range []string{"id", "period", "metrics", "created_at"} {
			assert.True(t, db.Migrator().HasColumn(collection, column), "%s.%s", collection, column)
		}
		_, err := g.Insert(ctx, collection, gateway.Row{"period": "2024-01-01 00:00", "metrics": types.Metrics{"value": 1}})
		require.NoError(t, err)
		rows, err := g.Select(ctx, gateway.From(collection))
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, "2024-01-01 00:00", rows[0].String("period"))
	}
}

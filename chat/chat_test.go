package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/gateway/gatewaytest"
	"github.com/tcriess/family-hub/notify"
	"github.com/tcriess/family-hub/types"
)

type fixture struct {
	g       *gateway.GormGateway
	rec     *gatewaytest.Recorder
	auth    *auth.Service
	svc     *Service
	notices *notify.Recorder
	alice   types.User
	bob     types.User
}

func setup(t *testing.T) *fixture {
	g := gatewaytest.New(t)
	rec := gatewaytest.NewRecorder(g)
	cfg := config.Default()
	cfg.SyncConfig.ReloadInterval = 20 * time.Millisecond
	session := auth.NewSession()
	f := &fixture{
		g:       g,
		rec:     rec,
		auth:    auth.NewService(g, cfg.AuthConfig, session, nil),
		svc:     NewService(rec, session, nil, cfg),
		notices: &notify.Recorder{},
		alice:   gatewaytest.SeedUser(t, g, "alice@example.com", "Alice", ""),
		bob:     gatewaytest.SeedUser(t, g, "bob@example.com", "Bob", ""),
	}
	f.svc.Notifier = f.notices
	f.svc.retryInterval = time.Millisecond
	f.as(t, f.alice)
	return f
}

func (f *fixture) as(t *testing.T, u types.User) {
	_, err := f.auth.Assume(context.Background(), u.Id)
	require.NoError(t, err)
}

func (f *fixture) group(t *testing.T) types.ChatGroup {
	g, err := f.svc.CreateGroup(context.Background(), "Family", "")
	require.NoError(t, err)
	return g
}

type clock struct {
	sync.Mutex
	t time.Time
}

func (c *clock) now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.Lock()
	c.t = c.t.Add(d)
	c.Unlock()
}

func TestCreateGroupThenMyGroups(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)
	assert.Equal(t, "Family", g.Name)
	assert.Equal(t, GroupRoleAdmin, g.MyRole)

	groups, err := f.svc.MyGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, g.Id, groups[0].Id)
	assert.Equal(t, 1, groups[0].MemberCount)
	assert.Equal(t, GroupRoleAdmin, groups[0].MyRole)

	f.as(t, f.bob)
	groups, err = f.svc.MyGroups(ctx)
	require.NoError(t, err)
	assert.Len(t, groups, 0)
}

func TestCreateGroupRetriesMembership(t *testing.T) {
	f := setup(t)
	f.rec.FailInserts(gateway.ChatGroupMembers, 2)
	g := f.group(t)
	members, err := f.svc.Members(context.Background(), g.Id)
	require.NoError(t, err)
	require.Len(t, members, 1)
	assert.Equal(t, "Alice", members[0].UserName)
}

func TestCreateGroupCompensates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.rec.FailInserts(gateway.ChatGroupMembers, 100)
	_, err := f.svc.CreateGroup(ctx, "Family", "")
	require.Error(t, err)

	var partial *types.PartialError
	require.True(t, errors.As(err, &partial))
	assert.True(t, partial.Compensated)
	assert.ErrorIs(t, err, gatewaytest.ErrInjected)
	// 1 attempt plus the configured retries
	assert.Equal(t, 1+1+config.Default().ChatConfig.MemberRetries, f.rec.Calls("insert"))

	rows, err := f.g.Select(ctx, gateway.From(gateway.ChatGroups))
	require.NoError(t, err)
	assert.Len(t, rows, 0)
}

func TestAddMember(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)

	f.as(t, f.bob)
	_, err := f.svc.AddMember(ctx, g.Id, f.bob.Id)
	assert.ErrorIs(t, err, types.ErrForbidden)

	f.as(t, f.alice)
	m, err := f.svc.AddMember(ctx, g.Id, f.bob.Id)
	require.NoError(t, err)
	assert.Equal(t, GroupRoleMember, m.Role)
	assert.Equal(t, "Bob", m.UserName)

	f.as(t, f.bob)
	groups, err := f.svc.MyGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, 2, groups[0].MemberCount)
	assert.Equal(t, GroupRoleMember, groups[0].MyRole)
}

func TestMessagesAscending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for _, off := range []int{3, 1, 2} {
		_, err := f.g.Insert(ctx, gateway.ChatMessages, gateway.Row{
			"content":    strings.Repeat("m", off),
			"group_id":   g.Id,
			"sender_id":  f.bob.Id,
			"created_at": base.Add(time.Duration(off) * time.Minute),
		})
		require.NoError(t, err)
	}
	msgs, err := f.svc.Messages(ctx, g.Id)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	for i := 1; i < len(msgs); i++ {
		assert.False(t, msgs[i].CreatedAt.Before(msgs[i-1].CreatedAt))
	}
	assert.Equal(t, "m", msgs[0].Content)
	assert.Equal(t, "Bob", msgs[0].SenderName)
}

func TestMessagesMalformedId(t *testing.T) {
	f := setup(t)
	_, err := f.svc.Messages(context.Background(), "1; drop table chat_messages")
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, "Invalid conversation ID format", err.Error())
	assert.Equal(t, 0, f.rec.Calls(""))
}

func TestSendMessageLength(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)

	f.rec.Reset()
	_, err := f.svc.SendMessage(ctx, g.Id, strings.Repeat("ä", 2001), "")
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, "Message is too long", err.Error())
	_, err = f.svc.SendMessage(ctx, g.Id, "   ", "")
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, 0, f.rec.Calls(""))

	msg, err := f.svc.SendMessage(ctx, g.Id, "  "+strings.Repeat("ä", 2000)+"  ", "")
	require.NoError(t, err)
	assert.Equal(t, 2000, len([]rune(msg.Content)))
	assert.Equal(t, 1, f.rec.Calls("insert"))
}

func TestSendMessageRateLimit(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)
	c := &clock{t: time.Now()}
	f.svc.Limiter().WithClock(c.now)

	for i := 0; i < 20; i++ {
		_, err := f.svc.SendMessage(ctx, g.Id, "hello", "")
		require.NoError(t, err)
	}
	f.rec.Reset()
	_, err := f.svc.SendMessage(ctx, g.Id, "hello", "")
	require.Error(t, err)
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, 0, f.rec.Calls(""))
	n, ok := f.notices.Last()
	require.True(t, ok)
	assert.Equal(t, notify.LevelError, n.Level)
	assert.Equal(t, 0, f.svc.Limiter().Remaining())

	c.advance(time.Minute)
	_, err = f.svc.SendMessage(ctx, g.Id, "hello again", "")
	require.NoError(t, err)
	assert.Equal(t, 19, f.svc.Limiter().Remaining())
}

func TestLimiterRejectedAttemptsNotCounted(t *testing.T) {
	c := &clock{t: time.Now()}
	l := NewLimiter(2, time.Minute).WithClock(c.now)
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	c.advance(59 * time.Second)
	assert.False(t, l.Allow())
	c.advance(time.Second)
	assert.True(t, l.Allow())
	assert.Equal(t, 1, l.Remaining())
}

func TestFailedSendRefundsLimiter(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)
	_, err := f.svc.SendMessage(ctx, g.Id, "hello", "")
	require.NoError(t, err)
	assert.Equal(t, 19, f.svc.Limiter().Remaining())

	_, err = f.svc.SendMessage(ctx, g.Id, "answer", "00000000-0000-0000-0000-000000000000")
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, 19, f.svc.Limiter().Remaining())

	f.rec.FailInserts(gateway.ChatMessages, 1)
	_, err = f.svc.SendMessage(ctx, g.Id, "hello", "")
	assert.ErrorIs(t, err, gatewaytest.ErrInjected)
	assert.Equal(t, 19, f.svc.Limiter().Remaining())
}

func TestLimiterRefund(t *testing.T) {
	c := &clock{t: time.Now()}
	l := NewLimiter(2, time.Minute).WithClock(c.now)
	l.Refund()
	assert.Equal(t, 2, l.Remaining())
	assert.True(t, l.Allow())
	assert.True(t, l.Allow())
	l.Refund()
	assert.True(t, l.Allow())
	assert.False(t, l.Allow())
	c.advance(time.Minute)
	l.Refund()
	assert.Equal(t, 2, l.Remaining())
}

func TestReplyAndReactions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)
	parent, err := f.svc.SendMessage(ctx, g.Id, strings.Repeat("long message ", 10), "")
	require.NoError(t, err)

	reply, err := f.svc.SendMessage(ctx, g.Id, "answer", parent.Id)
	require.NoError(t, err)
	require.NotNil(t, reply.ReplyTo)
	assert.True(t, strings.HasSuffix(reply.ReplyPreview, "…"))

	_, err = f.svc.SendMessage(ctx, g.Id, "answer", "00000000-0000-0000-0000-000000000000")
	assert.True(t, types.IsValidation(err))
	_, err = f.svc.SendMessage(ctx, g.Id, "answer", "not-an-id")
	assert.True(t, types.IsValidation(err))

	on, err := f.svc.ToggleReaction(ctx, parent.Id, "👍")
	require.NoError(t, err)
	assert.True(t, on)
	msgs, err := f.svc.Messages(ctx, g.Id)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"👍": 1}, msgs[0].Reactions)

	on, err = f.svc.ToggleReaction(ctx, parent.Id, "👍")
	require.NoError(t, err)
	assert.False(t, on)
	msgs, err = f.svc.Messages(ctx, g.Id)
	require.NoError(t, err)
	assert.Empty(t, msgs[0].Reactions)
}

func TestMarkRead(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)
	_, err := f.svc.AddMember(ctx, g.Id, f.bob.Id)
	require.NoError(t, err)
	mine, err := f.svc.SendMessage(ctx, g.Id, "from alice", "")
	require.NoError(t, err)

	f.as(t, f.bob)
	ids, err := f.svc.MarkRead(ctx, g.Id)
	require.NoError(t, err)
	assert.Equal(t, []string{mine.Id}, ids)

	f.as(t, f.alice)
	ids, err = f.svc.MarkRead(ctx, g.Id)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestConversationView(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)
	_, err := f.svc.SendMessage(ctx, g.Id, "first", "")
	require.NoError(t, err)

	v := f.svc.ConversationView(g.Id)
	require.NoError(t, v.Mount(ctx))
	defer v.Unmount()
	require.Len(t, v.Items(), 1)

	sent, err := v.Send(ctx, "second", "")
	require.NoError(t, err)
	items := v.Items()
	require.Len(t, items, 2)
	assert.Equal(t, sent.Id, items[1].Id)

	_, err = v.React(ctx, sent.Id, "❤️")
	require.NoError(t, err)
	assert.Equal(t, 1, v.Filter(func(m types.ChatMessage) bool { return m.Id == sent.Id })[0].Reactions["❤️"])

	// a message of another member arrives through the change feed
	_, err = f.g.Insert(ctx, gateway.ChatMessages, gateway.Row{"content": "from bob", "group_id": g.Id, "sender_id": f.bob.Id})
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		items := v.Items()
		return len(items) == 3 && items[2].SenderName == "Bob"
	}, 2*time.Second, 10*time.Millisecond)

	res, err := v.Where(`Sender == "Bob"`)
	require.NoError(t, err)
	assert.Len(t, res, 1)
	assert.Len(t, v.Search("SECOND"), 1)
}

func TestConversationViewMalformedId(t *testing.T) {
	f := setup(t)
	v := f.svc.ConversationView("nope")
	err := v.Mount(context.Background())
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, 0, f.rec.Calls("select"))
	assert.Error(t, v.Snapshot().Error)
	v.Unmount()
}

func TestGroupsView(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	g := f.group(t)

	f.as(t, f.bob)
	v := f.svc.GroupsView()
	require.NoError(t, v.Mount(ctx))
	defer v.Unmount()
	assert.Len(t, v.Items(), 0)

	f.as(t, f.alice)
	_, err := f.svc.AddMember(ctx, g.Id, f.bob.Id)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(v.Items()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

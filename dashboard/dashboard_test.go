package dashboard

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/gateway/gatewaytest"
	"github.com/tcriess/family-hub/types"
)

type fixture struct {
	g      *gateway.GormGateway
	auth   *auth.Service
	svc    *Service
	rec    *Recorder
	admin  types.User
	member types.User
}

func setup(t *testing.T) *fixture {
	g := gatewaytest.New(t)
	cfg := config.Default()
	cfg.SyncConfig.ReloadInterval = 20 * time.Millisecond
	cfg.StatsConfig.PremiumPrice = 5
	session := auth.NewSession()
	f := &fixture{
		g:      g,
		auth:   auth.NewService(g, cfg.AuthConfig, session, nil),
		svc:    NewService(g, session, nil, cfg),
		rec:    NewRecorder(g, cfg.StatsConfig),
		admin:  gatewaytest.SeedUser(t, g, "admin@example.com", "Admin", types.RoleAdmin),
		member: gatewaytest.SeedUser(t, g, "member@example.com", "Member", ""),
	}
	_, err := f.auth.Assume(context.Background(), f.admin.Id)
	require.NoError(t, err)
	return f
}

func TestSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.g.Update(ctx, gateway.Profiles, gateway.Row{"is_premium": true}, gateway.Eq("id", f.member.Id))
	require.NoError(t, err)
	_, err = f.g.Insert(ctx, gateway.ForumPosts, gateway.Row{"title": "t", "content": "c", "author_id": f.member.Id})
	require.NoError(t, err)
	// outside of the activity window
	_, err = f.g.Insert(ctx, gateway.ForumPosts, gateway.Row{"title": "t", "content": "c", "author_id": f.admin.Id,
		"created_at": time.Now().UTC().Add(-48 * time.Hour)})
	require.NoError(t, err)

	records, err := f.rec.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, types.StatKindMembership, records[0].Kind)
	assert.Equal(t, 2.0, records[0].Metrics["total_members"])
	assert.Equal(t, 1.0, records[0].Metrics["premium_members"])
	assert.Equal(t, 1.0, records[0].Metrics["admins"])
	assert.Equal(t, 1.0, records[1].Metrics["posts"])
	assert.Equal(t, 1.0, records[1].Metrics["active_members"])
	assert.Equal(t, 5.0, records[2].Metrics["monthly_revenue"])

	latest, err := f.svc.Latest(ctx)
	require.NoError(t, err)
	assert.Len(t, latest, 3)
	assert.Equal(t, 5.0, latest[types.StatKindRevenue].Metrics["monthly_revenue"])
}

func TestStatsAndSeries(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		_, err := f.g.Insert(ctx, gateway.MembershipStats, gateway.Row{
			"period":     base.AddDate(0, 0, i).Format(periodLayout),
			"metrics":    types.Metrics{"total_members": float64(10 + i)},
			"created_at": base.AddDate(0, 0, i),
		})
		require.NoError(t, err)
	}
	records, err := f.svc.Stats(ctx, types.StatKindMembership, 3)
	require.NoError(t, err)
	require.Len(t, records, 3)
	points := Series(records, "total_members")
	assert.Equal(t, []float64{12, 13, 14}, []float64{points[0].Value, points[1].Value, points[2].Value})
	assert.Empty(t, Series(records, "missing"))

	res, err := Where(records, `Metrics["total_members"] >= 13`)
	require.NoError(t, err)
	assert.Len(t, res, 2)

	_, err = f.svc.Stats(ctx, "users", 3)
	assert.True(t, types.IsValidation(err))
}

func TestStatsAdminOnly(t *testing.T) {
	f := setup(t)
	_, err := f.auth.Assume(context.Background(), f.member.Id)
	require.NoError(t, err)
	_, err = f.svc.Stats(context.Background(), types.StatKindRevenue, 0)
	assert.ErrorIs(t, err, types.ErrForbidden)
}

func TestPanelFollowsRecorder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	p := f.svc.Panel(types.StatKindActivity, 10)
	require.NoError(t, p.Mount(ctx))
	defer p.Unmount()
	assert.Len(t, p.Items(), 0)

	_, err := f.rec.Snapshot(ctx)
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		return len(p.Items()) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRecorderStart(t *testing.T) {
	g := gatewaytest.New(t)
	r := NewRecorder(g, config.StatsConfig{CronSpec: "not a spec"})
	assert.Error(t, r.Start())

	r = NewRecorder(g, config.StatsConfig{})
	assert.NoError(t, r.Start())
	r.Stop()
}

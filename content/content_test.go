package content

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/gateway/gatewaytest"
	"github.com/tcriess/family-hub/storage"
	"github.com/tcriess/family-hub/types"
)

type fixture struct {
	g         *gateway.GormGateway
	auth      *auth.Service
	svc       *Service
	root      string
	moderator types.User
	member    types.User
}

func setup(t *testing.T) *fixture {
	g := gatewaytest.New(t)
	cfg := config.Default()
	cfg.SyncConfig.ReloadInterval = 20 * time.Millisecond
	root := t.TempDir()
	store, err := storage.NewLocal(config.StorageConfig{Root: root, BaseURL: "http://localhost/storage"})
	require.NoError(t, err)
	session := auth.NewSession()
	f := &fixture{
		g:         g,
		auth:      auth.NewService(g, cfg.AuthConfig, session, nil),
		svc:       NewService(g, session, nil, store, cfg),
		root:      root,
		moderator: gatewaytest.SeedUser(t, g, "mod@example.com", "Mod", types.RoleModerator),
		member:    gatewaytest.SeedUser(t, g, "member@example.com", "Member", ""),
	}
	f.as(t, f.moderator)
	return f
}

func (f *fixture) as(t *testing.T, u types.User) {
	_, err := f.auth.Assume(context.Background(), u.Id)
	require.NoError(t, err)
}

func TestAnnouncementsPinnedFirst(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	old, err := f.svc.CreateAnnouncement(ctx, "Old", "text", false)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	pinned, err := f.svc.CreateAnnouncement(ctx, "Pinned", "text", true)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	recent, err := f.svc.CreateAnnouncement(ctx, "Recent", "text", false)
	require.NoError(t, err)

	list, err := f.svc.Announcements(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{pinned.Id, recent.Id, old.Id}, []string{list[0].Id, list[1].Id, list[2].Id})
	assert.Equal(t, "Mod", list[0].AuthorName)

	require.NoError(t, f.svc.SetPinned(ctx, pinned.Id, false))
	require.NoError(t, f.svc.SetPinned(ctx, old.Id, true))
	list, err = f.svc.Announcements(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{old.Id, recent.Id, pinned.Id}, []string{list[0].Id, list[1].Id, list[2].Id})
}

func TestAnnouncementsRestricted(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	a, err := f.svc.CreateAnnouncement(ctx, "Title", "text", false)
	require.NoError(t, err)

	f.as(t, f.member)
	_, err = f.svc.CreateAnnouncement(ctx, "Title", "text", false)
	assert.ErrorIs(t, err, types.ErrForbidden)
	assert.ErrorIs(t, f.svc.SetPinned(ctx, a.Id, true), types.ErrForbidden)
	assert.ErrorIs(t, f.svc.DeleteAnnouncement(ctx, a.Id), types.ErrForbidden)

	f.as(t, f.moderator)
	require.NoError(t, f.svc.DeleteAnnouncement(ctx, a.Id))
	list, err := f.svc.Announcements(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 0)
}

func TestAnnouncementsView(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first, err := f.svc.CreateAnnouncement(ctx, "First", "text", false)
	require.NoError(t, err)
	v := f.svc.AnnouncementsView()
	require.NoError(t, v.Mount(ctx))
	defer v.Unmount()

	time.Sleep(5 * time.Millisecond)
	second, err := v.Publish(ctx, "Second", "text", false)
	require.NoError(t, err)
	assert.Equal(t, second.Id, v.Items()[0].Id)

	require.NoError(t, v.SetPinned(ctx, first.Id, true))
	assert.Eventually(t, func() bool {
		items := v.Items()
		return len(items) == 2 && items[0].Id == first.Id
	}, 2*time.Second, 10*time.Millisecond)
}

func TestResourcesPremiumGating(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	free, err := f.svc.CreateResource(ctx, NewResource{Title: "Recipes", FileUrl: "http://example.com/recipes.pdf"})
	require.NoError(t, err)
	assert.Equal(t, "pdf", free.FileType)
	premium, err := f.svc.CreateResource(ctx, NewResource{
		Title:     "Family tree",
		IsPremium: true,
		FileName:  "Tree.GED",
		Body:      strings.NewReader("0 HEAD"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ged", premium.FileType)
	assert.True(t, strings.HasPrefix(premium.FileUrl, "http://localhost/storage/resources/"))
	// the uploader keeps access without premium
	assert.False(t, premium.Locked)
	own, err := f.svc.ResourceURL(ctx, premium.Id)
	require.NoError(t, err)
	assert.Equal(t, premium.FileUrl, own)

	files, err := filepath.Glob(filepath.Join(f.root, storage.BucketResources, "*", "Tree.GED"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	b, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Equal(t, "0 HEAD", string(b))

	f.as(t, f.member)
	list, err := f.svc.Resources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.True(t, list[0].Locked)
	assert.Empty(t, list[0].FileUrl)
	assert.False(t, list[1].Locked)

	_, err = f.svc.ResourceURL(ctx, premium.Id)
	assert.ErrorIs(t, err, types.ErrForbidden)
	u, err := f.svc.ResourceURL(ctx, free.Id)
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/recipes.pdf", u)

	_, err = f.g.Update(ctx, gateway.Profiles, gateway.Row{"is_premium": true}, gateway.Eq("id", f.member.Id))
	require.NoError(t, err)
	f.as(t, f.member)
	u, err = f.svc.ResourceURL(ctx, premium.Id)
	require.NoError(t, err)
	assert.NotEmpty(t, u)
}

func TestCreateResourceValidation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.CreateResource(ctx, NewResource{Title: " "})
	assert.True(t, types.IsValidation(err))
	_, err = f.svc.CreateResource(ctx, NewResource{Title: "No file"})
	assert.True(t, types.IsValidation(err))

	f.as(t, f.member)
	_, err = f.svc.CreateResource(ctx, NewResource{Title: "Mine", FileUrl: "http://x/y.pdf"})
	assert.ErrorIs(t, err, types.ErrForbidden)
}

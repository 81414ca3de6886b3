package profile

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway/gatewaytest"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/storage"
	"github.com/tcriess/family-hub/types"
)

type fixture struct {
	rec     *gatewaytest.Recorder
	auth    *auth.Service
	session *auth.Session
	mapper  *mapper.Mapper
	svc     *Service
	root    string
	admin   types.User
	member  types.User
}

func setup(t *testing.T) *fixture {
	g := gatewaytest.New(t)
	rec := gatewaytest.NewRecorder(g)
	root := t.TempDir()
	store, err := storage.NewLocal(config.StorageConfig{Root: root, BaseURL: "http://localhost/storage"})
	require.NoError(t, err)
	session := auth.NewSession()
	m := mapper.New(rec, mapper.NewAuthors(rec, 16))
	f := &fixture{
		rec:     rec,
		auth:    auth.NewService(g, config.Default().AuthConfig, session, nil),
		session: session,
		mapper:  m,
		svc:     NewService(rec, session, m, store),
		root:    root,
		admin:   gatewaytest.SeedUser(t, g, "admin@example.com", "Admin", types.RoleAdmin),
		member:  gatewaytest.SeedUser(t, g, "member@example.com", "Member", ""),
	}
	f.as(t, f.member)
	return f
}

func (f *fixture) as(t *testing.T, u types.User) {
	_, err := f.auth.Assume(context.Background(), u.Id)
	require.NoError(t, err)
}

func ptr(s string) *string {
	return &s
}

func TestGetAndUpdate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.svc.Get(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, f.member.Id, u.Id)

	// warm the name cache
	assert.Equal(t, "Member", f.mapper.Authors.Names(ctx, []string{u.Id})[u.Id])

	u, err = f.svc.Update(ctx, Update{DisplayName: ptr("  Maria  "), Location: ptr(" Berlin ")})
	require.NoError(t, err)
	assert.Equal(t, "Maria", u.DisplayName)
	assert.Equal(t, "Berlin", u.Location)
	assert.Equal(t, "Maria", f.session.User().DisplayName)
	assert.Equal(t, "Maria", f.mapper.Authors.Names(ctx, []string{u.Id})[u.Id])

	f.rec.Reset()
	_, err = f.svc.Update(ctx, Update{DisplayName: ptr(" ")})
	assert.True(t, types.IsValidation(err))
	_, err = f.svc.Update(ctx, Update{Bio: ptr(strings.Repeat("b", 1001))})
	assert.True(t, types.IsValidation(err))
	assert.Equal(t, 0, f.rec.Calls(""))

	_, err = f.svc.Get(ctx, "bogus")
	assert.True(t, types.IsValidation(err))
}

func TestUpgrade(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.svc.Upgrade(ctx)
	require.NoError(t, err)
	assert.True(t, u.IsPremium)
	assert.True(t, f.session.User().IsPremium)

	f.rec.Reset()
	_, err = f.svc.Upgrade(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, f.rec.Calls("update"))
}

func TestUploadAvatar(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	u, err := f.svc.UploadAvatar(ctx, "me.PNG", strings.NewReader("img"))
	require.NoError(t, err)
	assert.Equal(t, "http://localhost/storage/avatars/"+f.member.Id+"/avatar.png", u.AvatarUrl)
	b, err := os.ReadFile(filepath.Join(f.root, storage.BucketAvatars, f.member.Id, "avatar.png"))
	require.NoError(t, err)
	assert.Equal(t, "img", string(b))

	_, err = f.svc.UploadAvatar(ctx, "me.exe", strings.NewReader("x"))
	assert.True(t, types.IsValidation(err))
}

func TestListAndSetRole(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.svc.List(ctx, "")
	assert.ErrorIs(t, err, types.ErrForbidden)

	f.as(t, f.admin)
	users, err := f.svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, users, 2)

	users, err = f.svc.List(ctx, `Role == "admin"`)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, f.admin.Id, users[0].Id)

	_, err = f.svc.List(ctx, `Role ==`)
	assert.True(t, types.IsValidation(err))

	u, err := f.svc.SetRole(ctx, f.member.Id, types.RoleModerator)
	require.NoError(t, err)
	assert.Equal(t, types.RoleModerator, u.Role)

	_, err = f.svc.SetRole(ctx, f.member.Id, "owner")
	assert.True(t, types.IsValidation(err))
	_, err = f.svc.SetRole(ctx, f.admin.Id, types.RoleUser)
	assert.True(t, types.IsValidation(err))
}

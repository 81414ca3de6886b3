// Package profile manages member profiles: personal fields, premium upgrade, avatars and the admin user list.
package profile

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/filter"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/notify"
	"github.com/tcriess/family-hub/storage"
	"github.com/tcriess/family-hub/types"
)

const (
	maxDisplayName = 64
	maxBio         = 1000
)

var avatarTypes = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".webp": true}

type Service struct {
	gw       gateway.Gateway
	session  *auth.Session
	mapper   *mapper.Mapper
	storage  storage.Storage
	Notifier notify.Notifier

	logger hclog.Logger
}

func NewService(gw gateway.Gateway, session *auth.Session, m *mapper.Mapper, store storage.Storage) *Service {
	if m == nil {
		m = mapper.New(gw, nil)
	}
	return &Service{
		gw:      gw,
		session: session,
		mapper:  m,
		storage: store,
		logger:  globals.AppLogger.Named("profile"),
	}
}

func (s *Service) fail(title string, err error) error {
	return notify.Fail(s.logger, s.Notifier, title, err)
}

// Get loads a profile. An empty id loads the profile of the signed in member.
func (s *Service) Get(ctx context.Context, id string) (types.User, error) {
	if id == "" {
		user, err := s.session.Require()
		if err != nil {
			return types.User{}, s.fail("Error loading profile", err)
		}
		id = user.Id
	}
	if !types.IsUUID(id) {
		return types.User{}, s.fail("Error loading profile", types.NewValidationError("id", "Invalid user ID format"))
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.Profiles).Where(gateway.Eq("id", id)).LimitTo(1))
	if err != nil {
		return types.User{}, s.fail("Error loading profile", types.Remote("load profile", err))
	}
	if len(rows) == 0 {
		return types.User{}, s.fail("Error loading profile", types.ErrNotFound)
	}
	u, err := s.mapper.Profile(rows[0])
	if err != nil {
		return types.User{}, s.fail("Error loading profile", err)
	}
	return u, nil
}

// Update holds the changeable profile fields, nil fields are left alone.
type Update struct {
	DisplayName *string
	Bio         *string
	Location    *string
	Phone       *string
	WhatsApp    *string
}

func (u Update) patch() (gateway.Row, error) {
	patch := gateway.Row{}
	if u.DisplayName != nil {
		name := strings.TrimSpace(*u.DisplayName)
		if name == "" {
			return nil, types.NewValidationError("display_name", "Display name is required")
		}
		if utf8.RuneCountInString(name) > maxDisplayName {
			return nil, types.NewValidationError("display_name", fmt.Sprintf("Display name must be at most %d characters", maxDisplayName))
		}
		patch["display_name"] = name
	}
	if u.Bio != nil {
		bio := strings.TrimSpace(*u.Bio)
		if utf8.RuneCountInString(bio) > maxBio {
			return nil, types.NewValidationError("bio", fmt.Sprintf("Bio must be at most %d characters", maxBio))
		}
		patch["bio"] = bio
	}
	for col, v := range map[string]*string{"location": u.Location, "phone": u.Phone, "whatsapp": u.WhatsApp} {
		if v != nil {
			patch[col] = strings.TrimSpace(*v)
		}
	}
	return patch, nil
}

func (s *Service) apply(ctx context.Context, userId string, patch gateway.Row) (types.User, error) {
	rows, err := s.gw.Update(ctx, gateway.Profiles, patch, gateway.Eq("id", userId))
	if err != nil {
		return types.User{}, types.Remote("update profile", err)
	}
	if len(rows) == 0 {
		return types.User{}, types.ErrNotFound
	}
	u, err := s.mapper.Profile(rows[0])
	if err != nil {
		return types.User{}, err
	}
	s.session.SetUser(u)
	s.mapper.Authors.Forget(u.Id)
	return u, nil
}

// Update changes the profile of the signed in member.
func (s *Service) Update(ctx context.Context, update Update) (types.User, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.User{}, s.fail("Could not update profile", err)
	}
	patch, err := update.patch()
	if err != nil {
		return types.User{}, s.fail("Could not update profile", err)
	}
	if len(patch) == 0 {
		return *user, nil
	}
	u, err := s.apply(ctx, user.Id, patch)
	if err != nil {
		return types.User{}, s.fail("Could not update profile", err)
	}
	notify.Success(s.Notifier, "Profile updated", "")
	return u, nil
}

// Upgrade grants premium access to the signed in member. Payment happens outside of this system.
func (s *Service) Upgrade(ctx context.Context) (types.User, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.User{}, s.fail("Upgrade failed", err)
	}
	if user.IsPremium {
		return *user, nil
	}
	u, err := s.apply(ctx, user.Id, gateway.Row{"is_premium": true})
	if err != nil {
		return types.User{}, s.fail("Upgrade failed", err)
	}
	notify.Success(s.Notifier, "Welcome to premium", "You now have access to all resources")
	return u, nil
}

// UploadAvatar stores the image in the avatars bucket and points the profile at it.
func (s *Service) UploadAvatar(ctx context.Context, fileName string, r io.Reader) (types.User, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.User{}, s.fail("Avatar upload failed", err)
	}
	ext := strings.ToLower(path.Ext(fileName))
	if !avatarTypes[ext] {
		return types.User{}, s.fail("Avatar upload failed", types.NewValidationError("file", "Unsupported image type"))
	}
	url, err := s.storage.Upload(ctx, storage.BucketAvatars, path.Join(user.Id, "avatar"+ext), r)
	if err != nil {
		return types.User{}, s.fail("Avatar upload failed", types.Remote("upload avatar", err))
	}
	u, err := s.apply(ctx, user.Id, gateway.Row{"avatar_url": url})
	if err != nil {
		return types.User{}, s.fail("Avatar upload failed", err)
	}
	return u, nil
}

// List returns all profiles, optionally narrowed by an admin expression (see filter.Users). Admins only.
func (s *Service) List(ctx context.Context, where string) ([]types.User, error) {
	if _, err := s.session.RequireAdmin(); err != nil {
		return nil, s.fail("Error loading users", err)
	}
	match, err := filter.Users(where)
	if err != nil {
		return nil, s.fail("Error loading users", err)
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.Profiles).OrderBy("created_at", false))
	if err != nil {
		return nil, s.fail("Error loading users", types.Remote("load users", err))
	}
	users, err := s.mapper.Profiles(rows)
	if err != nil {
		return nil, s.fail("Error loading users", err)
	}
	res := make([]types.User, 0, len(users))
	for _, u := range users {
		if match(u) {
			res = append(res, u)
		}
	}
	return res, nil
}

// SetRole changes the role of a member. Admins only, admins cannot demote themselves.
func (s *Service) SetRole(ctx context.Context, userId, role string) (types.User, error) {
	admin, err := s.session.RequireAdmin()
	if err != nil {
		return types.User{}, s.fail("Could not change role", err)
	}
	if !types.IsUUID(userId) {
		return types.User{}, s.fail("Could not change role", types.NewValidationError("id", "Invalid user ID format"))
	}
	if !types.ValidRole(role) {
		return types.User{}, s.fail("Could not change role", types.NewValidationError("role", fmt.Sprintf("Unknown role %q", role)))
	}
	if userId == admin.Id && role != types.RoleAdmin {
		return types.User{}, s.fail("Could not change role", types.NewValidationError("role", "You cannot remove your own admin role"))
	}
	rows, err := s.gw.Update(ctx, gateway.Profiles, gateway.Row{"role": role}, gateway.Eq("id", userId))
	if err != nil {
		return types.User{}, s.fail("Could not change role", types.Remote("update role", err))
	}
	if len(rows) == 0 {
		return types.User{}, s.fail("Could not change role", types.ErrNotFound)
	}
	return s.mapper.Profile(rows[0])
}

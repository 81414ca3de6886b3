// Package content implements the announcement board and the resource library.
package content

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/live"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/notify"
	"github.com/tcriess/family-hub/storage"
	"github.com/tcriess/family-hub/types"
)

type Service struct {
	gw       gateway.Gateway
	session  *auth.Session
	mapper   *mapper.Mapper
	storage  storage.Storage
	Notifier notify.Notifier

	sync   live.BridgeConfig
	logger hclog.Logger
}

func NewService(gw gateway.Gateway, session *auth.Session, m *mapper.Mapper, store storage.Storage, cfg *config.Config) *Service {
	if m == nil {
		m = mapper.New(gw, nil)
	}
	return &Service{
		gw:      gw,
		session: session,
		mapper:  m,
		storage: store,
		sync:    live.BridgeConfigFrom(cfg.SyncConfig),
		logger:  globals.AppLogger.Named("content"),
	}
}

func (s *Service) fail(title string, err error) error {
	return notify.Fail(s.logger, s.Notifier, title, err)
}

// requireModerator returns the signed in user if they may publish content.
func (s *Service) requireModerator() (*types.User, error) {
	user, err := s.session.Require()
	if err != nil {
		return nil, err
	}
	if !user.CanModerate() {
		return nil, types.ErrForbidden
	}
	return user, nil
}

func checkId(field, id string) error {
	if !types.IsUUID(id) {
		return types.NewValidationError(field, "Invalid id format")
	}
	return nil
}

func announcementsQuery() *gateway.Query {
	return gateway.From(gateway.Announcements).OrderBy("is_pinned", true).OrderBy("created_at", true)
}

// Announcements lists pinned announcements first, newest first within each group.
func (s *Service) Announcements(ctx context.Context) ([]types.Announcement, error) {
	rows, err := s.gw.Select(ctx, announcementsQuery())
	if err != nil {
		return nil, s.fail("Error loading announcements", types.Remote("load announcements", err))
	}
	announcements, err := s.mapper.Announcements(ctx, rows)
	if err != nil {
		return nil, s.fail("Error loading announcements", err)
	}
	return announcements, nil
}

// CreateAnnouncement is restricted to admins and moderators.
func (s *Service) CreateAnnouncement(ctx context.Context, title, content string, pinned bool) (types.Announcement, error) {
	user, err := s.requireModerator()
	if err != nil {
		return types.Announcement{}, s.fail("Could not publish announcement", err)
	}
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return types.Announcement{}, s.fail("Could not publish announcement",
			types.NewValidationError("content", "Title and content are required"))
	}
	row, err := s.gw.Insert(ctx, gateway.Announcements, gateway.Row{
		"title":     title,
		"content":   content,
		"author_id": user.Id,
		"is_pinned": pinned,
	})
	if err != nil {
		return types.Announcement{}, s.fail("Could not publish announcement", types.Remote("create announcement", err))
	}
	announcements, err := s.mapper.Announcements(ctx, []gateway.Row{row})
	if err != nil {
		return types.Announcement{}, s.fail("Could not publish announcement", err)
	}
	notify.Success(s.Notifier, "Announcement published", title)
	return announcements[0], nil
}

func (s *Service) SetPinned(ctx context.Context, id string, pinned bool) error {
	if _, err := s.requireModerator(); err != nil {
		return s.fail("Could not update announcement", err)
	}
	if err := checkId("id", id); err != nil {
		return s.fail("Could not update announcement", err)
	}
	rows, err := s.gw.Update(ctx, gateway.Announcements, gateway.Row{"is_pinned": pinned}, gateway.Eq("id", id))
	if err != nil {
		return s.fail("Could not update announcement", types.Remote("pin announcement", err))
	}
	if len(rows) == 0 {
		return s.fail("Could not update announcement", types.ErrNotFound)
	}
	return nil
}

func (s *Service) DeleteAnnouncement(ctx context.Context, id string) error {
	if _, err := s.requireModerator(); err != nil {
		return s.fail("Could not delete announcement", err)
	}
	if err := checkId("id", id); err != nil {
		return s.fail("Could not delete announcement", err)
	}
	err := s.gw.Delete(ctx, gateway.Announcements, gateway.Eq("id", id))
	if err != nil {
		return s.fail("Could not delete announcement", types.Remote("delete announcement", err))
	}
	return nil
}

func (s *Service) resources(ctx context.Context) ([]types.Resource, error) {
	rows, err := s.gw.Select(ctx, gateway.From(gateway.Resources).OrderBy("created_at", true))
	if err != nil {
		return nil, types.Remote("load resources", err)
	}
	return s.mapper.Resources(ctx, rows, s.session.User())
}

// Resources lists the library, newest first. Premium entries are locked for members without premium access.
func (s *Service) Resources(ctx context.Context) ([]types.Resource, error) {
	resources, err := s.resources(ctx)
	if err != nil {
		return nil, s.fail("Error loading resources", err)
	}
	return resources, nil
}

// ResourceURL returns the download url of a resource, ErrForbidden if it is locked for the signed in member.
func (s *Service) ResourceURL(ctx context.Context, id string) (string, error) {
	if err := checkId("id", id); err != nil {
		return "", s.fail("Download failed", err)
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.Resources).Where(gateway.Eq("id", id)).LimitTo(1))
	if err != nil {
		return "", s.fail("Download failed", types.Remote("load resource", err))
	}
	if len(rows) == 0 {
		return "", s.fail("Download failed", types.ErrNotFound)
	}
	resources, err := s.mapper.Resources(ctx, rows, s.session.User())
	if err != nil {
		return "", s.fail("Download failed", err)
	}
	if resources[0].Locked {
		notify.Warn(s.Notifier, "Premium resource", "Upgrade to premium to access this resource")
		return "", types.ErrForbidden
	}
	return resources[0].FileUrl, nil
}

type NewResource struct {
	Title       string
	Description string
	IsPremium   bool
	// FileName and Body are uploaded to the resources bucket when Body is set, otherwise FileUrl is stored as is.
	FileName string
	Body     io.Reader
	FileUrl  string
}

// CreateResource uploads the file of a resource and adds it to the library. Restricted to admins and moderators.
func (s *Service) CreateResource(ctx context.Context, r NewResource) (types.Resource, error) {
	user, err := s.requireModerator()
	if err != nil {
		return types.Resource{}, s.fail("Could not add resource", err)
	}
	title := strings.TrimSpace(r.Title)
	if title == "" {
		return types.Resource{}, s.fail("Could not add resource", types.NewValidationError("title", "Title is required"))
	}
	fileUrl := strings.TrimSpace(r.FileUrl)
	fileType := strings.TrimPrefix(strings.ToLower(path.Ext(fileUrl)), ".")
	if r.Body != nil {
		name := path.Base(strings.TrimSpace(r.FileName))
		if name == "." || name == "/" || name == "" {
			return types.Resource{}, s.fail("Could not add resource", types.NewValidationError("file", "File name is required"))
		}
		fileUrl, err = s.storage.Upload(ctx, storage.BucketResources, path.Join(uuid.NewString(), name), r.Body)
		if err != nil {
			return types.Resource{}, s.fail("Could not add resource", types.Remote("upload resource", err))
		}
		fileType = strings.TrimPrefix(strings.ToLower(path.Ext(name)), ".")
	}
	if fileUrl == "" {
		return types.Resource{}, s.fail("Could not add resource", types.NewValidationError("file", "A file is required"))
	}
	row, err := s.gw.Insert(ctx, gateway.Resources, gateway.Row{
		"title":       title,
		"description": strings.TrimSpace(r.Description),
		"file_url":    fileUrl,
		"file_type":   fileType,
		"is_premium":  r.IsPremium,
		"author_id":   user.Id,
	})
	if err != nil {
		return types.Resource{}, s.fail("Could not add resource", types.Remote("create resource", err))
	}
	resources, err := s.mapper.Resources(ctx, []gateway.Row{row}, user)
	if err != nil {
		return types.Resource{}, s.fail("Could not add resource", err)
	}
	notify.Success(s.Notifier, "Resource added", title)
	return resources[0], nil
}

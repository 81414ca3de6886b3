package content

import (
	"context"

	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/live"
	"github.com/tcriess/family-hub/types"
)

func announcementKey(a types.Announcement) string { return a.Id }
func resourceKey(r types.Resource) string         { return r.Id }

// announcementLess orders pinned announcements first, newest first within each group.
func announcementLess(a, b types.Announcement) bool {
	if a.IsPinned != b.IsPinned {
		return a.IsPinned
	}
	return a.CreatedAt.After(b.CreatedAt)
}

type AnnouncementsView struct {
	*live.Binding[types.Announcement]
	svc *Service
}

func (s *Service) AnnouncementsView() *AnnouncementsView {
	list := live.NewList(live.ListConfig[types.Announcement]{
		Name: "announcements",
		Load: func(ctx context.Context) ([]types.Announcement, error) {
			rows, err := s.gw.Select(ctx, announcementsQuery())
			if err != nil {
				return nil, types.Remote("load announcements", err)
			}
			return s.mapper.Announcements(ctx, rows)
		},
		Key:        announcementKey,
		Less:       announcementLess,
		Notifier:   s.Notifier,
		ErrorTitle: "Error loading announcements",
	})
	b := live.Bind(s.gw, list, s.sync, live.Source{Collection: gateway.Announcements})
	return &AnnouncementsView{Binding: b, svc: s}
}

func (v *AnnouncementsView) Publish(ctx context.Context, title, content string, pinned bool) (types.Announcement, error) {
	a, err := v.svc.CreateAnnouncement(ctx, title, content, pinned)
	if err != nil {
		return a, err
	}
	v.AppendOptimistic(a)
	return a, nil
}

// SetPinned changes the pin and moves the announcement locally. The reload brings it in order.
func (v *AnnouncementsView) SetPinned(ctx context.Context, id string, pinned bool) error {
	err := v.svc.SetPinned(ctx, id, pinned)
	if err != nil {
		return err
	}
	v.Update(id, func(a types.Announcement) types.Announcement {
		a.IsPinned = pinned
		return a
	})
	return nil
}

// ResourcesView is the live resource library. Changes of the viewer's own profile (premium upgrade) unlock
// entries, so profile updates trigger a reload as well.
func (s *Service) ResourcesView() *live.Binding[types.Resource] {
	list := live.NewList(live.ListConfig[types.Resource]{
		Name: "resources",
		Load: s.resources,
		Key:  resourceKey,
		Less: func(a, b types.Resource) bool {
			return a.CreatedAt.After(b.CreatedAt)
		},
		Notifier:   s.Notifier,
		ErrorTitle: "Error loading resources",
	})
	sources := []live.Source{{Collection: gateway.Resources}}
	if id := s.session.UserId(); id != "" {
		f := gateway.Eq("id", id)
		sources = append(sources, live.Source{Collection: gateway.Profiles, Filter: &f, Mask: gateway.MaskUpdate})
	}
	return live.Bind(s.gw, list, s.sync, sources...)
}

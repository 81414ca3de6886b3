package chat

import (
	"context"

	"github.com/tcriess/family-hub/filter"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/live"
	"github.com/tcriess/family-hub/types"
)

func messageKey(m types.ChatMessage) string { return m.Id }
func groupKey(g types.ChatGroup) string     { return g.Id }

// ConversationView is the live message list of one group, oldest message first.
type ConversationView struct {
	*live.Binding[types.ChatMessage]
	svc     *Service
	groupId string
}

func (s *Service) ConversationView(groupId string) *ConversationView {
	list := live.NewList(live.ListConfig[types.ChatMessage]{
		Name: "chat_messages",
		Load: func(ctx context.Context) ([]types.ChatMessage, error) {
			return s.messages(ctx, groupId)
		},
		Key: messageKey,
		Less: func(a, b types.ChatMessage) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		},
		Notifier:   s.Notifier,
		ErrorTitle: "Error loading messages",
	})
	f := gateway.Eq("group_id", groupId)
	b := live.Bind(s.gw, list, s.sync,
		live.Source{Collection: gateway.ChatMessages, Filter: &f},
		live.Source{Collection: gateway.ChatMessageReactions, Mask: gateway.MaskInsert | gateway.MaskDelete},
	)
	return &ConversationView{Binding: b, svc: s, groupId: groupId}
}

// Send sends a message and shows it right away, the reload triggered by the insert replaces it.
func (v *ConversationView) Send(ctx context.Context, content, replyTo string) (types.ChatMessage, error) {
	msg, err := v.svc.SendMessage(ctx, v.groupId, content, replyTo)
	if err != nil {
		return msg, err
	}
	v.AppendOptimistic(msg)
	return msg, nil
}

// React toggles a reaction and adjusts the local count.
func (v *ConversationView) React(ctx context.Context, messageId, emoji string) (bool, error) {
	on, err := v.svc.ToggleReaction(ctx, messageId, emoji)
	if err != nil {
		return false, err
	}
	v.Update(messageId, func(m types.ChatMessage) types.ChatMessage {
		reactions := make(map[string]int, len(m.Reactions)+1)
		for k, n := range m.Reactions {
			reactions[k] = n
		}
		if on {
			reactions[emoji]++
		} else if reactions[emoji] > 0 {
			reactions[emoji]--
			if reactions[emoji] == 0 {
				delete(reactions, emoji)
			}
		}
		m.Reactions = reactions
		return m
	})
	return on, nil
}

func (v *ConversationView) MarkRead(ctx context.Context) error {
	ids, err := v.svc.MarkRead(ctx, v.groupId)
	if err != nil {
		return err
	}
	for _, id := range ids {
		v.Update(id, func(m types.ChatMessage) types.ChatMessage {
			m.IsRead = true
			return m
		})
	}
	return nil
}

func (v *ConversationView) Search(query string) []types.ChatMessage {
	return v.MatchText(query,
		func(m types.ChatMessage) string { return m.Content },
		func(m types.ChatMessage) string { return m.SenderName },
	)
}

// Where filters the loaded messages with an admin expression, see filter.Messages.
func (v *ConversationView) Where(expression string) ([]types.ChatMessage, error) {
	match, err := filter.Messages(expression)
	if err != nil {
		return nil, err
	}
	return v.Filter(match), nil
}

// GroupsView is the live list of the groups of the signed in member. It follows the memberships of that member
// and changes to the groups themselves.
func (s *Service) GroupsView() *live.Binding[types.ChatGroup] {
	userId := s.session.UserId()
	list := live.NewList(live.ListConfig[types.ChatGroup]{
		Name: "chat_groups",
		Load: func(ctx context.Context) ([]types.ChatGroup, error) {
			if userId == "" {
				return nil, types.ErrNotAuthenticated
			}
			return s.myGroups(ctx, userId)
		},
		Key:        groupKey,
		Notifier:   s.Notifier,
		ErrorTitle: "Error loading groups",
	})
	f := gateway.Eq("user_id", userId)
	return live.Bind(s.gw, list, s.sync,
		live.Source{Collection: gateway.ChatGroupMembers, Filter: &f},
		live.Source{Collection: gateway.ChatGroups, Mask: gateway.MaskUpdate | gateway.MaskDelete},
	)
}

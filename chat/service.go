// Package chat implements chat groups, their members and messages.
package chat

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/live"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/metrics"
	"github.com/tcriess/family-hub/notify"
	"github.com/tcriess/family-hub/types"
)

const (
	defaultMaxMessageLength = 2000
	defaultRateLimit        = 20
	defaultRateWindow       = time.Minute
	defaultMemberRetries    = 3
	memberRetryInterval     = 200 * time.Millisecond

	GroupRoleAdmin  = "admin"
	GroupRoleMember = "member"
)

type Service struct {
	gw       gateway.Gateway
	session  *auth.Session
	mapper   *mapper.Mapper
	limiter  *Limiter
	Notifier notify.Notifier

	maxLength     int
	memberRetries int
	retryInterval time.Duration
	sync          live.BridgeConfig
	logger        hclog.Logger
}

func NewService(gw gateway.Gateway, session *auth.Session, m *mapper.Mapper, cfg *config.Config) *Service {
	c := cfg.ChatConfig
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = defaultMaxMessageLength
	}
	if c.RateLimit <= 0 {
		c.RateLimit = defaultRateLimit
	}
	if c.RateWindow <= 0 {
		c.RateWindow = defaultRateWindow
	}
	if c.MemberRetries < 0 {
		c.MemberRetries = defaultMemberRetries
	}
	if m == nil {
		m = mapper.New(gw, nil)
	}
	return &Service{
		gw:            gw,
		session:       session,
		mapper:        m,
		limiter:       NewLimiter(c.RateLimit, c.RateWindow),
		maxLength:     c.MaxMessageLength,
		memberRetries: c.MemberRetries,
		retryInterval: memberRetryInterval,
		sync:          live.BridgeConfigFrom(cfg.SyncConfig),
		logger:        globals.AppLogger.Named("chat"),
	}
}

// Limiter exposes the send limiter, f.e. to show the remaining sends.
func (s *Service) Limiter() *Limiter {
	return s.limiter
}

func (s *Service) fail(title string, err error) error {
	return notify.Fail(s.logger, s.Notifier, title, err)
}

func checkGroupId(id string) error {
	if !types.IsUUID(id) {
		return types.NewValidationError("group_id", "Invalid conversation ID format")
	}
	return nil
}

func checkId(field, message, id string) error {
	if !types.IsUUID(id) {
		return types.NewValidationError(field, message)
	}
	return nil
}

// CreateGroup creates a group and makes the creator its admin. The membership insert depends on the group and is
// retried a few times; if it still fails, the group is deleted again and a *types.PartialError is returned.
func (s *Service) CreateGroup(ctx context.Context, name, description string) (types.ChatGroup, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.ChatGroup{}, s.fail("Could not create group", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.ChatGroup{}, s.fail("Could not create group", types.NewValidationError("name", "Group name is required"))
	}
	row, err := s.gw.Insert(ctx, gateway.ChatGroups, gateway.Row{
		"name":        name,
		"description": strings.TrimSpace(description),
		"created_by":  user.Id,
	})
	if err != nil {
		return types.ChatGroup{}, s.fail("Could not create group", types.Remote("create group", err))
	}
	groupId := row.String("id")

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = s.retryInterval
	bo.MaxElapsedTime = 0
	err = backoff.Retry(func() error {
		_, err := s.gw.Insert(ctx, gateway.ChatGroupMembers, gateway.Row{
			"group_id": groupId,
			"user_id":  user.Id,
			"role":     GroupRoleAdmin,
		})
		if err != nil {
			s.logger.Warn("could not add group creator", "group", groupId, "error", err)
		}
		return err
	}, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(s.memberRetries)), ctx))
	if err != nil {
		partial := &types.PartialError{
			Op:        "create group",
			Completed: "group",
			Failed:    "creator membership",
			Err:       types.Remote("add group creator", err),
		}
		// the group must not stay without an admin
		derr := s.gw.Delete(context.Background(), gateway.ChatGroups, gateway.Eq("id", groupId))
		if derr != nil {
			s.logger.Error("could not remove group without members", "group", groupId, "error", derr)
		} else {
			partial.Compensated = true
		}
		return types.ChatGroup{}, s.fail("Could not create group", partial)
	}

	group := types.ChatGroup{}
	err = mapper.Decode(row, &group)
	if err != nil {
		return types.ChatGroup{}, s.fail("Could not create group", err)
	}
	group.MemberCount = 1
	group.MyRole = GroupRoleAdmin
	notify.Success(s.Notifier, "Group created", group.Name)
	return group, nil
}

func (s *Service) myGroups(ctx context.Context, userId string) ([]types.ChatGroup, error) {
	memberships, err := s.gw.Select(ctx, gateway.From(gateway.ChatGroupMembers).Select("group_id").Where(gateway.Eq("user_id", userId)))
	if err != nil {
		return nil, types.Remote("load memberships", err)
	}
	ids := mapper.Distinct(memberships, "group_id")
	if len(ids) == 0 {
		return []types.ChatGroup{}, nil
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.ChatGroups).Where(gateway.In("id", ids)).OrderBy("created_at", true))
	if err != nil {
		return nil, types.Remote("load groups", err)
	}
	return s.mapper.Groups(ctx, rows, userId)
}

// MyGroups lists the groups the signed in member belongs to, newest first.
func (s *Service) MyGroups(ctx context.Context) ([]types.ChatGroup, error) {
	user, err := s.session.Require()
	if err != nil {
		return nil, s.fail("Error loading groups", err)
	}
	groups, err := s.myGroups(ctx, user.Id)
	if err != nil {
		return nil, s.fail("Error loading groups", err)
	}
	return groups, nil
}

func (s *Service) groupRole(ctx context.Context, groupId, userId string) (string, error) {
	rows, err := s.gw.Select(ctx, gateway.From(gateway.ChatGroupMembers).Select("role").
		Where(gateway.Eq("group_id", groupId), gateway.Eq("user_id", userId)).LimitTo(1))
	if err != nil {
		return "", types.Remote("load membership", err)
	}
	if len(rows) == 0 {
		return "", nil
	}
	return rows[0].String("role"), nil
}

// AddMember adds userId to the group. Group admins and site admins may add members.
func (s *Service) AddMember(ctx context.Context, groupId, userId string) (types.ChatGroupMember, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.ChatGroupMember{}, s.fail("Could not add member", err)
	}
	if err := checkGroupId(groupId); err != nil {
		return types.ChatGroupMember{}, s.fail("Could not add member", err)
	}
	if err := checkId("user_id", "Invalid user ID format", userId); err != nil {
		return types.ChatGroupMember{}, s.fail("Could not add member", err)
	}
	if !user.IsAdmin() {
		role, err := s.groupRole(ctx, groupId, user.Id)
		if err != nil {
			return types.ChatGroupMember{}, s.fail("Could not add member", err)
		}
		if role != GroupRoleAdmin {
			return types.ChatGroupMember{}, s.fail("Could not add member", types.ErrForbidden)
		}
	}
	row, err := s.gw.Insert(ctx, gateway.ChatGroupMembers, gateway.Row{
		"group_id": groupId,
		"user_id":  userId,
		"role":     GroupRoleMember,
	})
	if err != nil {
		return types.ChatGroupMember{}, s.fail("Could not add member", types.Remote("add member", err))
	}
	members, err := s.mapper.Members(ctx, []gateway.Row{row})
	if err != nil {
		return types.ChatGroupMember{}, s.fail("Could not add member", err)
	}
	return members[0], nil
}

func (s *Service) Members(ctx context.Context, groupId string) ([]types.ChatGroupMember, error) {
	if err := checkGroupId(groupId); err != nil {
		return nil, s.fail("Error loading members", err)
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.ChatGroupMembers).Where(gateway.Eq("group_id", groupId)).OrderBy("joined_at", false))
	if err != nil {
		return nil, s.fail("Error loading members", types.Remote("load members", err))
	}
	members, err := s.mapper.Members(ctx, rows)
	if err != nil {
		return nil, s.fail("Error loading members", err)
	}
	return members, nil
}

func (s *Service) messages(ctx context.Context, groupId string) ([]types.ChatMessage, error) {
	if err := checkGroupId(groupId); err != nil {
		return nil, err
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.ChatMessages).Where(gateway.Eq("group_id", groupId)).OrderBy("created_at", false))
	if err != nil {
		return nil, types.Remote("load messages", err)
	}
	return s.mapper.ChatMessages(ctx, rows)
}

// Messages loads the messages of a group, oldest first. A malformed group id is rejected without a query.
func (s *Service) Messages(ctx context.Context, groupId string) ([]types.ChatMessage, error) {
	msgs, err := s.messages(ctx, groupId)
	if err != nil {
		return nil, s.fail("Error loading messages", err)
	}
	return msgs, nil
}

func (s *Service) reject(reason string, err error) error {
	metrics.ChatRejections.WithLabelValues(reason).Inc()
	return s.fail("Message not sent", err)
}

// SendMessage validates and sends a message. Content is trimmed, must not be empty and must not exceed the
// maximum length in characters. Only messages actually sent count towards the send limit: invalid messages are
// rejected before the limiter, and the slot is refunded if the reply target is missing or the insert fails.
func (s *Service) SendMessage(ctx context.Context, groupId, content, replyTo string) (types.ChatMessage, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.ChatMessage{}, s.fail("Message not sent", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return types.ChatMessage{}, s.reject("empty", types.NewValidationError("content", "Message cannot be empty"))
	}
	if utf8.RuneCountInString(content) > s.maxLength {
		return types.ChatMessage{}, s.reject("length", types.NewValidationError("content", "Message is too long"))
	}
	if err := checkGroupId(groupId); err != nil {
		return types.ChatMessage{}, s.reject("invalid_id", err)
	}
	if replyTo != "" {
		if err := checkId("reply_to", "Invalid reply message ID format", replyTo); err != nil {
			return types.ChatMessage{}, s.reject("invalid_id", err)
		}
	}
	if !s.limiter.Allow() {
		return types.ChatMessage{}, s.reject("rate",
			types.NewValidationError("content", "You are sending messages too quickly. Please wait a moment."))
	}

	row := gateway.Row{
		"content":   content,
		"group_id":  groupId,
		"sender_id": user.Id,
	}
	if replyTo != "" {
		parent, err := s.gw.Select(ctx, gateway.From(gateway.ChatMessages).Select("id").
			Where(gateway.Eq("id", replyTo), gateway.Eq("group_id", groupId)).LimitTo(1))
		if err != nil {
			s.limiter.Refund()
			return types.ChatMessage{}, s.fail("Message not sent", types.Remote("load reply target", err))
		}
		if len(parent) == 0 {
			s.limiter.Refund()
			return types.ChatMessage{}, s.reject("reply", types.NewValidationError("reply_to", "The message you are replying to does not exist"))
		}
		row["reply_to"] = replyTo
	}
	inserted, err := s.gw.Insert(ctx, gateway.ChatMessages, row)
	if err != nil {
		s.limiter.Refund()
		return types.ChatMessage{}, s.fail("Message not sent", types.Remote("send message", err))
	}
	msgs, err := s.mapper.ChatMessages(ctx, []gateway.Row{inserted})
	if err != nil {
		return types.ChatMessage{}, s.fail("Message not sent", err)
	}
	return msgs[0], nil
}

// MarkRead marks the messages of others in the group as read and returns their ids.
func (s *Service) MarkRead(ctx context.Context, groupId string) ([]string, error) {
	user, err := s.session.Require()
	if err != nil {
		return nil, s.fail("Could not mark messages as read", err)
	}
	if err := checkGroupId(groupId); err != nil {
		return nil, s.fail("Could not mark messages as read", err)
	}
	rows, err := s.gw.Update(ctx, gateway.ChatMessages, gateway.Row{"is_read": true},
		gateway.Eq("group_id", groupId), gateway.Neq("sender_id", user.Id), gateway.Eq("is_read", false))
	if err != nil {
		return nil, s.fail("Could not mark messages as read", types.Remote("mark read", err))
	}
	return mapper.Distinct(rows, "id"), nil
}

// ToggleReaction adds the emoji reaction of the signed in member or removes it. It reports whether the reaction
// exists afterwards.
func (s *Service) ToggleReaction(ctx context.Context, messageId, emoji string) (bool, error) {
	user, err := s.session.Require()
	if err != nil {
		return false, s.fail("Could not update reaction", err)
	}
	if err := checkId("message_id", "Invalid message ID format", messageId); err != nil {
		return false, s.fail("Could not update reaction", err)
	}
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || utf8.RuneCountInString(emoji) > 8 {
		return false, s.fail("Could not update reaction", types.NewValidationError("emoji", "Invalid reaction"))
	}
	on, err := gateway.Toggle(ctx, s.gw, gateway.ChatMessageReactions,
		[]gateway.Filter{gateway.Eq("message_id", messageId), gateway.Eq("user_id", user.Id), gateway.Eq("emoji", emoji)},
		gateway.Row{"message_id": messageId, "user_id": user.Id, "emoji": emoji})
	if err != nil {
		return false, s.fail("Could not update reaction", types.Remote("toggle reaction", err))
	}
	return on, nil
}

package gateway

import (
	"time"

	"gorm.io/datatypes"
)

// Collections of the hosted backend.
const (
	Profiles             = "profiles"
	AuthUsers            = "auth_users"
	PasswordResets       = "password_resets"
	ForumCategories      = "forum_categories"
	ForumPosts           = "forum_posts"
	ForumComments        = "forum_comments"
	ForumPostLikes       = "forum_post_likes"
	ChatGroups           = "chat_groups"
	ChatGroupMembers     = "chat_group_members"
	ChatMessages         = "chat_messages"
	ChatMessageReactions = "chat_message_reactions"
	Announcements        = "announcements"
	Resources            = "resources"
	MembershipStats      = "membership_stats"
	ActivityStats        = "activity_stats"
	RevenueStats         = "revenue_stats"
)

// timestampColumns lists the columns filled with the insert time when a row does not carry them.
var timestampColumns = map[string][]string{
	Profiles:             {"created_at", "updated_at"},
	AuthUsers:            {"created_at"},
	PasswordResets:       {"created_at"},
	ForumCategories:      {"created_at"},
	ForumPosts:           {"created_at", "updated_at"},
	ForumComments:        {"created_at", "updated_at"},
	ForumPostLikes:       {"created_at"},
	ChatGroups:           {"created_at"},
	ChatGroupMembers:     {"joined_at"},
	ChatMessages:         {"created_at"},
	ChatMessageReactions: {"created_at"},
	Announcements:        {"created_at"},
	Resources:            {"created_at"},
	MembershipStats:      {"created_at"},
	ActivityStats:        {"created_at"},
	RevenueStats:         {"created_at"},
}

// updatedColumns are refreshed on every update.
var updatedColumns = map[string]string{
	Profiles:      "updated_at",
	ForumPosts:    "updated_at",
	ForumComments: "updated_at",
}

type profileRow struct {
	Id          string `gorm:"primaryKey;size:36"`
	Email       string `gorm:"uniqueIndex;not null"`
	DisplayName string `gorm:"not null;default:''"`
	AvatarUrl   string `gorm:"not null;default:''"`
	Role        string `gorm:"not null;default:'user'"`
	IsPremium   bool   `gorm:"not null;default:false"`
	Bio         string `gorm:"not null;default:''"`
	Location    string `gorm:"not null;default:''"`
	Phone       string `gorm:"not null;default:''"`
	WhatsApp    string `gorm:"column:whatsapp;not null;default:''"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (profileRow) TableName() string { return Profiles }

type authUserRow struct {
	Id           string `gorm:"primaryKey;size:36"`
	Email        string `gorm:"uniqueIndex;not null"`
	PasswordHash string `gorm:"not null;default:''"`
	Provider     string `gorm:"not null;default:'email'"`
	CreatedAt    time.Time
}

func (authUserRow) TableName() string { return AuthUsers }

type passwordResetRow struct {
	Id         string `gorm:"primaryKey;size:36"`
	Email      string `gorm:"index;not null"`
	Token      string `gorm:"uniqueIndex;not null"`
	RedirectTo string `gorm:"not null;default:''"`
	ExpiresAt  time.Time
	CreatedAt  time.Time
}

func (passwordResetRow) TableName() string { return PasswordResets }

type forumCategoryRow struct {
	Id          string `gorm:"primaryKey;size:36"`
	Name        string `gorm:"uniqueIndex;not null"`
	Description string `gorm:"not null;default:''"`
	CreatedAt   time.Time
}

func (forumCategoryRow) TableName() string { return ForumCategories }

type forumPostRow struct {
	Id         string  `gorm:"primaryKey;size:36"`
	Title      string  `gorm:"not null"`
	Content    string  `gorm:"not null"`
	CategoryId *string `gorm:"index;size:36"`
	AuthorId   string  `gorm:"index;not null;size:36"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (forumPostRow) TableName() string { return ForumPosts }

type forumCommentRow struct {
	Id        string `gorm:"primaryKey;size:36"`
	Content   string `gorm:"not null"`
	PostId    string `gorm:"index;not null;size:36"`
	AuthorId  string `gorm:"not null;size:36"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (forumCommentRow) TableName() string { return ForumComments }

type forumPostLikeRow struct {
	Id        string `gorm:"primaryKey;size:36"`
	PostId    string `gorm:"uniqueIndex:idx_post_user;not null;size:36"`
	UserId    string `gorm:"uniqueIndex:idx_post_user;not null;size:36"`
	CreatedAt time.Time
}

func (forumPostLikeRow) TableName() string { return ForumPostLikes }

type chatGroupRow struct {
	Id          string `gorm:"primaryKey;size:36"`
	Name        string `gorm:"not null"`
	Description string `gorm:"not null;default:''"`
	CreatedBy   string `gorm:"index;not null;size:36"`
	CreatedAt   time.Time
}

func (chatGroupRow) TableName() string { return ChatGroups }

type chatGroupMemberRow struct {
	Id       string `gorm:"primaryKey;size:36"`
	GroupId  string `gorm:"uniqueIndex:idx_group_user;not null;size:36"`
	UserId   string `gorm:"uniqueIndex:idx_group_user;index;not null;size:36"`
	Role     string `gorm:"not null;default:'member'"`
	JoinedAt time.Time
}

func (chatGroupMemberRow) TableName() string { return ChatGroupMembers }

type chatMessageRow struct {
	Id        string    `gorm:"primaryKey;size:36"`
	Content   string    `gorm:"not null"`
	SenderId  string    `gorm:"not null;size:36"`
	GroupId   string    `gorm:"index:idx_group_created;not null;size:36"`
	ReplyTo   *string   `gorm:"size:36"`
	IsRead    bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"index:idx_group_created"`
}

func (chatMessageRow) TableName() string { return ChatMessages }

type chatMessageReactionRow struct {
	Id        string `gorm:"primaryKey;size:36"`
	MessageId string `gorm:"uniqueIndex:idx_message_user_emoji;not null;size:36"`
	UserId    string `gorm:"uniqueIndex:idx_message_user_emoji;not null;size:36"`
	Emoji     string `gorm:"uniqueIndex:idx_message_user_emoji;not null;size:32"`
	CreatedAt time.Time
}

func (chatMessageReactionRow) TableName() string { return ChatMessageReactions }

type announcementRow struct {
	Id        string `gorm:"primaryKey;size:36"`
	Title     string `gorm:"not null"`
	Content   string `gorm:"not null"`
	AuthorId  string `gorm:"not null;size:36"`
	IsPinned  bool   `gorm:"not null;default:false"`
	CreatedAt time.Time
}

func (announcementRow) TableName() string { return Announcements }

type resourceRow struct {
	Id          string `gorm:"primaryKey;size:36"`
	Title       string `gorm:"not null"`
	Description string `gorm:"not null;default:''"`
	FileUrl     string `gorm:"not null;default:''"`
	FileType    string `gorm:"not null;default:''"`
	IsPremium   bool   `gorm:"not null;default:false"`
	AuthorId    string `gorm:"not null;size:36"`
	CreatedAt   time.Time
}

func (resourceRow) TableName() string { return Resources }

// StatRow holds the columns shared by the stat tables. It must stay exported, gorm ignores unexported embedded
// structs.
type StatRow struct {
	Id        string `gorm:"primaryKey;size:36"`
	Period    string `gorm:"not null"`
	Metrics   datatypes.JSON
	CreatedAt time.Time `gorm:"index"`
}

type membershipStatRow struct{ StatRow }

func (membershipStatRow) TableName() string { return MembershipStats }

type activityStatRow struct{ StatRow }

func (activityStatRow) TableName() string { return ActivityStats }

type revenueStatRow struct{ StatRow }

func (revenueStatRow) TableName() string { return RevenueStats }

func tables() []interface{} {
	return []interface{}{
		&profileRow{}, &authUserRow{}, &passwordResetRow{},
		&forumCategoryRow{}, &forumPostRow{}, &forumCommentRow{}, &forumPostLikeRow{},
		&chatGroupRow{}, &chatGroupMemberRow{}, &chatMessageRow{}, &chatMessageReactionRow{},
		&announcementRow{}, &resourceRow{},
		&membershipStatRow{}, &activityStatRow{}, &revenueStatRow{},
	}
}

// Known reports whether collection is part of the schema.
func Known(collection string) bool {
	_, ok := timestampColumns[collection]
	return ok
}

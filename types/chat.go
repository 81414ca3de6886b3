package types

import "time"

type ChatGroup struct {
	Id          string    `json:"id" mapstructure:"id"`
	Name        string    `json:"name" mapstructure:"name"`
	Description string    `json:"description,omitempty" mapstructure:"description"`
	CreatedBy   string    `json:"createdBy" mapstructure:"created_by"`
	CreatedAt   time.Time `json:"createdAt" mapstructure:"created_at"`
	MemberCount int       `json:"memberCount" mapstructure:"-"`
	MyRole      string    `json:"myRole,omitempty" mapstructure:"-"`
}

type ChatGroupMember struct {
	Id       string    `json:"id" mapstructure:"id"`
	GroupId  string    `json:"groupId" mapstructure:"group_id"`
	UserId   string    `json:"userId" mapstructure:"user_id"`
	UserName string    `json:"userName" mapstructure:"-"`
	Role     string    `json:"role" mapstructure:"role"`
	JoinedAt time.Time `json:"joinedAt" mapstructure:"joined_at"`
}

// ChatMessage is a message in exactly one group. ReplyTo points at another message of the same group; replies
// are only one level deep, the referenced message is shown as a preview.
type ChatMessage struct {
	Id           string         `json:"id" mapstructure:"id"`
	Content      string         `json:"content" mapstructure:"content"`
	SenderId     string         `json:"senderId" mapstructure:"sender_id"`
	SenderName   string         `json:"senderName" mapstructure:"-"`
	GroupId      string         `json:"groupId" mapstructure:"group_id"`
	ReplyTo      *string        `json:"replyTo,omitempty" mapstructure:"reply_to"`
	ReplyPreview string         `json:"replyPreview,omitempty" mapstructure:"-"`
	IsRead       bool           `json:"isRead" mapstructure:"is_read"`
	CreatedAt    time.Time      `json:"timestamp" mapstructure:"created_at"`
	Reactions    map[string]int `json:"reactions,omitempty" mapstructure:"-"`
}

type ChatMessageReaction struct {
	Id        string    `json:"id" mapstructure:"id"`
	MessageId string    `json:"messageId" mapstructure:"message_id"`
	UserId    string    `json:"userId" mapstructure:"user_id"`
	Emoji     string    `json:"emoji" mapstructure:"emoji"`
	CreatedAt time.Time `json:"createdAt" mapstructure:"created_at"`
}

package types

import "time"

type Announcement struct {
	Id         string    `json:"id" mapstructure:"id"`
	Title      string    `json:"title" mapstructure:"title"`
	Content    string    `json:"content" mapstructure:"content"`
	AuthorId   string    `json:"authorId" mapstructure:"author_id"`
	AuthorName string    `json:"authorName" mapstructure:"-"`
	IsPinned   bool      `json:"isPinned" mapstructure:"is_pinned"`
	CreatedAt  time.Time `json:"createdAt" mapstructure:"created_at"`
}

// Resource is an entry of the resource library. For members without premium access, premium resources are
// listed with Locked set and without FileUrl.
type Resource struct {
	Id          string    `json:"id" mapstructure:"id"`
	Title       string    `json:"title" mapstructure:"title"`
	Description string    `json:"description" mapstructure:"description"`
	FileUrl     string    `json:"fileUrl,omitempty" mapstructure:"file_url"`
	FileType    string    `json:"fileType" mapstructure:"file_type"`
	IsPremium   bool      `json:"isPremium" mapstructure:"is_premium"`
	AuthorId    string    `json:"authorId" mapstructure:"author_id"`
	AuthorName  string    `json:"authorName" mapstructure:"-"`
	CreatedAt   time.Time `json:"createdAt" mapstructure:"created_at"`
	Locked      bool      `json:"locked,omitempty" mapstructure:"-"`
}

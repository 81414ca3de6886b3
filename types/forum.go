package types

import "time"

type ForumCategory struct {
	Id          string    `json:"id" mapstructure:"id"`
	Name        string    `json:"name" mapstructure:"name"`
	Description string    `json:"description" mapstructure:"description"`
	PostsCount  int       `json:"postsCount" mapstructure:"-"`
	CreatedAt   time.Time `json:"createdAt" mapstructure:"created_at"`
}

// ForumPost carries the derived counters next to the stored columns. The counters are either aggregated on read
// or adjusted locally after a like toggle.
type ForumPost struct {
	Id            string    `json:"id" mapstructure:"id"`
	Title         string    `json:"title" mapstructure:"title"`
	Content       string    `json:"content" mapstructure:"content"`
	CategoryId    *string   `json:"categoryId,omitempty" mapstructure:"category_id"`
	CategoryName  string    `json:"categoryName,omitempty" mapstructure:"-"`
	AuthorId      string    `json:"authorId" mapstructure:"author_id"`
	AuthorName    string    `json:"authorName" mapstructure:"-"`
	CreatedAt     time.Time `json:"createdAt" mapstructure:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" mapstructure:"updated_at"`
	LikesCount    int       `json:"likesCount" mapstructure:"-"`
	CommentsCount int       `json:"commentsCount" mapstructure:"-"`
	LikedByMe     bool      `json:"likedByMe" mapstructure:"-"`
}

type ForumComment struct {
	Id         string    `json:"id" mapstructure:"id"`
	Content    string    `json:"content" mapstructure:"content"`
	PostId     string    `json:"postId" mapstructure:"post_id"`
	AuthorId   string    `json:"authorId" mapstructure:"author_id"`
	AuthorName string    `json:"authorName" mapstructure:"-"`
	CreatedAt  time.Time `json:"createdAt" mapstructure:"created_at"`
	UpdatedAt  time.Time `json:"updatedAt" mapstructure:"updated_at"`
}

type ForumPostLike struct {
	Id        string    `json:"id" mapstructure:"id"`
	PostId    string    `json:"postId" mapstructure:"post_id"`
	UserId    string    `json:"userId" mapstructure:"user_id"`
	CreatedAt time.Time `json:"createdAt" mapstructure:"created_at"`
}

// Package forum implements categories, posts, comments and likes.
package forum

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/auth"
	"github.com/tcriess/family-hub/config"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/live"
	"github.com/tcriess/family-hub/mapper"
	"github.com/tcriess/family-hub/notify"
	"github.com/tcriess/family-hub/types"
)

const defaultMinCommentLength = 10

type Service struct {
	gw       gateway.Gateway
	session  *auth.Session
	mapper   *mapper.Mapper
	Notifier notify.Notifier

	minComment int
	sync       live.BridgeConfig
	logger     hclog.Logger
}

func NewService(gw gateway.Gateway, session *auth.Session, m *mapper.Mapper, cfg *config.Config) *Service {
	minComment := cfg.ForumConfig.MinCommentLength
	if minComment <= 0 {
		minComment = defaultMinCommentLength
	}
	if m == nil {
		m = mapper.New(gw, nil)
	}
	return &Service{
		gw:         gw,
		session:    session,
		mapper:     m,
		minComment: minComment,
		sync:       live.BridgeConfigFrom(cfg.SyncConfig),
		logger:     globals.AppLogger.Named("forum"),
	}
}

func (s *Service) fail(title string, err error) error {
	return notify.Fail(s.logger, s.Notifier, title, err)
}

func checkId(field, id string) error {
	if !types.IsUUID(id) {
		return types.NewValidationError(field, fmt.Sprintf("Invalid %s format", strings.ReplaceAll(field, "_", " ")))
	}
	return nil
}

// Categories lists all categories by name with their post counts.
func (s *Service) Categories(ctx context.Context) ([]types.ForumCategory, error) {
	rows, err := s.gw.Select(ctx, gateway.From(gateway.ForumCategories).OrderBy("name", false))
	if err != nil {
		return nil, s.fail("Error loading categories", types.Remote("load categories", err))
	}
	categories, err := s.mapper.Categories(ctx, rows)
	if err != nil {
		return nil, s.fail("Error loading categories", err)
	}
	return categories, nil
}

// CreateCategory is restricted to admins.
func (s *Service) CreateCategory(ctx context.Context, name, description string) (types.ForumCategory, error) {
	if _, err := s.session.RequireAdmin(); err != nil {
		return types.ForumCategory{}, s.fail("Could not create category", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return types.ForumCategory{}, s.fail("Could not create category", types.NewValidationError("name", "Category name is required"))
	}
	row, err := s.gw.Insert(ctx, gateway.ForumCategories, gateway.Row{
		"name":        name,
		"description": strings.TrimSpace(description),
	})
	if err != nil {
		return types.ForumCategory{}, s.fail("Could not create category", types.Remote("create category", err))
	}
	c := types.ForumCategory{}
	err = mapper.Decode(row, &c)
	if err != nil {
		return types.ForumCategory{}, s.fail("Could not create category", err)
	}
	notify.Success(s.Notifier, "Category created", c.Name)
	return c, nil
}

func (s *Service) postsQuery(categoryId string) *gateway.Query {
	q := gateway.From(gateway.ForumPosts).OrderBy("created_at", true)
	if categoryId != "" {
		q = q.Where(gateway.Eq("category_id", categoryId))
	}
	return q
}

// Posts lists the posts, newest first, optionally of one category only.
func (s *Service) Posts(ctx context.Context, categoryId string) ([]types.ForumPost, error) {
	if categoryId != "" {
		if err := checkId("category_id", categoryId); err != nil {
			return nil, s.fail("Error loading posts", err)
		}
	}
	rows, err := s.gw.Select(ctx, s.postsQuery(categoryId))
	if err != nil {
		return nil, s.fail("Error loading posts", types.Remote("load posts", err))
	}
	posts, err := s.mapper.ForumPosts(ctx, rows, s.session.UserId())
	if err != nil {
		return nil, s.fail("Error loading posts", err)
	}
	return posts, nil
}

func (s *Service) Post(ctx context.Context, id string) (types.ForumPost, error) {
	if err := checkId("post_id", id); err != nil {
		return types.ForumPost{}, s.fail("Error loading post", err)
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.ForumPosts).Where(gateway.Eq("id", id)).LimitTo(1))
	if err != nil {
		return types.ForumPost{}, s.fail("Error loading post", types.Remote("load post", err))
	}
	if len(rows) == 0 {
		return types.ForumPost{}, s.fail("Error loading post", types.ErrNotFound)
	}
	posts, err := s.mapper.ForumPosts(ctx, rows, s.session.UserId())
	if err != nil {
		return types.ForumPost{}, s.fail("Error loading post", err)
	}
	return posts[0], nil
}

type NewPost struct {
	Title      string
	Content    string
	CategoryId string
}

func (s *Service) CreatePost(ctx context.Context, p NewPost) (types.ForumPost, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.ForumPost{}, s.fail("Could not create post", err)
	}
	title := strings.TrimSpace(p.Title)
	content := strings.TrimSpace(p.Content)
	if title == "" {
		return types.ForumPost{}, s.fail("Could not create post", types.NewValidationError("title", "Title is required"))
	}
	if content == "" {
		return types.ForumPost{}, s.fail("Could not create post", types.NewValidationError("content", "Content is required"))
	}
	row := gateway.Row{
		"title":     title,
		"content":   content,
		"author_id": user.Id,
	}
	if p.CategoryId != "" {
		if err := checkId("category_id", p.CategoryId); err != nil {
			return types.ForumPost{}, s.fail("Could not create post", err)
		}
		row["category_id"] = p.CategoryId
	}
	inserted, err := s.gw.Insert(ctx, gateway.ForumPosts, row)
	if err != nil {
		return types.ForumPost{}, s.fail("Could not create post", types.Remote("create post", err))
	}
	posts, err := s.mapper.ForumPosts(ctx, []gateway.Row{inserted}, user.Id)
	if err != nil {
		return types.ForumPost{}, s.fail("Could not create post", err)
	}
	return posts[0], nil
}

// UpdatePost changes title and content. Only the author may edit a post.
func (s *Service) UpdatePost(ctx context.Context, id, title, content string) (types.ForumPost, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.ForumPost{}, s.fail("Could not update post", err)
	}
	if err := checkId("post_id", id); err != nil {
		return types.ForumPost{}, s.fail("Could not update post", err)
	}
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)
	if title == "" || content == "" {
		return types.ForumPost{}, s.fail("Could not update post", types.NewValidationError("content", "Title and content are required"))
	}
	rows, err := s.gw.Update(ctx, gateway.ForumPosts, gateway.Row{"title": title, "content": content},
		gateway.Eq("id", id), gateway.Eq("author_id", user.Id))
	if err != nil {
		return types.ForumPost{}, s.fail("Could not update post", types.Remote("update post", err))
	}
	if len(rows) == 0 {
		return types.ForumPost{}, s.fail("Could not update post", types.ErrForbidden)
	}
	posts, err := s.mapper.ForumPosts(ctx, rows, user.Id)
	if err != nil {
		return types.ForumPost{}, s.fail("Could not update post", err)
	}
	return posts[0], nil
}

// DeletePost removes a post with its comments and likes. Authors delete their own posts, moderators any post.
func (s *Service) DeletePost(ctx context.Context, id string) error {
	user, err := s.session.Require()
	if err != nil {
		return s.fail("Could not delete post", err)
	}
	if err := checkId("post_id", id); err != nil {
		return s.fail("Could not delete post", err)
	}
	filters := []gateway.Filter{gateway.Eq("id", id)}
	if !user.CanModerate() {
		filters = append(filters, gateway.Eq("author_id", user.Id))
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.ForumPosts).Select("id").Where(filters...))
	if err != nil {
		return s.fail("Could not delete post", types.Remote("load post", err))
	}
	if len(rows) == 0 {
		return s.fail("Could not delete post", types.ErrForbidden)
	}
	for _, c := range []string{gateway.ForumPostLikes, gateway.ForumComments} {
		err = s.gw.Delete(ctx, c, gateway.Eq("post_id", id))
		if err != nil {
			return s.fail("Could not delete post", types.Remote("delete "+c, err))
		}
	}
	err = s.gw.Delete(ctx, gateway.ForumPosts, gateway.Eq("id", id))
	if err != nil {
		return s.fail("Could not delete post", types.Remote("delete post", err))
	}
	return nil
}

// Comments lists the comments of a post, oldest first.
func (s *Service) Comments(ctx context.Context, postId string) ([]types.ForumComment, error) {
	if err := checkId("post_id", postId); err != nil {
		return nil, s.fail("Error loading comments", err)
	}
	rows, err := s.gw.Select(ctx, gateway.From(gateway.ForumComments).Where(gateway.Eq("post_id", postId)).OrderBy("created_at", false))
	if err != nil {
		return nil, s.fail("Error loading comments", types.Remote("load comments", err))
	}
	comments, err := s.mapper.ForumComments(ctx, rows)
	if err != nil {
		return nil, s.fail("Error loading comments", err)
	}
	return comments, nil
}

// CreateComment adds a comment to a live post. Comments shorter than the configured minimum (after trimming) are
// rejected before anything is sent.
func (s *Service) CreateComment(ctx context.Context, postId, content string) (types.ForumComment, error) {
	user, err := s.session.Require()
	if err != nil {
		return types.ForumComment{}, s.fail("Could not add comment", err)
	}
	content = strings.TrimSpace(content)
	if utf8.RuneCountInString(content) < s.minComment {
		return types.ForumComment{}, s.fail("Could not add comment",
			types.NewValidationError("content", fmt.Sprintf("Comment must be at least %d characters", s.minComment)))
	}
	if err := checkId("post_id", postId); err != nil {
		return types.ForumComment{}, s.fail("Could not add comment", err)
	}
	post, err := s.gw.Select(ctx, gateway.From(gateway.ForumPosts).Select("id").Where(gateway.Eq("id", postId)).LimitTo(1))
	if err != nil {
		return types.ForumComment{}, s.fail("Could not add comment", types.Remote("load post", err))
	}
	if len(post) == 0 {
		return types.ForumComment{}, s.fail("Could not add comment", types.ErrNotFound)
	}
	row, err := s.gw.Insert(ctx, gateway.ForumComments, gateway.Row{
		"content":   content,
		"post_id":   postId,
		"author_id": user.Id,
	})
	if err != nil {
		return types.ForumComment{}, s.fail("Could not add comment", types.Remote("create comment", err))
	}
	comments, err := s.mapper.ForumComments(ctx, []gateway.Row{row})
	if err != nil {
		return types.ForumComment{}, s.fail("Could not add comment", err)
	}
	return comments[0], nil
}

// ToggleLike likes the post or takes the like back. It reports whether the post is liked afterwards.
func (s *Service) ToggleLike(ctx context.Context, postId string) (bool, error) {
	user, err := s.session.Require()
	if err != nil {
		return false, s.fail("Could not update like", err)
	}
	if err := checkId("post_id", postId); err != nil {
		return false, s.fail("Could not update like", err)
	}
	liked, err := gateway.Toggle(ctx, s.gw, gateway.ForumPostLikes,
		[]gateway.Filter{gateway.Eq("post_id", postId), gateway.Eq("user_id", user.Id)},
		gateway.Row{"post_id": postId, "user_id": user.Id})
	if err != nil {
		return false, s.fail("Could not update like", types.Remote("toggle like", err))
	}
	return liked, nil
}

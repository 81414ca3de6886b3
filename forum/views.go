package forum

import (
	"context"

	"github.com/tcriess/family-hub/filter"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/live"
	"github.com/tcriess/family-hub/types"
)

func postKey(p types.ForumPost) string         { return p.Id }
func categoryKey(c types.ForumCategory) string { return c.Id }
func commentKey(c types.ForumComment) string   { return c.Id }

// PostsView is the live post list of the forum page. Likes and comments change the counters, so their
// collections trigger reloads as well.
type PostsView struct {
	*live.Binding[types.ForumPost]
	svc *Service
}

func (s *Service) PostsView(categoryId string) *PostsView {
	list := live.NewList(live.ListConfig[types.ForumPost]{
		Name: "forum_posts",
		Load: func(ctx context.Context) ([]types.ForumPost, error) {
			rows, err := s.gw.Select(ctx, s.postsQuery(categoryId))
			if err != nil {
				return nil, types.Remote("load posts", err)
			}
			return s.mapper.ForumPosts(ctx, rows, s.session.UserId())
		},
		Key: postKey,
		Less: func(a, b types.ForumPost) bool {
			return a.CreatedAt.After(b.CreatedAt)
		},
		Notifier:   s.Notifier,
		ErrorTitle: "Error loading posts",
	})
	var postFilter *gateway.Filter
	if categoryId != "" {
		f := gateway.Eq("category_id", categoryId)
		postFilter = &f
	}
	b := live.Bind(s.gw, list, s.sync,
		live.Source{Collection: gateway.ForumPosts, Filter: postFilter},
		live.Source{Collection: gateway.ForumPostLikes},
		live.Source{Collection: gateway.ForumComments, Mask: gateway.MaskInsert | gateway.MaskDelete},
	)
	return &PostsView{Binding: b, svc: s}
}

// CreatePost creates the post and shows it right away.
func (v *PostsView) CreatePost(ctx context.Context, p NewPost) (types.ForumPost, error) {
	post, err := v.svc.CreatePost(ctx, p)
	if err != nil {
		return post, err
	}
	v.AppendOptimistic(post)
	return post, nil
}

// ToggleLike toggles the like and adjusts the local counter without waiting for the reload.
func (v *PostsView) ToggleLike(ctx context.Context, postId string) (bool, error) {
	liked, err := v.svc.ToggleLike(ctx, postId)
	if err != nil {
		return false, err
	}
	v.Update(postId, func(p types.ForumPost) types.ForumPost {
		if liked && !p.LikedByMe {
			p.LikesCount++
		} else if !liked && p.LikedByMe && p.LikesCount > 0 {
			p.LikesCount--
		}
		p.LikedByMe = liked
		return p
	})
	return liked, nil
}

// Search filters the loaded posts by title, content or author.
func (v *PostsView) Search(query string) []types.ForumPost {
	return v.MatchText(query,
		func(p types.ForumPost) string { return p.Title },
		func(p types.ForumPost) string { return p.Content },
		func(p types.ForumPost) string { return p.AuthorName },
	)
}

// Where filters the loaded posts with an admin expression, see filter.Posts.
func (v *PostsView) Where(expression string) ([]types.ForumPost, error) {
	match, err := filter.Posts(expression)
	if err != nil {
		return nil, err
	}
	return v.Filter(match), nil
}

func (s *Service) CategoriesView() *live.Binding[types.ForumCategory] {
	list := live.NewList(live.ListConfig[types.ForumCategory]{
		Name: "forum_categories",
		Load: func(ctx context.Context) ([]types.ForumCategory, error) {
			rows, err := s.gw.Select(ctx, gateway.From(gateway.ForumCategories).OrderBy("name", false))
			if err != nil {
				return nil, types.Remote("load categories", err)
			}
			return s.mapper.Categories(ctx, rows)
		},
		Key:        categoryKey,
		Notifier:   s.Notifier,
		ErrorTitle: "Error loading categories",
	})
	return live.Bind(s.gw, list, s.sync,
		live.Source{Collection: gateway.ForumCategories},
		live.Source{Collection: gateway.ForumPosts, Mask: gateway.MaskInsert | gateway.MaskDelete | gateway.MaskUpdate},
	)
}

// CommentsView is the live comment thread of one post.
type CommentsView struct {
	*live.Binding[types.ForumComment]
	svc    *Service
	postId string
}

func (s *Service) CommentsView(postId string) *CommentsView {
	list := live.NewList(live.ListConfig[types.ForumComment]{
		Name: "forum_comments",
		Load: func(ctx context.Context) ([]types.ForumComment, error) {
			if err := checkId("post_id", postId); err != nil {
				return nil, err
			}
			rows, err := s.gw.Select(ctx, gateway.From(gateway.ForumComments).Where(gateway.Eq("post_id", postId)).OrderBy("created_at", false))
			if err != nil {
				return nil, types.Remote("load comments", err)
			}
			return s.mapper.ForumComments(ctx, rows)
		},
		Key: commentKey,
		Less: func(a, b types.ForumComment) bool {
			return a.CreatedAt.Before(b.CreatedAt)
		},
		Notifier:   s.Notifier,
		ErrorTitle: "Error loading comments",
	})
	f := gateway.Eq("post_id", postId)
	b := live.Bind(s.gw, list, s.sync, live.Source{Collection: gateway.ForumComments, Filter: &f})
	return &CommentsView{Binding: b, svc: s, postId: postId}
}

func (v *CommentsView) Add(ctx context.Context, content string) (types.ForumComment, error) {
	c, err := v.svc.CreateComment(ctx, v.postId, content)
	if err != nil {
		return c, err
	}
	v.AppendOptimistic(c)
	return c, nil
}

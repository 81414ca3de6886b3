package mapper

import (
	"context"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/family-hub/gateway"
	"github.com/tcriess/family-hub/globals"
	"github.com/tcriess/family-hub/types"
)

const replyPreviewLength = 80

// Mapper holds the lookups shared by the entity mappers. Secondary lookups (names, counts, previews) are fail-soft:
// an error is logged and the affected fields keep their defaults.
type Mapper struct {
	store   gateway.Store
	Authors *Authors
	logger  hclog.Logger
}

func New(store gateway.Store, authors *Authors) *Mapper {
	if authors == nil {
		authors = NewAuthors(store, 0)
	}
	return &Mapper{
		store:   store,
		Authors: authors,
		logger:  globals.AppLogger.Named("mapper"),
	}
}

func (m *Mapper) lookup(ctx context.Context, q *gateway.Query) []gateway.Row {
	rows, err := m.store.Select(ctx, q)
	if err != nil {
		m.logger.Warn("secondary lookup failed", "query", q.String(), "error", err)
		return nil
	}
	return rows
}

func preview(content string) string {
	r := []rune(content)
	if len(r) <= replyPreviewLength {
		return content
	}
	return string(r[:replyPreviewLength]) + "…"
}

// ChatMessages maps message rows, resolving sender names, reply previews and reaction counts.
func (m *Mapper) ChatMessages(ctx context.Context, rows []gateway.Row) ([]types.ChatMessage, error) {
	msgs, err := decodeAll[types.ChatMessage](rows)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return msgs, nil
	}
	names := m.Authors.Names(ctx, Distinct(rows, "sender_id"))

	contents := make(map[string]string, len(msgs))
	ids := make([]string, 0, len(msgs))
	for _, msg := range msgs {
		contents[msg.Id] = msg.Content
		ids = append(ids, msg.Id)
	}
	missing := make([]string, 0)
	for i := range msgs {
		if msgs[i].ReplyTo != nil && *msgs[i].ReplyTo == "" {
			msgs[i].ReplyTo = nil
		}
		if msgs[i].ReplyTo == nil {
			continue
		}
		if _, ok := contents[*msgs[i].ReplyTo]; !ok {
			missing = append(missing, *msgs[i].ReplyTo)
		}
	}
	if len(missing) > 0 {
		for _, row := range m.lookup(ctx, gateway.From(gateway.ChatMessages).Select("id", "content").Where(gateway.In("id", missing))) {
			contents[row.String("id")] = row.String("content")
		}
	}

	reactions := make(map[string]map[string]int)
	for _, row := range m.lookup(ctx, gateway.From(gateway.ChatMessageReactions).Select("message_id", "emoji").Where(gateway.In("message_id", ids))) {
		id := row.String("message_id")
		if reactions[id] == nil {
			reactions[id] = make(map[string]int)
		}
		reactions[id][row.String("emoji")]++
	}

	for i := range msgs {
		msgs[i].SenderName = names[msgs[i].SenderId]
		if msgs[i].SenderName == "" {
			msgs[i].SenderName = UnknownUser
		}
		if msgs[i].ReplyTo != nil {
			msgs[i].ReplyPreview = preview(contents[*msgs[i].ReplyTo])
		}
		msgs[i].Reactions = reactions[msgs[i].Id]
	}
	return msgs, nil
}

// ForumPosts maps post rows, resolving author and category names, like and comment counts and whether viewerId
// liked the post.
func (m *Mapper) ForumPosts(ctx context.Context, rows []gateway.Row, viewerId string) ([]types.ForumPost, error) {
	posts, err := decodeAll[types.ForumPost](rows)
	if err != nil {
		return nil, err
	}
	if len(posts) == 0 {
		return posts, nil
	}
	names := m.Authors.Names(ctx, Distinct(rows, "author_id"))
	ids := Distinct(rows, "id")

	likeRows := m.lookup(ctx, gateway.From(gateway.ForumPostLikes).Select("post_id", "user_id").Where(gateway.In("post_id", ids)))
	likes := tally(likeRows, "post_id")
	liked := make(map[string]bool)
	for _, row := range likeRows {
		if viewerId != "" && row.String("user_id") == viewerId {
			liked[row.String("post_id")] = true
		}
	}
	comments := tally(m.lookup(ctx, gateway.From(gateway.ForumComments).Select("post_id").Where(gateway.In("post_id", ids))), "post_id")

	categories := make(map[string]string)
	if catIds := Distinct(rows, "category_id"); len(catIds) > 0 {
		for _, row := range m.lookup(ctx, gateway.From(gateway.ForumCategories).Select("id", "name").Where(gateway.In("id", catIds))) {
			categories[row.String("id")] = row.String("name")
		}
	}

	for i := range posts {
		p := &posts[i]
		if p.CategoryId != nil && *p.CategoryId == "" {
			p.CategoryId = nil
		}
		p.AuthorName = names[p.AuthorId]
		if p.AuthorName == "" {
			p.AuthorName = UnknownUser
		}
		if p.CategoryId != nil {
			p.CategoryName = categories[*p.CategoryId]
		}
		p.LikesCount = likes[p.Id]
		p.CommentsCount = comments[p.Id]
		p.LikedByMe = liked[p.Id]
	}
	return posts, nil
}

func (m *Mapper) ForumComments(ctx context.Context, rows []gateway.Row) ([]types.ForumComment, error) {
	comments, err := decodeAll[types.ForumComment](rows)
	if err != nil {
		return nil, err
	}
	names := m.Authors.Names(ctx, Distinct(rows, "author_id"))
	for i := range comments {
		comments[i].AuthorName = names[comments[i].AuthorId]
		if comments[i].AuthorName == "" {
			comments[i].AuthorName = UnknownUser
		}
	}
	return comments, nil
}

// Categories maps category rows and counts the posts per category.
func (m *Mapper) Categories(ctx context.Context, rows []gateway.Row) ([]types.ForumCategory, error) {
	categories, err := decodeAll[types.ForumCategory](rows)
	if err != nil {
		return nil, err
	}
	if len(categories) == 0 {
		return categories, nil
	}
	counts := tally(m.lookup(ctx, gateway.From(gateway.ForumPosts).Select("category_id").Where(gateway.In("category_id", Distinct(rows, "id")))), "category_id")
	for i := range categories {
		categories[i].PostsCount = counts[categories[i].Id]
	}
	return categories, nil
}

// Groups maps chat group rows, counting members and looking up the role of userId.
func (m *Mapper) Groups(ctx context.Context, rows []gateway.Row, userId string) ([]types.ChatGroup, error) {
	groups, err := decodeAll[types.ChatGroup](rows)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return groups, nil
	}
	memberRows := m.lookup(ctx, gateway.From(gateway.ChatGroupMembers).Select("group_id", "user_id", "role").Where(gateway.In("group_id", Distinct(rows, "id"))))
	counts := tally(memberRows, "group_id")
	roles := make(map[string]string)
	for _, row := range memberRows {
		if row.String("user_id") == userId {
			roles[row.String("group_id")] = row.String("role")
		}
	}
	for i := range groups {
		groups[i].MemberCount = counts[groups[i].Id]
		groups[i].MyRole = roles[groups[i].Id]
	}
	return groups, nil
}

func (m *Mapper) Members(ctx context.Context, rows []gateway.Row) ([]types.ChatGroupMember, error) {
	members, err := decodeAll[types.ChatGroupMember](rows)
	if err != nil {
		return nil, err
	}
	names := m.Authors.Names(ctx, Distinct(rows, "user_id"))
	for i := range members {
		members[i].UserName = names[members[i].UserId]
		if members[i].UserName == "" {
			members[i].UserName = UnknownUser
		}
	}
	return members, nil
}

func (m *Mapper) StatRecords(kind string, rows []gateway.Row) ([]types.StatRecord, error) {
	records, err := decodeAll[types.StatRecord](rows)
	if err != nil {
		return nil, err
	}
	for i := range records {
		records[i].Kind = kind
		if records[i].Metrics == nil {
			records[i].Metrics = types.Metrics{}
		}
	}
	return records, nil
}

func (m *Mapper) Announcements(ctx context.Context, rows []gateway.Row) ([]types.Announcement, error) {
	announcements, err := decodeAll[types.Announcement](rows)
	if err != nil {
		return nil, err
	}
	names := m.Authors.Names(ctx, Distinct(rows, "author_id"))
	for i := range announcements {
		announcements[i].AuthorName = names[announcements[i].AuthorId]
		if announcements[i].AuthorName == "" {
			announcements[i].AuthorName = UnknownUser
		}
	}
	return announcements, nil
}

// Resources maps resource rows. Premium resources are locked, without file url, for viewers lacking premium
// access (premium members and admins have it). Authors always see their own uploads.
func (m *Mapper) Resources(ctx context.Context, rows []gateway.Row, viewer *types.User) ([]types.Resource, error) {
	resources, err := decodeAll[types.Resource](rows)
	if err != nil {
		return nil, err
	}
	access := viewer != nil && (viewer.IsPremium || viewer.IsAdmin())
	viewerId := ""
	if viewer != nil {
		viewerId = viewer.Id
	}
	names := m.Authors.Names(ctx, Distinct(rows, "author_id"))
	for i := range resources {
		r := &resources[i]
		r.AuthorName = names[r.AuthorId]
		if r.AuthorName == "" {
			r.AuthorName = UnknownUser
		}
		if r.IsPremium && !access && (viewerId == "" || r.AuthorId != viewerId) {
			r.Locked = true
			r.FileUrl = ""
		}
	}
	return resources, nil
}

func (m *Mapper) Profiles(rows []gateway.Row) ([]types.User, error) {
	return decodeAll[types.User](rows)
}

func (m *Mapper) Profile(row gateway.Row) (types.User, error) {
	u := types.User{}
	err := Decode(row, &u)
	return u, err
}

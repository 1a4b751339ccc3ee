package service

import (
	"context"

	"community_core/internal/auth"
	"community_core/internal/changefeed"
	"community_core/internal/feed"
	"community_core/internal/model"
	"community_core/internal/orchestrator"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
	"community_core/internal/visibility"
)

// RecentComments 每个帖子随工作集下发的最近评论数
const RecentComments = 3

// FeedService 组装带点赞状态和最近评论的信息流
type FeedService struct {
	policy   *visibility.Policy
	likes    *gormdb.PostLikeRepository
	comments *gormdb.CommentRepository
	window   int
}

func NewFeedService(policy *visibility.Policy, likes *gormdb.PostLikeRepository, comments *gormdb.CommentRepository, window int) *FeedService {
	if window <= 0 {
		window = feed.DefaultWindow
	}
	return &FeedService{policy: policy, likes: likes, comments: comments, window: window}
}

func (s *FeedService) Window() int { return s.window }

func (s *FeedService) HomeFeed(ctx context.Context, viewer auth.Identity, after visibility.Cursor, limit int) ([]feed.Item, error) {
	posts, err := s.policy.HomeFeed(ctx, viewer, after, limit)
	if err != nil {
		return nil, err
	}
	return s.items(ctx, viewer, posts)
}

func (s *FeedService) CommunityFeed(ctx context.Context, viewer auth.Identity, communityID uint64, after visibility.Cursor, limit int) ([]feed.Item, error) {
	posts, err := s.policy.CommunityFeed(ctx, viewer, communityID, after, limit)
	if err != nil {
		return nil, err
	}
	return s.items(ctx, viewer, posts)
}

func (s *FeedService) items(ctx context.Context, viewer auth.Identity, posts []model.Post) ([]feed.Item, error) {
	out := make([]feed.Item, 0, len(posts))
	if len(posts) == 0 {
		return out, nil
	}
	ids := make([]uint64, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}
	liked := map[uint64]bool{}
	if !viewer.Anonymous() {
		var err error
		if liked, err = s.likes.LikedSet(ctx, viewer.UserID, ids); err != nil {
			return nil, pkg.Database("query liked set failed", err)
		}
	}
	recent, err := s.comments.RecentByPosts(ctx, ids, RecentComments)
	if err != nil {
		return nil, pkg.Database("query comments failed", err)
	}
	for _, p := range posts {
		it := feed.ItemFromPost(p)
		it.LikedByMe = liked[p.ID]
		for _, c := range recent[p.ID] {
			it.Comments = append(it.Comments, feed.Comment{
				ID:        c.ID,
				AuthorID:  c.AuthorID,
				Content:   c.Content,
				CreatedAt: c.CreatedAt,
			})
		}
		out = append(out, it)
	}
	return out, nil
}

// HomeFetcher 首页工作集：最新的 window 条
func (s *FeedService) HomeFetcher() orchestrator.Fetcher {
	return func(ctx context.Context, viewer auth.Identity) ([]feed.Item, error) {
		return s.HomeFeed(ctx, viewer, visibility.Cursor{}, s.window)
	}
}

func (s *FeedService) CommunityFetcher(communityID uint64) orchestrator.Fetcher {
	return func(ctx context.Context, viewer auth.Identity) ([]feed.Item, error) {
		return s.CommunityFeed(ctx, viewer, communityID, visibility.Cursor{}, s.window)
	}
}

// HomeFilters 首页关心所有帖子、点赞和评论，以及自己的成员关系变化
func HomeFilters(viewer auth.Identity) []changefeed.Filter {
	filters := []changefeed.Filter{
		changefeed.TableFilter(gormdb.TablePosts),
		changefeed.TableFilter(gormdb.TableLikes),
		changefeed.TableFilter(gormdb.TableComments),
	}
	if !viewer.Anonymous() {
		filters = append(filters, changefeed.ColumnFilter(gormdb.TableMembers, "user_id", viewer.UserID))
	}
	return filters
}

// CommunityFilters 社区页只订阅本社区的变化
func CommunityFilters(communityID uint64) []changefeed.Filter {
	return []changefeed.Filter{
		changefeed.ColumnFilter(gormdb.TablePosts, "community_id", communityID),
		changefeed.ColumnFilter(gormdb.TableLikes, "community_id", communityID),
		changefeed.ColumnFilter(gormdb.TableComments, "community_id", communityID),
		changefeed.ColumnFilter(gormdb.TableMembers, "community_id", communityID),
		changefeed.ColumnFilter(gormdb.TableCommunities, "community_id", communityID),
	}
}

// FeedBackend 把 Screen 的修改意图转给点赞和评论服务
type FeedBackend struct {
	Likes    *PostLikeService
	Comments *CommentService
}

var _ orchestrator.Backend = (*FeedBackend)(nil)

func (b *FeedBackend) Like(ctx context.Context, viewer auth.Identity, postID uint64) (int64, error) {
	return b.Likes.Like(ctx, viewer, postID)
}

func (b *FeedBackend) Unlike(ctx context.Context, viewer auth.Identity, postID uint64) (int64, error) {
	return b.Likes.Unlike(ctx, viewer, postID)
}

func (b *FeedBackend) Comment(ctx context.Context, viewer auth.Identity, postID uint64, content string) (*model.Comment, error) {
	return b.Comments.Create(ctx, viewer, postID, content)
}

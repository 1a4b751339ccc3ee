package service

import (
	"context"

	"community_core/internal/auth"
	"community_core/internal/feed"
	"community_core/internal/model"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
	"community_core/internal/visibility"
)

type CommentService struct {
	repo   *gormdb.CommentRepository
	access postAccess
}

func NewCommentService(repo *gormdb.CommentRepository, posts *gormdb.PostRepository, policy *visibility.Policy) *CommentService {
	return &CommentService{repo: repo, access: postAccess{posts: posts, policy: policy}}
}

// Create 评论只追加，不支持编辑和删除
func (s *CommentService) Create(ctx context.Context, actor auth.Identity, postID uint64, content string) (*model.Comment, error) {
	if actor.Anonymous() {
		return nil, pkg.NewAppError(pkg.ErrUnauthorized, "login required", nil)
	}
	if postID == 0 {
		return nil, pkg.Invalid("invalid post id")
	}
	content, err := feed.NormalizeComment(content)
	if err != nil {
		return nil, err
	}
	if _, err = s.access.check(ctx, actor, postID); err != nil {
		return nil, err
	}
	c := &model.Comment{PostID: postID, AuthorID: actor.UserID, Content: content}
	if err = s.repo.Create(ctx, c); err != nil {
		return nil, pkg.Database("create comment failed", err)
	}
	return c, nil
}

func (s *CommentService) List(ctx context.Context, viewer auth.Identity, postID, afterID uint64, limit int) ([]model.Comment, error) {
	if _, err := s.access.check(ctx, viewer, postID); err != nil {
		return nil, err
	}
	list, err := s.repo.ListByPost(ctx, postID, afterID, limit)
	if err != nil {
		return nil, pkg.Database("list comments failed", err)
	}
	return list, nil
}

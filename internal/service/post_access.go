package service

import (
	"context"

	"community_core/internal/auth"
	"community_core/internal/model"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
	"community_core/internal/visibility"
)

// postAccess 点赞、评论之前确认帖子存在并且对观看者可见
type postAccess struct {
	posts  *gormdb.PostRepository
	policy *visibility.Policy
}

func (a postAccess) check(ctx context.Context, viewer auth.Identity, postID uint64) (*model.Post, error) {
	if postID == 0 {
		return nil, pkg.Invalid("invalid post id")
	}
	p, err := a.posts.FindByID(ctx, postID)
	if err != nil {
		return nil, pkg.Database("find post failed", err)
	}
	if err = a.policy.CheckPost(ctx, viewer, p); err != nil {
		return nil, err
	}
	return p, nil
}

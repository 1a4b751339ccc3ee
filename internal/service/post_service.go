package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"community_core/internal/auth"
	"community_core/internal/blob"
	"community_core/internal/model"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
)

const (
	MediaBucket  = "posts"
	MaxMediaSize = 20 << 20
	MaxContent   = 5000
)

type PostService struct {
	repo       *gormdb.PostRepository
	memberRepo *gormdb.CommunityMemberRepository
	blobs      blob.Store
	log        *slog.Logger
}

type CreatePostInput struct {
	CommunityID *uint64
	Content     string
	Media       []byte
}

func NewPostService(store *gormdb.Store, blobs blob.Store, log *slog.Logger) *PostService {
	if log == nil {
		log = slog.Default()
	}
	return &PostService{
		repo:       store.Posts,
		memberRepo: store.Members,
		blobs:      blobs,
		log:        log,
	}
}

// CreatePost 社区帖子要求作者是活跃成员；媒体先上传再落库
func (s *PostService) CreatePost(ctx context.Context, actor auth.Identity, in CreatePostInput) (*model.Post, error) {
	if actor.Anonymous() {
		return nil, pkg.NewAppError(pkg.ErrUnauthorized, "login required", nil)
	}
	content := strings.TrimSpace(in.Content)
	if content == "" && len(in.Media) == 0 {
		return nil, pkg.Invalid("content or media required")
	}
	if len(content) > MaxContent {
		return nil, pkg.Invalid("content too long")
	}
	if len(in.Media) > MaxMediaSize {
		return nil, pkg.Invalid("media too large")
	}
	mediaKind, contentType, err := pkg.DetectMedia(in.Media)
	if err != nil {
		return nil, err
	}

	post := &model.Post{
		AuthorID:  actor.UserID,
		Kind:      model.PostGeneral,
		Content:   content,
		MediaKind: mediaKind,
	}
	if in.CommunityID != nil && *in.CommunityID != 0 {
		// 判断是否是 community 成员
		ok, err := s.memberRepo.IsActiveMember(ctx, *in.CommunityID, actor.UserID)
		if err != nil {
			return nil, pkg.Database("check membership failed", err)
		}
		if !ok {
			return nil, pkg.NewAppError(pkg.ErrNotMember, "not a member", nil)
		}
		cid := *in.CommunityID
		post.CommunityID = &cid
		post.Kind = model.PostCommunity
	}

	if mediaKind != model.MediaNone {
		if s.blobs == nil {
			return nil, pkg.Invalid("media uploads are disabled")
		}
		path := fmt.Sprintf("%d/%d%s", actor.UserID, time.Now().UnixNano(), pkg.MediaExtension(in.Media))
		url, err := s.blobs.Upload(ctx, MediaBucket, path, in.Media, contentType)
		if err != nil {
			return nil, pkg.NewAppError(pkg.ErrTransport, "upload media failed", err)
		}
		post.MediaURL = url
	}

	if err = s.repo.Create(ctx, post); err != nil {
		return nil, pkg.Database("create post failed", err)
	}
	s.log.Info("post created", "post_id", post.ID, "author", actor.UserID, "media", mediaKind)
	return post, nil
}

// DeletePost 幂等删除：成功/已删除均返回 nil；仅无权限时报错
func (s *PostService) DeletePost(ctx context.Context, actor auth.Identity, postID uint64) error {
	if postID == 0 {
		return pkg.Invalid("invalid post id")
	}
	if _, err := s.repo.DeleteWithPermission(ctx, postID, actor.UserID); err != nil {
		return pkg.Database("delete post failed", err)
	}
	return nil
}

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"community_core/internal/auth"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
	"community_core/internal/repository/redis"
	"community_core/internal/visibility"
)

// likeSetFillLimit 点赞者超过这个数的帖子不回填集合，直接查库
const likeSetFillLimit = 1000

type PostLikeService struct {
	repo      *gormdb.PostLikeRepository
	access    postAccess
	likeCache *redis.LikeCacheRepository
	lock      *redis.DistLock
	log       *slog.Logger
}

// LikeSummary 点赞数、当前用户是否点赞以及最近的点赞用户
type LikeSummary struct {
	Count  int64    `json:"count"`
	Liked  bool     `json:"liked"`
	Likers []uint64 `json:"likers"`
}

// NewPostLikeService rdb 为 nil 时不走缓存，直接读写数据库
func NewPostLikeService(repo *gormdb.PostLikeRepository, posts *gormdb.PostRepository, policy *visibility.Policy, rdb *goredis.Client, log *slog.Logger) *PostLikeService {
	if log == nil {
		log = slog.Default()
	}
	s := &PostLikeService{repo: repo, access: postAccess{posts: posts, policy: policy}, log: log}
	if rdb != nil {
		s.likeCache = redis.NewLikeCacheRepository(rdb)
		s.lock = &redis.DistLock{RDB: rdb}
	}
	return s
}

func (s *PostLikeService) lockToken(userID, postID uint64) string {
	return fmt.Sprintf("%d-%d-%d", userID, postID, time.Now().UnixNano())
}

// Like 写库成功后，加锁把事务内的最新计数写回缓存；拿不到锁则删计数Key，交给读侧惰性回填
func (s *PostLikeService) Like(ctx context.Context, actor auth.Identity, postID uint64) (int64, error) {
	if actor.Anonymous() {
		return 0, pkg.NewAppError(pkg.ErrUnauthorized, "login required", nil)
	}
	if _, err := s.access.check(ctx, actor, postID); err != nil {
		return 0, err
	}

	changed, count, err := s.repo.Like(ctx, actor.UserID, postID)
	if err != nil {
		return 0, pkg.Database("like failed", err)
	}
	if s.likeCache == nil {
		return count, nil
	}
	if !changed {
		// 幂等命中，只回填集合
		s.likeCache.WarmIsLiked(ctx, actor.UserID, postID, true)
		return count, nil
	}
	_ = s.likeCache.AddLike(ctx, actor.UserID, postID)
	s.writeBackCount(ctx, actor.UserID, postID, count)
	return count, nil
}

// Unlike 同样策略，先写库再更新缓存
func (s *PostLikeService) Unlike(ctx context.Context, actor auth.Identity, postID uint64) (int64, error) {
	if actor.Anonymous() {
		return 0, pkg.NewAppError(pkg.ErrUnauthorized, "login required", nil)
	}
	if _, err := s.access.check(ctx, actor, postID); err != nil {
		return 0, err
	}

	changed, count, err := s.repo.Unlike(ctx, actor.UserID, postID)
	if err != nil {
		return 0, pkg.Database("unlike failed", err)
	}
	if s.likeCache == nil {
		return count, nil
	}
	if !changed {
		s.likeCache.WarmIsLiked(ctx, actor.UserID, postID, false)
		return count, nil
	}
	_ = s.likeCache.RemoveLike(ctx, actor.UserID, postID)
	s.writeBackCount(ctx, actor.UserID, postID, count)
	return count, nil
}

// writeBackCount 计数受锁保护；拿不到锁或写失败则删除计数Key
func (s *PostLikeService) writeBackCount(ctx context.Context, userID, postID uint64, count int64) {
	token := s.lockToken(userID, postID)
	got, err := s.lock.Acquire(ctx, postID, token)
	if err != nil || !got {
		_ = s.likeCache.DeleteCount(ctx, postID)
		return
	}
	defer func() {
		if err := s.lock.Release(ctx, postID, token); err != nil {
			s.log.Warn("release like lock failed", "post_id", postID, "err", err)
		}
	}()
	if err = s.likeCache.SetLikeCount(ctx, postID, count); err != nil {
		_ = s.likeCache.DeleteCount(ctx, postID)
	}
}

// Likes 帖子不可见时返回 FORBIDDEN，与社区帖子列表一致
func (s *PostLikeService) Likes(ctx context.Context, viewer auth.Identity, postID uint64, limit int) (*LikeSummary, error) {
	if _, err := s.access.check(ctx, viewer, postID); err != nil {
		return nil, err
	}
	cnt, err := s.getCountWithLock(ctx, viewer, postID)
	if err != nil {
		return nil, err
	}
	liked, err := s.isLiked(ctx, viewer, postID)
	if err != nil {
		return nil, err
	}
	likers, err := s.repo.ListLikers(ctx, postID, limit)
	if err != nil {
		return nil, pkg.Database("list likers failed", err)
	}
	return &LikeSummary{Count: cnt, Liked: liked, Likers: likers}, nil
}

func (s *PostLikeService) isLiked(ctx context.Context, viewer auth.Identity, postID uint64) (bool, error) {
	if viewer.Anonymous() {
		return false, nil
	}
	if s.likeCache == nil {
		b, err := s.repo.IsLiked(ctx, viewer.UserID, postID)
		if err != nil {
			return false, pkg.Database("query like failed", err)
		}
		return b, nil
	}
	// 先查缓存集合（命中才用）
	if b, ok, err := s.likeCache.IsLikedCached(ctx, viewer.UserID, postID); err == nil && ok {
		return b, nil
	}
	// 代数要在读库之前取
	gen, genErr := s.likeCache.LikeGeneration(ctx, postID)
	b, err := s.repo.IsLiked(ctx, viewer.UserID, postID)
	if err != nil {
		return false, pkg.Database("query like failed", err)
	}
	if genErr == nil {
		s.fillLikers(ctx, postID, gen)
	}
	return b, nil
}

// fillLikers 未命中时用库里的完整点赞者回填集合，超过上限则跳过
func (s *PostLikeService) fillLikers(ctx context.Context, postID uint64, gen string) {
	ids, err := s.repo.LikerIDs(ctx, postID, likeSetFillLimit+1)
	if err != nil || len(ids) > likeSetFillLimit {
		return
	}
	if _, err = s.likeCache.FillLikers(ctx, postID, gen, ids); err != nil {
		s.log.Warn("fill like set failed", "post_id", postID, "err", err)
	}
}

// getCountWithLock 缓存未命中时只有拿到锁的请求回源
func (s *PostLikeService) getCountWithLock(ctx context.Context, viewer auth.Identity, postID uint64) (int64, error) {
	if s.likeCache == nil {
		return s.countFromDB(ctx, postID)
	}
	if v, ok, err := s.likeCache.GetLikeCountCached(ctx, postID); err == nil && ok {
		return v, nil
	}
	token := s.lockToken(viewer.UserID, postID)
	got, _ := s.lock.Acquire(ctx, postID, token)
	if got {
		defer func() {
			if err := s.lock.Release(ctx, postID, token); err != nil {
				s.log.Warn("release like lock failed", "post_id", postID, "err", err)
			}
		}()
		// 第二次检查
		if v, ok, err := s.likeCache.GetLikeCountCached(ctx, postID); err == nil && ok {
			return v, nil
		}
		v, err := s.countFromDB(ctx, postID)
		if err != nil {
			return 0, err
		}
		_ = s.likeCache.SetLikeCount(ctx, postID, v)
		return v, nil
	}

	// 没拿到锁，短暂退避后再读一次缓存，避免全体打DB
	select {
	case <-ctx.Done():
		return 0, pkg.NewAppError(pkg.ErrTimeout, "like count canceled", ctx.Err())
	case <-time.After(50 * time.Millisecond):
	}
	if v, ok, err := s.likeCache.GetLikeCountCached(ctx, postID); err == nil && ok {
		return v, nil
	}
	return s.countFromDB(ctx, postID)
}

func (s *PostLikeService) countFromDB(ctx context.Context, postID uint64) (int64, error) {
	v, err := s.repo.GetLikeCount(ctx, postID)
	if err != nil {
		return 0, pkg.Database("query like count failed", err)
	}
	return v, nil
}

package service

import (
	"context"
	"log/slog"
	"time"

	"community_core/internal/repository/gormdb"
)

// CounterReconciler 定期用真实行数修正冗余计数
type CounterReconciler struct {
	repo      *gormdb.CounterReconcilerRepo
	batchSize int
	interval  time.Duration
	log       *slog.Logger
}

func NewCounterReconciler(repo *gormdb.CounterReconcilerRepo, interval time.Duration, log *slog.Logger) *CounterReconciler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &CounterReconciler{
		repo:      repo,
		batchSize: 500,
		interval:  interval,
		log:       log.With("component", "reconciler"),
	}
}

// ReconcilerRun 对账定时任务启动器
func (r *CounterReconciler) ReconcilerRun(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.ReconcileOnce(ctx)
		}
	}
}

// ReconcileOnce 全表扫一遍，返回修正的行数
func (r *CounterReconciler) ReconcileOnce(ctx context.Context) int {
	return r.reconcilePosts(ctx) + r.reconcileCommunities(ctx)
}

func (r *CounterReconciler) reconcilePosts(ctx context.Context) int {
	fixed := 0
	var lastID uint64
	for ctx.Err() == nil {
		posts, next, err := r.repo.PostBatch(ctx, r.batchSize, lastID)
		if err != nil {
			r.log.Error("reconcile post batch failed", "last_id", lastID, "err", err)
			return fixed
		}
		if len(posts) == 0 {
			return fixed
		}
		for _, p := range posts {
			likes, err := r.repo.RealLikes(ctx, p.ID)
			if err != nil {
				continue
			}
			comments, err := r.repo.RealComments(ctx, p.ID)
			if err != nil {
				continue
			}
			if likes == p.LikesCount && comments == p.CommentsCount {
				continue
			}
			if err = r.repo.FixPost(ctx, p, likes, comments); err != nil {
				r.log.Warn("fix post counters failed", "post_id", p.ID, "err", err)
				continue
			}
			r.log.Info("post counters fixed", "post_id", p.ID, "likes", likes, "comments", comments)
			fixed++
		}
		lastID = next
	}
	return fixed
}

func (r *CounterReconciler) reconcileCommunities(ctx context.Context) int {
	fixed := 0
	var lastID uint64
	for ctx.Err() == nil {
		list, next, err := r.repo.CommunityBatch(ctx, r.batchSize, lastID)
		if err != nil {
			r.log.Error("reconcile community batch failed", "last_id", lastID, "err", err)
			return fixed
		}
		if len(list) == 0 {
			return fixed
		}
		for _, c := range list {
			members, err := r.repo.RealMembers(ctx, c.ID)
			if err != nil || members == c.MemberCount {
				continue
			}
			if err = r.repo.FixMembers(ctx, c.ID, members); err != nil {
				r.log.Warn("fix member count failed", "community_id", c.ID, "err", err)
				continue
			}
			fixed++
		}
		lastID = next
	}
	return fixed
}

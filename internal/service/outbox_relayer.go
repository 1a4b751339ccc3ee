package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"community_core/internal/changefeed"
	"community_core/internal/model"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
)

const (
	DefaultOutboxBatch    = 200
	DefaultOutboxMaxRetry = 5
	outboxPurgeInterval   = 10 * time.Minute
)

type Sender func(ctx context.Context, ob *model.ChangeOutbox) error

// OutboxRelayer 把 outbox 表里的变更投递给订阅方
type OutboxRelayer struct {
	repo      *gormdb.OutboxRepository
	batchSize int
	maxRetry  int
	interval  time.Duration
	sender    Sender
	log       *slog.Logger

	lastSent uint64
}

func NewOutboxRelayer(repo *gormdb.OutboxRepository, sender Sender, interval time.Duration, log *slog.Logger) *OutboxRelayer {
	if interval <= 0 {
		interval = time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &OutboxRelayer{
		repo:      repo,
		batchSize: DefaultOutboxBatch,
		maxRetry:  DefaultOutboxMaxRetry,
		interval:  interval,
		sender:    sender,
		log:       log.With("component", "outbox"),
	}
}

// Run outbox启动器
func (r *OutboxRelayer) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	purge := time.NewTicker(outboxPurgeInterval)
	defer purge.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			r.DrainOnce(ctx)
		case <-purge.C:
			r.Purge(ctx)
		}
	}
}

// Purge 删除最近一次成功投递之前的已发送记录
func (r *OutboxRelayer) Purge(ctx context.Context) int64 {
	if r.lastSent == 0 {
		return 0
	}
	n, err := r.repo.PurgeSent(ctx, r.lastSent)
	if err != nil {
		r.log.Warn("outbox purge failed", "err", err)
		return 0
	}
	return n
}

// DrainOnce 按 id 顺序投递一批，返回成功条数
func (r *OutboxRelayer) DrainOnce(ctx context.Context) int {
	rows, err := r.repo.List(ctx, r.batchSize, r.maxRetry)
	if err != nil {
		r.log.Error("outbox query failed", "err", err)
		return 0
	}
	sent := 0
	for i := range rows {
		ob := rows[i]
		if err = r.sender(ctx, &ob); err != nil {
			r.log.Warn("outbox send failed", "id", ob.ID, "resource", ob.Resource, "retry", ob.Retry, "err", err)
			if err = r.repo.RetryUpdate(ctx, ob.ID); err != nil {
				r.log.Error("outbox retry update failed", "id", ob.ID, "err", err)
			}
			continue
		}
		if err = r.repo.SuccessUpdate(ctx, ob.ID); err != nil {
			r.log.Error("outbox success update failed", "id", ob.ID, "err", err)
			continue
		}
		sent++
		r.lastSent = ob.ID
	}
	return sent
}

// EventFromOutbox 只把非空的过滤列放进事件
func EventFromOutbox(ob *model.ChangeOutbox) changefeed.Event {
	ev := changefeed.Event{
		Table:   ob.Resource,
		Type:    string(ob.EventType),
		Columns: map[string]string{},
		Origin:  ob.Origin,
	}
	put := func(col string, v *uint64) {
		if v != nil {
			ev.Columns[col] = fmt.Sprintf("%d", *v)
		}
	}
	put("community_id", ob.CommunityID)
	put("post_id", ob.PostID)
	put("user_id", ob.UserID)
	return ev
}

// ChangefeedSender 发布到变更频道
func ChangefeedSender(p *changefeed.Publisher) Sender {
	return func(ctx context.Context, ob *model.ChangeOutbox) error {
		return p.PublishEvent(ctx, EventFromOutbox(ob))
	}
}

// kafkaMessage 下游消费者看到的变更消息
type kafkaMessage struct {
	ID      uint64            `json:"id"`
	Table   string            `json:"table"`
	Type    string            `json:"type"`
	Columns map[string]string `json:"columns,omitempty"`
	Origin  uint64            `json:"origin,omitempty"`
	At      time.Time         `json:"at"`
}

// KafkaSender 以资源键为消息 key，保证同一资源的变更有序
func KafkaSender(p *pkg.KafkaProducer) Sender {
	return func(ctx context.Context, ob *model.ChangeOutbox) error {
		ev := EventFromOutbox(ob)
		body, err := json.Marshal(kafkaMessage{
			ID:      ob.ID,
			Table:   ev.Table,
			Type:    ev.Type,
			Columns: ev.Columns,
			Origin:  ev.Origin,
			At:      ob.CreatedAt,
		})
		if err != nil {
			return err
		}
		return p.Send(ctx, resourceKey(ob), body)
	}
}

func resourceKey(ob *model.ChangeOutbox) string {
	switch {
	case ob.PostID != nil:
		return fmt.Sprintf("post:%d", *ob.PostID)
	case ob.CommunityID != nil:
		return fmt.Sprintf("community:%d", *ob.CommunityID)
	}
	return ob.Resource
}

// MultiSender 依次投递；任一失败整条记录重试
func MultiSender(senders ...Sender) Sender {
	return func(ctx context.Context, ob *model.ChangeOutbox) error {
		var errs []error
		for _, s := range senders {
			if s == nil {
				continue
			}
			if err := s(ctx, ob); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

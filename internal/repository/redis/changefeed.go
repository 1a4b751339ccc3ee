package redis

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/redis/go-redis/v9"

	"community_core/internal/changefeed"
)

// PubSubTransport 基于 Redis pub/sub 的变更通知通道，多实例部署时使用
type PubSubTransport struct {
	RDB *redis.Client
}

type pubSubSubscription struct {
	ps      *redis.PubSub
	out     chan []byte
	dropped atomic.Bool
	once    sync.Once
	done    chan struct{}
}

func (t *PubSubTransport) Subscribe(ctx context.Context, channel string) (changefeed.Subscription, error) {
	ps := t.RDB.Subscribe(ctx, channel)
	// 等待订阅确认，保证返回后发布的消息能收到
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, err
	}
	s := &pubSubSubscription{ps: ps, out: make(chan []byte, 64), done: make(chan struct{})}
	go s.forward()
	return s, nil
}

func (s *pubSubSubscription) forward() {
	defer close(s.out)
	in := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			select {
			case s.out <- []byte(msg.Payload):
			case <-s.done:
				return
			default:
				s.dropped.Store(true)
				select {
				case s.out <- nil:
				default:
				}
			}
		}
	}
}

func (s *pubSubSubscription) Messages() <-chan []byte { return s.out }

func (s *pubSubSubscription) Dropped() bool { return s.dropped.Swap(false) }

func (s *pubSubSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (t *PubSubTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	return t.RDB.Publish(ctx, channel, payload).Err()
}

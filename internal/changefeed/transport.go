package changefeed

import "context"

// Subscription 一个频道上的消息流；Close 后 Messages 会被关闭。
// 缓冲区满时丢弃的消息由 Dropped 报告，读取后清零
type Subscription interface {
	Messages() <-chan []byte
	Dropped() bool
	Close() error
}

// Transport 承载变更通知的通道，Redis pub/sub 或进程内 Hub
type Transport interface {
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Publish(ctx context.Context, channel string, payload []byte) error
}

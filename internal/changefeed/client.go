package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	ErrUnknownHandle = errors.New("changefeed: unknown or already released handle")
	ErrClosed        = errors.New("changefeed: closed")
)

// Handle 一次成功订阅；只能 Unsubscribe 一次
type Handle struct {
	id       uint64
	key      string
	sub      Subscription
	released atomic.Bool
}

func (h *Handle) Key() string { return h.key }

// Client 把传输层消息变成 onInvalidate(resourceKey) 信号，不暴露事件内容
type Client struct {
	transport Transport
	log       *slog.Logger

	mu      sync.Mutex
	nextID  uint64
	handles map[uint64]*Handle
	closed  bool
}

func NewClient(t Transport, log *slog.Logger) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{transport: t, log: log, handles: make(map[uint64]*Handle)}
}

func (c *Client) Subscribe(ctx context.Context, f Filter, onInvalidate func(key string)) (*Handle, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if onInvalidate == nil {
		return nil, fmt.Errorf("changefeed: onInvalidate required")
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	sub, err := c.transport.Subscribe(ctx, f.Channel())
	if err != nil {
		return nil, fmt.Errorf("changefeed: subscribe %s: %w", f.Key(), err)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = sub.Close()
		return nil, ErrClosed
	}
	c.nextID++
	h := &Handle{id: c.nextID, key: f.Key(), sub: sub}
	c.handles[h.id] = h
	c.mu.Unlock()

	go c.pump(h, f, onInvalidate)
	c.log.Debug("changefeed subscribed", "key", h.key)
	return h, nil
}

func (c *Client) pump(h *Handle, f Filter, onInvalidate func(string)) {
	for payload := range h.sub.Messages() {
		if h.released.Load() {
			continue
		}
		// 有消息被丢弃时无法确认是否匹配，按一次变更处理
		if h.sub.Dropped() {
			onInvalidate(h.key)
			continue
		}
		if payload == nil {
			continue
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			// 无法解析也当作一次变更
			c.log.Warn("changefeed bad payload", "key", h.key, "err", err)
			onInvalidate(h.key)
			continue
		}
		if !f.matches(ev) {
			continue
		}
		onInvalidate(h.key)
	}
}

func (c *Client) Unsubscribe(h *Handle) error {
	if h == nil {
		return ErrUnknownHandle
	}
	c.mu.Lock()
	cur, ok := c.handles[h.id]
	if !ok || cur != h {
		c.mu.Unlock()
		return ErrUnknownHandle
	}
	delete(c.handles, h.id)
	c.mu.Unlock()

	h.released.Store(true)
	if err := h.sub.Close(); err != nil {
		return fmt.Errorf("changefeed: unsubscribe %s: %w", h.key, err)
	}
	c.log.Debug("changefeed unsubscribed", "key", h.key)
	return nil
}

// Active 当前未释放的订阅数
func (c *Client) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handles)
}

// Close 释放全部订阅，之后的 Subscribe 返回 ErrClosed
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	hs := make([]*Handle, 0, len(c.handles))
	for id, h := range c.handles {
		hs = append(hs, h)
		delete(c.handles, id)
	}
	c.mu.Unlock()

	var errs []error
	for _, h := range hs {
		h.released.Store(true)
		if err := h.sub.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

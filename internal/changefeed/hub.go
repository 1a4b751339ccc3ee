package changefeed

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

const hubBuffer = 64

// Hub 进程内 Transport，单实例部署或测试使用
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[*hubSub]struct{}
	closed bool
}

type hubSub struct {
	hub     *Hub
	channel string
	ch      chan []byte
	dropped atomic.Bool
	once    sync.Once
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*hubSub]struct{})}
}

func (h *Hub) Subscribe(_ context.Context, channel string) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	s := &hubSub{hub: h, channel: channel, ch: make(chan []byte, hubBuffer)}
	if _, ok := h.subs[channel]; !ok {
		h.subs[channel] = make(map[*hubSub]struct{})
	}
	h.subs[channel][s] = struct{}{}
	return s, nil
}

// Publish 不阻塞：订阅者缓冲区满时丢弃并记下，消费方读到缓冲区里的消息时会看到
func (h *Hub) Publish(_ context.Context, channel string, payload []byte) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrClosed
	}
	for s := range h.subs[channel] {
		select {
		case s.ch <- payload:
		default:
			s.dropped.Store(true)
			// 消费方可能刚好读空了缓冲区，补一条空消息让它看到标记
			select {
			case s.ch <- nil:
			default:
			}
			slog.Debug("changefeed hub buffer full, dropping", "channel", channel)
		}
	}
	return nil
}

// Subscribers 某频道当前订阅数
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for channel, set := range h.subs {
		for s := range set {
			s.once.Do(func() { close(s.ch) })
		}
		delete(h.subs, channel)
	}
	return nil
}

func (s *hubSub) Messages() <-chan []byte { return s.ch }

func (s *hubSub) Dropped() bool { return s.dropped.Swap(false) }

func (s *hubSub) Close() error {
	s.hub.mu.Lock()
	defer s.hub.mu.Unlock()
	if set, ok := s.hub.subs[s.channel]; ok {
		delete(set, s)
		if len(set) == 0 {
			delete(s.hub.subs, s.channel)
		}
	}
	s.once.Do(func() { close(s.ch) })
	return nil
}

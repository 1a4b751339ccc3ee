package handler

import (
	"io"
	"log/slog"

	"github.com/gin-gonic/gin"

	"community_core/internal/auth"
	"community_core/internal/feed"
	"community_core/internal/orchestrator"
	"community_core/internal/service"
)

// FeedHandler 以 SSE 推送某个 Screen 的物化视图
type FeedHandler struct {
	feeds   *service.FeedService
	backend orchestrator.Backend
	sub     orchestrator.Subscriber
	screens *orchestrator.Registry
	log     *slog.Logger
}

func NewFeedHandler(feeds *service.FeedService, backend orchestrator.Backend, sub orchestrator.Subscriber, screens *orchestrator.Registry, log *slog.Logger) *FeedHandler {
	if log == nil {
		log = slog.Default()
	}
	return &FeedHandler{feeds: feeds, backend: backend, sub: sub, screens: screens, log: log}
}

// Stream GET /feed/stream?community_id=；不带 community_id 时为首页
func (h *FeedHandler) Stream(c *gin.Context) {
	viewer := auth.FromContext(c)
	communityID, err := queryUint(c, "community_id")
	if err != nil {
		badRequest(c, "invalid community_id")
		return
	}

	fetch := h.feeds.HomeFetcher()
	filters := service.HomeFilters(viewer)
	if communityID != 0 {
		fetch = h.feeds.CommunityFetcher(communityID)
		filters = service.CommunityFilters(communityID)
	}

	// 只保留最新一份视图，慢客户端跳过中间状态
	views := make(chan []feed.Item, 1)
	errs := make(chan error, 1)
	screen, err := orchestrator.NewScreen(h.sub, orchestrator.Options{
		Viewer:  viewer,
		Filters: filters,
		Fetch:   fetch,
		Backend: h.backend,
		Window:  h.feeds.Window(),
		OnView: func(items []feed.Item) {
			select {
			case <-views:
			default:
			}
			views <- items
		},
		OnError: func(err error) {
			select {
			case errs <- err:
			default:
			}
		},
		Logger: h.log,
	})
	if err != nil {
		fail(c, err)
		return
	}
	if err = screen.Mount(c.Request.Context()); err != nil {
		fail(c, err)
		return
	}
	defer screen.Unmount()
	if !viewer.Anonymous() {
		h.screens.Add(screen)
		defer h.screens.Remove(screen)
	}

	c.Header(ScreenHeader, screen.ID())
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-screen.Done():
			return false
		case items := <-views:
			c.SSEvent("view", gin.H{"screen_id": screen.ID(), "items": items})
			return true
		case err := <-errs:
			_, code, msg := publicError(err)
			c.SSEvent("error", gin.H{"code": code, "msg": msg})
			return true
		}
	})
}

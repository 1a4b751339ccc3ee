package handler

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"community_core/internal/auth"
	"community_core/internal/feed"
	"community_core/internal/orchestrator"
	"community_core/internal/service"
)

// ScreenHeader 修改意图可带上已挂载 Screen 的 id，走乐观更新
const ScreenHeader = "X-Screen-ID"

type PostLikeHandler struct {
	svc     *service.PostLikeService
	screens *orchestrator.Registry
}

func NewPostLikeHandler(svc *service.PostLikeService, screens *orchestrator.Registry) *PostLikeHandler {
	return &PostLikeHandler{svc: svc, screens: screens}
}

// screenFor 请求头指定且属于当前用户的 Screen
func screenFor(c *gin.Context, screens *orchestrator.Registry) *orchestrator.Screen {
	id := c.GetHeader(ScreenHeader)
	if id == "" || screens == nil {
		return nil
	}
	s, found := screens.Get(auth.FromContext(c).UserID, id)
	if !found {
		return nil
	}
	return s
}

func (h *PostLikeHandler) Like(c *gin.Context) {
	h.toggle(c, true)
}

func (h *PostLikeHandler) Unlike(c *gin.Context) {
	h.toggle(c, false)
}

func (h *PostLikeHandler) toggle(c *gin.Context, like bool) {
	postID, valid := idParam(c, "id")
	if !valid {
		return
	}
	viewer := auth.FromContext(c)
	// 帖子不在 Screen 工作集里时直接走服务
	if s := screenFor(c, h.screens); s != nil {
		var err error
		if like {
			err = s.Like(c.Request.Context(), postID)
		} else {
			err = s.Unlike(c.Request.Context(), postID)
		}
		if !errors.Is(err, feed.ErrNotInWorkingSet) {
			if err != nil {
				fail(c, err)
				return
			}
			ok(c, gin.H{"liked": like, "screen_id": s.ID()})
			return
		}
	}

	var (
		count int64
		err   error
	)
	if like {
		count, err = h.svc.Like(c.Request.Context(), viewer, postID)
	} else {
		count, err = h.svc.Unlike(c.Request.Context(), viewer, postID)
	}
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"liked": like, "count": count})
}

// Likes 点赞数、当前用户是否点赞以及最近的点赞用户
func (h *PostLikeHandler) Likes(c *gin.Context) {
	postID, valid := idParam(c, "id")
	if !valid {
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	sum, err := h.svc.Likes(c.Request.Context(), auth.FromContext(c), postID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"count": sum.Count, "liked": sum.Liked, "likers": sum.Likers})
}

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

type CommentHandler struct {
	svc     *service.CommentService
	screens *orchestrator.Registry
}

type CommentReq struct {
	Content string `json:"content" binding:"required"`
}

func NewCommentHandler(svc *service.CommentService, screens *orchestrator.Registry) *CommentHandler {
	return &CommentHandler{svc: svc, screens: screens}
}

func (h *CommentHandler) Create(c *gin.Context) {
	postID, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req CommentReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	if s := screenFor(c, h.screens); s != nil {
		comment, err := s.Comment(c.Request.Context(), postID, req.Content)
		if !errors.Is(err, feed.ErrNotInWorkingSet) {
			if err != nil {
				fail(c, err)
				return
			}
			ok(c, gin.H{"comment": comment, "screen_id": s.ID()})
			return
		}
	}
	comment, err := h.svc.Create(c.Request.Context(), auth.FromContext(c), postID, req.Content)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"comment": comment})
}

// List 评论按时间正序，after_id 为上一页最后一条
func (h *CommentHandler) List(c *gin.Context) {
	postID, valid := idParam(c, "id")
	if !valid {
		return
	}
	afterID, err := queryUint(c, "after_id")
	if err != nil {
		badRequest(c, "invalid after_id")
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	list, err := h.svc.List(c.Request.Context(), auth.FromContext(c), postID, afterID, limit)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"list": list})
}

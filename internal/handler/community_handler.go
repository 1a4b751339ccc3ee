package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"community_core/internal/auth"
	"community_core/internal/membership"
	"community_core/internal/service"
)

type CommunityHandler struct {
	svc *service.CommunityService
}

type CommunityCreateReq struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	IsPrivate   bool    `json:"is_private"`
	IsPaid      bool    `json:"is_paid"`
	PriceCents  *int64  `json:"price_cents"`
	Currency    *string `json:"currency"`
}

func NewCommunityHandler(svc *service.CommunityService) *CommunityHandler {
	return &CommunityHandler{svc: svc}
}

func (h *CommunityHandler) Create(c *gin.Context) {
	var req CommunityCreateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	community, err := h.svc.CreateCommunity(c.Request.Context(), auth.FromContext(c), membership.CreateInput{
		Name:        req.Name,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		IsPaid:      req.IsPaid,
		PriceCents:  req.PriceCents,
		Currency:    req.Currency,
	})
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"community": community})
}

func (h *CommunityHandler) Join(c *gin.Context) {
	communityID, valid := idParam(c, "id")
	if !valid {
		return
	}
	if err := h.svc.JoinCommunity(c.Request.Context(), auth.FromContext(c), communityID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *CommunityHandler) Leave(c *gin.Context) {
	communityID, valid := idParam(c, "id")
	if !valid {
		return
	}
	res, err := h.svc.LeaveCommunity(c.Request.Context(), auth.FromContext(c), communityID)
	if err != nil {
		fail(c, err)
		return
	}
	data := gin.H{"community_deleted": res.CommunityDeleted}
	if res.SuccessorID != 0 {
		data["successor_id"] = res.SuccessorID
	}
	ok(c, data)
}

func (h *CommunityHandler) Delete(c *gin.Context) {
	communityID, valid := idParam(c, "id")
	if !valid {
		return
	}
	if err := h.svc.DeleteCommunity(c.Request.Context(), auth.FromContext(c), communityID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// Discover 公开社区列表，支持名称搜索
func (h *CommunityHandler) Discover(c *gin.Context) {
	page, _ := strconv.Atoi(c.Query("page"))
	size, _ := strconv.Atoi(c.Query("size"))
	list, err := h.svc.Discover(c.Request.Context(), auth.FromContext(c), c.Query("q"), page, size)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"list": list})
}

func (h *CommunityHandler) Mine(c *gin.Context) {
	list, err := h.svc.Mine(c.Request.Context(), auth.FromContext(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"list": list})
}

func (h *CommunityHandler) Get(c *gin.Context) {
	communityID, valid := idParam(c, "id")
	if !valid {
		return
	}
	view, err := h.svc.Get(c.Request.Context(), auth.FromContext(c), communityID)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"community": view})
}

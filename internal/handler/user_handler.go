package handler

import (
	"github.com/gin-gonic/gin"

	"community_core/internal/auth"
	"community_core/internal/service"
)

type UserHandler struct {
	svc *service.UserService
}

// CredentialsReq 注册/登录请求体
type CredentialsReq struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type ChangePasswordReq struct {
	OldPassword string `json:"old_password" binding:"required"`
	NewPassword string `json:"new_password" binding:"required"`
}

func NewUserHandler(svc *service.UserService) *UserHandler {
	return &UserHandler{svc: svc}
}

// Register 注册接口
func (h *UserHandler) Register(c *gin.Context) {
	var req CredentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	user, err := h.svc.Register(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"id": user.ID, "username": user.Username})
}

// Login 登录接口
func (h *UserHandler) Login(c *gin.Context) {
	var req CredentialsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	token, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"access_token": token.AccessToken, "refresh_token": token.RefreshToken})
}

func (h *UserHandler) Logout(c *gin.Context) {
	if err := h.svc.Logout(c.Request.Context(), auth.FromContext(c).UserID); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

// TokenRefresh 利用refresh来更新access
func (h *UserHandler) TokenRefresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	token, err := h.svc.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"access_token": token.AccessToken, "refresh_token": token.RefreshToken})
}

func (h *UserHandler) ChangePassword(c *gin.Context) {
	var req ChangePasswordReq
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid params")
		return
	}
	if err := h.svc.ChangePassword(c.Request.Context(), auth.FromContext(c).UserID, req.OldPassword, req.NewPassword); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"msg": "change password successfully"})
}

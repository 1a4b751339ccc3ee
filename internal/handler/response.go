package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"community_core/internal/pkg"
)

// fail 统一错误响应 {"code","msg"}；内部错误不把原因透给客户端
func fail(c *gin.Context, err error) {
	status, code, msg := publicError(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(c.Request.Context(), "request failed", "path", c.FullPath(), "code", code, "err", err)
	}
	c.JSON(status, gin.H{"code": code, "msg": msg})
}

// publicError 可以返回给客户端的状态码、错误码和消息；5xx 只给固定消息
func publicError(err error) (status int, code, msg string) {
	code = pkg.CodeOf(err)
	status = pkg.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		return status, code, "internal error"
	}
	var appErr *pkg.AppError
	if errors.As(err, &appErr) {
		return status, code, appErr.Message
	}
	return status, code, err.Error()
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": pkg.ErrInvalidInput, "msg": msg})
}

func ok(c *gin.Context, data gin.H) {
	if data == nil {
		data = gin.H{}
	}
	data["code"] = "OK"
	c.JSON(http.StatusOK, data)
}

// idParam 路径里的正整数 id
func idParam(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return id, true
}

func queryUint(c *gin.Context, name string) (uint64, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

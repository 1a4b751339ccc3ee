package auth

import "github.com/gin-gonic/gin"

const ContextIdentityKey = "identity"

// Identity 当前请求的调用者，显式传入每个核心操作
type Identity struct {
	UserID uint64
}

func (i Identity) Anonymous() bool { return i.UserID == 0 }

func User(id uint64) Identity { return Identity{UserID: id} }

// FromContext 取中间件注入的身份；未登录返回匿名身份
func FromContext(c *gin.Context) Identity {
	v, ok := c.Get(ContextIdentityKey)
	if !ok {
		return Identity{}
	}
	id, _ := v.(Identity)
	return id
}

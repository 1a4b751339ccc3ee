package handler

import (
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"community_core/internal/auth"
	"community_core/internal/feed"
	"community_core/internal/service"
	"community_core/internal/visibility"
)

type PostHandler struct {
	svc   *service.PostService
	feeds *service.FeedService
}

func NewPostHandler(svc *service.PostService, feeds *service.FeedService) *PostHandler {
	return &PostHandler{svc: svc, feeds: feeds}
}

// CreatePost 创建帖子接口：multipart，字段 community_id/content，可选文件 media
func (h *PostHandler) CreatePost(c *gin.Context) {
	in := service.CreatePostInput{Content: c.PostForm("content")}
	if v := c.PostForm("community_id"); v != "" {
		id, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			badRequest(c, "invalid community_id")
			return
		}
		in.CommunityID = &id
	}
	if fh, err := c.FormFile("media"); err == nil {
		if fh.Size > service.MaxMediaSize {
			badRequest(c, "media too large")
			return
		}
		f, err := fh.Open()
		if err != nil {
			badRequest(c, "invalid media")
			return
		}
		in.Media, err = io.ReadAll(io.LimitReader(f, service.MaxMediaSize+1))
		_ = f.Close()
		if err != nil {
			badRequest(c, "invalid media")
			return
		}
	}

	post, err := h.svc.CreatePost(c.Request.Context(), auth.FromContext(c), in)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"post": post})
}

// DeletePost 删除帖子接口，重复删除也返回成功
func (h *PostHandler) DeletePost(c *gin.Context) {
	postID, valid := idParam(c, "id")
	if !valid {
		return
	}
	if err := h.svc.DeletePost(c.Request.Context(), auth.FromContext(c), postID); err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"msg": "deleted"})
}

// cursorParams 游标参数 before_created_at(RFC3339Nano) + before_id，size 可选
func cursorParams(c *gin.Context) (visibility.Cursor, int, bool) {
	var cur visibility.Cursor
	if v := c.Query("before_created_at"); v != "" {
		ts, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			badRequest(c, "invalid before_created_at")
			return cur, 0, false
		}
		cur.CreatedAt = ts
	}
	id, err := queryUint(c, "before_id")
	if err != nil {
		badRequest(c, "invalid before_id")
		return cur, 0, false
	}
	cur.ID = id
	size, _ := strconv.Atoi(c.Query("size"))
	return cur, size, true
}

func listResponse(items []feed.Item) gin.H {
	data := gin.H{"list": items}
	if n := len(items); n > 0 {
		last := items[n-1]
		data["next_before_created_at"] = last.CreatedAt.Format(time.RFC3339Nano)
		data["next_before_id"] = last.PostID
	}
	return data
}

func (h *PostHandler) HomeFeed(c *gin.Context) {
	cur, size, valid := cursorParams(c)
	if !valid {
		return
	}
	items, err := h.feeds.HomeFeed(c.Request.Context(), auth.FromContext(c), cur, size)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, listResponse(items))
}

// ListByCommunity 社区帖子，游标分页
func (h *PostHandler) ListByCommunity(c *gin.Context) {
	communityID, valid := idParam(c, "id")
	if !valid {
		return
	}
	cur, size, valid := cursorParams(c)
	if !valid {
		return
	}
	items, err := h.feeds.CommunityFeed(c.Request.Context(), auth.FromContext(c), communityID, cur, size)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, listResponse(items))
}

package router

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"community_core/internal/blob"
	"community_core/internal/changefeed"
	"community_core/internal/handler"
	"community_core/internal/orchestrator"
	"community_core/internal/repository/gormdb"
	"community_core/internal/repository/redis"
	"community_core/internal/service"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A, 0, 0, 0, 0x0D, 'I', 'H', 'D', 'R'}

type testApp struct {
	engine  *gin.Engine
	screens *orchestrator.Registry
	relayer *service.OutboxRelayer
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gormdb.Open("sqlite", ":memory:", nil)
	require.NoError(t, err)
	require.NoError(t, gormdb.Migrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	mr := miniredis.RunT(t)
	rdb, err := redis.NewClient(mr.Addr(), "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })

	dir := t.TempDir()
	blobs, err := blob.NewDiskStore(dir, "/media")
	require.NoError(t, err)

	hub := changefeed.NewHub()
	client := changefeed.NewClient(hub, nil)
	t.Cleanup(func() { _ = client.Close() })

	store := gormdb.NewStore(db)
	likeRepo := &gormdb.PostLikeRepository{DB: db}
	commentRepo := &gormdb.CommentRepository{DB: db}
	tokens := &redis.UserRepository{RDB: rdb}
	communities := service.NewCommunityService(store, nil)
	screens := orchestrator.NewRegistry()
	t.Cleanup(screens.UnmountAll)

	engine := InitRouter(Deps{
		Users:       service.NewUserService(&gormdb.UserRepository{DB: db}, tokens),
		Communities: communities,
		Posts:       service.NewPostService(store, blobs, nil),
		Likes:       service.NewPostLikeService(likeRepo, store.Posts, communities.Policy(), rdb, nil),
		Comments:    service.NewCommentService(commentRepo, store.Posts, communities.Policy()),
		Feeds:       service.NewFeedService(communities.Policy(), likeRepo, commentRepo, 20),
		Tokens:      tokens,
		Subscriber:  client,
		Screens:     screens,
		BlobDir:     dir,
		BlobBaseURL: "/media",
	})
	return &testApp{
		engine:  engine,
		screens: screens,
		relayer: service.NewOutboxRelayer(&gormdb.OutboxRepository{DB: db}, service.ChangefeedSender(changefeed.NewPublisher(hub)), time.Second, nil),
	}
}

func (a *testApp) do(t *testing.T, method, path, token string, body any) (int, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func (a *testApp) login(t *testing.T, name string) string {
	t.Helper()
	code, _ := a.do(t, http.MethodPost, "/api/user/register", "", map[string]string{"username": name, "password": "secret1"})
	require.Equal(t, http.StatusOK, code)
	code, out := a.do(t, http.MethodPost, "/api/user/login", "", map[string]string{"username": name, "password": "secret1"})
	require.Equal(t, http.StatusOK, code)
	return out["access_token"].(string)
}

func idOf(t *testing.T, out map[string]any, key string) uint64 {
	t.Helper()
	obj, ok := out[key].(map[string]any)
	require.True(t, ok, "missing %s in %v", key, out)
	return uint64(obj["id"].(float64))
}

func TestHealth(t *testing.T) {
	a := newTestApp(t)
	code, out := a.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", out["status"])
}

func TestAuthRequired(t *testing.T) {
	a := newTestApp(t)
	code, out := a.do(t, http.MethodPost, "/api/community/create", "", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, "UNAUTHORIZED", out["code"])

	code, _ = a.do(t, http.MethodPost, "/api/community/create", "garbage", map[string]string{"name": "x"})
	assert.Equal(t, http.StatusUnauthorized, code)

	// 重新登录后旧 token 失效
	tok := a.login(t, "alice")
	code, _ = a.do(t, http.MethodPost, "/api/user/login", "", map[string]string{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, code)
	code, _ = a.do(t, http.MethodGet, "/api/community/mine", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, code)
}

func TestCommunityFlow(t *testing.T) {
	a := newTestApp(t)
	alice := a.login(t, "alice")
	bob := a.login(t, "bob")

	code, out := a.do(t, http.MethodPost, "/api/community/create", alice, map[string]any{"name": "Gophers"})
	require.Equal(t, http.StatusOK, code, out)
	cid := idOf(t, out, "community")

	code, out = a.do(t, http.MethodPost, "/api/community/create", alice, map[string]any{"name": "Gophers"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "CONFLICT", out["code"])

	code, out = a.do(t, http.MethodPost, "/api/community/create", alice, map[string]any{"name": "Secret", "is_private": true})
	require.Equal(t, http.StatusOK, code)
	privID := idOf(t, out, "community")

	code, _ = a.do(t, http.MethodPost, fmt.Sprintf("/api/community/%d/join", cid), bob, nil)
	require.Equal(t, http.StatusOK, code)
	code, out = a.do(t, http.MethodPost, fmt.Sprintf("/api/community/%d/join", cid), bob, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "ALREADY_MEMBER", out["code"])

	code, out = a.do(t, http.MethodPost, fmt.Sprintf("/api/community/%d/join", privID), bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "PRIVATE_COMMUNITY", out["code"])

	code, out = a.do(t, http.MethodGet, fmt.Sprintf("/api/community/%d", cid), "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(2), out["community"].(map[string]any)["active_members"])

	code, _ = a.do(t, http.MethodGet, fmt.Sprintf("/api/community/%d", privID), bob, nil)
	assert.Equal(t, http.StatusNotFound, code)

	code, out = a.do(t, http.MethodGet, "/api/community/discover", "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["list"], 1)

	code, out = a.do(t, http.MethodGet, "/api/community/mine", alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["list"], 2)

	code, out = a.do(t, http.MethodPost, fmt.Sprintf("/api/community/%d/leave", cid), alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, out["community_deleted"])
	assert.NotZero(t, out["successor_id"])

	code, out = a.do(t, http.MethodPost, fmt.Sprintf("/api/community/%d/leave", privID), alice, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, out["community_deleted"])

	code, _ = a.do(t, http.MethodDelete, fmt.Sprintf("/api/community/%d", cid), alice, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(t, http.MethodDelete, fmt.Sprintf("/api/community/%d", cid), bob, nil)
	assert.Equal(t, http.StatusOK, code)
}

func multipartPost(t *testing.T, fields map[string]string, media []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if media != nil {
		fw, err := mw.CreateFormFile("media", "upload.bin")
		require.NoError(t, err)
		_, err = fw.Write(media)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (a *testApp) createPost(t *testing.T, token string, fields map[string]string, media []byte) (int, map[string]any) {
	t.Helper()
	body, ct := multipartPost(t, fields, media)
	req := httptest.NewRequest(http.MethodPost, "/api/post/create", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	out := map[string]any{}
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w.Code, out
}

func TestPostFlow(t *testing.T) {
	a := newTestApp(t)
	alice := a.login(t, "alice")
	bob := a.login(t, "bob")

	code, out := a.createPost(t, alice, map[string]string{"content": "with picture"}, pngHeader)
	require.Equal(t, http.StatusOK, code, out)
	post := out["post"].(map[string]any)
	pid := uint64(post["id"].(float64))
	mediaURL := post["media_url"].(string)
	assert.Equal(t, "image", post["media_kind"])
	require.True(t, strings.HasPrefix(mediaURL, "/media/posts/"))

	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, mediaURL, nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, pngHeader, w.Body.Bytes())

	code, _ = a.createPost(t, alice, map[string]string{"content": "doc"}, []byte("not media at all"))
	assert.Equal(t, http.StatusBadRequest, code)

	code, out = a.do(t, http.MethodPost, fmt.Sprintf("/api/post/%d/like", pid), bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["count"])

	code, out = a.do(t, http.MethodGet, fmt.Sprintf("/api/post/%d/likes", pid), bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), out["count"])
	assert.Equal(t, true, out["liked"])

	code, _ = a.do(t, http.MethodPost, fmt.Sprintf("/api/post/%d/comments", pid), bob, map[string]string{"content": "nice shot"})
	require.Equal(t, http.StatusOK, code)
	code, out = a.do(t, http.MethodGet, fmt.Sprintf("/api/post/%d/comments", pid), "", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, out["list"], 1)

	code, out = a.do(t, http.MethodGet, "/api/post/home", bob, nil)
	require.Equal(t, http.StatusOK, code)
	list := out["list"].([]any)
	require.Len(t, list, 1)
	item := list[0].(map[string]any)
	assert.Equal(t, true, item["liked_by_me"])
	assert.Equal(t, float64(1), item["comments_count"])
	assert.NotEmpty(t, out["next_before_created_at"])

	code, out = a.do(t, http.MethodGet, "/api/post/home?before_created_at=yesterday", bob, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "INVALID_INPUT", out["code"])

	code, out = a.do(t, http.MethodDelete, fmt.Sprintf("/api/post/%d/like", pid), bob, nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), out["count"])

	code, _ = a.do(t, http.MethodDelete, fmt.Sprintf("/api/post/%d", pid), bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	code, _ = a.do(t, http.MethodDelete, fmt.Sprintf("/api/post/%d", pid), alice, nil)
	assert.Equal(t, http.StatusOK, code)
	code, _ = a.do(t, http.MethodDelete, fmt.Sprintf("/api/post/%d", pid), alice, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestFeedStream(t *testing.T) {
	a := newTestApp(t)
	alice := a.login(t, "alice")
	bob := a.login(t, "bob")
	code, out := a.createPost(t, alice, map[string]string{"content": "live"}, nil)
	require.Equal(t, http.StatusOK, code, out)
	pid := uint64(out["post"].(map[string]any)["id"].(float64))
	a.relayer.DrainOnce(context.Background())

	srv := httptest.NewServer(a.engine)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/feed/stream", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bob)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	screenID := resp.Header.Get(handler.ScreenHeader)
	require.NotEmpty(t, screenID)

	events := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			if line := sc.Text(); strings.HasPrefix(line, "event:") {
				events <- strings.TrimPrefix(line, "event:")
			}
		}
		close(events)
	}()
	select {
	case ev := <-events:
		assert.Equal(t, "view", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no initial view")
	}
	assert.Equal(t, 1, a.screens.Len())

	// 带上 screen id 的点赞走乐观路径
	body := bytes.NewBufferString("{}")
	likeReq := httptest.NewRequest(http.MethodPost, fmt.Sprintf("/api/post/%d/like", pid), body)
	likeReq.Header.Set("Authorization", "Bearer "+bob)
	likeReq.Header.Set(handler.ScreenHeader, screenID)
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, likeReq)
	require.Equal(t, http.StatusOK, w.Code)
	var likeOut map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &likeOut))
	assert.Equal(t, screenID, likeOut["screen_id"])

	select {
	case ev := <-events:
		assert.Equal(t, "view", ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no view after like")
	}

	cancel()
	require.Eventually(t, func() bool { return a.screens.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestScreenHeaderOutsideWorkingSet(t *testing.T) {
	a := newTestApp(t)
	alice := a.login(t, "alice")
	bob := a.login(t, "bob")
	code, out := a.do(t, http.MethodPost, "/api/community/create", alice, map[string]any{"name": "Cats"})
	require.Equal(t, http.StatusOK, code, out)
	cid := idOf(t, out, "community")
	code, out = a.createPost(t, alice, map[string]string{"content": "not in cats"}, nil)
	require.Equal(t, http.StatusOK, code, out)
	pid := idOf(t, out, "post")

	srv := httptest.NewServer(a.engine)
	defer srv.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/api/feed/stream?community_id=%d", srv.URL, cid), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bob)
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	screenID := resp.Header.Get(handler.ScreenHeader)
	require.NotEmpty(t, screenID)
	require.Eventually(t, func() bool { return a.screens.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	send := func(path string, body any) (int, map[string]any) {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		r := httptest.NewRequest(http.MethodPost, path, &buf)
		r.Header.Set("Content-Type", "application/json")
		r.Header.Set("Authorization", "Bearer "+bob)
		r.Header.Set(handler.ScreenHeader, screenID)
		w := httptest.NewRecorder()
		a.engine.ServeHTTP(w, r)
		var res map[string]any
		_ = json.Unmarshal(w.Body.Bytes(), &res)
		return w.Code, res
	}

	// 帖子不在该 Screen 的社区视图里，退回直接调用
	code, out = send(fmt.Sprintf("/api/post/%d/like", pid), map[string]any{})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, float64(1), out["count"])
	assert.Nil(t, out["screen_id"])

	code, out = send(fmt.Sprintf("/api/post/%d/comments", pid), map[string]any{"content": "  hi  "})
	require.Equal(t, http.StatusOK, code, out)
	assert.Equal(t, "hi", out["comment"].(map[string]any)["content"])

	code, out = send("/api/post/999/like", map[string]any{})
	assert.Equal(t, http.StatusNotFound, code, out)
}

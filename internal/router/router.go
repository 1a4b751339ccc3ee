package router

import (
	"net/http"
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"community_core/internal/handler"
	"community_core/internal/middleware"
	"community_core/internal/orchestrator"
	"community_core/internal/repository/redis"
	"community_core/internal/service"
)

// Deps 路由需要的所有服务，由 cmd/api 组装
type Deps struct {
	Users       *service.UserService
	Communities *service.CommunityService
	Posts       *service.PostService
	Likes       *service.PostLikeService
	Comments    *service.CommentService
	Feeds       *service.FeedService
	Tokens      *redis.UserRepository
	Subscriber  orchestrator.Subscriber
	Screens     *orchestrator.Registry

	AllowedOrigins []string
	BlobDir        string
	BlobBaseURL    string
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Accept", "Authorization", "Content-Type", handler.ScreenHeader},
		ExposeHeaders: []string{"Content-Length", handler.ScreenHeader},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func InitRouter(d Deps) *gin.Engine {
	r := gin.Default()
	r.Use(cors.New(corsConfig(d.AllowedOrigins)))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if d.BlobDir != "" && d.BlobBaseURL != "" {
		r.Static(d.BlobBaseURL, d.BlobDir)
	}

	user := handler.NewUserHandler(d.Users)
	community := handler.NewCommunityHandler(d.Communities)
	post := handler.NewPostHandler(d.Posts, d.Feeds)
	like := handler.NewPostLikeHandler(d.Likes, d.Screens)
	comment := handler.NewCommentHandler(d.Comments, d.Screens)
	stream := handler.NewFeedHandler(d.Feeds, &service.FeedBackend{Likes: d.Likes, Comments: d.Comments}, d.Subscriber, d.Screens, nil)

	requireAuth := middleware.AuthMiddleware(d.Tokens)
	optionalAuth := middleware.OptionalAuth(d.Tokens)

	api := r.Group("/api")

	// 用户相关接口
	userGroup := api.Group("/user")
	{
		userGroup.POST("/register", user.Register)
		userGroup.POST("/login", user.Login)
		userGroup.POST("/logout", requireAuth, user.Logout)
	}

	// token相关接口
	api.POST("/token/refresh", user.TokenRefresh)

	// 登录态接口
	authGroup := api.Group("/auth", requireAuth)
	{
		authGroup.POST("/change-password", user.ChangePassword)
	}

	// 社区相关接口
	communityGroup := api.Group("/community")
	{
		communityGroup.POST("/create", requireAuth, community.Create)
		communityGroup.POST("/:id/join", requireAuth, community.Join)
		communityGroup.POST("/:id/leave", requireAuth, community.Leave)
		communityGroup.DELETE("/:id", requireAuth, community.Delete)
		communityGroup.GET("/mine", requireAuth, community.Mine)
		communityGroup.GET("/discover", optionalAuth, community.Discover)
		communityGroup.GET("/:id", optionalAuth, community.Get)
	}

	// 帖子相关接口
	postGroup := api.Group("/post")
	{
		postGroup.POST("/create", requireAuth, post.CreatePost)
		postGroup.DELETE("/:id", requireAuth, post.DeletePost)
		postGroup.GET("/home", optionalAuth, post.HomeFeed)
		postGroup.GET("/community/:id", optionalAuth, post.ListByCommunity)

		postGroup.POST("/:id/like", requireAuth, like.Like)
		postGroup.DELETE("/:id/like", requireAuth, like.Unlike)
		postGroup.GET("/:id/likes", optionalAuth, like.Likes)

		postGroup.POST("/:id/comments", requireAuth, comment.Create)
		postGroup.GET("/:id/comments", optionalAuth, comment.List)
	}

	// 实时信息流
	api.GET("/feed/stream", optionalAuth, stream.Stream)

	return r
}

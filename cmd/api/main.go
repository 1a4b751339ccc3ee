package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"community_core/internal/blob"
	"community_core/internal/changefeed"
	"community_core/internal/config"
	"community_core/internal/orchestrator"
	"community_core/internal/pkg"
	"community_core/internal/repository/gormdb"
	"community_core/internal/repository/redis"
	"community_core/internal/router"
	"community_core/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := pkg.NewLogger(os.Stderr, cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)
	if pkg.ParseLevel(cfg.LogLevel) > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
	pkg.SetSecrets(cfg.JWTAccessSecret, cfg.JWTRefreshSecret)

	db, err := gormdb.Open(cfg.DBDriver, cfg.DBDSN, log)
	if err != nil {
		return err
	}
	// 自动建表
	if err = gormdb.Migrate(db); err != nil {
		return err
	}

	// 连接redis
	rdb, err := redis.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return err
	}
	defer rdb.Close()

	var transport changefeed.Transport = &redis.PubSubTransport{RDB: rdb}
	if cfg.ChangefeedTransport == "local" {
		hub := changefeed.NewHub()
		defer hub.Close()
		transport = hub
	}
	feedClient := changefeed.NewClient(transport, log)
	defer feedClient.Close()

	producer := pkg.NewKafkaProducer(pkg.KafkaConfig{Brokers: pkg.SplitBrokers(cfg.KafkaBrokers), Topic: cfg.KafkaTopic})
	defer producer.Close()

	blobs, err := blob.NewDiskStore(cfg.BlobDir, cfg.BlobBaseURL)
	if err != nil {
		return err
	}

	store := gormdb.NewStore(db)
	likeRepo := &gormdb.PostLikeRepository{DB: db}
	commentRepo := &gormdb.CommentRepository{DB: db}
	tokens := &redis.UserRepository{RDB: rdb}

	communities := service.NewCommunityService(store, log)
	likes := service.NewPostLikeService(likeRepo, store.Posts, communities.Policy(), rdb, log)
	comments := service.NewCommentService(commentRepo, store.Posts, communities.Policy())
	screens := orchestrator.NewRegistry()
	defer screens.UnmountAll()

	engine := router.InitRouter(router.Deps{
		Users:          service.NewUserService(&gormdb.UserRepository{DB: db}, tokens),
		Communities:    communities,
		Posts:          service.NewPostService(store, blobs, log),
		Likes:          likes,
		Comments:       comments,
		Feeds:          service.NewFeedService(communities.Policy(), likeRepo, commentRepo, cfg.FeedWindow),
		Tokens:         tokens,
		Subscriber:     feedClient,
		Screens:        screens,
		AllowedOrigins: cfg.AllowedOrigins,
		BlobDir:        cfg.BlobDir,
		BlobBaseURL:    cfg.BlobBaseURL,
	})

	sender := service.ChangefeedSender(changefeed.NewPublisher(transport))
	if producer != nil {
		sender = service.MultiSender(sender, service.KafkaSender(producer))
		log.Info("kafka sink enabled", "topic", producer.Topic())
	}
	relayer := service.NewOutboxRelayer(&gormdb.OutboxRepository{DB: db}, sender, cfg.OutboxInterval, log)
	reconciler := service.NewCounterReconciler(&gormdb.CounterReconcilerRepo{DB: db}, cfg.ReconcileInterval, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("http server listening", "addr", cfg.HTTPAddr, "db", cfg.DBDriver, "changefeed", cfg.ChangefeedTransport)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error { return relayer.Run(gctx) })
	g.Go(func() error { return reconciler.ReconcilerRun(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		// SSE 连接不会自己结束，先卸载所有 Screen
		screens.UnmountAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

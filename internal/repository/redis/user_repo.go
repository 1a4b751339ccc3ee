package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrTokenNotFound    = errors.New("token not found")
	ErrRedisUnavailable = errors.New("redis unavailable")
	ErrExtendFailed     = errors.New("token extend failed")
	ErrTokenDeleted     = errors.New("token delete failed")
)

const (
	UserTokenPrefix = "login:user:token"
	UserTokenExpire = 30 * time.Minute
)

// UserRepository 登录态：每个用户只保留最近一次登录的 access token
type UserRepository struct {
	RDB *redis.Client
}

func (r *UserRepository) key(userID uint64) string {
	return fmt.Sprintf("%s:%d", UserTokenPrefix, userID)
}

func (r *UserRepository) AddUserToken(ctx context.Context, userID uint64, token string) error {
	if err := r.RDB.Set(ctx, r.key(userID), token, UserTokenExpire).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (r *UserRepository) GetUserToken(ctx context.Context, userID uint64) (string, error) {
	token, err := r.RDB.Get(ctx, r.key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrTokenNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return token, nil
}

func (r *UserRepository) ExtendUserToken(ctx context.Context, userID uint64) error {
	if err := r.RDB.Expire(ctx, r.key(userID), UserTokenExpire).Err(); err != nil {
		return ErrExtendFailed
	}
	return nil
}

func (r *UserRepository) DeleteUserToken(ctx context.Context, userID uint64) error {
	if err := r.RDB.Del(ctx, r.key(userID)).Err(); err != nil {
		return ErrTokenDeleted
	}
	return nil
}

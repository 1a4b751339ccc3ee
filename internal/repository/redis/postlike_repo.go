package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	LikeSetTTL       = 24 * time.Hour
	LikeCntTTL       = 24 * time.Hour
	LockTTL          = 300 * time.Millisecond
	LikeSetKeyPrefix = "like:set:post"  // 存放某个帖子已点赞的用户ID集合
	LikeCntKeyPrefix = "like:cnt:post"  // 缓存某个帖子的点赞计数
	LikeGenKeyPrefix = "like:gen:post"  // 集合写入代数，回填时比对
	LockKeyPrefix    = "lock:like:post" // 分布式锁
)

var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// applyScript 代数 +1；集合存在时才增删成员，不存在的集合不能只含部分点赞者
var applyScript = redis.NewScript(`
redis.call("incr", KEYS[2])
redis.call("expire", KEYS[2], ARGV[2])
if redis.call("exists", KEYS[1]) == 0 then
  return 0
end
if ARGV[3] == "add" then
  redis.call("sadd", KEYS[1], ARGV[1])
else
  redis.call("srem", KEYS[1], ARGV[1])
end
redis.call("expire", KEYS[1], ARGV[2])
return 1`)

// fillScript 回填完整集合；读库之后代数变了说明有并发写入，放弃
var fillScript = redis.NewScript(`
local gen = redis.call("get", KEYS[2]) or "0"
if gen ~= ARGV[1] or redis.call("exists", KEYS[1]) == 1 then
  return 0
end
for i = 3, #ARGV do
  redis.call("sadd", KEYS[1], ARGV[i])
end
redis.call("expire", KEYS[1], ARGV[2])
return 1`)

type LikeCacheRepository struct {
	RDB        *redis.Client
	likeSetTTL time.Duration
	likeCntTTL time.Duration
}

type DistLock struct {
	RDB *redis.Client
}

func NewLikeCacheRepository(rdb *redis.Client) *LikeCacheRepository {
	return &LikeCacheRepository{
		RDB:        rdb,
		likeSetTTL: LikeSetTTL,
		likeCntTTL: LikeCntTTL,
	}
}

func (r *LikeCacheRepository) likeSetKey(postID uint64) string {
	return fmt.Sprintf("%s:%d", LikeSetKeyPrefix, postID)
}

func (r *LikeCacheRepository) likeCntKey(postID uint64) string {
	return fmt.Sprintf("%s:%d", LikeCntKeyPrefix, postID)
}

func (r *LikeCacheRepository) likeGenKey(postID uint64) string {
	return fmt.Sprintf("%s:%d", LikeGenKeyPrefix, postID)
}

// AddLike 写路径：成功写库后再调用
func (r *LikeCacheRepository) AddLike(ctx context.Context, userID, postID uint64) error {
	return r.apply(ctx, userID, postID, "add")
}

func (r *LikeCacheRepository) RemoveLike(ctx context.Context, userID, postID uint64) error {
	return r.apply(ctx, userID, postID, "rem")
}

func (r *LikeCacheRepository) apply(ctx context.Context, userID, postID uint64, op string) error {
	keys := []string{r.likeSetKey(postID), r.likeGenKey(postID)}
	ttl := int64(r.likeSetTTL / time.Second)
	return applyScript.Run(ctx, r.RDB, keys, userID, ttl, op).Err()
}

// LikeGeneration 回填前读取，交给 FillLikers 比对
func (r *LikeCacheRepository) LikeGeneration(ctx context.Context, postID uint64) (string, error) {
	gen, err := r.RDB.Get(ctx, r.likeGenKey(postID)).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return gen, err
}

// FillLikers 用库里的完整点赞者回填集合；返回是否写入
func (r *LikeCacheRepository) FillLikers(ctx context.Context, postID uint64, gen string, userIDs []uint64) (bool, error) {
	args := make([]any, 0, len(userIDs)+2)
	args = append(args, gen, int64(r.likeSetTTL/time.Second))
	for _, id := range userIDs {
		args = append(args, id)
	}
	keys := []string{r.likeSetKey(postID), r.likeGenKey(postID)}
	n, err := fillScript.Run(ctx, r.RDB, keys, args...).Int()
	return n == 1 && len(userIDs) > 0, err
}

// IsLikedCached 第二个返回值表示集合是否存在（命中）
func (r *LikeCacheRepository) IsLikedCached(ctx context.Context, userID, postID uint64) (bool, bool, error) {
	k := r.likeSetKey(postID)
	exists, err := r.RDB.Exists(ctx, k).Result()
	if err != nil {
		return false, false, err
	}
	if exists == 0 {
		return false, false, nil
	}
	b, err := r.RDB.SIsMember(ctx, k, userID).Result()
	return b, true, err
}

// GetLikeCountCached 从缓存读取帖子的点赞数量
func (r *LikeCacheRepository) GetLikeCountCached(ctx context.Context, postID uint64) (int64, bool, error) {
	val, err := r.RDB.Get(ctx, r.likeCntKey(postID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	return val, err == nil, err
}

// SetLikeCount 回填帖子点赞数
func (r *LikeCacheRepository) SetLikeCount(ctx context.Context, postID uint64, cnt int64) error {
	return r.RDB.Set(ctx, r.likeCntKey(postID), cnt, r.likeCntTTL).Err()
}

// WarmIsLiked 惰性回填：只在集合已存在时写，避免无界扩张
func (r *LikeCacheRepository) WarmIsLiked(ctx context.Context, userID, postID uint64, liked bool) {
	k := r.likeSetKey(postID)
	if ok, _ := r.RDB.Exists(ctx, k).Result(); ok > 0 {
		if liked {
			_ = r.RDB.SAdd(ctx, k, userID).Err()
		} else {
			_ = r.RDB.SRem(ctx, k, userID).Err()
		}
		_ = r.RDB.Expire(ctx, k, r.likeSetTTL).Err()
	}
}

// DeleteCount 删除计数缓存，delay>0 时再异步删一次，减少并发回填的脏数据
func (r *LikeCacheRepository) DeleteCount(ctx context.Context, postID uint64, delay ...time.Duration) error {
	key := r.likeCntKey(postID)
	if err := r.RDB.Del(ctx, key).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if len(delay) > 0 && delay[0] > 0 {
		d := delay[0]
		go func() {
			t := time.NewTimer(d)
			defer t.Stop()
			<-t.C
			_ = r.RDB.Del(context.Background(), key).Err()
		}()
	}
	return nil
}

// Acquire 请求加分布式锁
func (l *DistLock) Acquire(ctx context.Context, postID uint64, token string) (bool, error) {
	key := fmt.Sprintf("%s:%d", LockKeyPrefix, postID)
	return l.RDB.SetNX(ctx, key, token, LockTTL).Result()
}

// Release 用lua保证原子性，只删自己持有的锁
func (l *DistLock) Release(ctx context.Context, postID uint64, token string) error {
	key := fmt.Sprintf("%s:%d", LockKeyPrefix, postID)
	return releaseScript.Run(ctx, l.RDB, []string{key}, token).Err()
}

package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func ConnectRedis(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if _, err := rdb.Ping(context.Background()).Result(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return rdb, nil
}

// RedisNotifier pushes job ids onto a redis list; worker loops block on the
// other end with BRPOP. Redis being down degrades to sweep-only dispatch.
type RedisNotifier struct {
	client *redis.Client
	key    string
}

func NewRedisNotifier(client *redis.Client, key string) *RedisNotifier {
	return &RedisNotifier{client: client, key: key}
}

func (n *RedisNotifier) Notify(ctx context.Context, jobID string) error {
	if err := n.client.LPush(ctx, n.key, jobID).Err(); err != nil {
		return fmt.Errorf("redis notify: %w", err)
	}
	return nil
}

func (n *RedisNotifier) Listen(ctx context.Context) (string, error) {
	for {
		res, err := n.client.BRPop(ctx, 0, n.key).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return "", fmt.Errorf("redis listen: %w", err)
		}
		// BRPOP returns [key, value].
		if len(res) == 2 {
			return res[1], nil
		}
	}
}

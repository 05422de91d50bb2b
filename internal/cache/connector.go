package cache

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-redis/redis_rate/v9"
	"moff.io/mint-widget/internal/config"
	"moff.io/mint-widget/pkg/errors"
	"moff.io/mint-widget/pkg/log"
)

var (
	Redis       *redis.Client
	RateLimiter *redis_rate.Limiter
)

const pingTimeout = 5 * time.Second

// Init connects the shared redis client. Without a configured address the
// widget runs on in-memory state and Init is a no-op.
func Init(cred *config.DBCredential) error {
	if !cred.Enabled() {
		log.Info("redis address not configured, using in-memory provider cache.")
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cred.GetRedisAddress(),
		Password: cred.Password,
		DB:       cred.Database,
	})
	ctx, cancel := context.WithTimeout(context.Background(), pingTimeout)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return errors.WrapAndReport(err, "ping to redis")
	}
	Redis = client
	RateLimiter = redis_rate.NewLimiter(Redis)
	log.Infof("redis connected at %v", cred.GetRedisAddress())
	return nil
}

func Close() {
	if Redis != nil {
		if err := Redis.Close(); err != nil {
			log.Warnf("close redis:%v", err)
		}
		Redis = nil
		RateLimiter = nil
	}
}

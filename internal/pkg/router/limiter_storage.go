package router

import (
	"net"
	"strconv"

	"github.com/gofiber/storage/redis"

	"github.com/viajamx/marketplace/internal/pkg/cache"
	"github.com/viajamx/marketplace/internal/pkg/env"
)

// NewLimiterStorage points the rate limiter at the shared redis server so
// counters hold across replicas. Database 1 keeps them apart from jobs and locks.
func NewLimiterStorage() *redis.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: env.GetEnvInt("LIMITER_REDIS_DB", 1),
		Reset:    false,
	})
}

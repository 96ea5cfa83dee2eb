package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/payvat/vat-extraction-service/internal/models"
)

// keyPrefix namespaces the dashboard aggregate keys owned by the reporting
// layer. This service only ever deletes them.
const keyPrefix = "payvat:dashboard:"

// Invalidator drops cached dashboard aggregates for a user after a document
// write, so the next dashboard load recomputes from Postgres.
type Invalidator struct {
	client *redis.Client
	log    zerolog.Logger
}

// NewInvalidator connects to Redis and verifies reachability. Callers treat a
// nil Invalidator as "cache disabled".
func NewInvalidator(ctx context.Context, cfg models.RedisConfig, log zerolog.Logger) (*Invalidator, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Invalidator{client: client, log: log}, nil
}

// InvalidateUserAggregates deletes every dashboard key for the user. SCAN is
// used instead of KEYS so a large keyspace never blocks the server.
func (i *Invalidator) InvalidateUserAggregates(ctx context.Context, userID string) error {
	pattern := keyPrefix + userID + ":*"
	iter := i.client.Scan(ctx, 0, pattern, 100).Iterator()

	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan %s: %w", pattern, err)
	}
	// The unpatterned summary key exists for every user with a dashboard.
	keys = append(keys, keyPrefix+userID)

	deleted, err := i.client.Del(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("delete dashboard keys: %w", err)
	}
	i.log.Debug().Str("user_id", userID).Int64("deleted", deleted).Msg("dashboard cache invalidated")
	return nil
}

// Ping reports cache reachability for health checks.
func (i *Invalidator) Ping(ctx context.Context) error {
	return i.client.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (i *Invalidator) Close() error {
	return i.client.Close()
}

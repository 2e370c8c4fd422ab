package suppression

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const keyPrefix = "suppression:"

// RedisList stores each reason as a Redis set of lower-cased addresses.
type RedisList struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisList connects to the Redis server at url (redis://[user:pass@]host:port/db).
func NewRedisList(ctx context.Context, url string, logger *slog.Logger) (*RedisList, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err = client.Ping(ctx).Err()
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	logger = logger.With("module", "suppression_redis")
	logger.InfoContext(ctx, "Connected to Redis", "addr", options.Addr, "db", options.DB)

	return &RedisList{client: client, logger: logger}, nil
}

func key(reason Reason) string {
	return keyPrefix + string(reason)
}

func (l *RedisList) IsSuppressed(ctx context.Context, email string, reason Reason) (bool, error) {
	suppressed, err := l.client.SIsMember(ctx, key(reason), normalize(email)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check suppression list %s: %w", reason, err)
	}

	return suppressed, nil
}

func (l *RedisList) Add(ctx context.Context, email string, reason Reason) error {
	err := l.client.SAdd(ctx, key(reason), normalize(email)).Err()
	if err != nil {
		return fmt.Errorf("failed to add to suppression list %s: %w", reason, err)
	}

	return nil
}

func (l *RedisList) Remove(ctx context.Context, email string, reason Reason) error {
	err := l.client.SRem(ctx, key(reason), normalize(email)).Err()
	if err != nil {
		return fmt.Errorf("failed to remove from suppression list %s: %w", reason, err)
	}

	return nil
}

func (l *RedisList) Close() error {
	return l.client.Close()
}

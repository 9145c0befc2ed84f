package history

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"receipts/internal/logger"
)

// DefaultRedisKey is the list key used when none is configured.
const DefaultRedisKey = "receipts:totals"

// Redis appends totals to a Redis list.
type Redis struct {
	client *redis.Client
	key    string
	log    zerolog.Logger
}

// NewRedis connects to the server at url (redis://...) and checks it with PING.
func NewRedis(ctx context.Context, url, key string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("NewRedis: invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("NewRedis: failed to connect to redis: %w", err)
	}

	return newRedis(client, key), nil
}

func newRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key, log: logger.WithComponent("history-redis")}
}

// Append implements Sink.
func (r *Redis) Append(ctx context.Context, total float64) error {
	if err := r.client.RPush(ctx, r.key, strconv.FormatFloat(Round2(total), 'f', 2, 64)).Err(); err != nil {
		return fmt.Errorf("Redis.Append: %w", err)
	}
	r.log.Debug().Float64("total", total).Str("key", r.key).Msg("Recorded total")
	return nil
}

// List implements Reader.
func (r *Redis) List(ctx context.Context) ([]float64, error) {
	vals, err := r.client.LRange(ctx, r.key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("Redis.List: %w", err)
	}
	totals := make([]float64, 0, len(vals))
	for _, v := range vals {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			r.log.Warn().Str("value", v).Msg("Skipping unparsable history entry")
			continue
		}
		totals = append(totals, f)
	}
	return totals, nil
}

// Close closes the Redis client.
func (r *Redis) Close() error {
	return r.client.Close()
}

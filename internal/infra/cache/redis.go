package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"

	"github.com/redis/go-redis/v9"
)

// RedisBacking keeps entity documents in Redis so sessions and restarts
// can share already-resolved clients and sales. It never holds snapshots.
type RedisBacking struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// RedisOptions configures the Redis second tier.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration // 0 keeps keys forever
}

// NewRedisBacking connects to Redis and checks the connection.
func NewRedisBacking(ctx context.Context, opts RedisOptions) (*RedisBacking, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisBacking{client: client, prefix: "ledger", ttl: opts.TTL}, nil
}

func (r *RedisBacking) key(collection, id string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, collection, id)
}

// Load reads one document. A missing key is (zero, false, nil).
func (r *RedisBacking) Load(ctx context.Context, collection, id string) (domain.Document, bool, error) {
	data, err := r.client.Get(ctx, r.key(collection, id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Document{}, false, nil
	}
	if err != nil {
		return domain.Document{}, false, fmt.Errorf("failed to get key: %w", err)
	}

	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return domain.Document{}, false, fmt.Errorf("failed to deserialize document: %w", err)
	}
	return doc, true, nil
}

// Store writes one document.
func (r *RedisBacking) Store(ctx context.Context, collection, id string, doc domain.Document) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}
	return r.client.Set(ctx, r.key(collection, id), data, r.ttl).Err()
}

// Ping checks the connection, for health reporting.
func (r *RedisBacking) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis client connection.
func (r *RedisBacking) Close() error {
	return r.client.Close()
}

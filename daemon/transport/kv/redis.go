package kv

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore is the KV backend selected when the configured domain_path
// scheme is redis://host:port/. Keys are "<prefix>/<domain>/vm" and
// "<prefix>/<domain>/metrics", standing in for the xenstore tree's
// "<domain_path>/vm" and "<domain_path>/metrics" entries.
type RedisStore struct {
	Client *redis.Client
	Prefix string
}

// NewRedisStore returns a RedisStore using client, keying entries under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{Client: client, Prefix: prefix}
}

func (r *RedisStore) key(domain, leaf string) string {
	if r.Prefix == "" {
		return fmt.Sprintf("%s/%s", domain, leaf)
	}
	return fmt.Sprintf("%s/%s/%s", r.Prefix, domain, leaf)
}

func (r *RedisStore) ReadVMUUID(ctx context.Context, domain string) (string, error) {
	v, err := r.Client.Get(ctx, r.key(domain, "vm")).Result()
	if err != nil {
		return "", fmt.Errorf("kv: redis GET %s: %w", r.key(domain, "vm"), err)
	}
	return v, nil
}

func (r *RedisStore) ReadMetrics(ctx context.Context, domain string) ([]byte, error) {
	v, err := r.Client.Get(ctx, r.key(domain, "metrics")).Bytes()
	if err != nil {
		return nil, fmt.Errorf("kv: redis GET %s: %w", r.key(domain, "metrics"), err)
	}
	return v, nil
}

func (r *RedisStore) WriteMetrics(ctx context.Context, domain string, xml []byte) error {
	if err := r.Client.Set(ctx, r.key(domain, "metrics"), xml, 0).Err(); err != nil {
		return fmt.Errorf("kv: redis SET %s: %w", r.key(domain, "metrics"), err)
	}
	return nil
}

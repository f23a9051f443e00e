package kvstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/fabric-depot/internal/shared"
)

const defaultMaxRetries = 16

// Redis stores each collection under "<namespace>:<collection>" and applies
// updates with WATCH/MULTI, re-running the read-validate-write cycle when a
// watched key changed underneath.
type Redis struct {
	client     *redis.Client
	namespace  string
	maxRetries int
}

// RedisOptions tunes the Redis store.
type RedisOptions struct {
	Namespace  string
	MaxRetries int
}

// NewRedis constructs a Redis-backed Store.
func NewRedis(client *redis.Client, opts RedisOptions) *Redis {
	ns := opts.Namespace
	if ns == "" {
		ns = "depot"
	}
	retries := opts.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}
	return &Redis{client: client, namespace: ns, maxRetries: retries}
}

func (r *Redis) key(collection string) string {
	return r.namespace + ":" + collection
}

// Get implements Store.
func (r *Redis) Get(ctx context.Context, collection string) ([]byte, error) {
	raw, err := r.client.Get(ctx, r.key(collection)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("kvstore: redis get %s: %w", collection, err)
	}
	return raw, nil
}

// Update implements Store.
func (r *Redis) Update(ctx context.Context, collections []string, fn MutateFunc) error {
	keys := make([]string, len(collections))
	for i, name := range collections {
		keys[i] = r.key(name)
	}

	txf := func(tx *redis.Tx) error {
		current := make(map[string][]byte, len(collections))
		for i, name := range collections {
			raw, err := tx.Get(ctx, keys[i]).Bytes()
			if errors.Is(err, redis.Nil) {
				raw = nil
			} else if err != nil {
				return fmt.Errorf("kvstore: redis get %s: %w", name, err)
			}
			current[name] = raw
		}
		next, err := fn(current)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for i, name := range collections {
				if raw, ok := next[name]; ok {
					pipe.Set(ctx, keys[i], raw, 0)
				}
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < r.maxRetries; attempt++ {
		err := r.client.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("kvstore: redis update %v: %w", collections, shared.ErrConflict)
}

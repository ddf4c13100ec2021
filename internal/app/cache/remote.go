package cache

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// remoteTier is the shared Redis cache tier. Keys are namespaced; values
// are opaque bytes (callers serialize). Every operation carries its own
// timeout so a slow store can never block the control path.
type remoteTier struct {
	client    *redis.Client
	namespace string
	opTimeout time.Duration
}

func newRemoteTier(client *redis.Client, namespace string, opTimeout time.Duration) *remoteTier {
	return &remoteTier{client: client, namespace: namespace, opTimeout: opTimeout}
}

func (t *remoteTier) key(key string) string {
	return t.namespace + ":" + key
}

func (t *remoteTier) get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	val, err := t.client.Get(ctx, t.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "remote get failed")
	}
	return val, true, nil
}

func (t *remoteTier) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	if err := t.client.Set(ctx, t.key(key), value, ttl).Err(); err != nil {
		return errors.Wrap(err, "remote set failed")
	}
	return nil
}

func (t *remoteTier) delete(ctx context.Context, key string) error {
	ctx, cancel := context.WithTimeout(ctx, t.opTimeout)
	defer cancel()

	if err := t.client.Del(ctx, t.key(key)).Err(); err != nil {
		return errors.Wrap(err, "remote delete failed")
	}
	return nil
}

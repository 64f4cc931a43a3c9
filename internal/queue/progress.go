package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// progressTTL bounds how long a finished or abandoned job's stage stays
// queryable before Redis expires the key on its own.
const progressTTL = 24 * time.Hour

// RedisProgressTracker stores per-document stage under a namespaced key.
type RedisProgressTracker struct {
	client redis.UniversalClient
}

func NewRedisProgressTracker(addr, password string, db int) *RedisProgressTracker {
	return &RedisProgressTracker{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

var _ ProgressTracker = (*RedisProgressTracker)(nil)

func keyProgress(documentID string) string {
	return fmt.Sprintf("ingest:progress:%s", documentID)
}

func (r *RedisProgressTracker) SetStage(ctx context.Context, documentID string, stage Stage) error {
	return r.client.Set(ctx, keyProgress(documentID), string(stage), progressTTL).Err()
}

func (r *RedisProgressTracker) GetStage(ctx context.Context, documentID string) (Stage, error) {
	v, err := r.client.Get(ctx, keyProgress(documentID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoProgress
	}
	if err != nil {
		return "", err
	}
	return Stage(v), nil
}

func (r *RedisProgressTracker) Close() error {
	return r.client.Close()
}

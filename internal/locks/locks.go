// Package locks provides redis-backed advisory locks that serialize archive
// and erase cascades against concurrent entry edits.
package locks

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Locker struct {
	client *redis.Client
	prefix string
}

// New creates a locker from a redis URL.
func New(redisURL string) (*Locker, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Locker{client: client, prefix: "lock:"}, nil
}

// NewWithClient creates a locker from an existing redis client.
func NewWithClient(client *redis.Client) *Locker {
	return &Locker{client: client, prefix: "lock:"}
}

// ProjectKey is the lock key guarding a project's archive/erase cascade.
func ProjectKey(projectID int64) string {
	return fmt.Sprintf("archive:project:%d", projectID)
}

func (l *Locker) key(name string) string {
	return l.prefix + name
}

// Acquire takes the lock if free. The TTL bounds how long a crashed holder
// can block the project.
func (l *Locker) Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(name), "1", ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return ok, nil
}

func (l *Locker) Release(ctx context.Context, name string) error {
	if err := l.client.Del(ctx, l.key(name)).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", name, err)
	}
	return nil
}

// Held reports whether the lock is currently taken, without taking it.
func (l *Locker) Held(ctx context.Context, name string) (bool, error) {
	n, err := l.client.Exists(ctx, l.key(name)).Result()
	if err != nil {
		return false, fmt.Errorf("check lock %s: %w", name, err)
	}
	return n > 0, nil
}

func (l *Locker) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *Locker) Close() error {
	return l.client.Close()
}

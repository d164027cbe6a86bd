package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Lease guarantees at most one live attempt per interview session, across
// every instance sharing the lease backend.
type Lease interface {
	Acquire(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, sessionID, owner string) error
}

// LocalLease is a process-local Lease.
type LocalLease struct {
	now func() time.Time

	mu     sync.Mutex
	owners map[string]localHold
}

type localHold struct {
	owner   string
	expires time.Time
}

func NewLocalLease() *LocalLease {
	return &LocalLease{now: time.Now, owners: make(map[string]localHold)}
}

func (l *LocalLease) Acquire(_ context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if h, ok := l.owners[sessionID]; ok && now.Before(h.expires) && h.owner != owner {
		return false, nil
	}
	l.owners[sessionID] = localHold{owner: owner, expires: now.Add(ttl)}
	return true, nil
}

func (l *LocalLease) Release(_ context.Context, sessionID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, ok := l.owners[sessionID]; ok && h.owner == owner {
		delete(l.owners, sessionID)
	}
	return nil
}

// releaseScript deletes the key only while it still holds our owner token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLease stores leases as SET NX keys with a TTL.
type RedisLease struct {
	client *redis.Client
	prefix string
}

// NewRedisLease connects to url and verifies the connection.
func NewRedisLease(ctx context.Context, url string) (*RedisLease, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return &RedisLease{client: client, prefix: "proctor:attempt:"}, nil
}

func (l *RedisLease) key(sessionID string) string {
	return l.prefix + sessionID
}

func (l *RedisLease) Acquire(ctx context.Context, sessionID, owner string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key(sessionID), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	return ok, nil
}

func (l *RedisLease) Release(ctx context.Context, sessionID, owner string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key(sessionID)}, owner).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

func (l *RedisLease) Health(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

func (l *RedisLease) Close() error {
	return l.client.Close()
}

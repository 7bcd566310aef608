// Package lock provides Redis-backed distributed locking used to keep
// concurrent sync jobs from racing on the same (tenant, entity type) pair.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DistributedLock is a single Redis-backed mutual-exclusion lock.
type DistributedLock struct {
	redis    *redis.Client
	key      string
	value    string
	ttl      time.Duration
	logger   *slog.Logger
	acquired bool
}

// Config holds settings for a DistributedLock. New reads only TTL and
// ValuePrefix; the retry interval and the acquire/release timeouts are fixed
// in the lock's methods, and the retry count is the argument passed to
// AcquireWithRetry, so MaxRetries, RetryInterval, AcquireTimeout and
// ReleaseTimeout are not applied.
type Config struct {
	TTL            time.Duration
	MaxRetries     int
	RetryInterval  time.Duration
	AcquireTimeout time.Duration
	ReleaseTimeout time.Duration
	ValuePrefix    string
}

// DefaultConfig returns sane defaults for a sync-job lock.
func DefaultConfig() *Config {
	return &Config{
		TTL:            30 * time.Second,
		MaxRetries:     3,
		RetryInterval:  100 * time.Millisecond,
		AcquireTimeout: 5 * time.Second,
		ReleaseTimeout: 2 * time.Second,
		ValuePrefix:    "synclock",
	}
}

// New creates a new distributed lock bound to key.
func New(client *redis.Client, key string, cfg *Config, logger *slog.Logger) *DistributedLock {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &DistributedLock{
		redis:  client,
		key:    key,
		value:  generateLockValue(cfg.ValuePrefix),
		ttl:    cfg.TTL,
		logger: logger,
	}
}

// JobLockKey builds the canonical lock key for a (tenant, entity type) pair,
// matching the spec's "one active sync job per tenant+entity type" rule.
func JobLockKey(tenantID, entityType string) string {
	return fmt.Sprintf("syncengine:lock:%s:%s", tenantID, entityType)
}

func generateLockValue(prefix string) string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}

// Acquire attempts to take the lock once.
func (l *DistributedLock) Acquire(ctx context.Context) (bool, error) {
	return l.AcquireWithRetry(ctx, 0)
}

// AcquireWithRetry attempts to take the lock, retrying up to maxRetries times
// with jittered backoff between attempts.
func (l *DistributedLock) AcquireWithRetry(ctx context.Context, maxRetries int) (bool, error) {
	if maxRetries < 0 {
		maxRetries = 0
	}

	l.logger.Debug("acquiring lock", "key", l.key, "ttl", l.ttl)

	for attempt := 0; attempt <= maxRetries; attempt++ {
		acquireCtx, cancel := context.WithTimeout(ctx, l.ttl)
		ok, err := l.redis.SetNX(acquireCtx, l.key, l.value, l.ttl).Result()
		cancel()
		if err != nil {
			l.logger.Error("lock acquire failed", "key", l.key, "attempt", attempt+1, "error", err)
			if attempt == maxRetries {
				return false, fmt.Errorf("acquire lock after %d attempts: %w", maxRetries+1, err)
			}
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(l.retryInterval(attempt)):
			}
			continue
		}

		if ok {
			l.acquired = true
			l.logger.Info("lock acquired", "key", l.key, "ttl", l.ttl)
			return true, nil
		}

		l.logger.Debug("lock held by another holder", "key", l.key, "attempt", attempt+1)
		if attempt == maxRetries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(l.retryInterval(attempt)):
		}
	}

	return false, nil
}

// Release frees the lock, but only if this holder still owns it.
func (l *DistributedLock) Release(ctx context.Context) error {
	if !l.acquired {
		l.logger.Warn("release called without a held lock", "key", l.key)
		return nil
	}

	const script = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		else
			return 0
		end
	`

	releaseCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(releaseCtx, script, []string{l.key}, l.value).Result()
	if err != nil {
		return fmt.Errorf("release lock: %w", err)
	}

	if n, ok := result.(int64); ok && n == 1 {
		l.acquired = false
		l.logger.Info("lock released", "key", l.key)
		return nil
	}

	l.logger.Warn("lock was not held by this holder at release time", "key", l.key)
	return nil
}

// Extend pushes the lock's expiry out to newTTL, failing if ownership changed.
func (l *DistributedLock) Extend(ctx context.Context, newTTL time.Duration) error {
	if !l.acquired {
		return fmt.Errorf("cannot extend a lock that was not acquired")
	}

	const script = `
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("expire", KEYS[1], ARGV[2])
		else
			return 0
		end
	`

	extendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result, err := l.redis.Eval(extendCtx, script, []string{l.key}, l.value, int(newTTL.Seconds())).Result()
	if err != nil {
		return fmt.Errorf("extend lock: %w", err)
	}

	if n, ok := result.(int64); ok && n == 1 {
		l.ttl = newTTL
		return nil
	}
	return fmt.Errorf("extend lock: no longer held")
}

func (l *DistributedLock) IsAcquired() bool    { return l.acquired }
func (l *DistributedLock) Key() string         { return l.key }
func (l *DistributedLock) Value() string       { return l.value }
func (l *DistributedLock) TTL() time.Duration  { return l.ttl }

func (l *DistributedLock) retryInterval(attempt int) time.Duration {
	base := 100 * time.Millisecond
	interval := time.Duration(attempt+1) * base
	jitter := time.Duration(float64(interval) * 0.25 * (2*float64(time.Now().UnixNano()%1000)/1000 - 1))
	return interval + jitter
}

// Manager tracks a set of named locks so a caller can release them all at
// shutdown without threading individual DistributedLock handles through the
// whole call stack.
type Manager struct {
	redis  *redis.Client
	config *Config
	logger *slog.Logger
	locks  map[string]*DistributedLock
}

// NewManager creates a lock manager backed by client.
func NewManager(client *redis.Client, cfg *Config, logger *slog.Logger) *Manager {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{redis: client, config: cfg, logger: logger, locks: make(map[string]*DistributedLock)}
}

// AcquireLock creates and acquires a lock for key, tracking it for later release.
func (m *Manager) AcquireLock(ctx context.Context, key string) (*DistributedLock, error) {
	l := New(m.redis, key, m.config, m.logger)

	ok, err := l.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lock already held for key: %s", key)
	}

	m.locks[key] = l
	return l, nil
}

// ReleaseLock releases and forgets the tracked lock for key.
func (m *Manager) ReleaseLock(ctx context.Context, key string) error {
	l, ok := m.locks[key]
	if !ok {
		return nil
	}
	if err := l.Release(ctx); err != nil {
		return err
	}
	delete(m.locks, key)
	return nil
}

// ReleaseAll releases every tracked lock, returning the last error seen.
func (m *Manager) ReleaseAll(ctx context.Context) error {
	var lastErr error
	for key, l := range m.locks {
		if err := l.Release(ctx); err != nil {
			m.logger.Error("failed releasing lock", "key", key, "error", err)
			lastErr = err
		}
	}
	m.locks = make(map[string]*DistributedLock)
	return lastErr
}

func (m *Manager) GetLock(key string) (*DistributedLock, bool) {
	l, ok := m.locks[key]
	return l, ok
}

func (m *Manager) ListLocks() []string {
	keys := make([]string, 0, len(m.locks))
	for k := range m.locks {
		keys = append(keys, k)
	}
	return keys
}

func (m *Manager) Close(ctx context.Context) error {
	return m.ReleaseAll(ctx)
}

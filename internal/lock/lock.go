// Package lock даёт короткие блокировки по ключу, чтобы сериализовать
// отправку ответа одного поставщика на один RFQ.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release снимает блокировку. Повторный вызов безопасен.
type Release func(ctx context.Context) error

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error)
}

const keyPrefix = "rfq:lock:"

// compare-and-delete: чужую блокировку после истечения TTL не трогаем
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`)

// RedisLocker блокировки через SET NX с TTL
type RedisLocker struct {
	rdb *redis.Client
}

func NewRedisLocker(rdb *redis.Client) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Release, bool, error) {
	k := keyPrefix + key
	owner := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, k, owner, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("lock SETNX: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	var once sync.Once
	release := func(ctx context.Context) error {
		var err error
		once.Do(func() {
			err = releaseScript.Run(ctx, l.rdb, []string{k}, owner).Err()
		})
		return err
	}
	return release, true, nil
}

// Ping проверяет соединение с Redis
func (l *RedisLocker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.rdb.Ping(ctx).Err()
}

// LocalLocker блокировки в памяти процесса, для одного инстанса и тестов
type LocalLocker struct {
	mu    sync.Mutex
	held  map[string]time.Time
	nowFn func() time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]time.Time), nowFn: time.Now}
}

func (l *LocalLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Release, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFn()
	if exp, ok := l.held[key]; ok && (exp.IsZero() || now.Before(exp)) {
		return nil, false, nil
	}
	var exp time.Time // нулевое время: без срока
	if ttl > 0 {
		exp = now.Add(ttl)
	}
	l.held[key] = exp

	var once sync.Once
	release := func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if cur, ok := l.held[key]; ok && cur.Equal(exp) {
				delete(l.held, key)
			}
		})
		return nil
	}
	return release, true, nil
}

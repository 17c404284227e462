package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

type DrainLock struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

func NewDrainLock(client *redis.Client, key string, ttl time.Duration) *DrainLock {
	return &DrainLock{client: client, key: key, ttl: ttl}
}

// TryAcquire returns ok=false when another process holds the lock. The
// returned release func is safe to call once the work is done.
func (l *DrainLock) TryAcquire(ctx context.Context) (release func(), ok bool, err error) {
	token := uuid.NewString()
	ok, err = l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil || !ok {
		return func() {}, false, err
	}
	return func() {
		// the caller's ctx may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		releaseScript.Run(releaseCtx, l.client, []string{l.key}, token)
	}, true, nil
}

package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const DefaultLockTTL = 2 * time.Minute

// ErrLockLost is returned by a release whose lock expired or now belongs to
// another holder. The other holder's key is left in place.
var ErrLockLost = errors.New("lock expired or held by another owner")

// Locker hands out short-lived exclusive locks keyed by an id. A lock
// expires on its own so a crashed holder never blocks the key forever.
type Locker struct {
	rs     *redsync.Redsync
	prefix string
	ttl    time.Duration
}

func NewLocker(client *redis.Client, prefix string, ttl time.Duration) *Locker {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	l := &Locker{prefix: prefix, ttl: ttl}
	if client != nil {
		l.rs = redsync.New(goredis.NewPool(client))
	}
	return l
}

// Acquire takes the lock for id. It reports false when another holder owns
// it. The returned release only deletes the key while this holder still owns it.
func (l *Locker) Acquire(ctx context.Context, id string) (func(context.Context) error, bool, error) {
	name := l.prefix + id
	if l.rs == nil {
		return nil, false, fmt.Errorf("acquire lock %s: no redis client", name)
	}
	mutex := l.rs.NewMutex(name, redsync.WithExpiry(l.ttl), redsync.WithTries(1))
	if err := mutex.LockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.As(err, &taken) || errors.Is(err, redsync.ErrFailed) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}

	release := func(ctx context.Context) error {
		ok, err := mutex.UnlockContext(ctx)
		if !ok {
			if err != nil {
				return fmt.Errorf("%w: %s: %v", ErrLockLost, name, err)
			}
			return fmt.Errorf("%w: %s", ErrLockLost, name)
		}
		return nil
	}
	return release, true, nil
}

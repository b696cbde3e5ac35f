package email

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisLocker(rdb), mr
}

func TestRedisLocker_ExclusiveUntilReleased(t *testing.T) {
	locker, mr := newMiniredisLocker(t)
	ctx := context.Background()

	release, ok, err := locker.TryLock(ctx, "mailer:sweep-lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, mr.Exists("mailer:sweep-lock"))

	_, ok, err = locker.TryLock(ctx, "mailer:sweep-lock", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second holder must not acquire a held lock")

	require.NoError(t, release(ctx))
	assert.False(t, mr.Exists("mailer:sweep-lock"))

	_, ok, err = locker.TryLock(ctx, "mailer:sweep-lock", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLocker_ExpiredLeaseIsNotReleasedByOldHolder(t *testing.T) {
	locker, mr := newMiniredisLocker(t)
	ctx := context.Background()

	staleRelease, ok, err := locker.TryLock(ctx, "mailer:sweep-lock", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	_, ok, err = locker.TryLock(ctx, "mailer:sweep-lock", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, staleRelease(ctx))
	assert.True(t, mr.Exists("mailer:sweep-lock"), "new holder's lease must survive")
}

func TestRedisLocker_ConnectionError(t *testing.T) {
	locker, mr := newMiniredisLocker(t)
	mr.Close()

	_, ok, err := locker.TryLock(context.Background(), "mailer:sweep-lock", time.Minute)
	assert.False(t, ok)
	assert.Error(t, err)
}

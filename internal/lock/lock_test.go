package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal(t *testing.T) {
	ctx := context.Background()
	l := NewLocal()

	release, err := l.TryAcquire(ctx)
	require.NoError(t, err)

	_, err = l.TryAcquire(ctx)
	assert.True(t, errors.Is(err, ErrLocked))

	release()
	release()

	release, err = l.TryAcquire(ctx)
	require.NoError(t, err)
	release()
}

func TestLocal_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewLocal().TryAcquire(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	a := NewRedis(client, "scout:run", time.Minute, nil)
	b := NewRedis(client, "scout:run", time.Minute, nil)

	release, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	assert.True(t, mr.Exists("scout:run"))
	assert.Equal(t, time.Minute, mr.TTL("scout:run"))

	_, err = b.TryAcquire(ctx)
	assert.ErrorIs(t, err, ErrLocked)

	release()
	release()
	assert.False(t, mr.Exists("scout:run"))

	release, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	release()
}

func TestRedis_ReleaseDoesNotDeleteForeignLock(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	l := NewRedis(client, "scout:run", time.Minute, nil)
	release, err := l.TryAcquire(ctx)
	require.NoError(t, err)

	// lock expired and was taken by someone else
	require.NoError(t, mr.Set("scout:run", "other"))

	release()
	got, err := mr.Get("scout:run")
	require.NoError(t, err)
	assert.Equal(t, "other", got)
}

func TestRedis_ExpiredLockCanBeTaken(t *testing.T) {
	ctx := context.Background()
	mr, client := newRedis(t)

	a := NewRedis(client, "scout:run", time.Minute, nil)
	releaseA, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	defer releaseA()

	mr.FastForward(2 * time.Minute)

	releaseB, err := NewRedis(client, "scout:run", time.Minute, nil).TryAcquire(ctx)
	require.NoError(t, err)
	releaseB()
}

func TestRedis_ConnectionError(t *testing.T) {
	mr, client := newRedis(t)
	mr.Close()

	_, err := NewRedis(client, "k", time.Minute, nil).TryAcquire(context.Background())
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrLocked))
}

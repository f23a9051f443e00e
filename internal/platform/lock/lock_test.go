package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestLocalSerialisesSameKey(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()

	first, err := locker.Obtain(ctx, "tx-1")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = locker.Obtain(waitCtx, "tx-1")
	require.ErrorIs(t, err, ErrNotObtained)

	other, err := locker.Obtain(ctx, "tx-2")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))

	again, err := locker.Obtain(ctx, "tx-1")
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestLocalWakesWaiter(t *testing.T) {
	locker := NewLocal()
	ctx := context.Background()
	held, err := locker.Obtain(ctx, "k")
	require.NoError(t, err)

	got := make(chan error, 1)
	go func() {
		l, err := locker.Obtain(ctx, "k")
		if err == nil {
			err = l.Release(ctx)
		}
		got <- err
	}()

	require.NoError(t, held.Release(ctx))
	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter never obtained the lock")
	}
}

func TestRedisLockExcludes(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedis(client, 50*time.Millisecond)
	ctx := context.Background()

	l, err := locker.Obtain(ctx, "depot:transaction:t1:reversal-lock")
	require.NoError(t, err)
	require.True(t, mr.Exists("depot:transaction:t1:reversal-lock"))

	_, err = locker.Obtain(ctx, "depot:transaction:t1:reversal-lock")
	require.ErrorIs(t, err, ErrNotObtained)

	require.NoError(t, l.Release(ctx))
	require.False(t, mr.Exists("depot:transaction:t1:reversal-lock"))

	l2, err := locker.Obtain(ctx, "depot:transaction:t1:reversal-lock")
	require.NoError(t, err)
	require.NoError(t, l2.Release(ctx))
}

func TestRedisRefreshExtendsLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	const key = "depot:transaction:t2:reversal-lock"
	locker := NewRedis(client, time.Second)
	ctx := context.Background()

	l, err := locker.Obtain(ctx, key)
	require.NoError(t, err)

	mr.FastForward(800 * time.Millisecond)
	require.NoError(t, l.Refresh(ctx))
	mr.FastForward(800 * time.Millisecond)
	require.True(t, mr.Exists(key))

	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(key))
	require.ErrorIs(t, l.Refresh(ctx), ErrLost)
	require.NoError(t, l.Release(ctx))
}

func TestLocalRefreshIsNoop(t *testing.T) {
	l, err := NewLocal().Obtain(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, l.Refresh(context.Background()))
	require.NoError(t, l.Release(context.Background()))
}

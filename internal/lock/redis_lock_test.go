package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rohankatakam/shopgraph/internal/errors"
)

func newTestLock(t *testing.T, mr *miniredis.Miniredis) *RedisLock {
	t.Helper()
	logger, _ := test.NewNullLogger()
	l := NewRedisLock(NewClient(mr.Addr(), "", 0), "shopgraph:etl:lock", time.Minute, logger)
	t.Cleanup(func() { l.Close() })
	return l
}

func TestLockIsExclusive(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestLock(t, mr)
	b := newTestLock(t, mr)
	ctx := context.Background()

	h, err := a.TryAcquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, h)

	other, err := b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.Nil(t, other)

	holder, err := b.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, h.Token(), holder)

	require.NoError(t, h.Release(ctx))

	other, err = b.TryAcquire(ctx)
	require.NoError(t, err)
	assert.NotNil(t, other)
}

func TestReleaseDoesNotStealNewHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestLock(t, mr)
	b := newTestLock(t, mr)
	ctx := context.Background()

	stale, err := a.TryAcquire(ctx)
	require.NoError(t, err)

	mr.FastForward(2 * time.Minute)

	fresh, err := b.TryAcquire(ctx)
	require.NoError(t, err)
	require.NotNil(t, fresh)

	require.NoError(t, stale.Release(ctx))

	holder, err := a.Holder(ctx)
	require.NoError(t, err)
	assert.Equal(t, fresh.Token(), holder)
}

func TestAcquireFailsWhenRedisIsDown(t *testing.T) {
	mr := miniredis.RunT(t)
	l := newTestLock(t, mr)
	mr.Close()

	_, err := l.TryAcquire(context.Background())
	assert.Error(t, err)
}

func TestTryLockRejectsSecondRun(t *testing.T) {
	mr := miniredis.RunT(t)
	a := newTestLock(t, mr)
	b := newTestLock(t, mr)
	ctx := context.Background()

	unlock, err := a.TryLock(ctx)
	require.NoError(t, err)

	_, err = b.TryLock(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrRunInProgress)

	require.NoError(t, unlock(ctx))

	unlock, err = b.TryLock(ctx)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

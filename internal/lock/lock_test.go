package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	assert.Equal(t, "profitsharing", Key("profitsharing", ""))
	assert.Equal(t, "profitsharing/audit", Key("profitsharing", "audit"))
}

func TestNoop(t *testing.T) {
	var l Locker = Noop{}
	lease, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	require.NoError(t, lease.Release(context.Background()))
	require.NoError(t, l.Close())
}

func TestLocalExcludes(t *testing.T) {
	l := NewLocal()
	ctx := context.Background()

	first, err := l.Acquire(ctx, "ps")
	require.NoError(t, err)

	other, err := l.Acquire(ctx, "other")
	require.NoError(t, err)
	require.NoError(t, other.Release(ctx))

	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(short, "ps")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	acquired := make(chan struct{})
	go func() {
		lease, err := l.Acquire(ctx, "ps")
		if err == nil {
			_ = lease.Release(ctx)
		}
		close(acquired)
	}()

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("lock was not handed over")
	}
}

func TestNewEtcdRequiresEndpoints(t *testing.T) {
	_, err := NewEtcd(EtcdConfig{})
	require.Error(t, err)
}

func TestNewEtcdDefaults(t *testing.T) {
	e := newEtcd(nil, "locks", 0)
	assert.Equal(t, "locks/", e.prefix)
	assert.Equal(t, 60, e.ttl)
}

package kv

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryKVExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	m := NewMemoryWithClock(func() time.Time { return now })

	require.NoError(t, m.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))

	now = now.Add(time.Minute)
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok, "entry must expire at its deadline")
}

func TestMemoryKVNoTTLAndDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	m.Set(ctx, "k", []byte("v"), 0)
	_, ok, _ := m.Get(ctx, "k")
	assert.True(t, ok)

	m.Delete(ctx, "k")
	_, ok, _ = m.Get(ctx, "k")
	assert.False(t, ok)
}

func TestMemoryKVCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	buf := []byte("abc")
	m.Set(ctx, "k", buf, 0)
	buf[0] = 'z'

	v, _, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
}

// flakyKV fails every call while down is set.
type flakyKV struct {
	inner *MemoryKV
	down  atomic.Bool
	calls atomic.Int32
}

var errDown = errors.New("connection refused")

func (f *flakyKV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	f.calls.Add(1)
	if f.down.Load() {
		return nil, false, errDown
	}
	return f.inner.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errDown
	}
	return f.inner.Set(ctx, key, value, ttl)
}

func (f *flakyKV) Delete(ctx context.Context, key string) error {
	f.calls.Add(1)
	if f.down.Load() {
		return errDown
	}
	return f.inner.Delete(ctx, key)
}

func TestResilientUsesRemoteWhenHealthy(t *testing.T) {
	ctx := context.Background()
	remote := &flakyKV{inner: NewMemory()}
	r := NewResilient(remote, nil, BreakerConfig{}, zerolog.Nop())

	require.NoError(t, r.Set(ctx, "session:alice", []byte("s1"), time.Minute))
	v, ok, _ := remote.inner.Get(ctx, "session:alice")
	assert.True(t, ok)
	assert.Equal(t, "s1", string(v))

	got, ok, err := r.Get(ctx, "session:alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "s1", string(got))
}

func TestResilientFallsBackWhenRemoteDown(t *testing.T) {
	ctx := context.Background()
	remote := &flakyKV{inner: NewMemory()}
	r := NewResilient(remote, nil, BreakerConfig{MaxFailures: 2, Timeout: time.Hour}, zerolog.Nop())

	remote.down.Store(true)

	require.NoError(t, r.Set(ctx, "k", []byte("local"), time.Minute), "remote failures must not surface")
	v, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "local", string(v))

	assert.Equal(t, "open", r.State())

	before := remote.calls.Load()
	r.Get(ctx, "k")
	assert.Equal(t, before, remote.calls.Load(), "open circuit must skip the remote")

	require.NoError(t, r.Delete(ctx, "k"))
	_, ok, _ = r.Get(ctx, "k")
	assert.False(t, ok)
}

func TestResilientDeleteDuringOutageSticks(t *testing.T) {
	ctx := context.Background()
	remote := &flakyKV{inner: NewMemory()}
	r := NewResilient(remote, nil, BreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond}, zerolog.Nop())

	require.NoError(t, r.Set(ctx, "session:alice", []byte("s1"), time.Minute))

	remote.down.Store(true)
	require.NoError(t, r.Delete(ctx, "session:alice"))
	assert.Equal(t, 1, r.Pending())

	remote.down.Store(false)
	time.Sleep(20 * time.Millisecond)

	_, ok, err := r.Get(ctx, "session:alice")
	require.NoError(t, err)
	assert.False(t, ok, "deleted key came back from the remote")
	assert.Equal(t, 0, r.Pending())

	_, ok, _ = remote.inner.Get(ctx, "session:alice")
	assert.False(t, ok, "delete must be replayed to the remote")
}

func TestResilientStaleKeyServedLocallyUntilReplayed(t *testing.T) {
	ctx := context.Background()
	remote := &flakyKV{inner: NewMemory()}
	r := NewResilient(remote, nil, BreakerConfig{MaxFailures: 1, Timeout: time.Hour}, zerolog.Nop())

	require.NoError(t, r.Set(ctx, "k", []byte("old"), time.Minute))
	remote.down.Store(true)
	require.NoError(t, r.Delete(ctx, "k"))

	// The remote answers again but the circuit is still open.
	remote.down.Store(false)
	_, ok, err := r.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 1, r.Pending())
}

func TestResilientSetDuringOutageReplaysValue(t *testing.T) {
	ctx := context.Background()
	remote := &flakyKV{inner: NewMemory()}
	r := NewResilient(remote, nil, BreakerConfig{MaxFailures: 1, Timeout: 10 * time.Millisecond}, zerolog.Nop())

	require.NoError(t, r.Set(ctx, "authfail:alice", []byte("[1]"), time.Hour))

	remote.down.Store(true)
	require.NoError(t, r.Set(ctx, "authfail:alice", []byte("[1,2,3]"), time.Hour))

	remote.down.Store(false)
	time.Sleep(20 * time.Millisecond)

	v, ok, err := r.Get(ctx, "authfail:alice")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "[1,2,3]", string(v), "remote copy from before the outage must not win")

	rv, _, _ := remote.inner.Get(ctx, "authfail:alice")
	assert.Equal(t, "[1,2,3]", string(rv))
}

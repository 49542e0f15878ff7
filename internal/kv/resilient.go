package kv

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/rcliao/memvault/internal/lockmap"
)

// BreakerConfig controls when the remote store is bypassed.
type BreakerConfig struct {
	// MaxFailures consecutive remote failures open the circuit. Default: 3
	MaxFailures uint32
	// Timeout is how long the circuit stays open. Default: 30s
	Timeout time.Duration
}

// Resilient fronts a remote KV with a local MemoryKV. Writes go to both;
// reads prefer the remote and fall back to the local copy when the remote
// errors or the circuit is open.
//
// A write the remote missed marks its key stale. The local copy stays
// authoritative for a stale key until the write is replayed, so a delete
// made during an outage is never undone by the remote's old value.
type Resilient struct {
	remote  KV
	local   *MemoryKV
	breaker *gobreaker.CircuitBreaker
	keys    *lockmap.Map
	log     zerolog.Logger

	mu    sync.Mutex
	stale map[string]struct{}
}

// NewResilient wraps remote. local may be nil.
func NewResilient(remote KV, local *MemoryKV, cfg BreakerConfig, logger zerolog.Logger) *Resilient {
	if local == nil {
		local = NewMemory()
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	log := logger.With().Str("component", "kv").Logger()

	settings := gobreaker.Settings{
		Name:        "kv-remote",
		MaxRequests: 1,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("cache circuit state changed")
		},
	}

	return &Resilient{
		remote:  remote,
		local:   local,
		breaker: gobreaker.NewCircuitBreaker(settings),
		keys:    lockmap.New(),
		log:     log,
		stale:   make(map[string]struct{}),
	}
}

type getResult struct {
	value []byte
	ok    bool
}

func (r *Resilient) Get(ctx context.Context, key string) ([]byte, bool, error) {
	unlock := r.keys.Lock(key)
	defer unlock()

	if r.isStale(key) {
		if err := r.replay(ctx, key); err != nil {
			return r.local.Get(ctx, key)
		}
	}

	res, err := r.breaker.Execute(func() (interface{}, error) {
		v, ok, err := r.remote.Get(ctx, key)
		return getResult{value: v, ok: ok}, err
	})
	if err != nil {
		r.log.Debug().Err(err).Msg("remote get failed, using local cache")
		return r.local.Get(ctx, key)
	}
	g := res.(getResult)
	return g.value, g.ok, nil
}

func (r *Resilient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	unlock := r.keys.Lock(key)
	defer unlock()

	r.local.Set(ctx, key, value, ttl)
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.remote.Set(ctx, key, value, ttl)
	})
	r.track(key, err)
	if err != nil {
		r.log.Debug().Err(err).Str("key", key).Msg("remote set failed, kept local copy")
	}
	return nil
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	unlock := r.keys.Lock(key)
	defer unlock()

	r.local.Delete(ctx, key)
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.remote.Delete(ctx, key)
	})
	r.track(key, err)
	if err != nil {
		r.log.Warn().Err(err).Str("key", key).Msg("remote delete failed, will replay when the remote recovers")
	}
	return nil
}

// replay pushes the local state of a stale key to the remote: the value
// with its remaining ttl, or a delete when there is none. Caller holds the
// key lock.
func (r *Resilient) replay(ctx context.Context, key string) error {
	value, ttl, ok := r.local.peek(key)
	_, err := r.breaker.Execute(func() (interface{}, error) {
		if !ok {
			return nil, r.remote.Delete(ctx, key)
		}
		return nil, r.remote.Set(ctx, key, value, ttl)
	})
	r.track(key, err)
	if err == nil {
		r.log.Info().Str("key", key).Bool("deleted", !ok).Msg("replayed write to remote")
	}
	return err
}

func (r *Resilient) track(key string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.stale[key] = struct{}{}
	} else {
		delete(r.stale, key)
	}
}

func (r *Resilient) isStale(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.stale[key]
	return ok
}

// Pending reports how many keys still wait for a replay.
func (r *Resilient) Pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.stale)
}

// State reports the circuit state ("closed", "half-open", "open").
func (r *Resilient) State() string {
	return r.breaker.State().String()
}

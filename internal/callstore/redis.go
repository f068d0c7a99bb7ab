package callstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix = "voiceintake:call:"
	defaultActiveKey = "voiceintake:active_calls"

	// maxTxAttempts bounds optimistic-lock retries for one update.
	maxTxAttempts = 8
)

// RedisOption configures a [RedisStore].
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the prefix of per-call keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(r *RedisStore) {
		if prefix != "" {
			r.prefix = prefix
			r.active = prefix + "active"
		}
	}
}

// WithRedisClock replaces time.Now, for tests.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(r *RedisStore) {
		if now != nil {
			r.now = now
		}
	}
}

// RedisStore keeps call state in Redis so several service replicas behind a
// load balancer can serve turns of the same call. Each call is one string key
// holding the sonic-encoded [State]; the key TTL is the idle timeout and is
// refreshed on every write. A set of call IDs backs [RedisStore.Len] and
// [RedisStore.Sweep].
type RedisStore struct {
	client redis.UniversalClient
	idle   time.Duration
	prefix string
	active string
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a [RedisStore] using client. The caller owns client
// and closes it after the store is no longer used.
func NewRedisStore(client redis.UniversalClient, idle time.Duration, opts ...RedisOption) *RedisStore {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	r := &RedisStore{
		client: client,
		idle:   idle,
		prefix: defaultKeyPrefix,
		active: defaultActiveKey,
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Ping checks connectivity; it backs the readiness probe.
func (r *RedisStore) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("callstore: redis ping: %w", err)
	}
	return nil
}

func (r *RedisStore) key(callID string) string { return r.prefix + callID }

func decodeState(b []byte) (*State, error) {
	var st State
	if err := sonic.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("callstore: decode state: %w", err)
	}
	if st.Collected == nil {
		st.Collected = map[string]string{}
	}
	return &st, nil
}

// watch runs fn inside an optimistic transaction on callID's key and retries
// when another client modified the key concurrently.
func (r *RedisStore) watch(ctx context.Context, callID string, fn func(tx *redis.Tx) error) error {
	var err error
	for range maxTxAttempts {
		err = r.client.Watch(ctx, fn, r.key(callID))
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("callstore: call %s: too much contention: %w", callID, err)
}

// write queues the SET and active-set bookkeeping for st on pipe.
func (r *RedisStore) write(ctx context.Context, pipe redis.Pipeliner, st *State) error {
	b, err := sonic.Marshal(st)
	if err != nil {
		return fmt.Errorf("callstore: encode state: %w", err)
	}
	pipe.Set(ctx, r.key(st.CallID), b, r.idle)
	pipe.SAdd(ctx, r.active, st.CallID)
	return nil
}

// GetOrCreate implements [Store].
func (r *RedisStore) GetOrCreate(ctx context.Context, callID string, init func(*State)) (*State, bool, error) {
	var (
		out     *State
		created bool
	)
	err := r.watch(ctx, callID, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, r.key(callID)).Bytes()
		switch {
		case err == nil:
			out, err = decodeState(b)
			created = false
			return err
		case !errors.Is(err, redis.Nil):
			return err
		}

		now := r.now()
		st := &State{
			CallID:    callID,
			Step:      -1,
			Collected: map[string]string{},
			Status:    StatusNotStarted,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if init != nil {
			init(st)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.write(ctx, pipe, st)
		})
		if err != nil {
			return err
		}
		out, created = st, true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("callstore: get or create %s: %w", callID, err)
	}
	return out, created, nil
}

// Get implements [Store].
func (r *RedisStore) Get(ctx context.Context, callID string) (*State, error) {
	b, err := r.client.Get(ctx, r.key(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("callstore: get %s: %w", callID, err)
	}
	return decodeState(b)
}

// Update implements [Store].
func (r *RedisStore) Update(ctx context.Context, callID string, fn func(*State) error) (*State, error) {
	var (
		out   *State
		fnErr error
	)
	err := r.watch(ctx, callID, func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, r.key(callID)).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		st, err := decodeState(b)
		if err != nil {
			return err
		}
		if fnErr = fn(st); fnErr != nil {
			return fnErr
		}
		st.UpdatedAt = r.now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			return r.write(ctx, pipe, st)
		})
		if err != nil {
			return err
		}
		out = st
		return nil
	})
	switch {
	case err == nil:
		return out, nil
	case fnErr != nil:
		return nil, fnErr
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	}
	return nil, fmt.Errorf("callstore: update %s: %w", callID, err)
}

// Delete implements [Store]. A call whose key already expired but whose ID is
// still in the active set counts as removed, so it is not reported again by
// [RedisStore.Sweep].
func (r *RedisStore) Delete(ctx context.Context, callID string) (bool, error) {
	var del, srem *redis.IntCmd
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		del = pipe.Del(ctx, r.key(callID))
		srem = pipe.SRem(ctx, r.active, callID)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("callstore: delete %s: %w", callID, err)
	}
	return del.Val() > 0 || srem.Val() > 0, nil
}

// Sweep implements [Store]. Redis already expired the idle keys; Sweep drops
// their IDs from the active set.
func (r *RedisStore) Sweep(ctx context.Context) (int, error) {
	ids, err := r.client.SMembers(ctx, r.active).Result()
	if err != nil {
		return 0, fmt.Errorf("callstore: sweep: %w", err)
	}
	n := 0
	for _, id := range ids {
		exists, err := r.client.Exists(ctx, r.key(id)).Result()
		if err != nil {
			return n, fmt.Errorf("callstore: sweep %s: %w", id, err)
		}
		if exists > 0 {
			continue
		}
		if err := r.client.SRem(ctx, r.active, id).Err(); err != nil {
			return n, fmt.Errorf("callstore: sweep %s: %w", id, err)
		}
		n++
	}
	return n, nil
}

// Len implements [Store]. IDs of expired calls count until the next sweep.
func (r *RedisStore) Len(ctx context.Context) (int, error) {
	n, err := r.client.SCard(ctx, r.active).Result()
	if err != nil {
		return 0, fmt.Errorf("callstore: len: %w", err)
	}
	return int(n), nil
}

// Package statecache holds the per-key FSM states in sharded in-memory maps.
// A miss rehydrates from the persistent store: an incomplete last record
// reconstructs the FSM mid-operation, anything else starts a fresh state from
// the current sample. The cache itself never persists; only lifecycle command
// emissions do.
package statecache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/99souls/fuelwatch/engine/internal/fsm"
	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/storage"
	"github.com/99souls/fuelwatch/engine/telemetry/logging"
)

// Key identifies one tracked tank.
type Key struct {
	Object models.ObjectID
	Tank   models.TankID
}

func (k Key) String() string { return k.Object.String() + "/" + k.Tank.String() }

func shardIndex(k Key, mask uint64) uint64 {
	h := fnv.New32a()
	_, _ = h.Write(k.Object[:])
	_, _ = h.Write(k.Tank[:])
	return uint64(h.Sum32()) & mask
}

func normalizeShards(n int) int {
	if n <= 0 || (n&(n-1)) != 0 {
		return 16
	}
	return n
}

// ChargeCache maps keys to charge FSM states.
type ChargeCache struct {
	shards []*chargeShard
	mask   uint64
	store  storage.ChargeStore
	log    logging.Logger
}

type chargeShard struct {
	mu     sync.RWMutex
	states map[Key]*fsm.ChargeState
}

// NewChargeCache builds a cache over the given store. A shards value that is
// not a positive power of two falls back to 16.
func NewChargeCache(store storage.ChargeStore, shards int, log logging.Logger) *ChargeCache {
	n := normalizeShards(shards)
	ss := make([]*chargeShard, n)
	for i := range ss {
		ss[i] = &chargeShard{states: make(map[Key]*fsm.ChargeState)}
	}
	return &ChargeCache{shards: ss, mask: uint64(n - 1), store: store, log: log}
}

// Get returns the cached state for the event's key, rehydrating from storage
// on a miss. Storage failures other than not-found/corrupt are propagated.
func (c *ChargeCache) Get(ctx context.Context, ev models.FuelDataEvent) (*fsm.ChargeState, error) {
	key := Key{Object: ev.ObjectID, Tank: ev.Tank.ID}
	shard := c.shards[shardIndex(key, c.mask)]

	shard.mu.RLock()
	state := shard.states[key]
	shard.mu.RUnlock()
	if state != nil {
		return state, nil
	}

	state, err := c.rehydrate(ctx, ev, key)
	if err != nil {
		return nil, err
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if existing := shard.states[key]; existing != nil {
		return existing, nil
	}
	shard.states[key] = state
	return state, nil
}

func (c *ChargeCache) rehydrate(ctx context.Context, ev models.FuelDataEvent, key Key) (*fsm.ChargeState, error) {
	last, err := c.store.GetLast(ctx, ev.OrganizationID, ev.ObjectID, ev.Tank.ID)
	switch {
	case err == nil:
		if state := fsm.ChargeStateFromRecord(last); state != nil {
			c.log.InfoCtx(ctx, "charge state rehydrated mid-operation", "key", key.String(), "charge_id", last.ID)
			return state, nil
		}
	case errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		c.log.WarnCtx(ctx, "corrupt charge record, starting fresh state", "key", key.String())
	default:
		return nil, fmt.Errorf("rehydrate charge state %s: %w", key, err)
	}
	return fsm.NewChargeState(ev.Sample), nil
}

// Set stores or overwrites the state for a key.
func (c *ChargeCache) Set(key Key, state *fsm.ChargeState) {
	shard := c.shards[shardIndex(key, c.mask)]
	shard.mu.Lock()
	shard.states[key] = state
	shard.mu.Unlock()
}

// Len returns the number of cached keys.
func (c *ChargeCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.states)
		shard.mu.RUnlock()
	}
	return total
}

// DischargeCache maps keys to discharge FSM states.
type DischargeCache struct {
	shards []*dischargeShard
	mask   uint64
	store  storage.DischargeStore
	log    logging.Logger
}

type dischargeShard struct {
	mu     sync.RWMutex
	states map[Key]*fsm.DischargeState
}

// NewDischargeCache builds a cache over the given store.
func NewDischargeCache(store storage.DischargeStore, shards int, log logging.Logger) *DischargeCache {
	n := normalizeShards(shards)
	ss := make([]*dischargeShard, n)
	for i := range ss {
		ss[i] = &dischargeShard{states: make(map[Key]*fsm.DischargeState)}
	}
	return &DischargeCache{shards: ss, mask: uint64(n - 1), store: store, log: log}
}

// Get returns the cached state for the event's key, rehydrating on a miss.
func (c *DischargeCache) Get(ctx context.Context, ev models.FuelDataEvent) (*fsm.DischargeState, error) {
	key := Key{Object: ev.ObjectID, Tank: ev.Tank.ID}
	shard := c.shards[shardIndex(key, c.mask)]

	shard.mu.RLock()
	state := shard.states[key]
	shard.mu.RUnlock()
	if state != nil {
		return state, nil
	}

	state, err := c.rehydrate(ctx, ev, key)
	if err != nil {
		return nil, err
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()
	if existing := shard.states[key]; existing != nil {
		return existing, nil
	}
	shard.states[key] = state
	return state, nil
}

func (c *DischargeCache) rehydrate(ctx context.Context, ev models.FuelDataEvent, key Key) (*fsm.DischargeState, error) {
	last, err := c.store.GetLast(ctx, ev.OrganizationID, ev.ObjectID, ev.Tank.ID)
	switch {
	case err == nil:
		if state := fsm.DischargeStateFromRecord(last); state != nil {
			c.log.InfoCtx(ctx, "discharge state rehydrated mid-operation", "key", key.String(), "discharge_id", last.ID)
			return state, nil
		}
	case errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		c.log.WarnCtx(ctx, "corrupt discharge record, starting fresh state", "key", key.String())
	default:
		return nil, fmt.Errorf("rehydrate discharge state %s: %w", key, err)
	}
	return fsm.NewDischargeState(ev.Sample), nil
}

// Set stores or overwrites the state for a key.
func (c *DischargeCache) Set(key Key, state *fsm.DischargeState) {
	shard := c.shards[shardIndex(key, c.mask)]
	shard.mu.Lock()
	shard.states[key] = state
	shard.mu.Unlock()
}

// Len returns the number of cached keys.
func (c *DischargeCache) Len() int {
	total := 0
	for _, shard := range c.shards {
		shard.mu.RLock()
		total += len(shard.states)
		shard.mu.RUnlock()
	}
	return total
}

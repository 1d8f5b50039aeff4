// Package redisstore implements the charge and discharge stores on Redis.
// Records are JSON blobs under per-record keys; two sorted sets scored by the
// operation begin time index each (org, object, tank) key and each
// (org, object) pair, which makes GetLast a single ZREVRANGE and window
// queries a ZRANGEBYSCORE.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/99souls/fuelwatch/engine/models"
	"github.com/99souls/fuelwatch/engine/storage"
)

type keys struct{ prefix string }

func (k keys) record(org models.OrganizationID, id string) string {
	return fmt.Sprintf("%s:%s:rec:%s", k.prefix, org, id)
}

func (k keys) tankIndex(org models.OrganizationID, object models.ObjectID, tank models.TankID) string {
	return fmt.Sprintf("%s:%s:tank:%s:%s", k.prefix, org, object, tank)
}

func (k keys) objectIndex(org models.OrganizationID, object models.ObjectID) string {
	return fmt.Sprintf("%s:%s:obj:%s", k.prefix, org, object)
}

// ChargeStore is a Redis-backed storage.ChargeStore.
type ChargeStore struct {
	rdb  redis.UniversalClient
	keys keys
}

// NewChargeStore builds the store over an existing client.
func NewChargeStore(rdb redis.UniversalClient) *ChargeStore {
	return &ChargeStore{rdb: rdb, keys: keys{prefix: "fuelwatch:charge"}}
}

func (s *ChargeStore) Put(ctx context.Context, charge models.FuelCharge) error {
	raw, err := json.Marshal(charge)
	if err != nil {
		return err
	}
	score := float64(charge.Begin.UnixMilli())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keys.record(charge.OrganizationID, charge.ID.String()), raw, 0)
	pipe.ZAdd(ctx, s.keys.tankIndex(charge.OrganizationID, charge.ObjectID, charge.TankID), redis.Z{Score: score, Member: charge.ID.String()})
	pipe.ZAdd(ctx, s.keys.objectIndex(charge.OrganizationID, charge.ObjectID), redis.Z{Score: score, Member: charge.ID.String()})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *ChargeStore) fetch(ctx context.Context, org models.OrganizationID, id string) (models.FuelCharge, error) {
	raw, err := s.rdb.Get(ctx, s.keys.record(org, id)).Bytes()
	if err == redis.Nil {
		return models.FuelCharge{}, storage.ErrNotFound
	}
	if err != nil {
		return models.FuelCharge{}, err
	}
	var charge models.FuelCharge
	if err := json.Unmarshal(raw, &charge); err != nil {
		return models.FuelCharge{}, fmt.Errorf("%w: charge %s: %v", storage.ErrCorrupt, id, err)
	}
	return charge, nil
}

func (s *ChargeStore) Get(ctx context.Context, org models.OrganizationID, id models.ChargeID) (models.FuelCharge, error) {
	return s.fetch(ctx, org, id.String())
}

func (s *ChargeStore) GetLast(ctx context.Context, org models.OrganizationID, object models.ObjectID, tank models.TankID) (models.FuelCharge, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.keys.tankIndex(org, object, tank), 0, 0).Result()
	if err != nil {
		return models.FuelCharge{}, err
	}
	if len(ids) == 0 {
		return models.FuelCharge{}, storage.ErrNotFound
	}
	return s.fetch(ctx, org, ids[0])
}

// Query widens the lower bound by a day because the index is scored by Begin:
// an operation that started before the window can still overlap it. Anything
// longer than that is outside what a tank drain or refuel can physically last.
func (s *ChargeStore) Query(ctx context.Context, org models.OrganizationID, object models.ObjectID, from, to time.Time) ([]models.FuelCharge, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.keys.objectIndex(org, object), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.Add(-24*time.Hour).UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.FuelCharge, 0, len(ids))
	for _, id := range ids {
		charge, err := s.fetch(ctx, org, id)
		if err != nil {
			continue
		}
		if charge.End.Before(from) || charge.Begin.After(to) {
			continue
		}
		out = append(out, charge)
	}
	return out, nil
}

func (s *ChargeStore) Delete(ctx context.Context, org models.OrganizationID, id models.ChargeID) error {
	charge, err := s.Get(ctx, org, id)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keys.record(org, id.String()))
	pipe.ZRem(ctx, s.keys.tankIndex(org, charge.ObjectID, charge.TankID), id.String())
	pipe.ZRem(ctx, s.keys.objectIndex(org, charge.ObjectID), id.String())
	_, err = pipe.Exec(ctx)
	return err
}

// DischargeStore is a Redis-backed storage.DischargeStore.
type DischargeStore struct {
	rdb  redis.UniversalClient
	keys keys
}

// NewDischargeStore builds the store over an existing client.
func NewDischargeStore(rdb redis.UniversalClient) *DischargeStore {
	return &DischargeStore{rdb: rdb, keys: keys{prefix: "fuelwatch:discharge"}}
}

func (s *DischargeStore) Put(ctx context.Context, discharge models.FuelDischarge) error {
	raw, err := json.Marshal(discharge)
	if err != nil {
		return err
	}
	score := float64(discharge.Begin.UnixMilli())
	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, s.keys.record(discharge.OrganizationID, discharge.ID.String()), raw, 0)
	pipe.ZAdd(ctx, s.keys.tankIndex(discharge.OrganizationID, discharge.ObjectID, discharge.TankID), redis.Z{Score: score, Member: discharge.ID.String()})
	pipe.ZAdd(ctx, s.keys.objectIndex(discharge.OrganizationID, discharge.ObjectID), redis.Z{Score: score, Member: discharge.ID.String()})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *DischargeStore) fetch(ctx context.Context, org models.OrganizationID, id string) (models.FuelDischarge, error) {
	raw, err := s.rdb.Get(ctx, s.keys.record(org, id)).Bytes()
	if err == redis.Nil {
		return models.FuelDischarge{}, storage.ErrNotFound
	}
	if err != nil {
		return models.FuelDischarge{}, err
	}
	var discharge models.FuelDischarge
	if err := json.Unmarshal(raw, &discharge); err != nil {
		return models.FuelDischarge{}, fmt.Errorf("%w: discharge %s: %v", storage.ErrCorrupt, id, err)
	}
	return discharge, nil
}

func (s *DischargeStore) Get(ctx context.Context, org models.OrganizationID, id models.DischargeID) (models.FuelDischarge, error) {
	return s.fetch(ctx, org, id.String())
}

func (s *DischargeStore) GetLast(ctx context.Context, org models.OrganizationID, object models.ObjectID, tank models.TankID) (models.FuelDischarge, error) {
	ids, err := s.rdb.ZRevRange(ctx, s.keys.tankIndex(org, object, tank), 0, 0).Result()
	if err != nil {
		return models.FuelDischarge{}, err
	}
	if len(ids) == 0 {
		return models.FuelDischarge{}, storage.ErrNotFound
	}
	return s.fetch(ctx, org, ids[0])
}

func (s *DischargeStore) Query(ctx context.Context, org models.OrganizationID, object models.ObjectID, from, to time.Time) ([]models.FuelDischarge, error) {
	ids, err := s.rdb.ZRangeByScore(ctx, s.keys.objectIndex(org, object), &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", from.Add(-24*time.Hour).UnixMilli()),
		Max: fmt.Sprintf("%d", to.UnixMilli()),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.FuelDischarge, 0, len(ids))
	for _, id := range ids {
		discharge, err := s.fetch(ctx, org, id)
		if err != nil {
			continue
		}
		if discharge.End.Before(from) || discharge.Begin.After(to) {
			continue
		}
		out = append(out, discharge)
	}
	return out, nil
}

func (s *DischargeStore) Delete(ctx context.Context, org models.OrganizationID, id models.DischargeID) error {
	discharge, err := s.Get(ctx, org, id)
	if err != nil {
		return err
	}
	pipe := s.rdb.TxPipeline()
	pipe.Del(ctx, s.keys.record(org, id.String()))
	pipe.ZRem(ctx, s.keys.tankIndex(org, discharge.ObjectID, discharge.TankID), id.String())
	pipe.ZRem(ctx, s.keys.objectIndex(org, discharge.ObjectID), id.String())
	_, err = pipe.Exec(ctx)
	return err
}

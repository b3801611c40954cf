package dentalchart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ehr/odontogram/internal/domain/odontogram"
	"github.com/ehr/odontogram/internal/platform/db"
)

const DefaultCacheTTL = 10 * time.Minute

// cachedChart is the msgpack value stored per patient.
type cachedChart struct {
	Teeth map[string]map[string][]byte `msgpack:"teeth"`
}

// cachedRepo is a read-through Redis cache in front of another repository.
// Redis failures are logged and the call falls through to the store.
type cachedRepo struct {
	next    ChartRepository
	rdb     *redis.Client
	ttl     time.Duration
	logger  zerolog.Logger
	metrics Recorder
}

func NewCachedRepository(next ChartRepository, rdb *redis.Client, ttl time.Duration, logger zerolog.Logger, metrics Recorder) ChartRepository {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &cachedRepo{next: next, rdb: rdb, ttl: ttl, logger: logger, metrics: metrics}
}

func chartKey(ctx context.Context, patientID uuid.UUID) string {
	return fmt.Sprintf("odontogram:%s:%s", db.TenantFromContext(ctx), patientID)
}

func (r *cachedRepo) Load(ctx context.Context, patientID uuid.UUID) (odontogram.RawState, error) {
	key := chartKey(ctx, patientID)
	b, err := r.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cc cachedChart
		if err := msgpack.Unmarshal(b, &cc); err == nil {
			r.metrics.CacheHit()
			return cc.raw(), nil
		}
		r.logger.Warn().Str("key", key).Msg("discarding undecodable cached chart")
	case errors.Is(err, redis.Nil):
	default:
		r.logger.Warn().Err(err).Str("key", key).Msg("chart cache read failed")
	}

	r.metrics.CacheMiss()
	raw, err := r.next.Load(ctx, patientID)
	if err != nil {
		return nil, err
	}
	if b, err := msgpack.Marshal(newCachedChart(raw)); err == nil {
		if err := r.rdb.Set(ctx, key, b, r.ttl).Err(); err != nil {
			r.logger.Warn().Err(err).Str("key", key).Msg("chart cache write failed")
		}
	}
	return raw, nil
}

func (r *cachedRepo) Replace(ctx context.Context, patientID uuid.UUID, state odontogram.State) (*SnapshotRecord, error) {
	rec, err := r.next.Replace(ctx, patientID, state)
	if err != nil {
		return nil, err
	}
	key := chartKey(ctx, patientID)
	if err := r.rdb.Del(ctx, key).Err(); err != nil {
		r.logger.Warn().Err(err).Str("key", key).Msg("chart cache invalidation failed")
	}
	return rec, nil
}

func (r *cachedRepo) ListSnapshots(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*SnapshotRecord, int, error) {
	return r.next.ListSnapshots(ctx, patientID, limit, offset)
}

func newCachedChart(raw odontogram.RawState) cachedChart {
	cc := cachedChart{Teeth: make(map[string]map[string][]byte, len(raw))}
	for tooth, surfaces := range raw {
		m := make(map[string][]byte, len(surfaces))
		for sid, v := range surfaces {
			m[sid] = v
		}
		cc.Teeth[tooth] = m
	}
	return cc
}

func (cc cachedChart) raw() odontogram.RawState {
	raw := make(odontogram.RawState, len(cc.Teeth))
	for tooth, surfaces := range cc.Teeth {
		m := make(map[string]json.RawMessage, len(surfaces))
		for sid, v := range surfaces {
			m[sid] = v
		}
		raw[tooth] = m
	}
	return raw
}

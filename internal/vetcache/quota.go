package vetcache

import (
	"context"

	"vetcache/internal/store"
)

// Estimate is a point-in-time read of storage use.
type Estimate struct {
	Usage int64 `json:"usage"`
	Quota int64 `json:"quota"`
}

// UsedFraction is Usage/Quota; a zero quota counts as full.
func (e Estimate) UsedFraction() float64 {
	if e.Quota <= 0 {
		return 1
	}
	return float64(e.Usage) / float64(e.Quota)
}

type Estimator interface {
	Estimate(ctx context.Context) (Estimate, error)
}

type Persister interface {
	Persist(ctx context.Context) (bool, error)
}

type storageEstimator struct {
	storage store.Storage
	quota   int64
}

func (e storageEstimator) Estimate(ctx context.Context) (Estimate, error) {
	if err := ctx.Err(); err != nil {
		return Estimate{}, err
	}
	usage, err := e.storage.Usage()
	if err != nil {
		return Estimate{}, err
	}
	return Estimate{Usage: usage, Quota: e.quota}, nil
}

// storagePersister grants persistence when the backend already keeps its
// data across restarts.
type storagePersister struct {
	storage store.Storage
}

func (p storagePersister) Persist(ctx context.Context) (bool, error) {
	return p.storage.Persistent(), ctx.Err()
}

// CheckQuota reads the storage estimate and evicts across all caches when
// use is above the threshold. It returns nil when estimates are unavailable.
func (m *CacheManager) CheckQuota(ctx context.Context) *Estimate {
	if m.estimator == nil {
		m.log.Debug().Msg("Storage estimate not supported")
		return nil
	}
	est, err := m.estimator.Estimate(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Could not estimate storage")
		return nil
	}
	if frac := est.UsedFraction(); frac > m.policy.QuotaThreshold {
		m.log.Warn().
			Float64("used", frac).
			Str("usage", formatBytes(est.Usage)).
			Str("quota", formatBytes(est.Quota)).
			Msg("Storage quota nearly exhausted, cleaning up")
		m.EvictAll()
	}
	return &est
}

// RequestPersistence asks for persistent storage. It reports false when
// persistence is unsupported or refused.
func (m *CacheManager) RequestPersistence(ctx context.Context) bool {
	if m.persister == nil {
		m.log.Debug().Msg("Persistent storage not supported")
		return false
	}
	granted, err := m.persister.Persist(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("Persistent storage request failed")
		return false
	}
	m.log.Debug().Bool("granted", granted).Msg("Persistent storage requested")
	return granted
}

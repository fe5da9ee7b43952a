package vetcache

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vetcache/internal/store"
)

type fixedEstimator struct {
	est Estimate
	err error
}

func (f fixedEstimator) Estimate(context.Context) (Estimate, error) {
	return f.est, f.err
}

type fixedPersister bool

func (p fixedPersister) Persist(context.Context) (bool, error) {
	return bool(p), nil
}

func TestUsedFraction(t *testing.T) {
	assert.Equal(t, 0.5, Estimate{Usage: 50, Quota: 100}.UsedFraction())
	assert.Equal(t, float64(1), Estimate{Usage: 0, Quota: 0}.UsedFraction())
	assert.Equal(t, float64(1), Estimate{Usage: 10, Quota: 0}.UsedFraction())
}

func TestCheckQuota(t *testing.T) {
	tests := []struct {
		name    string
		est     Estimate
		entries int
	}{
		{"below threshold", Estimate{Usage: 10, Quota: 100}, 150},
		{"at threshold", Estimate{Usage: 80, Quota: 100}, 150},
		{"above threshold", Estimate{Usage: 81, Quota: 100}, 50},
		{"zero quota", Estimate{Usage: 0, Quota: 0}, 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemory()
			m := newTestManager(t, st, testConfig().Cache, fixedEstimator{est: tt.est})
			seed(t, st, "images-v1", 150, 1)

			got := m.CheckQuota(context.Background())
			require.NotNil(t, got)
			assert.Equal(t, tt.est, *got)
			assert.Len(t, keysOf(t, st, "images-v1"), tt.entries)
		})
	}
}

func TestCheckQuotaUnsupported(t *testing.T) {
	st := store.NewMemory()
	m := newTestManager(t, st, testConfig().Cache, nil)
	assert.Nil(t, m.CheckQuota(context.Background()))

	m = newTestManager(t, st, testConfig().Cache, fixedEstimator{err: errors.New("no estimate")})
	assert.Nil(t, m.CheckQuota(context.Background()))
}

func TestStorageEstimator(t *testing.T) {
	st := store.NewMemory()
	seed(t, st, "api-v1", 4, 25)
	est, err := storageEstimator{storage: st, quota: 1000}.Estimate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Estimate{Usage: 100, Quota: 1000}, est)
}

func TestRequestPersistence(t *testing.T) {
	st := store.NewMemory()
	cfg := testConfig().Cache

	m := NewCacheManager(st, cfg, nil, nil, zerolog.Nop())
	assert.False(t, m.RequestPersistence(context.Background()))

	m = NewCacheManager(st, cfg, nil, fixedPersister(true), zerolog.Nop())
	assert.True(t, m.RequestPersistence(context.Background()))

	m = NewCacheManager(st, cfg, nil, storagePersister{storage: st}, zerolog.Nop())
	assert.False(t, m.RequestPersistence(context.Background()), "memory storage is not persistent")
}

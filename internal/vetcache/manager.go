package vetcache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"vetcache/internal/store"
)

// CacheNames are the three version-tagged named caches.
type CacheNames struct {
	Static string
	API    string
	Images string
}

// All lists the names in fallback order: static, api, images.
func (n CacheNames) All() []string {
	return []string{n.Static, n.API, n.Images}
}

func (n CacheNames) has(name string) bool {
	return name == n.Static || name == n.API || name == n.Images
}

type Policy struct {
	// Eviction trims a cache holding more than MaxEntries down to its
	// TargetEntries newest entries.
	MaxEntries    int
	TargetEntries int
	// MaxTotalSize is the aggregate body size above which a cache size
	// query sweeps every cache.
	MaxTotalSize int64
	// QuotaThreshold is the used/quota fraction that triggers cleanup.
	QuotaThreshold float64
}

// CacheManager owns the storage handle, the cache names and the policy
// constants. It is created once per worker.
type CacheManager struct {
	storage   store.Storage
	names     CacheNames
	policy    Policy
	manifest  []string
	estimator Estimator
	persister Persister

	log     zerolog.Logger
	warnLog *rateLimitedLogger
}

func NewCacheManager(st store.Storage, cfg CacheConfig, estimator Estimator, persister Persister, log zerolog.Logger) *CacheManager {
	log = log.With().Str("component", "caches").Logger()
	return &CacheManager{
		storage:   st,
		names:     cfg.Names(),
		policy:    cfg.policy(),
		manifest:  append([]string(nil), cfg.Manifest...),
		estimator: estimator,
		persister: persister,
		log:       log,
		warnLog:   newRateLimitedLogger(log, time.Minute),
	}
}

func (m *CacheManager) Names() CacheNames { return m.names }

func (m *CacheManager) Policy() Policy { return m.policy }

func (m *CacheManager) Storage() store.Storage { return m.storage }

// Install opens the three caches, precaches the static manifest and checks
// the storage quota, returning once every sub-task has settled. A manifest
// fetch failure fails the install.
func (m *CacheManager) Install(ctx context.Context, fetcher Fetcher) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, name := range m.names.All() {
		name := name
		g.Go(func() error {
			if _, err := m.storage.Open(name); err != nil {
				return fmt.Errorf("open %s: %w", name, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		return m.precache(gctx, fetcher)
	})
	g.Go(func() error {
		m.CheckQuota(gctx)
		m.RequestPersistence(gctx)
		return nil
	})
	return g.Wait()
}

// precache stores the manifest all or nothing: nothing is written unless
// every path fetched with an ok status.
func (m *CacheManager) precache(ctx context.Context, fetcher Fetcher) error {
	entries := make([]store.Entry, len(m.manifest))
	for i, path := range m.manifest {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		ent, err := fetcher.Fetch(ctx, req)
		if err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
		if !ent.OK() {
			return fmt.Errorf("precache %s: status %d", path, ent.Status)
		}
		entries[i] = ent
	}

	c, err := m.storage.Open(m.names.Static)
	if err != nil {
		return err
	}
	for i, path := range m.manifest {
		if err := c.Put(path, entries[i]); err != nil {
			return fmt.Errorf("precache %s: %w", path, err)
		}
	}
	m.log.Debug().Int("paths", len(m.manifest)).Msg("Precached static manifest")
	return nil
}

// Activate deletes every cache whose name is not one of the current three.
// Failed deletes are logged and skipped.
func (m *CacheManager) Activate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	names, err := m.storage.Names()
	if err != nil {
		return err
	}
	var g errgroup.Group
	for _, name := range names {
		if m.names.has(name) {
			continue
		}
		name := name
		g.Go(func() error {
			if _, err := m.storage.Delete(name); err != nil {
				m.log.Warn().Err(err).Str("cache", name).Msg("Could not delete stale cache")
				return nil
			}
			m.log.Info().Str("cache", name).Msg("Deleted stale cache")
			return nil
		})
	}
	return g.Wait()
}

// ClearAll deletes every named cache.
func (m *CacheManager) ClearAll() error {
	names, err := m.storage.Names()
	if err != nil {
		return err
	}
	for _, name := range names {
		if _, err := m.storage.Delete(name); err != nil {
			return fmt.Errorf("delete %s: %w", name, err)
		}
	}
	m.log.Info().Int("caches", len(names)).Msg("Cleared all caches")
	return nil
}

// TotalSize sums the body bytes of every entry in every cache. When the sum
// exceeds MaxTotalSize all caches are swept; the returned size is the one
// measured before the sweep.
func (m *CacheManager) TotalSize() (int64, error) {
	names, err := m.storage.Names()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, name := range names {
		c, err := m.storage.Open(name)
		if err != nil {
			return 0, err
		}
		size, err := c.Size()
		if err != nil {
			return 0, err
		}
		total += size
	}
	cacheBytes.Set(float64(total))

	if total > m.policy.MaxTotalSize {
		m.warnLog.Warn().
			Str("size", formatBytes(total)).
			Str("max", formatBytes(m.policy.MaxTotalSize)).
			Msg("Caches over size limit, evicting")
		m.EvictAll()
	}
	return total, nil
}

// MatchAny looks key up in static, then api, then images.
func (m *CacheManager) MatchAny(key string) (store.Entry, bool) {
	for _, name := range m.names.All() {
		if ent, ok := m.match(name, key); ok {
			return ent, true
		}
	}
	return store.Entry{}, false
}

func (m *CacheManager) match(name, key string) (store.Entry, bool) {
	c, err := m.storage.Open(name)
	if err != nil {
		m.log.Error().Err(err).Str("cache", name).Msg("Could not open cache")
		return store.Entry{}, false
	}
	ent, ok, err := c.Match(key)
	if err != nil {
		m.log.Error().Err(err).Str("cache", name).Str("key", key).Msg("Could not read from cache")
		return store.Entry{}, false
	}
	return ent, ok
}

func (m *CacheManager) put(name, key string, ent store.Entry) {
	c, err := m.storage.Open(name)
	if err == nil {
		err = c.Put(key, ent)
	}
	if err != nil {
		m.log.Error().Err(err).Str("cache", name).Str("key", key).Msg("Could not write to cache")
		return
	}
	m.log.Trace().Str("cache", name).Str("key", key).Msg("Cache write")
}

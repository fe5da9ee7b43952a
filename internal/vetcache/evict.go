package vetcache

// EvictOldest trims the named cache to its TargetEntries newest entries once
// it holds more than MaxEntries. Age is the store's insertion order only;
// reads do not refresh an entry. It returns the number of deleted entries.
func (m *CacheManager) EvictOldest(name string) (int, error) {
	exists, err := m.storage.Has(name)
	if err != nil || !exists {
		return 0, err
	}
	c, err := m.storage.Open(name)
	if err != nil {
		return 0, err
	}
	keys, err := c.Keys()
	if err != nil {
		return 0, err
	}
	if len(keys) <= m.policy.MaxEntries {
		return 0, nil
	}

	victims := keys[:len(keys)-m.policy.TargetEntries]
	deleted := 0
	for _, key := range victims {
		ok, err := c.Delete(key)
		if err != nil {
			return deleted, err
		}
		if ok {
			deleted++
		}
	}
	evictedEntries.WithLabelValues(name).Add(float64(deleted))
	m.log.Debug().
		Str("cache", name).
		Int("before", len(keys)).
		Int("deleted", deleted).
		Msg("Evicted oldest entries")
	return deleted, nil
}

// EvictAll runs EvictOldest over every cache in storage.
func (m *CacheManager) EvictAll() int {
	names, err := m.storage.Names()
	if err != nil {
		m.log.Error().Err(err).Msg("Could not list caches for eviction")
		return 0
	}
	total := 0
	for _, name := range names {
		n, err := m.EvictOldest(name)
		if err != nil {
			m.log.Error().Err(err).Str("cache", name).Msg("Eviction failed")
		}
		total += n
	}
	return total
}

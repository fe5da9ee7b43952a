package vetcache

import (
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// statsCollector tracks the body sizes of responses served from the caches
// or the network.
type statsCollector struct {
	responses atomic.Uint64
	bytes     atomic.Uint64
	minBytes  atomic.Uint64
	maxBytes  atomic.Uint64
	offline   atomic.Uint64
}

func newStatsCollector() *statsCollector {
	s := &statsCollector{}
	s.minBytes.Store(math.MaxUint64)
	return s
}

func (s *statsCollector) Observe(source Source, bodyLen int) {
	if source == SourceOffline {
		s.offline.Add(1)
		return
	}
	if bodyLen < 0 {
		bodyLen = 0
	}
	n := uint64(bodyLen)
	s.responses.Add(1)
	s.bytes.Add(n)

	for {
		cur := s.minBytes.Load()
		if n >= cur || s.minBytes.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.maxBytes.Load()
		if n <= cur || s.maxBytes.CompareAndSwap(cur, n) {
			break
		}
	}
}

type statsSnapshot struct {
	Responses uint64
	Offline   uint64
	MinBytes  uint64
	MaxBytes  uint64
	AvgBytes  uint64
}

func (s *statsCollector) Snapshot() statsSnapshot {
	snap := statsSnapshot{Offline: s.offline.Load()}
	count := s.responses.Load()
	if count == 0 {
		return snap
	}
	snap.Responses = count
	snap.MinBytes = s.minBytes.Load()
	snap.MaxBytes = s.maxBytes.Load()
	snap.AvgBytes = s.bytes.Load() / count
	return snap
}

func (w *Worker) statsLoop(every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-t.C:
			w.logStats()
		}
	}
}

func (w *Worker) logStats() {
	names, err := w.storage.Names()
	if err != nil {
		w.log.Warn().Err(err).Msg("Could not list caches for stats")
		return
	}
	caches := zerolog.Dict()
	var total int64
	for _, name := range names {
		c, err := w.storage.Open(name)
		if err != nil {
			continue
		}
		keys, err := c.Keys()
		if err != nil {
			continue
		}
		size, _ := c.Size()
		total += size
		caches.Dict(name, zerolog.Dict().Int("entries", len(keys)).Str("size", formatBytes(size)))
	}
	ss := w.stats.Snapshot()
	w.log.Info().
		Dict("caches", caches).
		Str("total", formatBytes(total)).
		Uint64("responses", ss.Responses).
		Uint64("offline", ss.Offline).
		Str("resp_min", formatBytes(int64(ss.MinBytes))).
		Str("resp_avg", formatBytes(int64(ss.AvgBytes))).
		Str("resp_max", formatBytes(int64(ss.MaxBytes))).
		Msg("Cache stats")
}

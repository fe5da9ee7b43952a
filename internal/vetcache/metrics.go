package vetcache

import "github.com/prometheus/client_golang/prometheus"

var (
	responsesServed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vetcache",
		Name:      "responses_total",
		Help:      "Responses written, by route and the source that produced them.",
	}, []string{"route", "source"})

	evictedEntries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vetcache",
		Name:      "evicted_entries_total",
		Help:      "Entries removed by the oldest-first eviction policy.",
	}, []string{"cache"})

	cacheBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vetcache",
		Name:      "cache_bytes",
		Help:      "Aggregate body size of all caches at the last size query.",
	})

	backgroundRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vetcache",
		Name:      "background_refresh_total",
		Help:      "Stale-while-revalidate refreshes, by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(responsesServed, evictedEntries, cacheBytes, backgroundRefreshes)
}

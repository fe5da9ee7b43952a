package vetcache

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// rateLimitedLogger lets at most one warning through per interval. Suppressed
// calls return a nil event, which zerolog treats as a no-op.
type rateLimitedLogger struct {
	mu       sync.Mutex
	lastAt   time.Time
	interval time.Duration
	log      zerolog.Logger
}

func newRateLimitedLogger(log zerolog.Logger, interval time.Duration) *rateLimitedLogger {
	return &rateLimitedLogger{log: log, interval: interval}
}

func (l *rateLimitedLogger) Warn() *zerolog.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	if !l.lastAt.IsZero() && now.Sub(l.lastAt) < l.interval {
		return nil
	}
	l.lastAt = now
	return l.log.Warn()
}

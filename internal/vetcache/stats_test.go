package vetcache

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatsCollector(t *testing.T) {
	s := newStatsCollector()
	assert.Equal(t, statsSnapshot{}, s.Snapshot())

	s.Observe(SourceNetwork, 10)
	s.Observe(SourceCache, 30)
	s.Observe(SourceStale, 20)
	s.Observe(SourceOffline, 999)

	assert.Equal(t, statsSnapshot{
		Responses: 3,
		Offline:   1,
		MinBytes:  10,
		MaxBytes:  30,
		AvgBytes:  20,
	}, s.Snapshot())
}

func TestStatsLogged(t *testing.T) {
	var buf bytes.Buffer
	cfg := testConfig()
	cfg.Logging.StatsEvery = "1h"
	require.NoError(t, cfg.compile())

	w := newTestWorker(t, cfg, nil, newFakeOrigin(), WithLogger(zerolog.New(&buf)))
	require.NoError(t, w.Start(context.Background()))
	w.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/admin", nil))

	w.logStats()
	out := buf.String()
	assert.Contains(t, out, `"message":"Cache stats"`)
	assert.Contains(t, out, `"static-v1":{"entries":5`)
	assert.Contains(t, out, `"responses":1`)
}

func TestRateLimitedLogger(t *testing.T) {
	var buf bytes.Buffer
	l := newRateLimitedLogger(zerolog.New(&buf), time.Hour)

	l.Warn().Msg("first")
	l.Warn().Msg("second")
	assert.Contains(t, buf.String(), "first")
	assert.NotContains(t, buf.String(), "second")
}

func TestSetupLogging(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.TraceLevel)

	var buf bytes.Buffer
	SetupLogging("warn", &buf)
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())

	SetupLogging("loud", &buf)
	assert.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
	assert.Contains(t, buf.String(), "Failed to parse log level")
}

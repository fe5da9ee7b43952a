package vetcache

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vetcache/internal/store"
)

func newTestManager(t *testing.T, st store.Storage, cfg CacheConfig, est Estimator) *CacheManager {
	t.Helper()
	return NewCacheManager(st, cfg, est, nil, zerolog.Nop())
}

func seed(t *testing.T, st store.Storage, name string, n int, bodyLen int) []string {
	t.Helper()
	c, err := st.Open(name)
	require.NoError(t, err)
	keys := make([]string, n)
	for i := 0; i < n; i++ {
		keys[i] = fmt.Sprintf("/entry/%03d", i)
		body := make([]byte, bodyLen)
		require.NoError(t, c.Put(keys[i], store.Entry{Status: http.StatusOK, Header: http.Header{}, Body: body}))
	}
	return keys
}

func keysOf(t *testing.T, st store.Storage, name string) []string {
	t.Helper()
	c, err := st.Open(name)
	require.NoError(t, err)
	keys, err := c.Keys()
	require.NoError(t, err)
	return keys
}

func TestInstallIsIdempotent(t *testing.T) {
	st := store.NewMemory()
	cfg := testConfig().Cache
	m := newTestManager(t, st, cfg, nil)
	origin := newFakeOrigin()

	require.NoError(t, m.Install(context.Background(), origin))
	require.NoError(t, m.Install(context.Background(), origin))

	names, err := st.Names()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"api-v1", "images-v1", "static-v1"}, names); diff != "" {
		t.Errorf("cache names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(cfg.Manifest, keysOf(t, st, "static-v1")); diff != "" {
		t.Errorf("static keys mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, keysOf(t, st, "api-v1"))
	assert.Empty(t, keysOf(t, st, "images-v1"))
}

func TestInstallManifestIsAllOrNothing(t *testing.T) {
	st := store.NewMemory()
	m := newTestManager(t, st, testConfig().Cache, nil)
	origin := newFakeOrigin()
	origin.setStatus("/favicon.ico", http.StatusNotFound)

	err := m.Install(context.Background(), origin)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/favicon.ico")
	assert.Empty(t, keysOf(t, st, "static-v1"))

	origin.setStatus("/favicon.ico", http.StatusOK)
	origin.offline.Store(true)
	require.Error(t, m.Install(context.Background(), origin))
	assert.Empty(t, keysOf(t, st, "static-v1"))
}

func TestActivateDeletesOtherVersions(t *testing.T) {
	st := store.NewMemory()
	origin := newFakeOrigin()

	v1 := newTestManager(t, st, testConfig().Cache, nil)
	require.NoError(t, v1.Install(context.Background(), origin))
	require.NoError(t, v1.Activate(context.Background()))
	seed(t, st, "api-v1", 5, 3)
	seed(t, st, "images-v1", 5, 3)
	seed(t, st, "some-other-cache", 2, 3)

	cfg := testConfig().Cache
	cfg.Version = "v2"
	v2 := newTestManager(t, st, cfg, nil)
	require.NoError(t, v2.Install(context.Background(), origin))
	require.NoError(t, v2.Activate(context.Background()))

	names, err := st.Names()
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"api-v2", "images-v2", "static-v2"}, names); diff != "" {
		t.Errorf("cache names mismatch (-want +got):\n%s", diff)
	}
	for _, name := range names {
		for _, key := range keysOf(t, st, name) {
			assert.NotContains(t, key, "/entry/", "v1 entry survived in %s", name)
		}
	}
}

func TestClearAll(t *testing.T) {
	st := store.NewMemory()
	m := newTestManager(t, st, testConfig().Cache, nil)
	seed(t, st, "static-v1", 3, 1)
	seed(t, st, "api-v1", 3, 1)

	require.NoError(t, m.ClearAll())
	names, err := st.Names()
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestTotalSize(t *testing.T) {
	st := store.NewMemory()
	m := newTestManager(t, st, testConfig().Cache, nil)
	seed(t, st, "api-v1", 1, 11)
	seed(t, st, "images-v1", 2, 100)

	size, err := m.TotalSize()
	require.NoError(t, err)
	assert.Equal(t, int64(211), size)
}

func TestTotalSizeOverLimitSweepsEveryCache(t *testing.T) {
	cfg := testConfig()
	cfg.Cache.MaxTotalSize = "1kb"
	require.NoError(t, cfg.compile())

	st := store.NewMemory()
	m := newTestManager(t, st, cfg.Cache, nil)
	seed(t, st, "static-v1", 150, 10)
	seed(t, st, "images-v1", 120, 1)
	seed(t, st, "api-v1", 20, 1)

	size, err := m.TotalSize()
	require.NoError(t, err)
	assert.Equal(t, int64(1500+120+20), size, "size is reported as measured before the sweep")

	assert.Len(t, keysOf(t, st, "static-v1"), 50)
	assert.Len(t, keysOf(t, st, "images-v1"), 50)
	assert.Len(t, keysOf(t, st, "api-v1"), 20)
}

func TestMatchAnyOrder(t *testing.T) {
	st := store.NewMemory()
	m := newTestManager(t, st, testConfig().Cache, nil)
	names := m.Names()

	m.put(names.Images, "/x", store.Entry{Status: http.StatusOK, Body: []byte("images")})
	ent, ok := m.MatchAny("/x")
	require.True(t, ok)
	assert.Equal(t, "images", string(ent.Body))

	m.put(names.API, "/x", store.Entry{Status: http.StatusOK, Body: []byte("api")})
	ent, _ = m.MatchAny("/x")
	assert.Equal(t, "api", string(ent.Body))

	m.put(names.Static, "/x", store.Entry{Status: http.StatusOK, Body: []byte("static")})
	ent, _ = m.MatchAny("/x")
	assert.Equal(t, "static", string(ent.Body))

	_, ok = m.MatchAny("/missing")
	assert.False(t, ok)
}

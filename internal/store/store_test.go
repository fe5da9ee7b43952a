package store

import (
	"fmt"
	"net/http"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestStorageBackends runs the same behaviour checks over every driver.
func TestStorageBackends(t *testing.T) {
	runTests := func(t *testing.T, open func(t *testing.T) Storage) {
		t.Run("put-match", testPutMatch(open))
		t.Run("insertion-order", testInsertionOrder(open))
		t.Run("overwrite-moves-to-newest", testOverwrite(open))
		t.Run("delete-cache", testDeleteCache(open))
		t.Run("size-and-usage", testSize(open))
	}

	t.Run("memory", func(t *testing.T) {
		runTests(t, func(t *testing.T) Storage { return NewMemory() })
	})
	t.Run("leveldb", func(t *testing.T) {
		runTests(t, func(t *testing.T) Storage {
			s, err := OpenLevelDB(filepath.Join(t.TempDir(), "leveldb"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		})
	})
	t.Run("sqlite", func(t *testing.T) {
		runTests(t, func(t *testing.T) Storage {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		})
	})
}

func testEntry(body string) Entry {
	return Entry{
		Status:   http.StatusOK,
		Header:   http.Header{"Content-Type": []string{"text/plain"}},
		Body:     []byte(body),
		StoredAt: 1,
	}
}

func testPutMatch(open func(t *testing.T) Storage) func(t *testing.T) {
	return func(t *testing.T) {
		s := open(t)
		c, err := s.Open("static-v1")
		require.NoError(t, err)

		_, ok, err := c.Match("/app.js")
		require.NoError(t, err)
		assert.False(t, ok)

		require.NoError(t, c.Put("/app.js", testEntry("console.log(1)")))
		got, ok, err := c.Match("/app.js")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, http.StatusOK, got.Status)
		assert.Equal(t, "text/plain", got.Header.Get("Content-Type"))
		assert.Equal(t, "console.log(1)", string(got.Body))

		has, err := s.Has("static-v1")
		require.NoError(t, err)
		assert.True(t, has)
	}
}

func testInsertionOrder(open func(t *testing.T) Storage) func(t *testing.T) {
	return func(t *testing.T) {
		s := open(t)
		c, err := s.Open("api-v1")
		require.NoError(t, err)

		want := make([]string, 0, 20)
		for i := 0; i < 20; i++ {
			key := fmt.Sprintf("/api/khach-hang?page=%02d", 19-i)
			want = append(want, key)
			require.NoError(t, c.Put(key, testEntry("x")))
		}
		// reads must not reorder
		_, _, err = c.Match(want[0])
		require.NoError(t, err)

		got, err := c.Keys()
		require.NoError(t, err)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("keys mismatch (-want +got):\n%s", diff)
		}
	}
}

func testOverwrite(open func(t *testing.T) Storage) func(t *testing.T) {
	return func(t *testing.T) {
		s := open(t)
		c, err := s.Open("images-v1")
		require.NoError(t, err)

		require.NoError(t, c.Put("/a.png", testEntry("a1")))
		require.NoError(t, c.Put("/b.png", testEntry("b")))
		require.NoError(t, c.Put("/a.png", testEntry("a2")))

		keys, err := c.Keys()
		require.NoError(t, err)
		assert.Equal(t, []string{"/b.png", "/a.png"}, keys)

		got, ok, err := c.Match("/a.png")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "a2", string(got.Body))

		deleted, err := c.Delete("/b.png")
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = c.Delete("/b.png")
		require.NoError(t, err)
		assert.False(t, deleted)
	}
}

func testDeleteCache(open func(t *testing.T) Storage) func(t *testing.T) {
	return func(t *testing.T) {
		s := open(t)
		for _, name := range []string{"static-v1", "api-v1"} {
			c, err := s.Open(name)
			require.NoError(t, err)
			require.NoError(t, c.Put("/x", testEntry("x")))
		}

		names, err := s.Names()
		require.NoError(t, err)
		assert.Equal(t, []string{"api-v1", "static-v1"}, names)

		deleted, err := s.Delete("static-v1")
		require.NoError(t, err)
		assert.True(t, deleted)
		deleted, err = s.Delete("static-v1")
		require.NoError(t, err)
		assert.False(t, deleted)

		c, err := s.Open("static-v1")
		require.NoError(t, err)
		keys, err := c.Keys()
		require.NoError(t, err)
		assert.Empty(t, keys)
	}
}

func testSize(open func(t *testing.T) Storage) func(t *testing.T) {
	return func(t *testing.T) {
		s := open(t)
		c, err := s.Open("api-v1")
		require.NoError(t, err)
		require.NoError(t, c.Put("/1", testEntry("12345")))
		require.NoError(t, c.Put("/2", testEntry("123")))
		require.NoError(t, c.Put("/1", testEntry("1")))

		size, err := c.Size()
		require.NoError(t, err)
		assert.Equal(t, int64(4), size)

		usage, err := s.Usage()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, usage, size)
	}
}

func TestLevelDBReopenKeepsOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "leveldb")
	s, err := OpenLevelDB(path)
	require.NoError(t, err)
	c, err := s.Open("static-v1")
	require.NoError(t, err)
	require.NoError(t, c.Put("/a.css", testEntry("a")))
	require.NoError(t, c.Put("/b.css", testEntry("b")))
	require.NoError(t, s.Close())

	s, err = OpenLevelDB(path)
	require.NoError(t, err)
	defer s.Close()
	c, err = s.Open("static-v1")
	require.NoError(t, err)
	require.NoError(t, c.Put("/c.css", testEntry("c")))

	keys, err := c.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.css", "/b.css", "/c.css"}, keys)
	assert.True(t, s.Persistent())
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := Open("redis", "")
	require.ErrorIs(t, err, ErrUnknownDriver)
}

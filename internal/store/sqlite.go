package store

import (
	"database/sql"
	"errors"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage keeps caches in two tables. The autoincrement seq column is
// the insertion order of entries.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
	persistent bool
}

// OpenSQLite opens (or creates) the database at filename.
// If file name is empty, a new in-memory db is opened.
func OpenSQLite(filename string) (*SQLiteStorage, error) {
	persistent := true
	if filename == "" {
		filename = ":memory:"
		persistent = false
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}
	// a single connection keeps an in-memory database alive and shared
	db.SetMaxOpenConns(1)

	stmts := []string{
		`CREATE TABLE IF NOT EXISTS caches (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			cache TEXT NOT NULL,
			key TEXT NOT NULL,
			status INTEGER,
			header BLOB,
			body BLOB,
			stored_at INTEGER,
			UNIQUE (cache, key)
		)`,
		"CREATE INDEX IF NOT EXISTS entries_cache_idx ON entries (cache, seq)",
	}
	if persistent {
		stmts = append(stmts, "PRAGMA journal_mode=WAL")
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
		persistent: persistent,
	}, nil
}

func (s *SQLiteStorage) Open(name string) (Cache, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)", name, time.Now().Unix())
	if err != nil {
		return nil, err
	}
	return &sqliteCache{s: s, name: name}, nil
}

func (s *SQLiteStorage) Has(name string) (bool, error) {
	var one int
	err := s.db.QueryRow("SELECT 1 FROM caches WHERE name = ?", name).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func (s *SQLiteStorage) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("DELETE FROM entries WHERE cache = ?", name); err != nil {
		return false, err
	}
	res, err := tx.Exec("DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, tx.Commit()
}

func (s *SQLiteStorage) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM caches ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) Usage() (int64, error) {
	var total int64
	err := s.db.QueryRow("SELECT COALESCE(SUM(LENGTH(body) + LENGTH(header)), 0) FROM entries").Scan(&total)
	return total, err
}

func (s *SQLiteStorage) Persistent() bool { return s.persistent }

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteCache struct {
	s    *SQLiteStorage
	name string
}

func (c *sqliteCache) Name() string { return c.name }

func (c *sqliteCache) Match(key string) (Entry, bool, error) {
	var (
		ent    Entry
		header []byte
	)
	err := c.s.db.QueryRow(
		"SELECT status, header, body, stored_at FROM entries WHERE cache = ? AND key = ?",
		c.name, key,
	).Scan(&ent.Status, &header, &ent.Body, &ent.StoredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if err := decodeGob(header, &ent.Header); err != nil {
		return Entry{}, false, err
	}
	return ent, true, nil
}

func (c *sqliteCache) Put(key string, ent Entry) error {
	header, err := encodeGob(cloneHeader(ent.Header))
	if err != nil {
		return err
	}
	body := ent.Body
	if body == nil {
		body = []byte{}
	}

	c.s.writeMutex.Lock()
	defer c.s.writeMutex.Unlock()
	tx, err := c.s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.Exec("INSERT OR IGNORE INTO caches (name, created_at) VALUES (?, ?)", c.name, time.Now().Unix()); err != nil {
		return err
	}
	// delete then insert so the key takes a new seq
	if _, err := tx.Exec("DELETE FROM entries WHERE cache = ? AND key = ?", c.name, key); err != nil {
		return err
	}
	_, err = tx.Exec(`INSERT INTO entries
		(cache, key, status, header, body, stored_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.name, key, ent.Status, header, body, ent.StoredAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (c *sqliteCache) Delete(key string) (bool, error) {
	c.s.writeMutex.Lock()
	defer c.s.writeMutex.Unlock()
	res, err := c.s.db.Exec("DELETE FROM entries WHERE cache = ? AND key = ?", c.name, key)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (c *sqliteCache) Keys() ([]string, error) {
	rows, err := c.s.db.Query("SELECT key FROM entries WHERE cache = ? ORDER BY seq", c.name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (c *sqliteCache) Size() (int64, error) {
	var total int64
	err := c.s.db.QueryRow("SELECT COALESCE(SUM(LENGTH(body)), 0) FROM entries WHERE cache = ?", c.name).Scan(&total)
	return total, err
}

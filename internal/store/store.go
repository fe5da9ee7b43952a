// Package store holds the named response caches the worker reads and writes.
//
// A Storage is the durable container of named caches; a Cache is a handle to
// one of them. Handles address their cache by name, so a handle opened before
// the cache was deleted writes into a freshly created cache of the same name.
package store

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownDriver = errors.New("unknown storage driver")
	ErrClosed        = errors.New("storage closed")
)

// Cache is one named, string-keyed collection of response snapshots.
//
// Implementations must be safe for concurrent use.
type Cache interface {
	Name() string
	// Match returns the entry stored under key.
	Match(key string) (Entry, bool, error)
	// Put stores ent under key. An existing entry for the key is replaced and
	// the key moves to the newest position.
	Put(key string, ent Entry) error
	// Delete removes the entry under key and reports whether it existed.
	Delete(key string) (bool, error)
	// Keys lists the keys in insertion order, oldest first.
	Keys() ([]string, error)
	// Size is the sum of the stored body lengths.
	Size() (int64, error)
}

// Storage owns the named caches.
type Storage interface {
	// Open returns the named cache, creating it if absent.
	Open(name string) (Cache, error)
	Has(name string) (bool, error)
	// Delete drops the named cache and all its entries.
	Delete(name string) (bool, error)
	// Names lists every cache currently present.
	Names() ([]string, error)
	// Usage is the number of bytes the stored entries occupy.
	Usage() (int64, error)
	// Persistent reports whether the data survives a process restart.
	Persistent() bool
	Close() error
}

// Open returns the storage backend for driver. path is ignored by the memory
// driver; for sqlite an empty path opens an in-memory database.
func Open(driver, path string) (Storage, error) {
	switch driver {
	case "", "leveldb":
		return OpenLevelDB(path)
	case "sqlite":
		return OpenSQLite(path)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, driver)
	}
}

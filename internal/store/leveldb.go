package store

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// Key layout:
//
//	n:<cache>                  cache marker
//	o:<cache>\x00<seq>         insertion order index, value is the entry key
//	e:<cache>\x00<key>         gob encoded Entry
//	m:<cache>\x00<key>         gob encoded diskMeta
//
// seq is a big-endian uint64 so that iterating the o: prefix yields keys
// oldest first.

type diskMeta struct {
	Seq   uint64
	Size  int64 // body bytes
	Bytes int64 // encoded entry bytes
}

type cacheMarker struct {
	CreatedAt int64
}

// LevelDBStorage persists caches in a goleveldb database.
type LevelDBStorage struct {
	db *leveldb.DB

	mu    sync.Mutex
	names map[string]struct{}
	index map[string]map[string]diskMeta
	seq   uint64
	usage int64
}

func OpenLevelDB(path string) (*LevelDBStorage, error) {
	if path == "" {
		path = "./data/leveldb"
	}
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, err
	}
	s := &LevelDBStorage{
		db:    db,
		names: map[string]struct{}{},
		index: map[string]map[string]diskMeta{},
	}
	if err := s.loadIndex(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func markerKey(name string) []byte { return []byte("n:" + name) }

func orderPrefix(name string) []byte { return []byte("o:" + name + "\x00") }

func orderKey(name string, seq uint64) []byte {
	p := orderPrefix(name)
	out := make([]byte, len(p)+8)
	copy(out, p)
	binary.BigEndian.PutUint64(out[len(p):], seq)
	return out
}

func entryKey(name, key string) []byte { return []byte("e:" + name + "\x00" + key) }

func metaPrefix(name string) []byte { return []byte("m:" + name + "\x00") }

func metaKey(name, key string) []byte { return []byte("m:" + name + "\x00" + key) }

func (s *LevelDBStorage) loadIndex() error {
	it := s.db.NewIterator(util.BytesPrefix([]byte("n:")), nil)
	for it.Next() {
		s.names[string(bytes.TrimPrefix(it.Key(), []byte("n:")))] = struct{}{}
	}
	it.Release()
	if err := it.Error(); err != nil {
		return err
	}

	it = s.db.NewIterator(util.BytesPrefix([]byte("m:")), nil)
	defer it.Release()
	for it.Next() {
		rest := bytes.TrimPrefix(it.Key(), []byte("m:"))
		sep := bytes.IndexByte(rest, 0)
		if sep < 0 {
			continue
		}
		name, key := string(rest[:sep]), string(rest[sep+1:])
		var meta diskMeta
		if err := decodeGob(it.Value(), &meta); err != nil {
			continue
		}
		idx, ok := s.index[name]
		if !ok {
			idx = map[string]diskMeta{}
			s.index[name] = idx
		}
		idx[key] = meta
		s.usage += meta.Bytes
		if meta.Seq > s.seq {
			s.seq = meta.Seq
		}
	}
	return it.Error()
}

func (s *LevelDBStorage) ensureLocked(name string, batch *leveldb.Batch) error {
	if _, ok := s.names[name]; ok {
		return nil
	}
	b, err := encodeGob(cacheMarker{CreatedAt: time.Now().Unix()})
	if err != nil {
		return err
	}
	batch.Put(markerKey(name), b)
	return nil
}

func (s *LevelDBStorage) Open(name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	batch := new(leveldb.Batch)
	if err := s.ensureLocked(name, batch); err != nil {
		return nil, err
	}
	if batch.Len() > 0 {
		if err := s.db.Write(batch, nil); err != nil {
			return nil, err
		}
		s.names[name] = struct{}{}
	}
	return &levelCache{s: s, name: name}, nil
}

func (s *LevelDBStorage) Has(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.names[name]
	return ok, nil
}

func (s *LevelDBStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return false, ErrClosed
	}
	_, existed := s.names[name]

	batch := new(leveldb.Batch)
	batch.Delete(markerKey(name))
	for _, prefix := range [][]byte{orderPrefix(name), []byte("e:" + name + "\x00"), metaPrefix(name)} {
		it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
		for it.Next() {
			batch.Delete(append([]byte(nil), it.Key()...))
		}
		it.Release()
		if err := it.Error(); err != nil {
			return false, err
		}
	}
	if err := s.db.Write(batch, nil); err != nil {
		return false, err
	}

	for _, meta := range s.index[name] {
		s.usage -= meta.Bytes
	}
	delete(s.index, name)
	delete(s.names, name)
	return existed, nil
}

func (s *LevelDBStorage) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *LevelDBStorage) Usage() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage, nil
}

func (s *LevelDBStorage) Persistent() bool { return true }

func (s *LevelDBStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

type levelCache struct {
	s    *LevelDBStorage
	name string
}

func (c *levelCache) Name() string { return c.name }

func (c *levelCache) Match(key string) (Entry, bool, error) {
	c.s.mu.Lock()
	db := c.s.db
	c.s.mu.Unlock()
	if db == nil {
		return Entry{}, false, ErrClosed
	}
	b, err := db.Get(entryKey(c.name, key), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var ent Entry
	if err := decodeGob(b, &ent); err != nil {
		return Entry{}, false, err
	}
	return ent, true, nil
}

func (c *levelCache) Put(key string, ent Entry) error {
	b, err := encodeGob(ent)
	if err != nil {
		return err
	}

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.db == nil {
		return ErrClosed
	}

	batch := new(leveldb.Batch)
	if err := c.s.ensureLocked(c.name, batch); err != nil {
		return err
	}
	idx := c.s.index[c.name]
	old, replaced := idx[key]
	if replaced {
		batch.Delete(orderKey(c.name, old.Seq))
	}

	meta := diskMeta{
		Seq:   c.s.seq + 1,
		Size:  int64(len(ent.Body)),
		Bytes: int64(len(b)),
	}
	mb, err := encodeGob(meta)
	if err != nil {
		return err
	}
	batch.Put(orderKey(c.name, meta.Seq), []byte(key))
	batch.Put(entryKey(c.name, key), b)
	batch.Put(metaKey(c.name, key), mb)
	if err := c.s.db.Write(batch, nil); err != nil {
		return err
	}

	c.s.seq = meta.Seq
	c.s.names[c.name] = struct{}{}
	if idx == nil {
		idx = map[string]diskMeta{}
		c.s.index[c.name] = idx
	}
	if replaced {
		c.s.usage -= old.Bytes
	}
	idx[key] = meta
	c.s.usage += meta.Bytes
	return nil
}

func (c *levelCache) Delete(key string) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.db == nil {
		return false, ErrClosed
	}
	meta, ok := c.s.index[c.name][key]
	if !ok {
		return false, nil
	}
	batch := new(leveldb.Batch)
	batch.Delete(orderKey(c.name, meta.Seq))
	batch.Delete(entryKey(c.name, key))
	batch.Delete(metaKey(c.name, key))
	if err := c.s.db.Write(batch, nil); err != nil {
		return false, err
	}
	delete(c.s.index[c.name], key)
	c.s.usage -= meta.Bytes
	return true, nil
}

func (c *levelCache) Keys() ([]string, error) {
	c.s.mu.Lock()
	db := c.s.db
	c.s.mu.Unlock()
	if db == nil {
		return nil, ErrClosed
	}
	it := db.NewIterator(util.BytesPrefix(orderPrefix(c.name)), nil)
	defer it.Release()
	var out []string
	for it.Next() {
		out = append(out, string(it.Value()))
	}
	return out, it.Error()
}

func (c *levelCache) Size() (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	var total int64
	for _, meta := range c.s.index[c.name] {
		total += meta.Size
	}
	return total, nil
}

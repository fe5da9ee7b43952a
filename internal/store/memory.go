package store

import (
	"sort"
	"sync"
)

type memItem struct {
	key  string
	ent  Entry
	prev *memItem
	next *memItem
}

// memBucket keeps its items on a list in insertion order: head is the oldest.
// Reads never reorder the list.
type memBucket struct {
	items map[string]*memItem
	head  *memItem
	tail  *memItem
	total int64
}

func newMemBucket() *memBucket {
	return &memBucket{items: map[string]*memItem{}}
}

func (b *memBucket) append(it *memItem) {
	it.next = nil
	it.prev = b.tail
	if b.tail != nil {
		b.tail.next = it
	}
	b.tail = it
	if b.head == nil {
		b.head = it
	}
}

func (b *memBucket) remove(it *memItem) {
	if it.prev != nil {
		it.prev.next = it.next
	} else {
		b.head = it.next
	}
	if it.next != nil {
		it.next.prev = it.prev
	} else {
		b.tail = it.prev
	}
	it.prev, it.next = nil, nil
}

// MemoryStorage keeps every cache in process memory. It is not persistent.
type MemoryStorage struct {
	mu      sync.Mutex
	buckets map[string]*memBucket
	closed  bool
}

func NewMemory() *MemoryStorage {
	return &MemoryStorage{buckets: map[string]*memBucket{}}
}

func (s *MemoryStorage) Open(name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if _, ok := s.buckets[name]; !ok {
		s.buckets[name] = newMemBucket()
	}
	return &memoryCache{s: s, name: name}, nil
}

func (s *MemoryStorage) Has(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[name]
	return ok, nil
}

func (s *MemoryStorage) Delete(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.buckets[name]
	delete(s.buckets, name)
	return ok, nil
}

func (s *MemoryStorage) Names() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.buckets))
	for name := range s.buckets {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStorage) Usage() (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, b := range s.buckets {
		total += b.total
	}
	return total, nil
}

func (s *MemoryStorage) Persistent() bool { return false }

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = map[string]*memBucket{}
	return nil
}

type memoryCache struct {
	s    *MemoryStorage
	name string
}

func (c *memoryCache) Name() string { return c.name }

func (c *memoryCache) Match(key string) (Entry, bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	b, ok := c.s.buckets[c.name]
	if !ok {
		return Entry{}, false, nil
	}
	it, ok := b.items[key]
	if !ok {
		return Entry{}, false, nil
	}
	return it.ent.Clone(), true, nil
}

func (c *memoryCache) Put(key string, ent Entry) error {
	ent = ent.Clone()

	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.closed {
		return ErrClosed
	}
	b, ok := c.s.buckets[c.name]
	if !ok {
		b = newMemBucket()
		c.s.buckets[c.name] = b
	}
	if it, ok := b.items[key]; ok {
		b.remove(it)
		b.total -= int64(len(it.ent.Body))
		delete(b.items, key)
	}
	it := &memItem{key: key, ent: ent}
	b.items[key] = it
	b.append(it)
	b.total += int64(len(ent.Body))
	return nil
}

func (c *memoryCache) Delete(key string) (bool, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	b, ok := c.s.buckets[c.name]
	if !ok {
		return false, nil
	}
	it, ok := b.items[key]
	if !ok {
		return false, nil
	}
	b.remove(it)
	delete(b.items, key)
	b.total -= int64(len(it.ent.Body))
	return true, nil
}

func (c *memoryCache) Keys() ([]string, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	b, ok := c.s.buckets[c.name]
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(b.items))
	for it := b.head; it != nil; it = it.next {
		out = append(out, it.key)
	}
	return out, nil
}

func (c *memoryCache) Size() (int64, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	b, ok := c.s.buckets[c.name]
	if !ok {
		return 0, nil
	}
	return b.total, nil
}
